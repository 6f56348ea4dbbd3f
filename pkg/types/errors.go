package types

import "errors"

var (
	// ErrSegmentSealed means the target segment accepts no further appends.
	// The writer handles it by moving to the successor segments.
	ErrSegmentSealed = errors.New("segment is sealed")

	// ErrTxFailed means a transaction could not be completed and must be retried as a whole.
	ErrTxFailed = errors.New("transaction failed")

	// ErrConditionalCheckFailed means the segment length did not match the expected length.
	// The caller must re-read the length before reissuing the append.
	ErrConditionalCheckFailed = errors.New("conditional append check failed")

	ErrNoSuchSegment = errors.New("no such segment")
)
