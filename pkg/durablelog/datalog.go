package durablelog

import "context"

// DataLog persists encoded data frames in frame sequence order.
type DataLog interface {
	// Append durably stores one frame. Frame sequence numbers are strictly increasing.
	Append(ctx context.Context, frameSeq int64, data []byte) error
	// Truncate discards every frame with sequence number <= upToFrameSeq.
	Truncate(ctx context.Context, upToFrameSeq int64) error
	// ReadAll visits the retained frames in order.
	ReadAll(ctx context.Context, fn func(frameSeq int64, data []byte) error) error
	Close() error
}

// MetadataUpdater owns the in-memory state derived from the log.
//
// PreProcess validates an operation against the pending state and assigns its offset.
// Pending changes become visible on Commit or are discarded on Rollback. Checkpoint
// serializes committed state; Restore and Apply rebuild it during recovery.
type MetadataUpdater interface {
	PreProcess(op *Operation) error
	Commit()
	Rollback()
	Checkpoint() ([]byte, error)
	Restore(snapshot []byte) error
	Apply(op *Operation) error
}
