package durablelog

import "fmt"

// CheckpointPolicy decides when the log writes a metadata checkpoint.
type CheckpointPolicy struct {
	// MinCommitCount is the number of commits after a checkpoint before another is considered.
	MinCommitCount int
	// CommitCount triggers a checkpoint once this many operations committed since the last one.
	CommitCount int
	// TotalCommitLength triggers a checkpoint once this many bytes committed since the last one.
	TotalCommitLength int64
}

func DefaultCheckpointPolicy() CheckpointPolicy {
	return CheckpointPolicy{
		MinCommitCount:    300,
		CommitCount:       100000,
		TotalCommitLength: 256 * 1024 * 1024,
	}
}

func (p CheckpointPolicy) Validate() error {
	if p.MinCommitCount < 1 {
		return fmt.Errorf("%w: min commit count must be positive, got %d", ErrInvalidArgument, p.MinCommitCount)
	}
	if p.CommitCount < p.MinCommitCount {
		return fmt.Errorf("%w: commit count %d is below min commit count %d", ErrInvalidArgument, p.CommitCount, p.MinCommitCount)
	}
	if p.TotalCommitLength <= 0 {
		return fmt.Errorf("%w: total commit length must be positive, got %d", ErrInvalidArgument, p.TotalCommitLength)
	}
	return nil
}

// checkpointTracker accumulates commits since the last checkpoint.
type checkpointTracker struct {
	policy      CheckpointPolicy
	commitCount int
	commitBytes int64
}

func (t *checkpointTracker) committed(count int, length int64) {
	t.commitCount += count
	t.commitBytes += length
}

func (t *checkpointTracker) shouldCheckpoint() bool {
	if t.commitCount < t.policy.MinCommitCount {
		return false
	}
	return t.commitCount >= t.policy.CommitCount || t.commitBytes >= t.policy.TotalCommitLength
}

func (t *checkpointTracker) reset() {
	t.commitCount = 0
	t.commitBytes = 0
}
