package durablelog

import (
	"errors"
	"testing"
)

func TestCheckpointPolicyValidate(t *testing.T) {
	tests := []struct {
		name   string
		policy CheckpointPolicy
		ok     bool
	}{
		{"default", DefaultCheckpointPolicy(), true},
		{"zero min", CheckpointPolicy{MinCommitCount: 0, CommitCount: 10, TotalCommitLength: 1}, false},
		{"count below min", CheckpointPolicy{MinCommitCount: 10, CommitCount: 5, TotalCommitLength: 1}, false},
		{"zero length", CheckpointPolicy{MinCommitCount: 1, CommitCount: 5, TotalCommitLength: 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestCheckpointTracker(t *testing.T) {
	tr := checkpointTracker{policy: CheckpointPolicy{MinCommitCount: 3, CommitCount: 10, TotalCommitLength: 100}}

	tr.committed(2, 500)
	if tr.shouldCheckpoint() {
		t.Fatal("length threshold must not fire before min commit count")
	}
	tr.committed(1, 0)
	if !tr.shouldCheckpoint() {
		t.Fatal("expected trigger by total commit length")
	}

	tr.reset()
	tr.committed(9, 10)
	if tr.shouldCheckpoint() {
		t.Fatal("unexpected trigger below commit count")
	}
	tr.committed(1, 10)
	if !tr.shouldCheckpoint() {
		t.Fatal("expected trigger by commit count")
	}
}
