package disk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/raft"
)

// RaftLog stores frames as entries of a raft.LogStore, using the frame sequence as the log index.
type RaftLog struct {
	mu     sync.Mutex
	store  raft.LogStore
	closed bool
}

func NewRaftLog(store raft.LogStore) *RaftLog {
	return &RaftLog{store: store}
}

// NewMemoryLog keeps frames in a raft in-memory store. Nothing survives a restart of the process.
func NewMemoryLog() *RaftLog {
	return NewRaftLog(raft.NewInmemStore())
}

func (r *RaftLog) Append(ctx context.Context, frameSeq int64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if frameSeq <= 0 {
		return fmt.Errorf("raft log index must be positive, got %d", frameSeq)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	last, err := r.store.LastIndex()
	if err != nil {
		return err
	}
	if uint64(frameSeq) <= last {
		return fmt.Errorf("frame %d is not after last frame %d", frameSeq, last)
	}
	return r.store.StoreLog(&raft.Log{
		Index:      uint64(frameSeq),
		Term:       1,
		Type:       raft.LogCommand,
		Data:       data,
		AppendedAt: time.Now(),
	})
}

func (r *RaftLog) Truncate(ctx context.Context, upToFrameSeq int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	first, err := r.store.FirstIndex()
	if err != nil {
		return err
	}
	last, err := r.store.LastIndex()
	if err != nil {
		return err
	}
	if first == 0 || upToFrameSeq < int64(first) {
		return nil
	}
	upTo := uint64(upToFrameSeq)
	if upTo > last {
		upTo = last
	}
	return r.store.DeleteRange(first, upTo)
}

func (r *RaftLog) ReadAll(ctx context.Context, fn func(frameSeq int64, data []byte) error) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	first, err := r.store.FirstIndex()
	if err != nil {
		r.mu.Unlock()
		return err
	}
	last, err := r.store.LastIndex()
	r.mu.Unlock()
	if err != nil || first == 0 {
		return err
	}

	for i := first; i <= last; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var entry raft.Log
		if err := r.store.GetLog(i, &entry); err != nil {
			if errors.Is(err, raft.ErrLogNotFound) {
				continue
			}
			return fmt.Errorf("read frame %d: %w", i, err)
		}
		if err := fn(int64(entry.Index), entry.Data); err != nil {
			return err
		}
	}
	return nil
}

func (r *RaftLog) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if c, ok := r.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
