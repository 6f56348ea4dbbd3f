package client

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/downfa11-org/streamlog/pkg/types"
	"github.com/downfa11-org/streamlog/util"
	"github.com/google/uuid"
)

// SegmentTransaction publishes a group of events to a single segment through its own writer
// session. It fails with types.ErrTxFailed once the segment seals.
type SegmentTransaction struct {
	id      uuid.UUID
	segment types.Segment
	out     SegmentOutputStream
	failed  atomic.Bool
}

// BeginTxn starts a transaction on the segment routingKey currently maps to.
func (w *EventStreamWriter) BeginTxn(ctx context.Context, routingKey string) (*SegmentTransaction, error) {
	if w.closed.Load() {
		return nil, ErrWriterClosed
	}

	w.writeMu.Lock()
	seg, ok := w.selector.ResolveSegment(routingKey)
	if !ok {
		events, err := w.selector.RefreshAll(ctx)
		w.resubmitLocked(ctx, events)
		if err != nil {
			w.writeMu.Unlock()
			return nil, err
		}
		seg, _ = w.selector.ResolveSegment(routingKey)
	}
	w.writeMu.Unlock()

	txn := &SegmentTransaction{id: uuid.New(), segment: seg}
	out, err := w.factory.CreateOutputStreamForSegment(ctx, seg, txn.segmentSealed)
	if err != nil {
		return nil, err
	}
	txn.out = out
	util.Debug("txn %s started on %s", txn.id, seg)
	return txn, nil
}

func (t *SegmentTransaction) ID() uuid.UUID {
	return t.id
}

func (t *SegmentTransaction) Segment() types.Segment {
	return t.segment
}

func (t *SegmentTransaction) segmentSealed(seg types.Segment) {
	if t.failed.CompareAndSwap(false, true) {
		util.Warn("⚠️ txn %s failed: segment %s sealed", t.id, seg)
	}
}

func (t *SegmentTransaction) Publish(ctx context.Context, data []byte) error {
	if t.failed.Load() {
		return fmt.Errorf("txn %s: %w", t.id, types.ErrTxFailed)
	}
	if err := t.out.Write(ctx, NewPendingEvent("", data)); err != nil {
		t.failed.Store(true)
		return fmt.Errorf("txn %s: %w: %v", t.id, types.ErrTxFailed, err)
	}
	return nil
}

// Flush waits for every published event. Any failure, including a seal, fails the transaction.
func (t *SegmentTransaction) Flush(ctx context.Context) error {
	err := t.out.Flush(ctx)
	if err == nil && !t.failed.Load() {
		return nil
	}
	t.failed.Store(true)
	if err == nil || errors.Is(err, types.ErrSegmentSealed) {
		return fmt.Errorf("txn %s on %s: %w", t.id, t.segment, types.ErrTxFailed)
	}
	return fmt.Errorf("txn %s: %w: %v", t.id, types.ErrTxFailed, err)
}

func (t *SegmentTransaction) Close() error {
	if err := t.out.Close(); err != nil && !errors.Is(err, types.ErrSegmentSealed) {
		return err
	}
	return nil
}
