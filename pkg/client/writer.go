package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/downfa11-org/streamlog/pkg/metrics"
	"github.com/downfa11-org/streamlog/pkg/types"
	"github.com/downfa11-org/streamlog/util"
)

const (
	maxRefreshAttempts   = 3
	sealedRefreshTimeout = 30 * time.Second
)

var ErrWriterClosed = errors.New("event stream writer closed")

// EventStreamWriter writes events to a stream, routing each by its key. Segment seals are
// handled internally: unacknowledged events of a sealed segment are resent to its successors.
type EventStreamWriter struct {
	stream   types.Stream
	selector *SegmentSelector
	factory  SegmentOutputStreamFactory

	// writeMu orders writes and resubmissions.
	writeMu sync.Mutex

	sealedCh chan types.Segment
	done     chan struct{}
	wg       sync.WaitGroup
	closed   atomic.Bool
}

func NewEventStreamWriter(ctx context.Context, stream types.Stream, controller Controller, connFactory ConnectionFactory) (*EventStreamWriter, error) {
	return NewEventStreamWriterWithFactory(ctx, stream, controller, NewSegmentOutputStreamFactory(controller, connFactory))
}

// NewEventStreamWriterWithFactory loads the stream's segments and opens a writer per segment.
func NewEventStreamWriterWithFactory(ctx context.Context, stream types.Stream, controller Controller, factory SegmentOutputStreamFactory) (*EventStreamWriter, error) {
	w := &EventStreamWriter{
		stream:   stream,
		factory:  factory,
		sealedCh: make(chan types.Segment, 64),
		done:     make(chan struct{}),
	}
	w.selector = NewSegmentSelector(stream, controller, factory, w.segmentSealed)

	if _, err := w.selector.RefreshAll(ctx); err != nil {
		w.closeWriters()
		return nil, err
	}

	w.wg.Add(1)
	go w.sealedWorker()
	return w, nil
}

func (w *EventStreamWriter) Selector() *SegmentSelector {
	return w.selector
}

func (w *EventStreamWriter) segmentSealed(seg types.Segment) {
	select {
	case w.sealedCh <- seg:
	case <-w.done:
	}
}

func (w *EventStreamWriter) sealedWorker() {
	defer w.wg.Done()
	for {
		select {
		case seg := <-w.sealedCh:
			ctx, cancel := context.WithTimeout(context.Background(), sealedRefreshTimeout)
			if err := w.handleSealed(ctx, seg); err != nil {
				util.Error("failed to move events off sealed segment %s: %v", seg, err)
			}
			cancel()
		case <-w.done:
			return
		}
	}
}

func (w *EventStreamWriter) handleSealed(ctx context.Context, seg types.Segment) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	events, err := w.selector.RefreshUponSealed(ctx, seg)
	w.resubmitLocked(ctx, events)
	if err != nil {
		w.abandonSealedLocked(seg, err)
	}
	return err
}

// abandonSealedLocked fails the events held by a sealed segment's writer when its successors
// could not be resolved, and drops the writer so later writes refresh the segment set.
func (w *EventStreamWriter) abandonSealedLocked(seg types.Segment, cause error) {
	for _, out := range w.selector.ListWriters() {
		if out.Segment() != seg {
			continue
		}
		w.selector.RemoveWriter(out)
		if err := out.Close(); err != nil && !errors.Is(err, types.ErrSegmentSealed) {
			util.Warn("⚠️ closing writer for %s: %v", seg, err)
		}
		events := out.UnackedEvents()
		for _, ev := range events {
			ev.ack.complete(cause)
		}
		util.Warn("⚠️ failed %d events held by sealed segment %s", len(events), seg)
	}
}

// WriteEvent sends data to the segment routingKey maps to. The returned future completes when
// the event is durable. Transport and controller failures are returned directly.
func (w *EventStreamWriter) WriteEvent(ctx context.Context, routingKey string, data []byte) (*AckFuture, error) {
	return w.write(ctx, NewPendingEvent(routingKey, data))
}

// WriteConditionalEvent appends data only if the segment's length equals expectedLength when the
// append commits. A mismatch fails the future with types.ErrConditionalCheckFailed.
func (w *EventStreamWriter) WriteConditionalEvent(ctx context.Context, routingKey string, expectedLength int64, data []byte) (*AckFuture, error) {
	if expectedLength < 0 {
		return nil, fmt.Errorf("invalid expected length %d", expectedLength)
	}
	return w.write(ctx, newPendingEvent(routingKey, data, expectedLength))
}

func (w *EventStreamWriter) write(ctx context.Context, ev *PendingEvent) (*AckFuture, error) {
	if w.closed.Load() {
		return nil, ErrWriterClosed
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.closed.Load() {
		return nil, ErrWriterClosed
	}
	if err := w.writeLocked(ctx, ev); err != nil {
		return nil, err
	}
	return ev.ack, nil
}

func (w *EventStreamWriter) writeLocked(ctx context.Context, ev *PendingEvent) error {
	for attempt := 0; ; attempt++ {
		out := w.selector.GetOutputStreamForKey(ev.RoutingKey)
		if out != nil {
			return out.Write(ctx, ev)
		}
		if attempt >= maxRefreshAttempts {
			return fmt.Errorf("no writer for %s after %d refreshes", w.stream, attempt)
		}
		events, err := w.selector.RefreshAll(ctx)
		w.resubmitLocked(ctx, events)
		if err != nil {
			return err
		}
	}
}

func (w *EventStreamWriter) resubmitLocked(ctx context.Context, events []*PendingEvent) {
	if len(events) == 0 {
		return
	}
	metrics.EventsResubmitted.Add(float64(len(events)))
	util.Debug("resubmitting %d events on %s", len(events), w.stream)
	for _, ev := range events {
		if err := w.writeLocked(ctx, ev); err != nil {
			ev.ack.complete(err)
		}
	}
}

// Flush blocks until every event written so far is acknowledged, following seals to successors.
func (w *EventStreamWriter) Flush(ctx context.Context) error {
	for {
		moved := false
		for _, out := range w.selector.ListWriters() {
			err := out.Flush(ctx)
			if errors.Is(err, types.ErrSegmentSealed) {
				if err := w.handleSealed(ctx, out.Segment()); err != nil {
					return err
				}
				moved = true
				continue
			}
			if err != nil && !errors.Is(err, ErrStreamClosed) {
				return err
			}
		}
		if !moved {
			return nil
		}
	}
}

// Close flushes and then closes every segment writer. The connection factory is left open.
func (w *EventStreamWriter) Close(ctx context.Context) error {
	// swapped under writeMu so no write lands after the flush below
	w.writeMu.Lock()
	wasClosed := w.closed.Swap(true)
	w.writeMu.Unlock()
	if wasClosed {
		return nil
	}

	err := w.Flush(ctx)
	close(w.done)
	w.wg.Wait()
	w.closeWriters()
	return err
}

func (w *EventStreamWriter) closeWriters() {
	for _, out := range w.selector.ListWriters() {
		if err := out.Close(); err != nil && !errors.Is(err, types.ErrSegmentSealed) {
			util.Warn("⚠️ closing writer for %s: %v", out.Segment(), err)
		}
		w.selector.RemoveWriter(out)
	}
}
