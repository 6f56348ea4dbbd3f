package client

import (
	"context"
	"sync"

	"github.com/downfa11-org/streamlog/pkg/protocol"
)

// PendingEvent is an event held by the writer until the segment store acknowledges it.
// An empty RoutingKey routes the event to a random segment.
type PendingEvent struct {
	RoutingKey     string
	Data           []byte
	ExpectedLength int64

	ack *AckFuture
}

func newPendingEvent(routingKey string, data []byte, expectedLength int64) *PendingEvent {
	return &PendingEvent{
		RoutingKey:     routingKey,
		Data:           data,
		ExpectedLength: expectedLength,
		ack:            newAckFuture(),
	}
}

// NewPendingEvent returns an unconditional event.
func NewPendingEvent(routingKey string, data []byte) *PendingEvent {
	return newPendingEvent(routingKey, data, protocol.NoExpectedLength)
}

func (e *PendingEvent) Ack() *AckFuture {
	return e.ack
}

// AckFuture completes when the event is durable or has failed for good.
type AckFuture struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newAckFuture() *AckFuture {
	return &AckFuture{done: make(chan struct{})}
}

func (f *AckFuture) complete(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

func (f *AckFuture) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the event is acknowledged, fails, or ctx is done.
func (f *AckFuture) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
