package bench

import (
	"context"
	"fmt"
	"time"

	"github.com/downfa11-org/streamlog/pkg/client"
	"github.com/downfa11-org/streamlog/pkg/types"
	"github.com/downfa11-org/streamlog/util"
)

const AckTimeout = 5 * time.Second

// BenchClient is one producer writing NumEvents keyed events through its own writer.
type BenchClient struct {
	Controller  client.Controller
	Connections client.ConnectionFactory
	Stream      types.Stream
	NumEvents   int
	PayloadSize int
}

// Run writes every event, then flushes and waits for all acknowledgements.
func (c *BenchClient) Run(ctx context.Context, producerID int) error {
	w, err := client.NewEventStreamWriter(ctx, c.Stream, c.Controller, c.Connections)
	if err != nil {
		return fmt.Errorf("[P%d] writer setup failed: %w", producerID, err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), AckTimeout)
		defer cancel()
		if err := w.Close(closeCtx); err != nil {
			util.Warn("[P%d] close failed: %v", producerID, err)
		}
	}()

	payload := make([]byte, c.PayloadSize)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}

	acks := make([]*client.AckFuture, 0, c.NumEvents)
	for i := 0; i < c.NumEvents; i++ {
		key := fmt.Sprintf("bench-P%d-E%d", producerID, i)
		ack, err := w.WriteEvent(ctx, key, payload)
		if err != nil {
			return fmt.Errorf("[P%d] write %d failed: %w", producerID, i, err)
		}
		acks = append(acks, ack)
	}

	flushCtx, cancel := context.WithTimeout(ctx, AckTimeout)
	defer cancel()
	if err := w.Flush(flushCtx); err != nil {
		return fmt.Errorf("[P%d] flush failed: %w", producerID, err)
	}
	for i, ack := range acks {
		if err := ack.Wait(flushCtx); err != nil {
			return fmt.Errorf("[P%d] event %d not acknowledged: %w", producerID, i, err)
		}
	}
	return nil
}
