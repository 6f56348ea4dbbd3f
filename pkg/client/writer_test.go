package client_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/downfa11-org/streamlog/pkg/client"
	"github.com/downfa11-org/streamlog/pkg/metrics"
	"github.com/downfa11-org/streamlog/pkg/types"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	_ = c.Write(m)
	return m.GetCounter().GetValue()
}

func splitController(t *testing.T) *MockController {
	ctrl := twoSegmentController(t)
	ctrl.GetSuccessorsFunc = func(context.Context, types.Segment) (*types.StreamSegmentsWithPredecessors, error) {
		return types.NewStreamSegmentsWithPredecessors(map[types.SegmentWithRange][]int64{
			rng(2, 0, 0.25):   {0},
			rng(3, 0.25, 0.5): {0},
		}), nil
	}
	return ctrl
}

func TestWriterRoutesByKey(t *testing.T) {
	factory := newMockFactory()
	w, err := client.NewEventStreamWriterWithFactory(context.Background(), testStream, twoSegmentController(t), factory)
	require.NoError(t, err)
	defer w.Close(context.Background())

	low := keyInRange(t, 0, 0.5)
	high := keyInRange(t, 0.5, 1)
	_, err = w.WriteEvent(context.Background(), low, []byte("a"))
	require.NoError(t, err)
	_, err = w.WriteEvent(context.Background(), high, []byte("b"))
	require.NoError(t, err)
	_, err = w.WriteEvent(context.Background(), low, []byte("c"))
	require.NoError(t, err)

	assert.Equal(t, 2, factory.stream(seg(0)).eventCount())
	assert.Equal(t, 1, factory.stream(seg(1)).eventCount())
}

func TestWriterResubmitsAfterSeal(t *testing.T) {
	factory := newMockFactory()
	w, err := client.NewEventStreamWriterWithFactory(context.Background(), testStream, splitController(t), factory)
	require.NoError(t, err)
	defer w.Close(context.Background())

	before := getCounterValue(metrics.EventsResubmitted)
	key := keyInRange(t, 0.25, 0.5)
	_, err = w.WriteEvent(context.Background(), key, []byte("payload"))
	require.NoError(t, err)

	factory.stream(seg(0)).seal()

	require.Eventually(t, func() bool {
		s := factory.stream(seg(3))
		return s != nil && s.eventCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, before+1, getCounterValue(metrics.EventsResubmitted))
	assert.Equal(t, 0, factory.stream(seg(2)).eventCount())
	resolved, _ := w.Selector().ResolveSegment(key)
	assert.Equal(t, seg(3), resolved)
}

func TestWriterFlushFollowsSeal(t *testing.T) {
	factory := newMockFactory()
	w, err := client.NewEventStreamWriterWithFactory(context.Background(), testStream, splitController(t), factory)
	require.NoError(t, err)
	defer w.Close(context.Background())

	key := keyInRange(t, 0, 0.25)
	_, err = w.WriteEvent(context.Background(), key, []byte("payload"))
	require.NoError(t, err)

	old := factory.stream(seg(0))
	old.mu.Lock()
	old.sealed = true
	old.mu.Unlock()

	require.NoError(t, w.Flush(context.Background()))
	assert.Equal(t, 1, factory.stream(seg(2)).eventCount())
	assert.True(t, old.isClosed())
}

func TestWriterFailsEventsWhenSuccessorsUnavailable(t *testing.T) {
	ctrl := twoSegmentController(t)
	unavailable := errors.New("controller unavailable")
	ctrl.GetSuccessorsFunc = func(context.Context, types.Segment) (*types.StreamSegmentsWithPredecessors, error) {
		return nil, unavailable
	}
	factory := newMockFactory()
	w, err := client.NewEventStreamWriterWithFactory(context.Background(), testStream, ctrl, factory)
	require.NoError(t, err)
	defer w.Close(context.Background())

	key := keyInRange(t, 0.5, 1)
	ack, err := w.WriteEvent(context.Background(), key, []byte("held"))
	require.NoError(t, err)

	sealed := factory.stream(seg(1))
	sealed.seal()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.ErrorIs(t, ack.Wait(ctx), unavailable)
	assert.True(t, sealed.isClosed())

	// the next write for the key loads a fresh writer instead of parking on the sealed one
	_, err = w.WriteEvent(context.Background(), key, []byte("next"))
	require.NoError(t, err)
	fresh := factory.stream(seg(1))
	assert.NotSame(t, sealed, fresh)
	assert.Equal(t, 1, fresh.eventCount())
}

func TestWriterCloseRacingWrites(t *testing.T) {
	factory := newMockFactory()
	w, err := client.NewEventStreamWriterWithFactory(context.Background(), testStream, twoSegmentController(t), factory)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; ; j++ {
				_, err := w.WriteEvent(context.Background(), fmt.Sprintf("key-%d-%d", i, j), []byte("x"))
				if err != nil {
					assert.ErrorIs(t, err, client.ErrWriterClosed)
					return
				}
			}
		}(i)
	}

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, w.Close(context.Background()))
	wg.Wait()

	assert.Zero(t, factory.stream(seg(0)).writesAfterClose())
	assert.Zero(t, factory.stream(seg(1)).writesAfterClose())
}

func TestWriterSurfacesTransportFailure(t *testing.T) {
	factory := newMockFactory()
	w, err := client.NewEventStreamWriterWithFactory(context.Background(), testStream, twoSegmentController(t), factory)
	require.NoError(t, err)
	defer w.Close(context.Background())

	reset := errors.New("connection reset by peer")
	factory.stream(seg(1)).WriteFunc = func(*client.PendingEvent) error { return reset }

	_, err = w.WriteEvent(context.Background(), keyInRange(t, 0.5, 1), []byte("x"))
	assert.ErrorIs(t, err, reset)
}

func TestWriterSurfacesControllerFailure(t *testing.T) {
	ctrl := &MockController{
		GetCurrentSegmentsFunc: func(context.Context, types.Stream) (*types.StreamSegments, error) {
			return nil, context.DeadlineExceeded
		},
	}
	_, err := client.NewEventStreamWriterWithFactory(context.Background(), testStream, ctrl, newMockFactory())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWriteConditionalEventRejectsNegativeLength(t *testing.T) {
	w, err := client.NewEventStreamWriterWithFactory(context.Background(), testStream, twoSegmentController(t), newMockFactory())
	require.NoError(t, err)
	defer w.Close(context.Background())

	_, err = w.WriteConditionalEvent(context.Background(), "k", -1, []byte("x"))
	assert.Error(t, err)
}

func TestWriterClosed(t *testing.T) {
	factory := newMockFactory()
	w, err := client.NewEventStreamWriterWithFactory(context.Background(), testStream, twoSegmentController(t), factory)
	require.NoError(t, err)
	require.NoError(t, w.Close(context.Background()))

	_, err = w.WriteEvent(context.Background(), "k", []byte("x"))
	assert.ErrorIs(t, err, client.ErrWriterClosed)
	assert.True(t, factory.stream(seg(0)).isClosed())
	assert.True(t, factory.stream(seg(1)).isClosed())
	assert.NoError(t, w.Close(context.Background()))
}

func TestTransactionFailsWhenSegmentSeals(t *testing.T) {
	factory := newMockFactory()
	w, err := client.NewEventStreamWriterWithFactory(context.Background(), testStream, twoSegmentController(t), factory)
	require.NoError(t, err)
	defer w.Close(context.Background())

	key := keyInRange(t, 0.5, 1)
	txn, err := w.BeginTxn(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, seg(1), txn.Segment())
	assert.NotEqual(t, uuid.Nil, txn.ID())

	require.NoError(t, txn.Publish(context.Background(), []byte("one")))
	require.NoError(t, txn.Flush(context.Background()))

	// the transaction's own stream replaced the writer's stream for seg(1) in the factory
	factory.stream(seg(1)).seal()
	require.Eventually(t, func() bool {
		return errors.Is(txn.Publish(context.Background(), []byte("two")), types.ErrTxFailed)
	}, 5*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, txn.Flush(context.Background()), types.ErrTxFailed)
	assert.NoError(t, txn.Close())
}
