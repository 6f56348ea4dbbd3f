package client_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/downfa11-org/streamlog/pkg/client"
	"github.com/downfa11-org/streamlog/pkg/types"
	"github.com/downfa11-org/streamlog/util"
)

const (
	scope      = "scope"
	streamName = "stream"
)

var testStream = types.Stream{Scope: scope, Name: streamName}

func seg(n int64) types.Segment {
	return types.NewSegment(scope, streamName, n)
}

func rng(n int64, low, high float64) types.SegmentWithRange {
	return types.SegmentWithRange{Segment: seg(n), Low: low, High: high}
}

func mustSegments(t *testing.T, ranges ...types.SegmentWithRange) *types.StreamSegments {
	t.Helper()
	s, err := types.NewStreamSegments(ranges)
	if err != nil {
		t.Fatalf("invalid segments: %v", err)
	}
	return s
}

// keyInRange finds a routing key whose hash lies in [low, high).
func keyInRange(t *testing.T, low, high float64) string {
	t.Helper()
	for i := 0; i < 100000; i++ {
		k := fmt.Sprintf("key-%d", i)
		if h := util.KeyHash(k); h >= low && h < high {
			return k
		}
	}
	t.Fatalf("no key hashes into [%g,%g)", low, high)
	return ""
}

type MockController struct {
	GetCurrentSegmentsFunc    func(ctx context.Context, stream types.Stream) (*types.StreamSegments, error)
	GetSuccessorsFunc         func(ctx context.Context, segment types.Segment) (*types.StreamSegmentsWithPredecessors, error)
	GetEndpointForSegmentFunc func(ctx context.Context, segment types.Segment) (string, error)
}

func (m *MockController) GetCurrentSegments(ctx context.Context, stream types.Stream) (*types.StreamSegments, error) {
	if m.GetCurrentSegmentsFunc != nil {
		return m.GetCurrentSegmentsFunc(ctx, stream)
	}
	return nil, errors.New("no segments")
}

func (m *MockController) GetSuccessors(ctx context.Context, segment types.Segment) (*types.StreamSegmentsWithPredecessors, error) {
	if m.GetSuccessorsFunc != nil {
		return m.GetSuccessorsFunc(ctx, segment)
	}
	return nil, errors.New("no successors")
}

func (m *MockController) GetEndpointForSegment(ctx context.Context, segment types.Segment) (string, error) {
	if m.GetEndpointForSegmentFunc != nil {
		return m.GetEndpointForSegmentFunc(ctx, segment)
	}
	return "", errors.New("no endpoint")
}

type mockStream struct {
	segment  types.Segment
	onSealed func(types.Segment)

	WriteFunc func(ev *client.PendingEvent) error

	mu         sync.Mutex
	events     []*client.PendingEvent
	closed     bool
	sealed     bool
	lateWrites int
}

func (m *mockStream) Segment() types.Segment { return m.segment }

func (m *mockStream) Write(_ context.Context, ev *client.PendingEvent) error {
	if m.WriteFunc != nil {
		if err := m.WriteFunc(ev); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		m.lateWrites++
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *mockStream) Flush(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sealed && len(m.events) > 0 {
		return types.ErrSegmentSealed
	}
	return nil
}

func (m *mockStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.sealed {
		return types.ErrSegmentSealed
	}
	return nil
}

func (m *mockStream) UnackedEvents() []*client.PendingEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*client.PendingEvent(nil), m.events...)
}

// seal marks the segment sealed and fires the callback like a real stream does.
func (m *mockStream) seal() {
	m.mu.Lock()
	m.sealed = true
	m.mu.Unlock()
	if m.onSealed != nil {
		go m.onSealed(m.segment)
	}
}

func (m *mockStream) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockStream) writesAfterClose() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lateWrites
}

func (m *mockStream) eventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type mockFactory struct {
	CreateFunc func(segment types.Segment) error

	mu      sync.Mutex
	streams map[types.Segment]*mockStream
}

func newMockFactory() *mockFactory {
	return &mockFactory{streams: make(map[types.Segment]*mockStream)}
}

func (f *mockFactory) CreateOutputStreamForSegment(_ context.Context, segment types.Segment, onSealed func(types.Segment)) (client.SegmentOutputStream, error) {
	if f.CreateFunc != nil {
		if err := f.CreateFunc(segment); err != nil {
			return nil, err
		}
	}
	s := &mockStream{segment: segment, onSealed: onSealed}
	f.mu.Lock()
	f.streams[segment] = s
	f.mu.Unlock()
	return s, nil
}

func (f *mockFactory) stream(segment types.Segment) *mockStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[segment]
}
