package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/downfa11-org/streamlog/pkg/metrics"
	"github.com/downfa11-org/streamlog/pkg/types"
	"github.com/downfa11-org/streamlog/util"
)

// SegmentSelector decides which segment an event goes to and owns one output stream per
// current segment of a stream. All methods share one lock.
type SegmentSelector struct {
	stream     types.Stream
	controller Controller
	factory    SegmentOutputStreamFactory
	onSealed   func(types.Segment)

	mu      sync.Mutex
	random  *rand.Rand
	current *types.StreamSegments
	writers map[types.Segment]SegmentOutputStream
}

// NewSegmentSelector returns a selector with no segments loaded; call RefreshAll before use.
// onSealed is handed to every output stream it creates.
func NewSegmentSelector(stream types.Stream, controller Controller, factory SegmentOutputStreamFactory, onSealed func(types.Segment)) *SegmentSelector {
	return &SegmentSelector{
		stream:     stream,
		controller: controller,
		factory:    factory,
		onSealed:   onSealed,
		random:     rand.New(rand.NewSource(time.Now().UnixNano())),
		writers:    make(map[types.Segment]SegmentOutputStream),
	}
}

// ResolveSegment maps routingKey onto a segment of the current snapshot. An empty key picks a
// random segment. ok is false until a snapshot has been loaded.
func (s *SegmentSelector) ResolveSegment(routingKey string) (types.Segment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveLocked(routingKey)
}

func (s *SegmentSelector) resolveLocked(routingKey string) (types.Segment, bool) {
	if s.current == nil {
		return types.Segment{}, false
	}
	if routingKey == "" {
		return s.current.SegmentForHash(s.random.Float64()), true
	}
	return s.current.SegmentForKey(routingKey), true
}

// GetOutputStreamForKey returns the output stream for the segment routingKey resolves to.
// nil means a refresh is needed. It is returned both when no snapshot is loaded and when the
// resolved segment has no writer, and callers cannot tell the two apart.
func (s *SegmentSelector) GetOutputStreamForKey(routingKey string) SegmentOutputStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.resolveLocked(routingKey)
	if !ok {
		return nil
	}
	return s.writers[seg]
}

// RefreshAll loads the current segments from the controller, opens writers for new segments and
// closes writers of segments that are gone. The unacknowledged events of closed writers are
// returned for resubmission.
func (s *SegmentSelector) RefreshAll(ctx context.Context) ([]*PendingEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.controller.GetCurrentSegments(ctx, s.stream)
	if err != nil {
		return nil, fmt.Errorf("get current segments of %s: %w", s.stream, err)
	}
	s.current = current
	metrics.RouterRefreshes.WithLabelValues("all").Inc()
	return s.pendingEventsLocked(ctx)
}

// RefreshUponSealed replaces the sealed segment with its successors. The snapshot used for key
// resolution is patched so the sealed segment's key range now resolves to the successors; the
// ranges of other segments are left as they were. Returns the sealed writer's unacknowledged events.
func (s *SegmentSelector) RefreshUponSealed(ctx context.Context, sealed types.Segment) ([]*PendingEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil, fmt.Errorf("no segments loaded for %s", s.stream)
	}
	if !s.current.Contains(sealed) {
		util.Debug("sealed segment %s already replaced", sealed)
		return nil, nil
	}

	successors, err := s.controller.GetSuccessors(ctx, sealed)
	if err != nil {
		return nil, fmt.Errorf("get successors of %s: %w", sealed, err)
	}
	util.Info("successors for sealed segment %s: %v", sealed, successors.Ranges())
	metrics.RouterRefreshes.WithLabelValues("sealed").Inc()

	replaced, err := s.current.WithReplacementRange(sealed, successors)
	if err != nil {
		return nil, err
	}
	s.current = replaced
	return s.pendingEventsLocked(ctx)
}

func (s *SegmentSelector) pendingEventsLocked(ctx context.Context) ([]*PendingEvent, error) {
	var toResend []*PendingEvent
	for seg, writer := range s.writers {
		if s.current.Contains(seg) {
			continue
		}
		delete(s.writers, seg)
		if err := writer.Close(); err != nil {
			if errors.Is(err, types.ErrSegmentSealed) {
				util.Info("caught segment sealed while refreshing on segment %s", seg)
			} else {
				util.Warn("⚠️ closing writer for %s: %v", seg, err)
			}
		}
		toResend = append(toResend, writer.UnackedEvents()...)
	}

	for _, seg := range s.current.Segments() {
		if _, ok := s.writers[seg]; ok {
			continue
		}
		out, err := s.factory.CreateOutputStreamForSegment(ctx, seg, s.onSealed)
		if err != nil {
			metrics.ActiveSegmentWriters.Set(float64(len(s.writers)))
			return toResend, fmt.Errorf("create writer for %s: %w", seg, err)
		}
		s.writers[seg] = out
	}
	metrics.ActiveSegmentWriters.Set(float64(len(s.writers)))
	return toResend, nil
}

// RemoveWriter drops out from the writer map without closing it.
func (s *SegmentSelector) RemoveWriter(out SegmentOutputStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for seg, w := range s.writers {
		if w == out {
			delete(s.writers, seg)
		}
	}
	metrics.ActiveSegmentWriters.Set(float64(len(s.writers)))
}

func (s *SegmentSelector) ListSegments() []types.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.current.Segments()
}

func (s *SegmentSelector) ListWriters() []SegmentOutputStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SegmentOutputStream, 0, len(s.writers))
	for _, w := range s.writers {
		out = append(out, w)
	}
	return out
}
