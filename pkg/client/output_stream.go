package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/downfa11-org/streamlog/pkg/metrics"
	"github.com/downfa11-org/streamlog/pkg/protocol"
	"github.com/downfa11-org/streamlog/pkg/types"
	"github.com/downfa11-org/streamlog/util"
	"github.com/google/uuid"
)

var ErrStreamClosed = errors.New("segment output stream closed")

// SegmentOutputStream writes events to one segment through a single writer session.
// Events stay unacknowledged until the segment store reports them durable.
type SegmentOutputStream interface {
	Segment() types.Segment
	// Write sends ev. An event written to a sealed segment is retained, not sent.
	Write(ctx context.Context, ev *PendingEvent) error
	// Flush blocks until every written event is acknowledged. It returns types.ErrSegmentSealed
	// when the segment sealed with events still unacknowledged.
	Flush(ctx context.Context) error
	// Close stops the writer session without flushing. It returns types.ErrSegmentSealed when the
	// segment was sealed.
	Close() error
	UnackedEvents() []*PendingEvent
}

type SegmentOutputStreamFactory interface {
	CreateOutputStreamForSegment(ctx context.Context, segment types.Segment, onSealed func(types.Segment)) (SegmentOutputStream, error)
}

type segmentOutputStreamFactory struct {
	controller  Controller
	connFactory ConnectionFactory
}

func NewSegmentOutputStreamFactory(controller Controller, connFactory ConnectionFactory) SegmentOutputStreamFactory {
	return &segmentOutputStreamFactory{controller: controller, connFactory: connFactory}
}

// CreateOutputStreamForSegment opens a writer session. Dial and controller failures are returned.
func (f *segmentOutputStreamFactory) CreateOutputStreamForSegment(ctx context.Context, segment types.Segment, onSealed func(types.Segment)) (SegmentOutputStream, error) {
	s := &segmentOutputStream{
		segment:     segment,
		writerID:    uuid.New(),
		controller:  f.controller,
		connFactory: f.connFactory,
		onSealed:    onSealed,
		changed:     make(chan struct{}),
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.connectLocked(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

type inflightEvent struct {
	eventNumber int64
	event       *PendingEvent
	sent        bool
}

func (e inflightEvent) conditional() bool {
	return e.event.ExpectedLength != protocol.NoExpectedLength
}

type setupResult struct {
	lastEventNumber int64
	sealed          bool
	err             error
}

type segmentOutputStream struct {
	segment     types.Segment
	writerID    uuid.UUID
	controller  Controller
	connFactory ConnectionFactory
	onSealed    func(types.Segment)

	// sendMu orders sends and reconnects; it is always taken before mu.
	sendMu sync.Mutex

	mu         sync.Mutex
	conn       ClientConnection
	gen        uint64
	setup      chan setupResult
	requestID  int64
	nextEvent  int64
	inflight   []inflightEvent
	sealed     bool
	closed     bool
	changed    chan struct{}
	sealedOnce sync.Once
}

func (s *segmentOutputStream) Segment() types.Segment {
	return s.segment
}

func (s *segmentOutputStream) appendFor(e inflightEvent) *protocol.Append {
	a := protocol.NewAppend(s.segment.QualifiedName(), s.writerID, e.eventNumber, e.event.Data)
	a.ExpectedLength = e.event.ExpectedLength
	return a
}

// connectLocked dials the segment's endpoint, performs the SetupAppend handshake and resends
// unacknowledged events. Caller holds sendMu.
//
// Nothing is sent past a conditional append until it is answered, and a rejected conditional
// append does not advance the writer's last event number. So an in-flight event at or below the
// LastEventNumber of the handshake was applied, conditional or not.
func (s *segmentOutputStream) connectLocked(ctx context.Context) error {
	endpoint, err := s.controller.GetEndpointForSegment(ctx, s.segment)
	if err != nil {
		return fmt.Errorf("resolve endpoint for %s: %w", s.segment, err)
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	setupCh := make(chan setupResult, 1)
	s.setup = setupCh
	s.requestID++
	requestID := s.requestID
	s.mu.Unlock()

	conn, err := s.connFactory.Establish(ctx, endpoint, &replyHandler{stream: s, gen: gen})
	if err != nil {
		return err
	}
	setup := &protocol.SetupAppend{RequestID: requestID, WriterID: s.writerID, Segment: s.segment.QualifiedName()}
	if err := conn.Send(setup); err != nil {
		_ = conn.Close()
		return err
	}

	var res setupResult
	select {
	case res = <-setupCh:
	case <-ctx.Done():
		_ = conn.Close()
		return ctx.Err()
	}
	if res.err != nil {
		_ = conn.Close()
		return res.err
	}
	if res.sealed {
		_ = conn.Close()
		s.markSealed()
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrStreamClosed
	}
	s.conn = conn
	if s.nextEvent <= res.lastEventNumber {
		s.nextEvent = res.lastEventNumber + 1
	}
	s.ackUpToLocked(res.lastEventNumber)
	for i := range s.inflight {
		s.inflight[i].sent = false
	}
	resend := s.sendableLocked()
	s.mu.Unlock()

	util.Debug("writer %s set up on %s (last event %d, resending %d)", s.writerID, s.segment, res.lastEventNumber, len(resend))
	for _, e := range resend {
		if err := conn.Send(s.appendFor(e)); err != nil {
			s.dropConnection(conn)
			return err
		}
	}
	return nil
}

func (s *segmentOutputStream) Write(ctx context.Context, ev *PendingEvent) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	e := inflightEvent{eventNumber: s.nextEvent, event: ev}
	s.nextEvent++
	s.inflight = append(s.inflight, e)
	conn, sealed := s.conn, s.sealed
	var batch []inflightEvent
	if conn != nil && !sealed {
		batch = s.sendableLocked()
	}
	s.mu.Unlock()

	if sealed {
		return nil
	}
	if conn == nil {
		// the handshake resends what is in flight, including e
		if err := s.connectLocked(ctx); err != nil {
			s.forget(e.eventNumber)
			return err
		}
		return nil
	}
	for _, b := range batch {
		if err := conn.Send(s.appendFor(b)); err != nil {
			s.dropConnection(conn)
			if !batchHas(batch, e.eventNumber) {
				// e is held and goes out after the reconnect
				return nil
			}
			s.forget(e.eventNumber)
			return err
		}
	}
	return nil
}

func batchHas(batch []inflightEvent, eventNumber int64) bool {
	for _, b := range batch {
		if b.eventNumber == eventNumber {
			return true
		}
	}
	return false
}

// sendableLocked marks and returns the unsent events that may go out now, stopping at the first
// conditional append still in flight.
func (s *segmentOutputStream) sendableLocked() []inflightEvent {
	var out []inflightEvent
	for i := range s.inflight {
		e := &s.inflight[i]
		if !e.sent {
			e.sent = true
			out = append(out, *e)
		}
		if e.conditional() {
			break
		}
	}
	return out
}

func (s *segmentOutputStream) heldLocked() bool {
	for _, e := range s.inflight {
		if !e.sent {
			return true
		}
	}
	return false
}

// sendHeld sends the events released by an answered conditional append on connection gen.
func (s *segmentOutputStream) sendHeld(gen uint64) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	conn := s.conn
	if gen != s.gen || conn == nil || s.sealed || s.closed {
		s.mu.Unlock()
		return
	}
	batch := s.sendableLocked()
	s.mu.Unlock()

	for _, e := range batch {
		if err := conn.Send(s.appendFor(e)); err != nil {
			util.Warn("⚠️ sending held events to %s: %v", s.segment, err)
			s.dropConnection(conn)
			return
		}
	}
}

func (s *segmentOutputStream) Flush(ctx context.Context) error {
	for {
		s.mu.Lock()
		switch {
		case len(s.inflight) == 0:
			s.mu.Unlock()
			return nil
		case s.sealed:
			s.mu.Unlock()
			return fmt.Errorf("flush %s: %w", s.segment, types.ErrSegmentSealed)
		case s.closed:
			s.mu.Unlock()
			return ErrStreamClosed
		}
		needConnect := s.conn == nil
		ch := s.changed
		s.mu.Unlock()

		if needConnect {
			if err := s.reconnect(ctx); err != nil {
				return err
			}
			continue
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *segmentOutputStream) reconnect(ctx context.Context) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	need := s.conn == nil && !s.sealed && !s.closed
	s.mu.Unlock()
	if !need {
		return nil
	}
	util.Info("reconnecting writer %s to %s", s.writerID, s.segment)
	return s.connectLocked(ctx)
}

func (s *segmentOutputStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.gen++
	conn := s.conn
	s.conn = nil
	sealed := s.sealed
	s.signalLocked()
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if sealed {
		return fmt.Errorf("close %s: %w", s.segment, types.ErrSegmentSealed)
	}
	return nil
}

func (s *segmentOutputStream) UnackedEvents() []*PendingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*PendingEvent, 0, len(s.inflight))
	for _, e := range s.inflight {
		out = append(out, e.event)
	}
	return out
}

func (s *segmentOutputStream) forget(eventNumber int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.inflight {
		if e.eventNumber == eventNumber {
			s.inflight = append(s.inflight[:i], s.inflight[i+1:]...)
			break
		}
	}
}

func (s *segmentOutputStream) dropConnection(conn ClientConnection) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
		s.gen++
		s.signalLocked()
	}
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *segmentOutputStream) markSealed() {
	s.mu.Lock()
	s.sealed = true
	conn := s.conn
	s.conn = nil
	s.gen++
	s.signalLocked()
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	s.sealedOnce.Do(func() {
		util.Info("segment %s is sealed, %d events unacknowledged", s.segment, len(s.UnackedEvents()))
		if s.onSealed != nil {
			go s.onSealed(s.segment)
		}
	})
}

func (s *segmentOutputStream) ackUpToLocked(eventNumber int64) {
	n := 0
	for n < len(s.inflight) && s.inflight[n].eventNumber <= eventNumber {
		s.inflight[n].event.ack.complete(nil)
		n++
	}
	if n > 0 {
		s.inflight = s.inflight[n:]
		metrics.EventsAcked.Add(float64(n))
		s.signalLocked()
	}
}

func (s *segmentOutputStream) failLocked(eventNumber int64, err error) {
	for i, e := range s.inflight {
		if e.eventNumber == eventNumber {
			e.event.ack.complete(err)
			s.inflight = append(s.inflight[:i], s.inflight[i+1:]...)
			s.signalLocked()
			return
		}
	}
}

// releaseHeldLocked sends held events from another goroutine; the reply reader must not block on sends.
func (s *segmentOutputStream) releaseHeldLocked(gen uint64) {
	if s.conn != nil && s.heldLocked() {
		go s.sendHeld(gen)
	}
}

func (s *segmentOutputStream) signalLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// replyHandler routes replies of one connection generation; replies of replaced connections are dropped.
type replyHandler struct {
	stream *segmentOutputStream
	gen    uint64
}

func (h *replyHandler) Process(reply protocol.Command) {
	s := h.stream
	s.mu.Lock()
	if h.gen != s.gen {
		s.mu.Unlock()
		return
	}

	switch r := reply.(type) {
	case *protocol.AppendSetup:
		s.deliverSetupLocked(setupResult{lastEventNumber: r.LastEventNumber})
	case *protocol.DataAppended:
		s.ackUpToLocked(r.EventNumber)
		s.releaseHeldLocked(h.gen)
	case *protocol.ConditionalCheckFailed:
		s.failLocked(r.EventNumber, fmt.Errorf("%s event %d: %w", s.segment, r.EventNumber, types.ErrConditionalCheckFailed))
		s.releaseHeldLocked(h.gen)
	case *protocol.InvalidEventNumber:
		s.failLocked(r.EventNumber, fmt.Errorf("%s rejected event number %d", s.segment, r.EventNumber))
		s.releaseHeldLocked(h.gen)
	case *protocol.NoSuchSegment:
		if !s.deliverSetupLocked(setupResult{err: fmt.Errorf("%s: %w", s.segment, types.ErrNoSuchSegment)}) {
			for _, e := range s.inflight {
				e.event.ack.complete(fmt.Errorf("%s: %w", s.segment, types.ErrNoSuchSegment))
			}
			s.inflight = nil
			s.signalLocked()
		}
	case *protocol.SegmentIsSealed:
		if s.deliverSetupLocked(setupResult{sealed: true}) {
			break
		}
		s.mu.Unlock()
		s.markSealed()
		return
	default:
		util.Warn("⚠️ unexpected reply %s for %s", reply.Type(), s.segment)
	}
	s.mu.Unlock()
}

func (h *replyHandler) ConnectionDropped(err error) {
	s := h.stream
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.gen != s.gen {
		return
	}
	if s.deliverSetupLocked(setupResult{err: err}) {
		return
	}
	if s.conn != nil {
		util.Info("connection for %s dropped with %d events in flight: %v", s.segment, len(s.inflight), err)
		s.conn = nil
		s.signalLocked()
	}
}

func (s *segmentOutputStream) deliverSetupLocked(res setupResult) bool {
	if s.setup == nil {
		return false
	}
	s.setup <- res
	s.setup = nil
	return true
}
