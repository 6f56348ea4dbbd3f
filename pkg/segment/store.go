package segment

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/downfa11-org/streamlog/pkg/durablelog"
	"github.com/downfa11-org/streamlog/pkg/types"
)

var (
	// ErrDuplicateEvent means the writer already appended this event number.
	ErrDuplicateEvent = errors.New("duplicate event number")
	errAlreadySealed  = errors.New("segment already sealed")
)

// NoEventNumber is the last event number of a writer that never appended.
const NoEventNumber int64 = -1

type segmentState struct {
	Length  int64            `json:"length"`
	Sealed  bool             `json:"sealed"`
	Writers map[string]int64 `json:"writers"`
}

func newSegmentState() *segmentState {
	return &segmentState{Writers: make(map[string]int64)}
}

func (s *segmentState) clone() *segmentState {
	c := &segmentState{Length: s.Length, Sealed: s.Sealed, Writers: make(map[string]int64, len(s.Writers))}
	for k, v := range s.Writers {
		c.Writers[k] = v
	}
	return c
}

type snapshot struct {
	Segments map[string]*segmentState `json:"segments"`
}

// Store is the segment metadata of one container. It implements durablelog.MetadataUpdater:
// appends are validated against the pending view and only become visible once their frame is durable.
type Store struct {
	mu         sync.RWMutex
	committed  map[string]*segmentState
	pending    map[string]*segmentState
	autoCreate bool
}

func NewStore(autoCreate bool) *Store {
	return &Store{
		committed:  make(map[string]*segmentState),
		pending:    make(map[string]*segmentState),
		autoCreate: autoCreate,
	}
}

// pendingState returns the latest view of a segment, or nil if it does not exist.
func (s *Store) pendingState(name string) *segmentState {
	if st, ok := s.pending[name]; ok {
		return st
	}
	return s.committed[name]
}

func (s *Store) PreProcess(op *durablelog.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.pendingState(op.Segment)
	switch op.Type {
	case durablelog.StreamSegmentAppend:
		var next *segmentState
		if cur == nil {
			if !s.autoCreate {
				return fmt.Errorf("%w: %s", types.ErrNoSuchSegment, op.Segment)
			}
			next = newSegmentState()
		} else {
			if cur.Sealed {
				return fmt.Errorf("%w: %s", types.ErrSegmentSealed, op.Segment)
			}
			if last, ok := cur.Writers[op.WriterID.String()]; ok && op.EventNumber <= last {
				return fmt.Errorf("%w: %d <= %d", ErrDuplicateEvent, op.EventNumber, last)
			}
			next = cur.clone()
		}
		if op.ExpectedLength != durablelog.NoExpectedLength && op.ExpectedLength != next.Length {
			return fmt.Errorf("%w: %s expected length %d, actual %d",
				types.ErrConditionalCheckFailed, op.Segment, op.ExpectedLength, next.Length)
		}
		op.Offset = next.Length
		next.Length += int64(len(op.Data))
		next.Writers[op.WriterID.String()] = op.EventNumber
		s.pending[op.Segment] = next

	case durablelog.StreamSegmentSeal:
		if cur == nil {
			return fmt.Errorf("%w: %s", types.ErrNoSuchSegment, op.Segment)
		}
		if cur.Sealed {
			return errAlreadySealed
		}
		next := cur.clone()
		next.Sealed = true
		op.Offset = next.Length
		s.pending[op.Segment] = next

	default:
		return fmt.Errorf("%w: cannot pre-process %s", durablelog.ErrInvalidArgument, op.Type)
	}
	return nil
}

func (s *Store) Commit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, st := range s.pending {
		s.committed[name] = st
	}
	s.pending = make(map[string]*segmentState)
}

func (s *Store) Rollback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = make(map[string]*segmentState)
}

func (s *Store) Checkpoint() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(snapshot{Segments: s.committed})
}

func (s *Store) Restore(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode segment checkpoint: %w", err)
	}
	if snap.Segments == nil {
		snap.Segments = make(map[string]*segmentState)
	}
	for _, st := range snap.Segments {
		if st.Writers == nil {
			st.Writers = make(map[string]int64)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = snap.Segments
	s.pending = make(map[string]*segmentState)
	return nil
}

// Apply replays a committed operation during recovery.
func (s *Store) Apply(op *durablelog.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.committed[op.Segment]
	if !ok {
		st = newSegmentState()
		s.committed[op.Segment] = st
	}
	switch op.Type {
	case durablelog.StreamSegmentAppend:
		st.Length = op.Offset + int64(len(op.Data))
		st.Writers[op.WriterID.String()] = op.EventNumber
	case durablelog.StreamSegmentSeal:
		st.Sealed = true
		st.Length = op.Offset
	default:
		return fmt.Errorf("%w: cannot apply %s", durablelog.ErrInvalidArgument, op.Type)
	}
	return nil
}

// Info returns the committed length and sealed flag of a segment.
func (s *Store) Info(name string) (length int64, sealed bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.committed[name]
	if !ok {
		return 0, false, fmt.Errorf("%w: %s", types.ErrNoSuchSegment, name)
	}
	return st.Length, st.Sealed, nil
}

// LastEventNumber returns the last committed event number of a writer on a segment.
func (s *Store) LastEventNumber(name, writerID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.committed[name]
	if !ok {
		if s.autoCreate {
			return NoEventNumber, nil
		}
		return NoEventNumber, fmt.Errorf("%w: %s", types.ErrNoSuchSegment, name)
	}
	if st.Sealed {
		return NoEventNumber, fmt.Errorf("%w: %s", types.ErrSegmentSealed, name)
	}
	if last, ok := st.Writers[writerID]; ok {
		return last, nil
	}
	return NoEventNumber, nil
}

var _ durablelog.MetadataUpdater = (*Store)(nil)
