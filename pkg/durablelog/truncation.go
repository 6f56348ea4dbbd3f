package durablelog

import (
	"fmt"
	"sync"

	"github.com/huandu/skiplist"
)

// NoMarker is returned by GetClosestTruncationMarker when no marker is at or below the query.
// It is indistinguishable from a query that could never match.
const NoMarker int64 = -1

// TruncationMarkerRepository maps operation sequence numbers to the data frame that holds them
// and tracks which operation sequence numbers are safe restart points.
// Mutations come from the owning log's sequencing goroutine; reads may come from anywhere.
type TruncationMarkerRepository struct {
	mu sync.RWMutex

	// markers is ordered by descending op sequence so Find returns the floor entry.
	markers     *skiplist.SkipList
	validPoints *skiplist.SkipList
	lastOpSeq   int64
	recovery    bool
}

func NewTruncationMarkerRepository() *TruncationMarkerRepository {
	return &TruncationMarkerRepository{
		markers: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs interface{}) int {
			v1 := lhs.(int64)
			v2 := rhs.(int64)
			if v1 > v2 {
				return -1
			} else if v1 < v2 {
				return 1
			}
			return 0
		})),
		validPoints: skiplist.New(skiplist.Int64),
		lastOpSeq:   -1,
	}
}

// RecordTruncationMarker upserts opSeq -> frameSeq. Op sequence numbers must not decrease.
func (r *TruncationMarkerRepository) RecordTruncationMarker(opSeq, frameSeq int64) error {
	if opSeq < 0 || frameSeq < 0 {
		return fmt.Errorf("%w: negative truncation marker %d -> %d", ErrInvalidArgument, opSeq, frameSeq)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if opSeq < r.lastOpSeq {
		return fmt.Errorf("%w: truncation marker %d is below last recorded %d", ErrInvalidArgument, opSeq, r.lastOpSeq)
	}
	r.markers.Set(opSeq, frameSeq)
	r.lastOpSeq = opSeq
	return nil
}

// RemoveTruncationMarkers drops every marker and valid truncation point at or below upToOpSeq.
func (r *TruncationMarkerRepository) RemoveTruncationMarkers(upToOpSeq int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recovery {
		return fmt.Errorf("%w: cannot remove truncation markers in recovery mode", ErrIllegalState)
	}

	var doomed []interface{}
	for e := r.markers.Find(upToOpSeq); e != nil; e = e.Next() {
		doomed = append(doomed, e.Key())
	}
	for _, k := range doomed {
		r.markers.Remove(k)
	}
	for front := r.validPoints.Front(); front != nil && front.Key().(int64) <= upToOpSeq; front = r.validPoints.Front() {
		r.validPoints.RemoveFront()
	}
	return nil
}

// GetClosestTruncationMarker returns the frame sequence of the marker with the largest
// op sequence <= opSeq, or NoMarker. It answers in recovery mode too; only mutations are refused there.
func (r *TruncationMarkerRepository) GetClosestTruncationMarker(opSeq int64) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e := r.markers.Find(opSeq)
	if e == nil {
		return NoMarker
	}
	return e.Value.(int64)
}

func (r *TruncationMarkerRepository) SetValidTruncationPoint(opSeq int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validPoints.Set(opSeq, struct{}{})
}

func (r *TruncationMarkerRepository) IsValidTruncationPoint(opSeq int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.validPoints.GetValue(opSeq)
	return ok
}

// LatestValidTruncationPoint returns the highest restart point, or NoMarker.
func (r *TruncationMarkerRepository) LatestValidTruncationPoint() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	back := r.validPoints.Back()
	if back == nil {
		return NoMarker
	}
	return back.Key().(int64)
}

func (r *TruncationMarkerRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.markers.Len()
}

func (r *TruncationMarkerRepository) EnterRecoveryMode() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recovery = true
}

func (r *TruncationMarkerRepository) ExitRecoveryMode() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recovery = false
}

func (r *TruncationMarkerRepository) InRecoveryMode() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recovery
}
