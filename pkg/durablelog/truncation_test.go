package durablelog

import (
	"errors"
	"sync"
	"testing"
)

func newMarkers(t *testing.T) *TruncationMarkerRepository {
	t.Helper()
	r := NewTruncationMarkerRepository()
	for _, m := range [][2]int64{{10, 100}, {20, 200}, {30, 300}} {
		if err := r.RecordTruncationMarker(m[0], m[1]); err != nil {
			t.Fatalf("RecordTruncationMarker(%d, %d) failed: %v", m[0], m[1], err)
		}
	}
	return r
}

func TestGetClosestTruncationMarker(t *testing.T) {
	r := newMarkers(t)
	tests := []struct {
		query int64
		want  int64
	}{
		{5, NoMarker},
		{9, NoMarker},
		{10, 100},
		{15, 100},
		{20, 200},
		{25, 200},
		{30, 300},
		{1000, 300},
	}
	for _, tt := range tests {
		if got := r.GetClosestTruncationMarker(tt.query); got != tt.want {
			t.Errorf("GetClosestTruncationMarker(%d) = %d, want %d", tt.query, got, tt.want)
		}
	}

	empty := NewTruncationMarkerRepository()
	if got := empty.GetClosestTruncationMarker(100); got != NoMarker {
		t.Errorf("empty repository returned %d", got)
	}
}

func TestRemoveTruncationMarkers(t *testing.T) {
	r := newMarkers(t)
	r.SetValidTruncationPoint(10)
	r.SetValidTruncationPoint(30)

	if err := r.RemoveTruncationMarkers(20); err != nil {
		t.Fatalf("RemoveTruncationMarkers failed: %v", err)
	}
	if got := r.GetClosestTruncationMarker(25); got != NoMarker {
		t.Fatalf("expected no marker at 25, got %d", got)
	}
	if got := r.GetClosestTruncationMarker(30); got != 300 {
		t.Fatalf("expected 300 at 30, got %d", got)
	}
	if r.Len() != 1 {
		t.Fatalf("expected one remaining marker, got %d", r.Len())
	}
	if r.IsValidTruncationPoint(10) {
		t.Fatal("valid truncation point 10 should be removed")
	}
	if !r.IsValidTruncationPoint(30) {
		t.Fatal("valid truncation point 30 should remain")
	}
}

func TestRemoveTruncationMarkersInRecoveryMode(t *testing.T) {
	r := newMarkers(t)
	r.EnterRecoveryMode()

	err := r.RemoveTruncationMarkers(20)
	if !errors.Is(err, ErrIllegalState) {
		t.Fatalf("expected ErrIllegalState, got %v", err)
	}
	if r.Len() != 3 {
		t.Fatalf("markers changed during recovery: %d left", r.Len())
	}
	if got := r.GetClosestTruncationMarker(25); got != 200 {
		t.Fatalf("expected 200 at 25, got %d", got)
	}

	r.ExitRecoveryMode()
	if err := r.RemoveTruncationMarkers(20); err != nil {
		t.Fatalf("RemoveTruncationMarkers after recovery failed: %v", err)
	}
}

func TestRecordTruncationMarkerValidation(t *testing.T) {
	r := newMarkers(t)

	if err := r.RecordTruncationMarker(-1, 5); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("negative op seq: expected ErrInvalidArgument, got %v", err)
	}
	if err := r.RecordTruncationMarker(40, -1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("negative frame seq: expected ErrInvalidArgument, got %v", err)
	}
	if err := r.RecordTruncationMarker(25, 250); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("decreasing op seq: expected ErrInvalidArgument, got %v", err)
	}
	if err := r.RecordTruncationMarker(30, 301); err != nil {
		t.Errorf("upsert of last op seq failed: %v", err)
	}
	if got := r.GetClosestTruncationMarker(30); got != 301 {
		t.Errorf("expected upserted 301, got %d", got)
	}
}

func TestValidTruncationPoints(t *testing.T) {
	r := NewTruncationMarkerRepository()
	if r.LatestValidTruncationPoint() != NoMarker {
		t.Fatal("expected no valid truncation point")
	}
	r.SetValidTruncationPoint(7)
	r.SetValidTruncationPoint(7)
	r.SetValidTruncationPoint(3)
	if !r.IsValidTruncationPoint(7) || !r.IsValidTruncationPoint(3) || r.IsValidTruncationPoint(5) {
		t.Fatal("unexpected valid truncation points")
	}
	if got := r.LatestValidTruncationPoint(); got != 7 {
		t.Fatalf("expected latest 7, got %d", got)
	}
}

func TestConcurrentClosestMarkerReads(t *testing.T) {
	r := NewTruncationMarkerRepository()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int64(1); i <= 1000; i++ {
			_ = r.RecordTruncationMarker(i*10, i)
			if i%100 == 0 {
				_ = r.RemoveTruncationMarkers(i*10 - 500)
			}
		}
	}()
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				got := r.GetClosestTruncationMarker(5000)
				if got != NoMarker && (got < 1 || got > 500) {
					t.Errorf("closest marker out of range: %d", got)
					return
				}
			}
		}()
	}
	wg.Wait()
}
