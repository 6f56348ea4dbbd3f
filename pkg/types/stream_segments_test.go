package types_test

import (
	"testing"

	"github.com/downfa11-org/streamlog/pkg/types"
	"github.com/downfa11-org/streamlog/util"
)

func seg(n int64) types.Segment {
	return types.NewSegment("scope", "stream", n)
}

func twoSegments(t *testing.T) *types.StreamSegments {
	t.Helper()
	s, err := types.NewStreamSegments([]types.SegmentWithRange{
		{Segment: seg(1), Low: 0.5, High: 1.0},
		{Segment: seg(0), Low: 0, High: 0.5},
	})
	if err != nil {
		t.Fatalf("NewStreamSegments failed: %v", err)
	}
	return s
}

func TestNewStreamSegmentsValidation(t *testing.T) {
	tests := []struct {
		name   string
		ranges []types.SegmentWithRange
		ok     bool
	}{
		{"empty", nil, false},
		{"full", []types.SegmentWithRange{{Segment: seg(0), Low: 0, High: 1}}, true},
		{"gap", []types.SegmentWithRange{{Segment: seg(0), Low: 0, High: 0.4}, {Segment: seg(1), Low: 0.5, High: 1}}, false},
		{"overlap", []types.SegmentWithRange{{Segment: seg(0), Low: 0, High: 0.6}, {Segment: seg(1), Low: 0.5, High: 1}}, false},
		{"short", []types.SegmentWithRange{{Segment: seg(0), Low: 0, High: 0.9}}, false},
		{"inverted", []types.SegmentWithRange{{Segment: seg(0), Low: 0, High: 0}, {Segment: seg(1), Low: 0, High: 1}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := types.NewStreamSegments(tt.ranges)
			if (err == nil) != tt.ok {
				t.Fatalf("expected ok=%v, got err=%v", tt.ok, err)
			}
		})
	}
}

func TestSegmentForHash(t *testing.T) {
	s := twoSegments(t)
	cases := map[float64]int64{0: 0, 0.3: 0, 0.4999: 0, 0.5: 1, 0.99: 1, 1.0: 1}
	for h, want := range cases {
		if got := s.SegmentForHash(h).Number; got != want {
			t.Errorf("SegmentForHash(%v) = %d, want %d", h, got, want)
		}
	}
}

func TestSegmentForKeyDeterministic(t *testing.T) {
	s := twoSegments(t)
	for _, key := range []string{"a", "b", "order-17", "user:42"} {
		first := s.SegmentForKey(key)
		for i := 0; i < 10; i++ {
			if got := s.SegmentForKey(key); got != first {
				t.Fatalf("key %q routed to %v then %v", key, first, got)
			}
		}
		wantLow := util.KeyHash(key) < 0.5
		if (first.Number == 0) != wantLow {
			t.Errorf("key %q hash %v routed to %v", key, util.KeyHash(key), first)
		}
	}
}

func TestWithReplacementRangeSplit(t *testing.T) {
	s := twoSegments(t)
	succ := types.NewStreamSegmentsWithPredecessors(map[types.SegmentWithRange][]int64{
		{Segment: seg(2), Low: 0, High: 0.25}:   {0},
		{Segment: seg(3), Low: 0.25, High: 0.5}: {0},
	})

	next, err := s.WithReplacementRange(seg(0), succ)
	if err != nil {
		t.Fatalf("WithReplacementRange failed: %v", err)
	}
	if next.Contains(seg(0)) {
		t.Fatal("sealed segment still present")
	}
	if got := next.SegmentForHash(0.3).Number; got != 3 {
		t.Fatalf("expected 0.3 -> 3, got %d", got)
	}
	if got := next.SegmentForHash(0.1).Number; got != 2 {
		t.Fatalf("expected 0.1 -> 2, got %d", got)
	}
	if got := next.SegmentForHash(0.7).Number; got != 1 {
		t.Fatalf("expected 0.7 -> 1, got %d", got)
	}
	if !s.Contains(seg(0)) {
		t.Fatal("original snapshot was modified")
	}
}

func TestWithReplacementRangeMerge(t *testing.T) {
	s := twoSegments(t)
	merged := types.NewStreamSegmentsWithPredecessors(map[types.SegmentWithRange][]int64{
		{Segment: seg(2), Low: 0, High: 1}: {0, 1},
	})

	next, err := s.WithReplacementRange(seg(0), merged)
	if err != nil {
		t.Fatalf("WithReplacementRange failed: %v", err)
	}
	if got := next.SegmentForHash(0.7).Number; got != 1 {
		t.Fatalf("unsealed neighbour should keep its range, got %d", got)
	}
	next, err = next.WithReplacementRange(seg(1), merged)
	if err != nil {
		t.Fatalf("second WithReplacementRange failed: %v", err)
	}
	segs := next.Segments()
	if len(segs) != 1 || segs[0].Number != 2 {
		t.Fatalf("expected only segment 2, got %v", segs)
	}
}

func TestWithReplacementRangeErrors(t *testing.T) {
	s := twoSegments(t)
	partial := types.NewStreamSegmentsWithPredecessors(map[types.SegmentWithRange][]int64{
		{Segment: seg(2), Low: 0, High: 0.25}: {0},
	})
	if _, err := s.WithReplacementRange(seg(0), partial); err == nil {
		t.Fatal("expected error for successors not covering sealed range")
	}

	unrelated := types.NewStreamSegmentsWithPredecessors(map[types.SegmentWithRange][]int64{
		{Segment: seg(4), Low: 0, High: 0.5}: {9},
	})
	if _, err := s.WithReplacementRange(seg(0), unrelated); err == nil {
		t.Fatal("expected error when no successor lists the sealed segment")
	}

	if _, err := s.WithReplacementRange(seg(7), partial); err == nil {
		t.Fatal("expected error for segment outside snapshot")
	}
}

func TestParseSegment(t *testing.T) {
	s := types.NewSegment("sc", "st", 12)
	got, err := types.ParseSegment(s.QualifiedName())
	if err != nil || got != s {
		t.Fatalf("ParseSegment(%q) = %v, %v", s.QualifiedName(), got, err)
	}
	for _, bad := range []string{"", "a/b", "a/b/c", "/b/1", "a/b/-1", "a/b/1/2"} {
		if _, err := types.ParseSegment(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}
