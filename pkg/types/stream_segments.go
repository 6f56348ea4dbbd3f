package types

import (
	"fmt"
	"math"
	"sort"

	"github.com/downfa11-org/streamlog/util"
)

const rangeEpsilon = 1e-9

// StreamSegments is an immutable snapshot of the open segments of a stream, partitioning [0, 1).
type StreamSegments struct {
	ranges []SegmentWithRange // sorted by Low, contiguous
}

// NewStreamSegments validates that ranges cover [0, 1) without gaps or overlaps.
func NewStreamSegments(ranges []SegmentWithRange) (*StreamSegments, error) {
	if len(ranges) == 0 {
		return nil, fmt.Errorf("stream has no segments")
	}
	sorted := make([]SegmentWithRange, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Low < sorted[j].Low })

	if err := checkContiguous(sorted, 0, 1); err != nil {
		return nil, err
	}
	return &StreamSegments{ranges: sorted}, nil
}

func checkContiguous(sorted []SegmentWithRange, low, high float64) error {
	expect := low
	for _, r := range sorted {
		if r.High <= r.Low {
			return fmt.Errorf("empty key range for %s", r)
		}
		if math.Abs(r.Low-expect) > rangeEpsilon {
			return fmt.Errorf("key range %s does not start at %g", r, expect)
		}
		expect = r.High
	}
	if math.Abs(expect-high) > rangeEpsilon {
		return fmt.Errorf("key ranges end at %g, expected %g", expect, high)
	}
	return nil
}

// SegmentForKey hashes the routing key onto the key space.
func (s *StreamSegments) SegmentForKey(key string) Segment {
	return s.SegmentForHash(util.KeyHash(key))
}

// SegmentForHash returns the segment owning the given point of [0, 1).
func (s *StreamSegments) SegmentForHash(h float64) Segment {
	if h < 0 {
		h = 0
	}
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].High > h })
	if i == len(s.ranges) {
		i = len(s.ranges) - 1
	}
	return s.ranges[i].Segment
}

// Segments lists each distinct segment once, in key order.
func (s *StreamSegments) Segments() []Segment {
	seen := make(map[Segment]struct{}, len(s.ranges))
	out := make([]Segment, 0, len(s.ranges))
	for _, r := range s.ranges {
		if _, ok := seen[r.Segment]; ok {
			continue
		}
		seen[r.Segment] = struct{}{}
		out = append(out, r.Segment)
	}
	return out
}

func (s *StreamSegments) Ranges() []SegmentWithRange {
	out := make([]SegmentWithRange, len(s.ranges))
	copy(out, s.ranges)
	return out
}

func (s *StreamSegments) Contains(seg Segment) bool {
	for _, r := range s.ranges {
		if r.Segment == seg {
			return true
		}
	}
	return false
}

// WithReplacementRange returns a new snapshot in which every range owned by the sealed segment
// is replaced by the successors that list it as a predecessor. Successor ranges are clipped to
// the replaced range, so a successor produced by a merge only takes over the sealed part.
func (s *StreamSegments) WithReplacementRange(sealed Segment, successors *StreamSegmentsWithPredecessors) (*StreamSegments, error) {
	var replacement []SegmentWithRange
	for _, succ := range successors.Ranges() {
		if !successors.HasPredecessor(succ.Segment, sealed.Number) {
			continue
		}
		replacement = append(replacement, succ)
	}
	if len(replacement) == 0 {
		return nil, fmt.Errorf("no successors of %s in %d returned segments", sealed, len(successors.Ranges()))
	}

	out := make([]SegmentWithRange, 0, len(s.ranges)+len(replacement))
	found := false
	for _, r := range s.ranges {
		if r.Segment != sealed {
			out = append(out, r)
			continue
		}
		found = true
		var pieces []SegmentWithRange
		for _, succ := range replacement {
			low := math.Max(succ.Low, r.Low)
			high := math.Min(succ.High, r.High)
			if high-low > rangeEpsilon {
				pieces = append(pieces, SegmentWithRange{Segment: succ.Segment, Low: low, High: high})
			}
		}
		sort.Slice(pieces, func(i, j int) bool { return pieces[i].Low < pieces[j].Low })
		if err := checkContiguous(pieces, r.Low, r.High); err != nil {
			return nil, fmt.Errorf("successors of %s do not cover its range: %w", sealed, err)
		}
		out = append(out, pieces...)
	}
	if !found {
		return nil, fmt.Errorf("segment %s is not part of the current snapshot", sealed)
	}
	return NewStreamSegments(out)
}

func (s *StreamSegments) String() string {
	return fmt.Sprintf("%v", s.ranges)
}

// StreamSegmentsWithPredecessors describes the successors of a sealed segment: their key
// ranges and the numbers of the segments they replace.
type StreamSegmentsWithPredecessors struct {
	predecessors map[Segment][]int64
	ranges       map[Segment]SegmentWithRange
}

func NewStreamSegmentsWithPredecessors(segments map[SegmentWithRange][]int64) *StreamSegmentsWithPredecessors {
	s := &StreamSegmentsWithPredecessors{
		predecessors: make(map[Segment][]int64, len(segments)),
		ranges:       make(map[Segment]SegmentWithRange, len(segments)),
	}
	for r, preds := range segments {
		cp := make([]int64, len(preds))
		copy(cp, preds)
		s.predecessors[r.Segment] = cp
		s.ranges[r.Segment] = r
	}
	return s
}

// SegmentToPredecessor returns a copy of the successor -> predecessor numbers mapping.
func (s *StreamSegmentsWithPredecessors) SegmentToPredecessor() map[Segment][]int64 {
	out := make(map[Segment][]int64, len(s.predecessors))
	for seg, preds := range s.predecessors {
		out[seg] = append([]int64(nil), preds...)
	}
	return out
}

// Ranges lists the successors sorted by the start of their key range.
func (s *StreamSegmentsWithPredecessors) Ranges() []SegmentWithRange {
	out := make([]SegmentWithRange, 0, len(s.ranges))
	for _, r := range s.ranges {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Low < out[j].Low })
	return out
}

func (s *StreamSegmentsWithPredecessors) HasPredecessor(successor Segment, predecessor int64) bool {
	for _, p := range s.predecessors[successor] {
		if p == predecessor {
			return true
		}
	}
	return false
}
