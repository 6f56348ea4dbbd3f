package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Stream identifies a stream by scope and name.
type Stream struct {
	Scope string
	Name  string
}

func (s Stream) String() string {
	return s.Scope + "/" + s.Name
}

// Segment is an independently writable shard of a stream.
type Segment struct {
	Scope  string
	Stream string
	Number int64
}

func NewSegment(scope, stream string, number int64) Segment {
	return Segment{Scope: scope, Stream: stream, Number: number}
}

// QualifiedName is the identifier used on the wire and in the server's segment container.
func (s Segment) QualifiedName() string {
	return fmt.Sprintf("%s/%s/%d", s.Scope, s.Stream, s.Number)
}

func (s Segment) String() string {
	return s.QualifiedName()
}

func (s Segment) StreamID() Stream {
	return Stream{Scope: s.Scope, Name: s.Stream}
}

// ParseSegment reverses QualifiedName.
func ParseSegment(name string) (Segment, error) {
	parts := strings.Split(name, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return Segment{}, fmt.Errorf("invalid segment name %q: expected scope/stream/number", name)
	}
	n, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || n < 0 {
		return Segment{}, fmt.Errorf("invalid segment number in %q", name)
	}
	return Segment{Scope: parts[0], Stream: parts[1], Number: n}, nil
}

// SegmentWithRange associates a segment with its key range [Low, High).
type SegmentWithRange struct {
	Segment Segment
	Low     float64
	High    float64
}

func (r SegmentWithRange) Contains(key float64) bool {
	return key >= r.Low && key < r.High
}

func (r SegmentWithRange) String() string {
	return fmt.Sprintf("%s[%g,%g)", r.Segment, r.Low, r.High)
}
