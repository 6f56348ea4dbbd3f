package client

import (
	"context"
	"fmt"

	"github.com/downfa11-org/streamlog/pkg/types"
)

// StaticController serves a fixed topology: one endpoint and a stream split evenly into
// Segments key ranges. It knows no successors, so a seal cannot be followed.
type StaticController struct {
	Endpoint string
	Segments int
}

func NewStaticController(endpoint string, segments int) *StaticController {
	return &StaticController{Endpoint: endpoint, Segments: max(segments, 1)}
}

func (c *StaticController) GetCurrentSegments(_ context.Context, stream types.Stream) (*types.StreamSegments, error) {
	n := max(c.Segments, 1)
	ranges := make([]types.SegmentWithRange, n)
	for i := 0; i < n; i++ {
		ranges[i] = types.SegmentWithRange{
			Segment: types.NewSegment(stream.Scope, stream.Name, int64(i)),
			Low:     float64(i) / float64(n),
			High:    float64(i+1) / float64(n),
		}
	}
	ranges[n-1].High = 1.0
	return types.NewStreamSegments(ranges)
}

func (c *StaticController) GetSuccessors(_ context.Context, segment types.Segment) (*types.StreamSegmentsWithPredecessors, error) {
	return nil, fmt.Errorf("static topology has no successors for %s", segment)
}

func (c *StaticController) GetEndpointForSegment(context.Context, types.Segment) (string, error) {
	return c.Endpoint, nil
}

var _ Controller = (*StaticController)(nil)
