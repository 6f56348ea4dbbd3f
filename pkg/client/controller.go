package client

import (
	"context"

	"github.com/downfa11-org/streamlog/pkg/types"
)

// Controller answers segment topology queries. Implementations may block on remote calls;
// callers bound them through ctx.
type Controller interface {
	GetCurrentSegments(ctx context.Context, stream types.Stream) (*types.StreamSegments, error)
	GetSuccessors(ctx context.Context, segment types.Segment) (*types.StreamSegmentsWithPredecessors, error)
	GetEndpointForSegment(ctx context.Context, segment types.Segment) (string, error)
}
