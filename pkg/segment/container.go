package segment

import (
	"context"
	"errors"
	"fmt"

	"github.com/downfa11-org/streamlog/pkg/config"
	"github.com/downfa11-org/streamlog/pkg/durablelog"
	"github.com/downfa11-org/streamlog/pkg/metrics"
	"github.com/downfa11-org/streamlog/pkg/types"
	"github.com/downfa11-org/streamlog/util"
	"github.com/google/uuid"
)

// AppendResult describes an accepted append.
type AppendResult struct {
	Offset    int64
	Length    int64
	Duplicate bool
}

// Info is the committed state of a segment.
type Info struct {
	Name   string
	Length int64
	Sealed bool
}

// Container owns the segments of one durable log.
type Container struct {
	name  string
	store *Store
	log   *durablelog.DurableLog
}

func NewContainer(name string, cfg *config.Config, dataLog durablelog.DataLog) (*Container, error) {
	store := NewStore(cfg.AutoCreateSegments)
	log, err := durablelog.New(name, cfg.DurableLog, dataLog, store)
	if err != nil {
		return nil, err
	}
	return &Container{name: name, store: store, log: log}, nil
}

// Start recovers the container from its data log.
func (c *Container) Start(ctx context.Context) error {
	return c.log.Start(ctx)
}

func (c *Container) Stop() error {
	return c.log.Stop()
}

func (c *Container) Log() *durablelog.DurableLog {
	return c.log
}

// Append adds data to a segment. A duplicate event number from the same writer is acknowledged
// without appending again. A conditional append (expectedLength != -1) fails with
// types.ErrConditionalCheckFailed unless the segment length equals expectedLength.
func (c *Container) Append(ctx context.Context, segment string, writerID uuid.UUID, eventNumber int64, data []byte, expectedLength int64) (AppendResult, error) {
	op := durablelog.NewAppendOperation(segment, writerID, eventNumber, data, expectedLength)
	_, err := c.log.Add(ctx, op)
	switch {
	case err == nil:
		metrics.RecordAppend("ok")
		return AppendResult{Offset: op.Offset, Length: op.Offset + int64(len(data))}, nil
	case errors.Is(err, ErrDuplicateEvent):
		metrics.RecordAppend("duplicate")
		length, _, infoErr := c.store.Info(segment)
		if infoErr != nil {
			return AppendResult{}, infoErr
		}
		util.Debug("duplicate append %s writer=%s event=%d", segment, writerID, eventNumber)
		return AppendResult{Offset: -1, Length: length, Duplicate: true}, nil
	case errors.Is(err, types.ErrConditionalCheckFailed):
		metrics.RecordAppend("conditional_failed")
	case errors.Is(err, types.ErrSegmentSealed):
		metrics.RecordAppend("sealed")
	default:
		metrics.RecordAppend("error")
	}
	return AppendResult{}, err
}

// Seal makes the segment read-only and returns its final length. Sealing twice is not an error.
func (c *Container) Seal(ctx context.Context, segment string) (int64, error) {
	op := durablelog.NewSealOperation(segment)
	_, err := c.log.Add(ctx, op)
	if errors.Is(err, errAlreadySealed) {
		length, _, err := c.store.Info(segment)
		return length, err
	}
	if err != nil {
		return 0, err
	}
	util.Info("🔒 sealed segment %s at length %d", segment, op.Offset)
	return op.Offset, nil
}

func (c *Container) Info(segment string) (Info, error) {
	length, sealed, err := c.store.Info(segment)
	if err != nil {
		return Info{}, err
	}
	return Info{Name: segment, Length: length, Sealed: sealed}, nil
}

// LastEventNumber is used when a writer session is set up so it can resume after its last durable event.
func (c *Container) LastEventNumber(segment string, writerID uuid.UUID) (int64, error) {
	return c.store.LastEventNumber(segment, writerID.String())
}

// Truncate discards the data log before the latest checkpoint.
func (c *Container) Truncate(ctx context.Context) error {
	point := c.log.Markers().LatestValidTruncationPoint()
	if point == durablelog.NoMarker {
		return fmt.Errorf("%w: no valid truncation point", durablelog.ErrIllegalState)
	}
	return c.log.Truncate(ctx, point)
}
