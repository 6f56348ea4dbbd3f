package durablelog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/downfa11-org/streamlog/pkg/config"
	"github.com/downfa11-org/streamlog/pkg/metrics"
	"github.com/downfa11-org/streamlog/util"
)

type requestKind int

const (
	reqAdd requestKind = iota
	reqCheckpoint
	reqTruncate
)

type result struct {
	seq int64
	err error
}

type request struct {
	kind  requestKind
	op    *Operation
	upTo  int64
	reply chan result
}

// DurableLog sequences operations, packs them into data frames and persists them.
// All sequencing and truncation marker mutation happens on one goroutine.
type DurableLog struct {
	name    string
	policy  CheckpointPolicy
	codec   util.Codec
	maxSize int
	linger  time.Duration

	dataLog DataLog
	updater MetadataUpdater
	markers *TruncationMarkerRepository
	tracker checkpointTracker

	queue   chan *request
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool

	// owned by the run goroutine once started
	nextOpSeq    int64
	nextFrameSeq int64

	mu       sync.Mutex
	failure  error
	stopOnce sync.Once
}

func New(name string, cfg config.DurableLogConfig, dataLog DataLog, updater MetadataUpdater) (*DurableLog, error) {
	cfg.Normalize()
	policy := CheckpointPolicy{
		MinCommitCount:    cfg.CheckpointMinCommitCount,
		CommitCount:       cfg.CheckpointCommitCount,
		TotalCommitLength: cfg.CheckpointTotalCommitLength,
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	codec, err := util.ParseCodec(cfg.CompressionType)
	if err != nil {
		return nil, err
	}
	return &DurableLog{
		name:         name,
		policy:       policy,
		codec:        codec,
		maxSize:      cfg.MaxDataFrameSize,
		linger:       time.Duration(cfg.FrameLingerMS) * time.Millisecond,
		dataLog:      dataLog,
		updater:      updater,
		markers:      NewTruncationMarkerRepository(),
		tracker:      checkpointTracker{policy: policy},
		queue:        make(chan *request, cfg.OperationQueueSize),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		nextOpSeq:    1,
		nextFrameSeq: 1,
	}, nil
}

// Markers exposes the truncation marker repository for inspection.
func (l *DurableLog) Markers() *TruncationMarkerRepository {
	return l.markers
}

// Start recovers state from the data log and begins accepting operations.
func (l *DurableLog) Start(ctx context.Context) error {
	if l.started {
		return fmt.Errorf("%w: durable log %s already started", ErrIllegalState, l.name)
	}
	if err := l.recover(ctx); err != nil {
		return err
	}
	if l.markers.LatestValidTruncationPoint() == NoMarker {
		if _, err := l.writeCheckpoint(ctx); err != nil {
			return fmt.Errorf("initial checkpoint: %w", err)
		}
	}
	util.Info("📒 durable log %s started at op seq %d, frame seq %d", l.name, l.nextOpSeq, l.nextFrameSeq)
	l.started = true
	go l.run()
	return nil
}

func (l *DurableLog) recover(ctx context.Context) error {
	l.markers.EnterRecoveryMode()
	defer l.markers.ExitRecoveryMode()

	restored := false
	frames := 0
	err := l.dataLog.ReadAll(ctx, func(frameSeq int64, data []byte) error {
		frame, err := DecodeDataFrame(data)
		if err != nil {
			return err
		}
		if frame.FrameSequence != frameSeq {
			return fmt.Errorf("%w: frame stored at %d claims sequence %d", ErrCorrupt, frameSeq, frame.FrameSequence)
		}
		if frameSeq < l.nextFrameSeq {
			return fmt.Errorf("%w: frame %d out of order, expected >= %d", ErrCorrupt, frameSeq, l.nextFrameSeq)
		}
		if frame.FirstOpSeq < l.nextOpSeq && frames > 0 {
			return fmt.Errorf("%w: frame %d reuses op seq %d", ErrCorrupt, frameSeq, frame.FirstOpSeq)
		}

		for _, op := range frame.Operations {
			switch {
			case op.Type == MetadataCheckpoint && !restored:
				if err := l.updater.Restore(op.Data); err != nil {
					return fmt.Errorf("restore checkpoint %d: %w", op.SequenceNumber, err)
				}
				restored = true
				l.tracker.reset()
			case op.Type == MetadataCheckpoint:
				l.tracker.reset()
			case restored:
				if err := l.updater.Apply(op); err != nil {
					return fmt.Errorf("replay op %d: %w", op.SequenceNumber, err)
				}
				l.tracker.committed(1, int64(len(op.Data)))
			}
		}

		if err := l.markers.RecordTruncationMarker(frame.LastOpSeq, frameSeq); err != nil {
			return err
		}
		if frame.isCheckpoint() {
			l.markers.SetValidTruncationPoint(frame.LastOpSeq)
		}
		l.nextOpSeq = frame.LastOpSeq + 1
		l.nextFrameSeq = frameSeq + 1
		frames++
		return nil
	})
	if err != nil {
		return fmt.Errorf("recover durable log %s: %w", l.name, err)
	}
	if frames > 0 && !restored {
		return fmt.Errorf("%w: durable log %s has %d frames but no checkpoint", ErrCorrupt, l.name, frames)
	}
	if frames > 0 {
		util.Info("durable log %s recovered %d frames", l.name, frames)
	}
	return nil
}

// Add submits op and blocks until it is durable. It returns the assigned sequence number.
// Operations rejected by the MetadataUpdater never receive a sequence number.
// If ctx ends first the operation may still be committed.
func (l *DurableLog) Add(ctx context.Context, op *Operation) (int64, error) {
	if op.Type == MetadataCheckpoint {
		return -1, fmt.Errorf("%w: checkpoints are written by the log itself", ErrInvalidArgument)
	}
	return l.submit(ctx, &request{kind: reqAdd, op: op})
}

// Checkpoint forces a metadata checkpoint and returns its sequence number,
// which is a valid truncation point.
func (l *DurableLog) Checkpoint(ctx context.Context) (int64, error) {
	return l.submit(ctx, &request{kind: reqCheckpoint})
}

// Truncate discards every frame before the checkpoint at opSeq.
// opSeq must be a valid truncation point.
func (l *DurableLog) Truncate(ctx context.Context, opSeq int64) error {
	_, err := l.submit(ctx, &request{kind: reqTruncate, upTo: opSeq})
	return err
}

func (l *DurableLog) submit(ctx context.Context, req *request) (int64, error) {
	if !l.started {
		return -1, ErrNotStarted
	}
	if err := l.failed(); err != nil {
		return -1, err
	}
	req.reply = make(chan result, 1)

	select {
	case l.queue <- req:
	case <-l.stopCh:
		return -1, ErrClosed
	case <-ctx.Done():
		return -1, ctx.Err()
	}

	select {
	case r := <-req.reply:
		return r.seq, r.err
	case <-l.doneCh:
		select {
		case r := <-req.reply:
			return r.seq, r.err
		default:
			return -1, ErrClosed
		}
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func (l *DurableLog) failed() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failure
}

func (l *DurableLog) fail(err error) {
	l.mu.Lock()
	if l.failure == nil {
		l.failure = fmt.Errorf("%w: %v", ErrClosed, err)
	}
	l.mu.Unlock()
	util.Error("durable log %s failed: %v", l.name, err)
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Stop rejects new submissions, fails queued ones and closes the data log.
func (l *DurableLog) Stop() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	if l.started {
		<-l.doneCh
	}
	return l.dataLog.Close()
}

func (l *DurableLog) run() {
	defer close(l.doneCh)
	ctx := context.Background()

	var next *request
	for {
		if next == nil {
			select {
			case <-l.stopCh:
				l.drain()
				return
			case next = <-l.queue:
			}
		}
		if err := l.failed(); err != nil {
			next.reply <- result{seq: -1, err: err}
			next = nil
			continue
		}

		req := next
		next = nil
		switch req.kind {
		case reqCheckpoint:
			seq, err := l.writeCheckpoint(ctx)
			req.reply <- result{seq: seq, err: err}
		case reqTruncate:
			req.reply <- result{seq: req.upTo, err: l.truncate(ctx, req.upTo)}
		default:
			next = l.processBatch(ctx, req)
			if l.failed() == nil && l.tracker.shouldCheckpoint() {
				if _, err := l.writeCheckpoint(ctx); err != nil {
					util.Warn("durable log %s checkpoint failed: %v", l.name, err)
				}
			}
		}
	}
}

func (l *DurableLog) drain() {
	for {
		select {
		case req := <-l.queue:
			req.reply <- result{seq: -1, err: ErrClosed}
		default:
			return
		}
	}
}

// processBatch builds and writes one frame starting with first, adding queued operations until
// the frame is full, the queue stays empty for the linger time, or a control request shows up.
// The request that ended the batch without being consumed is returned.
func (l *DurableLog) processBatch(ctx context.Context, first *request) *request {
	frame := newDataFrame(l.codec)
	var batch []*request
	var deferred *request

	accept := func(req *request) bool {
		if len(batch) > 0 && frame.size()+req.op.serializedSize() > l.maxSize {
			return false
		}
		if err := l.updater.PreProcess(req.op); err != nil {
			req.reply <- result{seq: -1, err: err}
			return true
		}
		req.op.SequenceNumber = l.nextOpSeq
		l.nextOpSeq++
		frame.add(req.op)
		batch = append(batch, req)
		return true
	}
	accept(first)

	var lingerC <-chan time.Time
	if l.linger > 0 {
		timer := time.NewTimer(l.linger)
		defer timer.Stop()
		lingerC = timer.C
	}

collect:
	for frame.size() < l.maxSize {
		var req *request
		select {
		case req = <-l.queue:
		default:
			if lingerC == nil {
				break collect
			}
			select {
			case req = <-l.queue:
			case <-lingerC:
				break collect
			case <-l.stopCh:
				break collect
			}
		}
		if req.kind != reqAdd || !accept(req) {
			deferred = req
			break
		}
	}

	if len(batch) > 0 {
		l.writeBatch(ctx, frame, batch)
	}
	return deferred
}

func (l *DurableLog) writeBatch(ctx context.Context, frame *DataFrame, batch []*request) {
	if err := l.persist(ctx, frame); err != nil {
		l.updater.Rollback()
		l.fail(err)
		for _, req := range batch {
			req.reply <- result{seq: -1, err: err}
		}
		return
	}
	l.updater.Commit()
	l.tracker.committed(len(frame.Operations), frame.dataLength())
	for _, req := range batch {
		req.reply <- result{seq: req.op.SequenceNumber}
	}
}

// persist writes the frame and records its truncation marker.
func (l *DurableLog) persist(ctx context.Context, frame *DataFrame) error {
	frame.FrameSequence = l.nextFrameSeq
	data, err := frame.Encode()
	if err != nil {
		return err
	}
	if err := l.dataLog.Append(ctx, frame.FrameSequence, data); err != nil {
		return fmt.Errorf("append frame %d: %w", frame.FrameSequence, err)
	}
	l.nextFrameSeq++
	metrics.RecordFrame(len(frame.Operations), len(data))

	if err := l.markers.RecordTruncationMarker(frame.LastOpSeq, frame.FrameSequence); err != nil {
		return err
	}
	util.Debug("durable log %s wrote frame %d ops [%d..%d] (%d bytes)",
		l.name, frame.FrameSequence, frame.FirstOpSeq, frame.LastOpSeq, len(data))
	return nil
}

// writeCheckpoint persists a checkpoint alone in its own frame and marks it as a valid truncation point.
func (l *DurableLog) writeCheckpoint(ctx context.Context) (int64, error) {
	snapshot, err := l.updater.Checkpoint()
	if err != nil {
		return -1, fmt.Errorf("snapshot metadata: %w", err)
	}
	op := newCheckpointOperation(snapshot)
	op.SequenceNumber = l.nextOpSeq

	frame := newDataFrame(l.codec)
	frame.add(op)
	if err := l.persist(ctx, frame); err != nil {
		l.fail(err)
		return -1, err
	}
	l.nextOpSeq++
	l.markers.SetValidTruncationPoint(op.SequenceNumber)
	l.tracker.reset()
	metrics.CheckpointsTotal.Inc()
	util.Debug("durable log %s checkpoint at op seq %d (%d bytes)", l.name, op.SequenceNumber, len(snapshot))
	return op.SequenceNumber, nil
}

func (l *DurableLog) truncate(ctx context.Context, opSeq int64) error {
	if !l.markers.IsValidTruncationPoint(opSeq) {
		return fmt.Errorf("%w: op seq %d", ErrNotValidTruncationPoint, opSeq)
	}
	frameSeq := l.markers.GetClosestTruncationMarker(opSeq - 1)
	if frameSeq == NoMarker {
		return nil
	}
	if err := l.dataLog.Truncate(ctx, frameSeq); err != nil {
		return fmt.Errorf("truncate data log to frame %d: %w", frameSeq, err)
	}
	if err := l.markers.RemoveTruncationMarkers(opSeq - 1); err != nil {
		return err
	}
	metrics.TruncationsTotal.Inc()
	util.Info("✂️ durable log %s truncated through frame %d (op seq %d)", l.name, frameSeq, opSeq-1)
	return nil
}

// IsClosed reports whether the log stopped, either explicitly or after a persistence failure.
func (l *DurableLog) IsClosed() bool {
	select {
	case <-l.stopCh:
		return true
	default:
		return false
	}
}

// Err returns the persistence failure that closed the log, if any.
func (l *DurableLog) Err() error {
	err := l.failed()
	if err == nil && l.IsClosed() {
		return ErrClosed
	}
	return err
}
