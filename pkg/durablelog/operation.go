package durablelog

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

type OperationType byte

const (
	StreamSegmentAppend OperationType = iota + 1
	StreamSegmentSeal
	MetadataCheckpoint
)

func (t OperationType) String() string {
	switch t {
	case StreamSegmentAppend:
		return "StreamSegmentAppend"
	case StreamSegmentSeal:
		return "StreamSegmentSeal"
	case MetadataCheckpoint:
		return "MetadataCheckpoint"
	default:
		return fmt.Sprintf("OperationType(%d)", byte(t))
	}
}

// Operation is a unit of work sequenced by the durable log.
// SequenceNumber is assigned by the log; Offset by the MetadataUpdater during pre-processing.
type Operation struct {
	Type           OperationType
	SequenceNumber int64
	Segment        string
	Offset         int64
	WriterID       uuid.UUID
	EventNumber    int64
	ExpectedLength int64
	Data           []byte
}

// NoExpectedLength marks an unconditional append.
const NoExpectedLength int64 = -1

func NewAppendOperation(segment string, writerID uuid.UUID, eventNumber int64, data []byte, expectedLength int64) *Operation {
	return &Operation{
		Type:           StreamSegmentAppend,
		SequenceNumber: -1,
		Segment:        segment,
		Offset:         -1,
		WriterID:       writerID,
		EventNumber:    eventNumber,
		ExpectedLength: expectedLength,
		Data:           data,
	}
}

func NewSealOperation(segment string) *Operation {
	return &Operation{Type: StreamSegmentSeal, SequenceNumber: -1, Segment: segment, Offset: -1, ExpectedLength: NoExpectedLength}
}

func newCheckpointOperation(snapshot []byte) *Operation {
	return &Operation{Type: MetadataCheckpoint, SequenceNumber: -1, Offset: -1, ExpectedLength: NoExpectedLength, Data: snapshot}
}

func (op *Operation) String() string {
	return fmt.Sprintf("%s(seq=%d, segment=%s, offset=%d, len=%d)", op.Type, op.SequenceNumber, op.Segment, op.Offset, len(op.Data))
}

// serializedSize matches appendTo.
func (op *Operation) serializedSize() int {
	return 1 + 8 + 4 + len(op.Segment) + 8 + 16 + 8 + 8 + 4 + len(op.Data)
}

func (op *Operation) appendTo(buf []byte) []byte {
	buf = append(buf, byte(op.Type))
	buf = binary.BigEndian.AppendUint64(buf, uint64(op.SequenceNumber))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(op.Segment)))
	buf = append(buf, op.Segment...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(op.Offset))
	buf = append(buf, op.WriterID[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(op.EventNumber))
	buf = binary.BigEndian.AppendUint64(buf, uint64(op.ExpectedLength))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(op.Data)))
	buf = append(buf, op.Data...)
	return buf
}

// readOperation parses one operation from the front of buf and returns the rest.
func readOperation(buf []byte) (*Operation, []byte, error) {
	const fixed = 1 + 8 + 4
	if len(buf) < fixed {
		return nil, nil, fmt.Errorf("%w: operation header truncated", ErrCorrupt)
	}
	op := &Operation{Type: OperationType(buf[0])}
	op.SequenceNumber = int64(binary.BigEndian.Uint64(buf[1:9]))
	segLen := int(binary.BigEndian.Uint32(buf[9:13]))
	buf = buf[fixed:]

	if len(buf) < segLen+8+16+8+8+4 {
		return nil, nil, fmt.Errorf("%w: operation %d truncated", ErrCorrupt, op.SequenceNumber)
	}
	op.Segment = string(buf[:segLen])
	buf = buf[segLen:]
	op.Offset = int64(binary.BigEndian.Uint64(buf[0:8]))
	copy(op.WriterID[:], buf[8:24])
	op.EventNumber = int64(binary.BigEndian.Uint64(buf[24:32]))
	op.ExpectedLength = int64(binary.BigEndian.Uint64(buf[32:40]))
	dataLen := int(binary.BigEndian.Uint32(buf[40:44]))
	buf = buf[44:]

	if len(buf) < dataLen {
		return nil, nil, fmt.Errorf("%w: operation %d data truncated", ErrCorrupt, op.SequenceNumber)
	}
	op.Data = make([]byte, dataLen)
	copy(op.Data, buf[:dataLen])
	return op, buf[dataLen:], nil
}
