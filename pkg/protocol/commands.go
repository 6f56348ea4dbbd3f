package protocol

import (
	"cmp"
	"fmt"

	"github.com/google/uuid"
)

// CommandType is the int32 opcode following the length prefix of every frame.
type CommandType int32

const (
	TypeKeepAlive CommandType = iota + 1
	TypeSetupAppend
	TypeAppend
	TypeSealSegment
	TypeGetSegmentInfo
)

// Replies start at 100.
const (
	TypeAppendSetup CommandType = iota + 100
	TypeDataAppended
	TypeSegmentIsSealed
	TypeConditionalCheckFailed
	TypeNoSuchSegment
	TypeSegmentSealed
	TypeSegmentInfo
	TypeInvalidEventNumber
)

var typeNames = map[CommandType]string{
	TypeKeepAlive:              "KeepAlive",
	TypeSetupAppend:            "SetupAppend",
	TypeAppend:                 "Append",
	TypeSealSegment:            "SealSegment",
	TypeGetSegmentInfo:         "GetSegmentInfo",
	TypeAppendSetup:            "AppendSetup",
	TypeDataAppended:           "DataAppended",
	TypeSegmentIsSealed:        "SegmentIsSealed",
	TypeConditionalCheckFailed: "ConditionalCheckFailed",
	TypeNoSuchSegment:          "NoSuchSegment",
	TypeSegmentSealed:          "SegmentSealed",
	TypeSegmentInfo:            "SegmentInfo",
	TypeInvalidEventNumber:     "InvalidEventNumber",
}

func (t CommandType) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("CommandType(%d)", int32(t))
}

// Command is any message carried in a frame.
type Command interface {
	Type() CommandType
	encode(e *encoder)
}

// NoExpectedLength marks an unconditional Append on the wire.
const NoExpectedLength int64 = -1

type KeepAlive struct{}

type SetupAppend struct {
	RequestID int64
	WriterID  uuid.UUID
	Segment   string
}

// Append carries one event for a segment from a writer session.
type Append struct {
	Segment        string
	WriterID       uuid.UUID
	EventNumber    int64
	Data           []byte
	ExpectedLength int64
}

type SealSegment struct {
	RequestID int64
	Segment   string
}

type GetSegmentInfo struct {
	RequestID int64
	Segment   string
}

type AppendSetup struct {
	RequestID       int64
	Segment         string
	WriterID        uuid.UUID
	LastEventNumber int64
}

type DataAppended struct {
	WriterID      uuid.UUID
	EventNumber   int64
	SegmentLength int64
}

// SegmentIsSealed is the reply to a SetupAppend or Append targeting a sealed segment.
type SegmentIsSealed struct {
	RequestID int64
	Segment   string
}

type ConditionalCheckFailed struct {
	WriterID    uuid.UUID
	EventNumber int64
}

type NoSuchSegment struct {
	RequestID int64
	Segment   string
}

// SegmentSealed is the reply to a successful SealSegment.
type SegmentSealed struct {
	RequestID int64
	Segment   string
	Length    int64
}

type SegmentInfo struct {
	RequestID int64
	Segment   string
	Length    int64
	Sealed    bool
}

type InvalidEventNumber struct {
	WriterID    uuid.UUID
	EventNumber int64
}

// NewAppend builds an unconditional append.
func NewAppend(segment string, writerID uuid.UUID, eventNumber int64, data []byte) *Append {
	return &Append{
		Segment:        segment,
		WriterID:       writerID,
		EventNumber:    eventNumber,
		Data:           data,
		ExpectedLength: NoExpectedLength,
	}
}

func (a *Append) IsConditional() bool {
	return a.ExpectedLength != NoExpectedLength
}

// Compare orders appends of one writer session by event number. Equal event numbers
// compare as 0 regardless of payload.
func (a *Append) Compare(other *Append) int {
	return cmp.Compare(a.EventNumber, other.EventNumber)
}

func (*KeepAlive) Type() CommandType              { return TypeKeepAlive }
func (*SetupAppend) Type() CommandType            { return TypeSetupAppend }
func (*Append) Type() CommandType                 { return TypeAppend }
func (*SealSegment) Type() CommandType            { return TypeSealSegment }
func (*GetSegmentInfo) Type() CommandType         { return TypeGetSegmentInfo }
func (*AppendSetup) Type() CommandType            { return TypeAppendSetup }
func (*DataAppended) Type() CommandType           { return TypeDataAppended }
func (*SegmentIsSealed) Type() CommandType        { return TypeSegmentIsSealed }
func (*ConditionalCheckFailed) Type() CommandType { return TypeConditionalCheckFailed }
func (*NoSuchSegment) Type() CommandType          { return TypeNoSuchSegment }
func (*SegmentSealed) Type() CommandType          { return TypeSegmentSealed }
func (*SegmentInfo) Type() CommandType            { return TypeSegmentInfo }
func (*InvalidEventNumber) Type() CommandType     { return TypeInvalidEventNumber }
