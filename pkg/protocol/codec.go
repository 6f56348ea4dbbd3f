package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/downfa11-org/streamlog/util"
	"github.com/google/uuid"
)

// MaxFrameSize bounds a whole frame, length prefix included.
const MaxFrameSize = 1 << 20

var (
	ErrFrameTooLarge  = util.ErrFrameTooLarge
	ErrUnknownCommand = errors.New("unknown command type")
	ErrMalformed      = errors.New("malformed command")
)

type encoder struct {
	buf []byte
}

func (e *encoder) int32(v int32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(v))
}

func (e *encoder) int64(v int64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, uint64(v))
}

func (e *encoder) bool(v bool) {
	if v {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
}

func (e *encoder) uuid(id uuid.UUID) {
	e.buf = append(e.buf, id[:]...)
}

func (e *encoder) bytes(b []byte) {
	e.int32(int32(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) string(s string) {
	e.int32(int32(len(s)))
	e.buf = append(e.buf, s...)
}

// decoder records the first error and turns later reads into no-ops.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || n > len(d.buf) {
		d.err = fmt.Errorf("%w: need %d bytes, have %d", ErrMalformed, n, len(d.buf))
		return nil
	}
	b := d.buf[:n]
	d.buf = d.buf[n:]
	return b
}

func (d *decoder) int32() int32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

func (d *decoder) int64() int64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func (d *decoder) bool() bool {
	b := d.take(1)
	return b != nil && b[0] != 0
}

func (d *decoder) uuid() uuid.UUID {
	var id uuid.UUID
	copy(id[:], d.take(16))
	return id
}

func (d *decoder) bytes() []byte {
	n := d.int32()
	b := d.take(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (d *decoder) string() string {
	n := d.int32()
	return string(d.take(int(n)))
}

func (*KeepAlive) encode(*encoder) {}

func (c *SetupAppend) encode(e *encoder) {
	e.int64(c.RequestID)
	e.uuid(c.WriterID)
	e.string(c.Segment)
}

func (c *Append) encode(e *encoder) {
	e.string(c.Segment)
	e.uuid(c.WriterID)
	e.int64(c.EventNumber)
	e.bytes(c.Data)
	e.int64(c.ExpectedLength)
}

func (c *SealSegment) encode(e *encoder) {
	e.int64(c.RequestID)
	e.string(c.Segment)
}

func (c *GetSegmentInfo) encode(e *encoder) {
	e.int64(c.RequestID)
	e.string(c.Segment)
}

func (c *AppendSetup) encode(e *encoder) {
	e.int64(c.RequestID)
	e.string(c.Segment)
	e.uuid(c.WriterID)
	e.int64(c.LastEventNumber)
}

func (c *DataAppended) encode(e *encoder) {
	e.uuid(c.WriterID)
	e.int64(c.EventNumber)
	e.int64(c.SegmentLength)
}

func (c *SegmentIsSealed) encode(e *encoder) {
	e.int64(c.RequestID)
	e.string(c.Segment)
}

func (c *ConditionalCheckFailed) encode(e *encoder) {
	e.uuid(c.WriterID)
	e.int64(c.EventNumber)
}

func (c *NoSuchSegment) encode(e *encoder) {
	e.int64(c.RequestID)
	e.string(c.Segment)
}

func (c *SegmentSealed) encode(e *encoder) {
	e.int64(c.RequestID)
	e.string(c.Segment)
	e.int64(c.Length)
}

func (c *SegmentInfo) encode(e *encoder) {
	e.int64(c.RequestID)
	e.string(c.Segment)
	e.int64(c.Length)
	e.bool(c.Sealed)
}

func (c *InvalidEventNumber) encode(e *encoder) {
	e.uuid(c.WriterID)
	e.int64(c.EventNumber)
}

// Encode serializes cmd as opcode followed by its fields, without the length prefix.
func Encode(cmd Command) ([]byte, error) {
	e := &encoder{buf: make([]byte, 0, 64)}
	e.int32(int32(cmd.Type()))
	cmd.encode(e)
	if len(e.buf)+util.LengthFieldSize > MaxFrameSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrFrameTooLarge, cmd.Type(), len(e.buf)+util.LengthFieldSize)
	}
	return e.buf, nil
}

// Decode parses a frame body produced by Encode.
func Decode(data []byte) (Command, error) {
	d := &decoder{buf: data}
	t := CommandType(d.int32())
	if d.err != nil {
		return nil, d.err
	}

	var cmd Command
	switch t {
	case TypeKeepAlive:
		cmd = &KeepAlive{}
	case TypeSetupAppend:
		cmd = &SetupAppend{RequestID: d.int64(), WriterID: d.uuid(), Segment: d.string()}
	case TypeAppend:
		cmd = &Append{Segment: d.string(), WriterID: d.uuid(), EventNumber: d.int64(), Data: d.bytes(), ExpectedLength: d.int64()}
	case TypeSealSegment:
		cmd = &SealSegment{RequestID: d.int64(), Segment: d.string()}
	case TypeGetSegmentInfo:
		cmd = &GetSegmentInfo{RequestID: d.int64(), Segment: d.string()}
	case TypeAppendSetup:
		cmd = &AppendSetup{RequestID: d.int64(), Segment: d.string(), WriterID: d.uuid(), LastEventNumber: d.int64()}
	case TypeDataAppended:
		cmd = &DataAppended{WriterID: d.uuid(), EventNumber: d.int64(), SegmentLength: d.int64()}
	case TypeSegmentIsSealed:
		cmd = &SegmentIsSealed{RequestID: d.int64(), Segment: d.string()}
	case TypeConditionalCheckFailed:
		cmd = &ConditionalCheckFailed{WriterID: d.uuid(), EventNumber: d.int64()}
	case TypeNoSuchSegment:
		cmd = &NoSuchSegment{RequestID: d.int64(), Segment: d.string()}
	case TypeSegmentSealed:
		cmd = &SegmentSealed{RequestID: d.int64(), Segment: d.string(), Length: d.int64()}
	case TypeSegmentInfo:
		cmd = &SegmentInfo{RequestID: d.int64(), Segment: d.string(), Length: d.int64(), Sealed: d.bool()}
	case TypeInvalidEventNumber:
		cmd = &InvalidEventNumber{WriterID: d.uuid(), EventNumber: d.int64()}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCommand, int32(t))
	}
	if d.err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, d.err)
	}
	if len(d.buf) != 0 {
		return nil, fmt.Errorf("decode %s: %w: %d trailing bytes", t, ErrMalformed, len(d.buf))
	}
	if a, ok := cmd.(*Append); ok && a.ExpectedLength < NoExpectedLength {
		return nil, fmt.Errorf("decode %s: %w: expected length %d", t, ErrMalformed, a.ExpectedLength)
	}
	return cmd, nil
}

// WriteCommand writes one length-prefixed frame.
func WriteCommand(w io.Writer, cmd Command) error {
	body, err := Encode(cmd)
	if err != nil {
		return err
	}
	return util.WriteWithLength(w, body)
}

// ReadCommand reads one length-prefixed frame. Oversized frames are rejected
// before their body is read, and the stream cannot be resynchronized afterwards.
func ReadCommand(r io.Reader) (Command, error) {
	body, err := util.ReadWithLength(r, MaxFrameSize)
	if err != nil {
		return nil, err
	}
	return Decode(body)
}

// MaxAppendData is the largest event payload that fits in an Append frame for the given segment name.
func MaxAppendData(segment string) int {
	// length + opcode + segment + writer id + event number + data length + expected length
	overhead := util.LengthFieldSize + 4 + 4 + len(segment) + 16 + 8 + 4 + 8
	return max(0, MaxFrameSize-overhead)
}
