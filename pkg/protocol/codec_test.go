package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendCompare(t *testing.T) {
	writer := uuid.New()
	a := NewAppend("s/t/0", writer, 5, []byte("x"))
	b := NewAppend("s/t/0", writer, 7, []byte("y"))
	tie := NewAppend("s/t/0", writer, 5, []byte("different"))

	assert.Less(t, a.Compare(b), 0)
	assert.Greater(t, b.Compare(a), 0)
	assert.Equal(t, 0, a.Compare(a))
	assert.Equal(t, 0, a.Compare(tie), "equal event numbers tie regardless of payload")
}

func TestAppendConditional(t *testing.T) {
	a := NewAppend("s/t/0", uuid.New(), 1, nil)
	assert.False(t, a.IsConditional())
	a.ExpectedLength = 0
	assert.True(t, a.IsConditional())
}

func TestCommandRoundTrip(t *testing.T) {
	writer := uuid.New()
	cmds := []Command{
		&KeepAlive{},
		&SetupAppend{RequestID: 3, WriterID: writer, Segment: "s/t/1"},
		&Append{Segment: "s/t/1", WriterID: writer, EventNumber: 9, Data: []byte("payload"), ExpectedLength: 128},
		NewAppend("s/t/1", writer, 10, []byte{}),
		&SealSegment{RequestID: 4, Segment: "s/t/1"},
		&GetSegmentInfo{RequestID: 5, Segment: "s/t/1"},
		&AppendSetup{RequestID: 3, Segment: "s/t/1", WriterID: writer, LastEventNumber: -1},
		&DataAppended{WriterID: writer, EventNumber: 9, SegmentLength: 135},
		&SegmentIsSealed{RequestID: 6, Segment: "s/t/1"},
		&ConditionalCheckFailed{WriterID: writer, EventNumber: 9},
		&NoSuchSegment{RequestID: 7, Segment: "s/t/9"},
		&SegmentSealed{RequestID: 4, Segment: "s/t/1", Length: 135},
		&SegmentInfo{RequestID: 5, Segment: "s/t/1", Length: 135, Sealed: true},
		&InvalidEventNumber{WriterID: writer, EventNumber: 2},
	}

	var buf bytes.Buffer
	for _, c := range cmds {
		require.NoError(t, WriteCommand(&buf, c), c.Type().String())
	}
	for _, want := range cmds {
		got, err := ReadCommand(&buf)
		require.NoError(t, err, want.Type().String())
		assert.Equal(t, want, got)
	}
	_, err := ReadCommand(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestAppendWireLayout(t *testing.T) {
	writer := uuid.New()
	body, err := Encode(NewAppend("a/b/0", writer, 42, []byte("hi")))
	require.NoError(t, err)

	assert.Equal(t, int32(TypeAppend), int32(binary.BigEndian.Uint32(body[0:4])))
	assert.Equal(t, uint32(5), binary.BigEndian.Uint32(body[4:8]))
	assert.Equal(t, "a/b/0", string(body[8:13]))
	assert.Equal(t, writer[:], body[13:29])
	assert.Equal(t, uint64(42), binary.BigEndian.Uint64(body[29:37]))
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(body[37:41]))
	assert.Equal(t, "hi", string(body[41:43]))
	assert.Equal(t, NoExpectedLength, int64(binary.BigEndian.Uint64(body[43:51])))
	assert.Len(t, body, 51)
}

func TestReadCommandRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], MaxFrameSize)
	buf.Write(lenBuf[:])

	_, err := ReadCommand(&buf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFrameTooLarge))
	assert.Equal(t, 0, buf.Len(), "decoder must not consume the body of a rejected frame")
}

func TestEncodeRejectsOversizedAppend(t *testing.T) {
	seg := "s/t/0"
	fits := NewAppend(seg, uuid.New(), 0, make([]byte, MaxAppendData(seg)))
	body, err := Encode(fits)
	require.NoError(t, err)
	assert.Equal(t, MaxFrameSize, len(body)+4)

	tooBig := NewAppend(seg, uuid.New(), 0, make([]byte, MaxAppendData(seg)+1))
	_, err = Encode(tooBig)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodeErrors(t *testing.T) {
	valid, err := Encode(&SealSegment{RequestID: 1, Segment: "s/t/0"})
	require.NoError(t, err)

	unknown := binary.BigEndian.AppendUint32(nil, 999)
	negativeExpected, err := Encode(&Append{Segment: "s/t/0", EventNumber: 1, ExpectedLength: -2})
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrMalformed},
		{"unknown", unknown, ErrUnknownCommand},
		{"truncated", valid[:len(valid)-2], ErrMalformed},
		{"trailing", append(append([]byte{}, valid...), 0), ErrMalformed},
		{"negative expected length", negativeExpected, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
