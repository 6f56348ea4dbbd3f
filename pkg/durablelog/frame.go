package durablelog

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/downfa11-org/streamlog/util"
)

const (
	frameMagic      uint32 = 0x534c4446 // "SLDF"
	frameHeaderSize        = 4 + 8 + 8 + 8 + 4 + 1 + 4 + 4
)

// DataFrame is the physical unit written to the DataLog. It is self-describing so recovery
// can learn sequence numbers from the frames alone.
type DataFrame struct {
	FrameSequence  int64
	FirstOpSeq     int64
	LastOpSeq      int64
	Operations     []*Operation
	Codec          util.Codec
	serializedBody int
}

func newDataFrame(codec util.Codec) *DataFrame {
	return &DataFrame{Codec: codec, FirstOpSeq: -1, LastOpSeq: -1}
}

func (f *DataFrame) add(op *Operation) {
	if len(f.Operations) == 0 {
		f.FirstOpSeq = op.SequenceNumber
	}
	f.LastOpSeq = op.SequenceNumber
	f.Operations = append(f.Operations, op)
	f.serializedBody += op.serializedSize()
}

// size is the uncompressed encoded size.
func (f *DataFrame) size() int {
	return frameHeaderSize + f.serializedBody
}

func (f *DataFrame) dataLength() int64 {
	var n int64
	for _, op := range f.Operations {
		n += int64(len(op.Data))
	}
	return n
}

func (f *DataFrame) isCheckpoint() bool {
	return len(f.Operations) == 1 && f.Operations[0].Type == MetadataCheckpoint
}

// Encode lays out header | body, where body is the compressed operations and the
// header carries a crc32 of the stored body.
func (f *DataFrame) Encode() ([]byte, error) {
	raw := make([]byte, 0, f.serializedBody)
	for _, op := range f.Operations {
		raw = op.appendTo(raw)
	}
	body, err := util.Compress(raw, f.Codec)
	if err != nil {
		return nil, fmt.Errorf("compress frame %d: %w", f.FrameSequence, err)
	}

	buf := make([]byte, 0, frameHeaderSize+len(body))
	buf = binary.BigEndian.AppendUint32(buf, frameMagic)
	buf = binary.BigEndian.AppendUint64(buf, uint64(f.FrameSequence))
	buf = binary.BigEndian.AppendUint64(buf, uint64(f.FirstOpSeq))
	buf = binary.BigEndian.AppendUint64(buf, uint64(f.LastOpSeq))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(f.Operations)))
	buf = append(buf, byte(f.Codec))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(body)))
	buf = binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(body))
	return append(buf, body...), nil
}

// DecodeDataFrame validates and parses a frame written by Encode.
func DecodeDataFrame(data []byte) (*DataFrame, error) {
	if len(data) < frameHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than a frame header", ErrCorrupt, len(data))
	}
	if magic := binary.BigEndian.Uint32(data[0:4]); magic != frameMagic {
		return nil, fmt.Errorf("%w: bad magic %#x", ErrCorrupt, magic)
	}
	f := &DataFrame{
		FrameSequence: int64(binary.BigEndian.Uint64(data[4:12])),
		FirstOpSeq:    int64(binary.BigEndian.Uint64(data[12:20])),
		LastOpSeq:     int64(binary.BigEndian.Uint64(data[20:28])),
		Codec:         util.Codec(data[32]),
	}
	count := int(binary.BigEndian.Uint32(data[28:32]))
	bodyLen := int(binary.BigEndian.Uint32(data[33:37]))
	sum := binary.BigEndian.Uint32(data[37:41])

	body := data[frameHeaderSize:]
	if len(body) != bodyLen {
		return nil, fmt.Errorf("%w: frame %d body is %d bytes, header says %d", ErrCorrupt, f.FrameSequence, len(body), bodyLen)
	}
	if crc32.ChecksumIEEE(body) != sum {
		return nil, fmt.Errorf("%w: frame %d checksum mismatch", ErrCorrupt, f.FrameSequence)
	}
	raw, err := util.Decompress(body, f.Codec)
	if err != nil {
		return nil, fmt.Errorf("%w: frame %d: %v", ErrCorrupt, f.FrameSequence, err)
	}

	f.Operations = make([]*Operation, 0, count)
	for i := 0; i < count; i++ {
		var op *Operation
		op, raw, err = readOperation(raw)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", f.FrameSequence, err)
		}
		f.Operations = append(f.Operations, op)
		f.serializedBody += op.serializedSize()
	}
	if len(raw) != 0 {
		return nil, fmt.Errorf("%w: frame %d has %d trailing bytes", ErrCorrupt, f.FrameSequence, len(raw))
	}
	if count > 0 && (f.Operations[0].SequenceNumber != f.FirstOpSeq || f.Operations[count-1].SequenceNumber != f.LastOpSeq) {
		return nil, fmt.Errorf("%w: frame %d sequence range does not match its operations", ErrCorrupt, f.FrameSequence)
	}
	return f, nil
}
