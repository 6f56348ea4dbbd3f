package util

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// LengthFieldSize is the size of the big-endian length prefix preceding every frame.
const LengthFieldSize = 4

var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// WriteWithLength writes data with a 4-byte length prefix in a single write.
func WriteWithLength(w io.Writer, data []byte) error {
	buf := make([]byte, LengthFieldSize+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[LengthFieldSize:], data)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadWithLength reads data with a 4-byte length prefix. Frames whose total size,
// including the prefix, exceeds maxFrame are rejected before the body is read.
// A maxFrame of zero disables the check.
func ReadWithLength(r io.Reader, maxFrame int) ([]byte, error) {
	var lenBuf [LengthFieldSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if maxFrame > 0 && uint64(length)+LengthFieldSize > uint64(maxFrame) {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, uint64(length)+LengthFieldSize, maxFrame)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return buf, nil
}
