package util

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/pierrec/lz4/v4"
	snappy "github.com/segmentio/kafka-go/compress/snappy/go-xerial-snappy"
)

// Codec identifies a compression scheme. The numeric value is persisted in data frame headers.
type Codec byte

const (
	CodecNone Codec = iota
	CodecGzip
	CodecSnappy
	CodecLZ4
)

// ParseCodec resolves a configured compression name.
func ParseCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return CodecNone, nil
	case "gzip":
		return CodecGzip, nil
	case "snappy":
		return CodecSnappy, nil
	case "lz4":
		return CodecLZ4, nil
	default:
		return CodecNone, fmt.Errorf("unsupported compression type: %s", name)
	}
}

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecGzip:
		return "gzip"
	case CodecSnappy:
		return "snappy"
	case CodecLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("codec(%d)", byte(c))
	}
}

// Compress encodes data with the given codec.
func Compress(data []byte, codec Codec) ([]byte, error) {
	switch codec {
	case CodecGzip:
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(data); err != nil {
			return nil, err
		}
		if err := gw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	case CodecSnappy:
		return snappy.Encode(data), nil

	case CodecLZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	case CodecNone:
		return data, nil

	default:
		return nil, fmt.Errorf("unsupported compression type: %s", codec)
	}
}

// Decompress reverses Compress.
func Decompress(data []byte, codec Codec) ([]byte, error) {
	switch codec {
	case CodecGzip:
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := gr.Close(); err != nil {
				Error("failed to close gzip reader: %v", err)
			}
		}()
		return io.ReadAll(gr)

	case CodecSnappy:
		return snappy.Decode(data)

	case CodecLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))

	case CodecNone:
		return data, nil

	default:
		return nil, fmt.Errorf("unsupported compression type: %s", codec)
	}
}
