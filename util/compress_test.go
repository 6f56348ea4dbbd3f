package util_test

import (
	"bytes"
	"testing"

	"github.com/downfa11-org/streamlog/util"
)

func TestParseCodec(t *testing.T) {
	tests := []struct {
		name        string
		want        util.Codec
		expectError bool
	}{
		{"", util.CodecNone, false},
		{"none", util.CodecNone, false},
		{"GZIP", util.CodecGzip, false},
		{"snappy", util.CodecSnappy, false},
		{"lz4", util.CodecLZ4, false},
		{"zstd", util.CodecNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := util.ParseCodec(tt.name)
			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error for %q", tt.name)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for %q: %v", tt.name, err)
			}
			if got != tt.want {
				t.Fatalf("ParseCodec(%q) = %v; want %v", tt.name, got, tt.want)
			}
		})
	}
}

// TestCompressRoundTrip covers every supported codec
func TestCompressRoundTrip(t *testing.T) {
	testData := bytes.Repeat([]byte("frame body with repeated content "), 64)

	for _, codec := range []util.Codec{util.CodecNone, util.CodecGzip, util.CodecSnappy, util.CodecLZ4} {
		t.Run(codec.String(), func(t *testing.T) {
			compressed, err := util.Compress(testData, codec)
			if err != nil {
				t.Fatalf("compress with %s: %v", codec, err)
			}
			if codec != util.CodecNone && len(compressed) >= len(testData) {
				t.Errorf("expected %s to shrink repetitive input: %d >= %d", codec, len(compressed), len(testData))
			}

			result, err := util.Decompress(compressed, codec)
			if err != nil {
				t.Fatalf("decompress with %s: %v", codec, err)
			}
			if !bytes.Equal(result, testData) {
				t.Fatalf("decompressed data mismatch for %s", codec)
			}
		})
	}
}

func TestCompressUnknownCodec(t *testing.T) {
	if _, err := util.Compress([]byte("x"), util.Codec(42)); err == nil {
		t.Fatal("expected error for unknown codec")
	}
	if _, err := util.Decompress([]byte("x"), util.Codec(42)); err == nil {
		t.Fatal("expected error for unknown codec")
	}
}

func TestDecompressInvalidGzip(t *testing.T) {
	if _, err := util.Decompress([]byte("not gzip"), util.CodecGzip); err == nil {
		t.Fatal("expected error for invalid gzip input")
	}
}
