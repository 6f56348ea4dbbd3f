package disk

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/downfa11-org/streamlog/util"
	"golang.org/x/exp/mmap"
)

const (
	segmentSuffix = ".log"
	metaFile      = "truncation.meta"
	// record = length(4) | frame seq(8) | frame data
	recordHeaderSize = 4 + 8
)

var ErrClosed = errors.New("data log is closed")

// FileDataLog stores frames in size-bounded segment files named after their first frame sequence.
type FileDataLog struct {
	Dir         string
	SegmentSize int

	mu            sync.Mutex
	file          *os.File
	writer        *bufio.Writer
	currentBase   int64
	currentOffset int
	lastSeq       int64
	truncatedUpTo int64
	closed        bool

	activeReaders int32
}

// OpenFileDataLog opens or creates the data log in dir, dropping a torn record at the tail.
func OpenFileDataLog(dir string, segmentSize int) (*FileDataLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data log directory %s: %w", dir, err)
	}
	if segmentSize <= recordHeaderSize {
		segmentSize = 64 << 20
	}
	d := &FileDataLog{Dir: dir, SegmentSize: segmentSize, lastSeq: 0, truncatedUpTo: 0}

	upTo, err := d.readTruncationPoint()
	if err != nil {
		return nil, err
	}
	d.truncatedUpTo = upTo
	d.lastSeq = upTo

	bases, err := d.segmentBases()
	if err != nil {
		return nil, err
	}
	if len(bases) == 0 {
		return d, nil
	}

	last := bases[len(bases)-1]
	lastSeq, validLen, err := scanTail(d.GetSegmentPath(last))
	if err != nil {
		return nil, err
	}
	if lastSeq > d.lastSeq {
		d.lastSeq = lastSeq
	}
	if err := d.openSegment(last); err != nil {
		return nil, err
	}
	if info, err := d.file.Stat(); err == nil && info.Size() > int64(validLen) {
		util.Warn("data log %s: dropping %d bytes of torn tail", d.GetSegmentPath(last), info.Size()-int64(validLen))
		if err := d.file.Truncate(int64(validLen)); err != nil {
			return nil, fmt.Errorf("truncate torn tail: %w", err)
		}
	}
	d.currentBase = last
	d.currentOffset = validLen
	return d, nil
}

func (d *FileDataLog) GetSegmentPath(baseSeq int64) string {
	return filepath.Join(d.Dir, fmt.Sprintf("%020d%s", baseSeq, segmentSuffix))
}

func (d *FileDataLog) segmentBases() ([]int64, error) {
	files, err := filepath.Glob(filepath.Join(d.Dir, "*"+segmentSuffix))
	if err != nil {
		return nil, err
	}
	bases := make([]int64, 0, len(files))
	for _, f := range files {
		name := strings.TrimSuffix(filepath.Base(f), segmentSuffix)
		base, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			continue
		}
		bases = append(bases, base)
	}
	sort.Slice(bases, func(i, j int) bool { return bases[i] < bases[j] })
	return bases, nil
}

// scanTail returns the last complete frame sequence in path and the length of its valid prefix.
func scanTail(path string) (int64, int, error) {
	var lastSeq int64
	valid := 0
	err := scanSegment(path, func(seq int64, _ []byte, end int) error {
		lastSeq = seq
		valid = end
		return nil
	})
	return lastSeq, valid, err
}

// scanSegment visits every complete record of a segment file through an mmap reader.
func scanSegment(path string, fn func(seq int64, data []byte, end int) error) error {
	reader, err := mmap.Open(path)
	if err != nil {
		return fmt.Errorf("mmap open failed: %w", err)
	}
	defer reader.Close()

	var header [recordHeaderSize]byte
	pos := 0
	for pos+recordHeaderSize <= reader.Len() {
		if _, err := reader.ReadAt(header[:], int64(pos)); err != nil {
			return fmt.Errorf("read record header at %d: %w", pos, err)
		}
		length := int(binary.BigEndian.Uint32(header[0:4]))
		seq := int64(binary.BigEndian.Uint64(header[4:12]))
		if length < 8 || pos+4+length > reader.Len() {
			break
		}
		data := make([]byte, length-8)
		if _, err := reader.ReadAt(data, int64(pos+recordHeaderSize)); err != nil {
			return fmt.Errorf("read record at %d: %w", pos, err)
		}
		pos += 4 + length
		if err := fn(seq, data, pos); err != nil {
			return err
		}
	}
	return nil
}

// Append writes and fsyncs one frame.
func (d *FileDataLog) Append(ctx context.Context, frameSeq int64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if frameSeq <= d.lastSeq {
		return fmt.Errorf("frame %d is not after last frame %d", frameSeq, d.lastSeq)
	}

	recLen := recordHeaderSize + len(data)
	if d.file == nil || (d.currentOffset > 0 && d.currentOffset+recLen > d.SegmentSize) {
		if err := d.rotateSegment(frameSeq); err != nil {
			return fmt.Errorf("rotate segment: %w", err)
		}
	}

	var header [recordHeaderSize]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(8+len(data)))
	binary.BigEndian.PutUint64(header[4:12], uint64(frameSeq))
	if _, err := d.writer.Write(header[:]); err != nil {
		return fmt.Errorf("write record header: %w", err)
	}
	if _, err := d.writer.Write(data); err != nil {
		return fmt.Errorf("write record data: %w", err)
	}
	if err := d.writer.Flush(); err != nil {
		return fmt.Errorf("flush failed: %w", err)
	}
	if err := d.file.Sync(); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	d.currentOffset += recLen
	d.lastSeq = frameSeq
	return nil
}

// ReadAll visits retained frames in order. Frames at or below the truncation point are skipped
// even if their segment file still exists.
func (d *FileDataLog) ReadAll(ctx context.Context, fn func(frameSeq int64, data []byte) error) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.writer != nil {
		if err := d.writer.Flush(); err != nil {
			d.mu.Unlock()
			return fmt.Errorf("flush failed: %w", err)
		}
	}
	bases, err := d.segmentBases()
	upTo := d.truncatedUpTo
	atomic.AddInt32(&d.activeReaders, 1)
	d.mu.Unlock()
	defer atomic.AddInt32(&d.activeReaders, -1)
	if err != nil {
		return err
	}

	for _, base := range bases {
		err := scanSegment(d.GetSegmentPath(base), func(seq int64, data []byte, _ int) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if seq <= upTo {
				return nil
			}
			return fn(seq, data)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and closes the current segment file.
func (d *FileDataLog) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.closeSegment()
}
