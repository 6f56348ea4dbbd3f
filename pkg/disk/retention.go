package disk

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/downfa11-org/streamlog/util"
)

// Truncate records upToFrameSeq as the truncation point and deletes every segment file
// that holds only frames at or below it. The active segment is never deleted.
func (d *FileDataLog) Truncate(ctx context.Context, upToFrameSeq int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if upToFrameSeq <= d.truncatedUpTo {
		return nil
	}
	if err := d.writeTruncationPoint(upToFrameSeq); err != nil {
		return err
	}
	d.truncatedUpTo = upToFrameSeq

	if readers := atomic.LoadInt32(&d.activeReaders); readers > 0 {
		util.Debug("Truncate: file removal deferred (active readers: %d)", readers)
		return nil
	}

	bases, err := d.segmentBases()
	if err != nil {
		return err
	}
	for i := 0; i < len(bases)-1; i++ {
		if bases[i] == d.currentBase || bases[i+1]-1 > upToFrameSeq {
			break
		}
		path := d.GetSegmentPath(bases[i])
		if err := d.markAsDeleted(path); err != nil {
			util.Warn("Truncate: failed to delete %s: %v", path, err)
			break
		}
		util.Debug("Truncate: deleted %s", path)
	}
	return nil
}

// markAsDeleted renames before removing so a crash never leaves a half-deleted segment visible.
func (d *FileDataLog) markAsDeleted(logPath string) error {
	deleted := logPath + ".deleted"
	if err := os.Rename(logPath, deleted); err != nil {
		return err
	}
	return os.Remove(deleted)
}

func (d *FileDataLog) metaPath() string {
	return filepath.Join(d.Dir, metaFile)
}

func (d *FileDataLog) writeTruncationPoint(upTo int64) error {
	tmp := d.metaPath() + ".tmp"
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(upTo))

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open truncation meta: %w", err)
	}
	if _, err := f.Write(buf[:]); err != nil {
		f.Close()
		return fmt.Errorf("write truncation meta: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync truncation meta: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, d.metaPath())
}

func (d *FileDataLog) readTruncationPoint() (int64, error) {
	data, err := os.ReadFile(d.metaPath())
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read truncation meta: %w", err)
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("truncation meta has %d bytes, expected 8", len(data))
	}
	return int64(binary.BigEndian.Uint64(data)), nil
}
