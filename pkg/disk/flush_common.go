package disk

import (
	"github.com/downfa11-org/streamlog/util"
)

// rotateSegment closes the current file and starts a new one whose first frame is baseSeq.
func (d *FileDataLog) rotateSegment(baseSeq int64) error {
	if err := d.closeSegment(); err != nil {
		util.Error("close failed during segment rotation: %v", err)
	}
	if err := d.openSegment(baseSeq); err != nil {
		return err
	}
	d.currentBase = baseSeq
	d.currentOffset = 0
	util.Debug("data log %s rotated to segment %d", d.Dir, baseSeq)
	return nil
}

func (d *FileDataLog) closeSegment() error {
	if d.file == nil {
		return nil
	}
	var firstErr error
	if d.writer != nil {
		if err := d.writer.Flush(); err != nil {
			firstErr = err
		}
	}
	if err := d.file.Sync(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := d.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	d.file = nil
	d.writer = nil
	return firstErr
}
