//go:build !linux

package disk

import (
	"bufio"
	"os"
)

func (d *FileDataLog) openSegment(baseSeq int64) error {
	flags := os.O_CREATE | os.O_RDWR | os.O_APPEND
	f, err := os.OpenFile(d.GetSegmentPath(baseSeq), flags, 0o644)
	if err != nil {
		return err
	}
	d.file = f
	d.writer = bufio.NewWriter(f)
	return nil
}
