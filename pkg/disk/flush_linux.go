//go:build linux

package disk

import (
	"bufio"
	"os"

	"golang.org/x/sys/unix"
)

func (d *FileDataLog) openSegment(baseSeq int64) error {
	flags := os.O_CREATE | os.O_RDWR | os.O_APPEND
	f, err := os.OpenFile(d.GetSegmentPath(baseSeq), flags, 0o644)
	if err != nil {
		return err
	}
	d.file = f
	d.writer = bufio.NewWriter(f)

	// Linux: sequential access hint
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
	return nil
}
