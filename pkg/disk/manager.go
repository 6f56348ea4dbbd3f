package disk

import (
	"fmt"
	"path/filepath"

	"github.com/downfa11-org/streamlog/pkg/config"
	"github.com/downfa11-org/streamlog/pkg/durablelog"
	"github.com/downfa11-org/streamlog/util"
)

// OpenDataLog opens the data log backend selected by the configuration for the named container.
func OpenDataLog(cfg *config.Config, name string) (durablelog.DataLog, error) {
	switch cfg.DataLogBackend {
	case config.BackendMemory:
		util.Warn("data log %s uses the in-memory backend; data will not survive a restart", name)
		return NewMemoryLog(), nil
	case config.BackendFile, "":
		return OpenFileDataLog(filepath.Join(cfg.LogDir, name), cfg.SegmentSize)
	default:
		return nil, fmt.Errorf("unknown data log backend %q", cfg.DataLogBackend)
	}
}

var (
	_ durablelog.DataLog = (*FileDataLog)(nil)
	_ durablelog.DataLog = (*RaftLog)(nil)
)
