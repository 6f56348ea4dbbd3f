package config

import (
	"os"
	"strings"

	"github.com/downfa11-org/streamlog/util"
)

const (
	BackendFile   = "file"
	BackendMemory = "memory"
)

func (cfg *Config) Normalize() {
	if cfg.Port <= 0 {
		cfg.Port = 12345
	}
	if cfg.ExporterPort <= 0 {
		cfg.ExporterPort = 9100
	}

	// data log
	if strings.TrimSpace(cfg.LogDir) == "" {
		cfg.LogDir = "segmentstore-data"
	}
	cfg.DataLogBackend = strings.ToLower(strings.TrimSpace(cfg.DataLogBackend))
	switch cfg.DataLogBackend {
	case BackendFile, BackendMemory:
	case "":
		cfg.DataLogBackend = BackendFile
	default:
		util.Warn("Invalid data_log_backend '%s', defaulting to '%s'", cfg.DataLogBackend, BackendFile)
		cfg.DataLogBackend = BackendFile
	}
	if cfg.SegmentSize < 1024 {
		cfg.SegmentSize = 64 << 20 // 64MB
	}

	cfg.DurableLog.Normalize()

	// connections
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 1000
	}
	if cfg.ConnectionIdleTimeMS <= 0 {
		cfg.ConnectionIdleTimeMS = 5 * 60 * 1000
	}
}

func (d *DurableLogConfig) Normalize() {
	if d.CheckpointMinCommitCount <= 0 {
		d.CheckpointMinCommitCount = 300
	}
	if d.CheckpointCommitCount <= 0 {
		d.CheckpointCommitCount = 100000
	}
	if d.CheckpointCommitCount < d.CheckpointMinCommitCount {
		util.Warn("checkpoint_commit_count (%d) < checkpoint_min_commit_count (%d), raising it",
			d.CheckpointCommitCount, d.CheckpointMinCommitCount)
		d.CheckpointCommitCount = d.CheckpointMinCommitCount
	}
	if d.CheckpointTotalCommitLength <= 0 {
		d.CheckpointTotalCommitLength = 256 << 20
	}
	if d.MaxDataFrameSize < 1024 {
		d.MaxDataFrameSize = 1 << 20
	}
	if d.FrameLingerMS < 0 {
		d.FrameLingerMS = 0
	}
	if d.OperationQueueSize <= 0 {
		d.OperationQueueSize = 1024
	}
	if _, err := util.ParseCodec(d.CompressionType); err != nil {
		util.Warn("Invalid compression_type '%s', defaulting to 'none'", d.CompressionType)
		d.CompressionType = "none"
	}
	if d.CompressionType == "" {
		d.CompressionType = "none"
	}
}

func overrideEnvInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseInt(v, *target)
	}
}

func overrideEnvInt64(target *int64, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseInt64(v, *target)
	}
}

func overrideEnvBool(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseBool(v, *target)
	}
}

func overrideEnvString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}
