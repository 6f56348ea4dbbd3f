package config

import (
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/downfa11-org/streamlog/util"
	"gopkg.in/yaml.v3"
)

// DurableLogConfig holds the sequencing, batching and checkpoint settings of one durable log.
type DurableLogConfig struct {
	CheckpointMinCommitCount    int    `yaml:"checkpoint_min_commit_count" json:"checkpoint.min.commit.count"`
	CheckpointCommitCount       int    `yaml:"checkpoint_commit_count" json:"checkpoint.commit.count"`
	CheckpointTotalCommitLength int64  `yaml:"checkpoint_total_commit_length" json:"checkpoint.total.commit.length"`
	MaxDataFrameSize            int    `yaml:"max_data_frame_size" json:"max.data.frame.size"`
	FrameLingerMS               int    `yaml:"frame_linger_ms" json:"frame.linger.ms"`
	OperationQueueSize          int    `yaml:"operation_queue_size" json:"operation.queue.size"`
	CompressionType             string `yaml:"compression_type" json:"compression.type"`
}

// Config represents the segment store configuration.
type Config struct {
	// Server settings
	Port           int           `yaml:"port" json:"port"`
	EnableExporter bool          `yaml:"enable_exporter" json:"enable.exporter"`
	ExporterPort   int           `yaml:"exporter_port" json:"exporter.port"`
	LogLevel       util.LogLevel `yaml:"log_level" json:"log_level"`

	// Data log
	LogDir         string `yaml:"log_dir" json:"log.dir"`
	DataLogBackend string `yaml:"data_log_backend" json:"data.log.backend"`
	SegmentSize    int    `yaml:"segment_size" json:"segment.size"`

	DurableLog DurableLogConfig `yaml:"durable_log" json:"durable.log"`

	// Segments
	AutoCreateSegments bool `yaml:"auto_create_segments" json:"auto.create.segments"`

	// Connections
	MaxConnections       int `yaml:"max_connections" json:"max.connections"`
	ConnectionIdleTimeMS int `yaml:"connection_idle_time_ms" json:"connection.idle.time.ms"`

	// Security
	UseTLS      bool   `yaml:"use_tls" json:"tls.enable"`
	TLSCertPath string `yaml:"tls_cert_path" json:"tls.cert_path"`
	TLSKeyPath  string `yaml:"tls_key_path" json:"tls.key_path"`

	TLSCert tls.Certificate `yaml:"-" json:"-"`
}

// DefaultConfig returns a normalized configuration with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{EnableExporter: true, AutoCreateSegments: true, LogLevel: util.LogLevelInfo}
	cfg.Normalize()
	return cfg
}

// LoadConfig resolves configuration from defaults, an optional YAML/JSON file, environment
// variables and finally explicitly set command line flags.
func LoadConfig(args []string) (*Config, error) {
	fs := flag.NewFlagSet("segmentstore", flag.ContinueOnError)
	cfg := DefaultConfig()

	configPath := fs.String("config", "", "Path to YAML/JSON config file")
	port := fs.Int("port", cfg.Port, "Segment store port")
	exporter := fs.Bool("exporter", cfg.EnableExporter, "Enable Prometheus exporter")
	exporterPort := fs.Int("exporter-port", cfg.ExporterPort, "Exporter port")
	logLevel := fs.String("log-level", "info", "Log Level (debug, info, warn, error)")
	logDir := fs.String("log-dir", cfg.LogDir, "Directory of the data log")
	backend := fs.String("data-log-backend", cfg.DataLogBackend, "Data log backend (file, memory)")
	segmentSize := fs.Int("segment-size", cfg.SegmentSize, "Data log segment file size in bytes")
	minCommit := fs.Int("checkpoint-min-commit-count", cfg.DurableLog.CheckpointMinCommitCount, "Commits before a checkpoint is considered")
	commitCount := fs.Int("checkpoint-commit-count", cfg.DurableLog.CheckpointCommitCount, "Commits that trigger a checkpoint")
	commitLength := fs.Int64("checkpoint-total-commit-length", cfg.DurableLog.CheckpointTotalCommitLength, "Committed bytes that trigger a checkpoint")
	frameSize := fs.Int("max-data-frame-size", cfg.DurableLog.MaxDataFrameSize, "Maximum data frame size in bytes")
	linger := fs.Int("frame-linger-ms", cfg.DurableLog.FrameLingerMS, "Maximum time to wait for more operations before writing a frame (ms)")
	queueSize := fs.Int("operation-queue-size", cfg.DurableLog.OperationQueueSize, "Durable log submission queue size")
	compression := fs.String("compression", cfg.DurableLog.CompressionType, "Data frame compression (none, gzip, snappy, lz4)")
	autoCreate := fs.Bool("auto-create-segments", cfg.AutoCreateSegments, "Create unknown segments on first append")
	maxConns := fs.Int("max-connections", cfg.MaxConnections, "Maximum client connections")
	idle := fs.Int("connection-idle-time-ms", cfg.ConnectionIdleTimeMS, "Idle time before a client connection is closed (ms)")
	useTLS := fs.Bool("tls", false, "Enable TLS")
	tlsCert := fs.String("tls-cert", "", "TLS certificate path")
	tlsKey := fs.String("tls-key", "", "TLS key path")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" && *configPath == "" {
		*configPath = envPath
	}
	if *configPath != "" {
		if err := loadFile(cfg, *configPath); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "exporter":
			cfg.EnableExporter = *exporter
		case "exporter-port":
			cfg.ExporterPort = *exporterPort
		case "log-level":
			cfg.LogLevel = util.ParseLogLevel(*logLevel)
		case "log-dir":
			cfg.LogDir = *logDir
		case "data-log-backend":
			cfg.DataLogBackend = *backend
		case "segment-size":
			cfg.SegmentSize = *segmentSize
		case "checkpoint-min-commit-count":
			cfg.DurableLog.CheckpointMinCommitCount = *minCommit
		case "checkpoint-commit-count":
			cfg.DurableLog.CheckpointCommitCount = *commitCount
		case "checkpoint-total-commit-length":
			cfg.DurableLog.CheckpointTotalCommitLength = *commitLength
		case "max-data-frame-size":
			cfg.DurableLog.MaxDataFrameSize = *frameSize
		case "frame-linger-ms":
			cfg.DurableLog.FrameLingerMS = *linger
		case "operation-queue-size":
			cfg.DurableLog.OperationQueueSize = *queueSize
		case "compression":
			cfg.DurableLog.CompressionType = *compression
		case "auto-create-segments":
			cfg.AutoCreateSegments = *autoCreate
		case "max-connections":
			cfg.MaxConnections = *maxConns
		case "connection-idle-time-ms":
			cfg.ConnectionIdleTimeMS = *idle
		case "tls":
			cfg.UseTLS = *useTLS
		case "tls-cert":
			cfg.TLSCertPath = *tlsCert
		case "tls-key":
			cfg.TLSKeyPath = *tlsKey
		}
	})

	cfg.Normalize()
	util.SetLevel(cfg.LogLevel)

	if cfg.UseTLS {
		if cfg.TLSCertPath == "" || cfg.TLSKeyPath == "" {
			return nil, fmt.Errorf("TLS enabled but certificate or key path is empty")
		}
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertPath, cfg.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		cfg.TLSCert = cert
	}

	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	overrideEnvInt(&cfg.Port, "SEGMENTSTORE_PORT")
	overrideEnvBool(&cfg.EnableExporter, "ENABLE_EXPORTER")
	overrideEnvInt(&cfg.ExporterPort, "EXPORTER_PORT")
	overrideEnvString(&cfg.LogDir, "LOG_DIR")
	overrideEnvString(&cfg.DataLogBackend, "DATA_LOG_BACKEND")
	overrideEnvInt(&cfg.SegmentSize, "SEGMENT_SIZE")
	overrideEnvInt(&cfg.DurableLog.CheckpointMinCommitCount, "CHECKPOINT_MIN_COMMIT_COUNT")
	overrideEnvInt(&cfg.DurableLog.CheckpointCommitCount, "CHECKPOINT_COMMIT_COUNT")
	overrideEnvInt64(&cfg.DurableLog.CheckpointTotalCommitLength, "CHECKPOINT_TOTAL_COMMIT_LENGTH")
	overrideEnvInt(&cfg.DurableLog.MaxDataFrameSize, "MAX_DATA_FRAME_SIZE")
	overrideEnvInt(&cfg.DurableLog.FrameLingerMS, "FRAME_LINGER_MS")
	overrideEnvInt(&cfg.DurableLog.OperationQueueSize, "OPERATION_QUEUE_SIZE")
	overrideEnvString(&cfg.DurableLog.CompressionType, "COMPRESSION_TYPE")
	overrideEnvBool(&cfg.AutoCreateSegments, "AUTO_CREATE_SEGMENTS")
	overrideEnvInt(&cfg.MaxConnections, "MAX_CONNECTIONS")
	overrideEnvInt(&cfg.ConnectionIdleTimeMS, "CONNECTION_IDLE_TIME_MS")
	overrideEnvBool(&cfg.UseTLS, "USE_TLS")
	overrideEnvString(&cfg.TLSCertPath, "TLS_CERT_PATH")
	overrideEnvString(&cfg.TLSKeyPath, "TLS_KEY_PATH")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = util.ParseLogLevel(v)
	}
}
