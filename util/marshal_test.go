package util_test

import (
	"encoding/json"
	"testing"

	"github.com/downfa11-org/streamlog/util"
	"gopkg.in/yaml.v3"
)

func TestLogLevelDecoding(t *testing.T) {
	var cfg struct {
		Level util.LogLevel `yaml:"log_level" json:"log_level"`
	}

	if err := yaml.Unmarshal([]byte("log_level: warn\n"), &cfg); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if cfg.Level != util.LogLevelWarn {
		t.Errorf("yaml level = %v; want warn", cfg.Level)
	}

	if err := json.Unmarshal([]byte(`{"log_level": 0}`), &cfg); err != nil {
		t.Fatalf("json: %v", err)
	}
	if cfg.Level != util.LogLevelDebug {
		t.Errorf("json level = %v; want debug", cfg.Level)
	}

	if err := json.Unmarshal([]byte(`{"log_level": "bogus"}`), &cfg); err != nil {
		t.Fatalf("json: %v", err)
	}
	if cfg.Level != util.LogLevelInfo {
		t.Errorf("unknown level = %v; want info", cfg.Level)
	}
}
