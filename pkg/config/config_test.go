package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "127.0.0.1" || cfg.Port != 42069 {
		t.Errorf("target = %s:%d, want 127.0.0.1:42069", cfg.Host, cfg.Port)
	}
	if cfg.Send.PollAttempts != 50 || cfg.Send.PollInterval != 100*time.Millisecond {
		t.Errorf("poll = %d x %v, want 50 x 100ms", cfg.Send.PollAttempts, cfg.Send.PollInterval)
	}
	if cfg.Send.CloseEarlyAfter != 20 {
		t.Errorf("close_early_after = %d, want 20", cfg.Send.CloseEarlyAfter)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
host: server.local
port: 8081
output_format: json
send:
  chunk_size: 5
  delay: 2s
  poll_interval: 250ms
fetch:
  path: /stream
telemetry:
  otlp_endpoint: collector:4317
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "server.local" || cfg.Port != 8081 || cfg.OutputFormat != "json" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Send.ChunkSize != 5 || cfg.Send.Delay != 2*time.Second || cfg.Send.PollInterval != 250*time.Millisecond {
		t.Errorf("send = %+v", cfg.Send)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Send.PollAttempts != 50 || cfg.Fetch.ReadSize != 1024 {
		t.Errorf("defaults lost: %+v %+v", cfg.Send, cfg.Fetch)
	}
	if cfg.Fetch.Path != "/stream" || cfg.Telemetry.OTLPEndpoint != "collector:4317" {
		t.Errorf("fetch/telemetry = %+v %+v", cfg.Fetch, cfg.Telemetry)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("port: [not a number"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		EnvHost:         "10.0.0.5",
		EnvPort:         "9000",
		EnvOTLPEndpoint: "otel:4317",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	if err := cfg.applyEnv(lookup); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.Host != "10.0.0.5" || cfg.Port != 9000 || cfg.Telemetry.OTLPEndpoint != "otel:4317" {
		t.Errorf("cfg = %+v", cfg)
	}

	env[EnvPort] = "http"
	if err := Default().applyEnv(lookup); err == nil {
		t.Error("expected error for non-numeric port")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty host", func(c *Config) { c.Host = "" }},
		{"port zero", func(c *Config) { c.Port = 0 }},
		{"port too large", func(c *Config) { c.Port = 70000 }},
		{"chunk size zero", func(c *Config) { c.Send.ChunkSize = 0 }},
		{"negative delay", func(c *Config) { c.Send.Delay = -time.Second }},
		{"zero close-early threshold", func(c *Config) { c.Send.CloseEarlyAfter = 0 }},
		{"no poll attempts", func(c *Config) { c.Send.PollAttempts = 0 }},
		{"zero poll interval", func(c *Config) { c.Send.PollInterval = 0 }},
	}
	for _, tt := range tests {
		cfg := Default()
		tt.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}
