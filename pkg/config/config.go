// Package config loads the wireprobe configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the wireprobe configuration.
type Config struct {
	Host         string        `yaml:"host" json:"host"`
	Port         int           `yaml:"port" json:"port"`
	OutputFormat string        `yaml:"output_format" json:"output_format"`
	LogLevel     string        `yaml:"log_level" json:"log_level"`
	LogFormat    string        `yaml:"log_format" json:"log_format"`
	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout"`

	Send      SendConfig      `yaml:"send" json:"send"`
	Fetch     FetchConfig     `yaml:"fetch" json:"fetch"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
}

// SendConfig holds the slow-send defaults.
type SendConfig struct {
	ChunkSize       int           `yaml:"chunk_size" json:"chunk_size"`
	Delay           time.Duration `yaml:"delay" json:"delay"`
	CloseEarlyAfter int           `yaml:"close_early_after" json:"close_early_after"`
	PollAttempts    int           `yaml:"poll_attempts" json:"poll_attempts"`
	PollInterval    time.Duration `yaml:"poll_interval" json:"poll_interval"`
	ReadSize        int           `yaml:"read_size" json:"read_size"`
}

// FetchConfig holds the chunked-fetch defaults.
type FetchConfig struct {
	Path     string `yaml:"path" json:"path"`
	ReadSize int    `yaml:"read_size" json:"read_size"`
}

// TelemetryConfig selects the optional OTLP export target.
type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name" json:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure" json:"insecure"`
}

// Default returns the built-in configuration: a local server under test on
// 127.0.0.1:42069.
func Default() *Config {
	return &Config{
		Host:         "127.0.0.1",
		Port:         42069,
		OutputFormat: "table",
		LogLevel:     "info",
		LogFormat:    "text",
		DialTimeout:  5 * time.Second,
		Send: SendConfig{
			ChunkSize:       1,
			Delay:           100 * time.Millisecond,
			CloseEarlyAfter: 20,
			PollAttempts:    50,
			PollInterval:    100 * time.Millisecond,
			ReadSize:        4096,
		},
		Fetch: FetchConfig{
			Path:     "/httpbin/stream/5",
			ReadSize: 1024,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "wireprobe",
			Insecure:    true,
		},
	}
}

// DefaultPath returns the default config file path: ~/.wireprobe/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".wireprobe", "config.yaml")
	}
	return filepath.Join(home, ".wireprobe", "config.yaml")
}

// Load reads the configuration from the given YAML file path and applies
// environment overrides. If the file does not exist, the defaults are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, err
	default:
		if perm := info.Mode().Perm(); perm&0o022 != 0 {
			fmt.Fprintf(os.Stderr,
				"warning: config file %s has permissions %04o and is writable by other users.\n",
				path, perm)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Environment variables that override the file.
const (
	EnvHost         = "WIREPROBE_HOST"
	EnvPort         = "WIREPROBE_PORT"
	EnvOTLPEndpoint = "WIREPROBE_OTLP_ENDPOINT"
)

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvHost); ok && v != "" {
		c.Host = v
	}
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", EnvPort, v)
		}
		c.Port = port
	}
	if v, ok := lookup(EnvOTLPEndpoint); ok {
		c.Telemetry.OTLPEndpoint = v
	}
	return nil
}

// Validate checks the values the probes depend on.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host must not be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range 1-65535", c.Port)
	}
	if c.Send.ChunkSize < 1 {
		return fmt.Errorf("send.chunk_size must be at least 1, got %d", c.Send.ChunkSize)
	}
	if c.Send.Delay < 0 {
		return fmt.Errorf("send.delay must not be negative, got %v", c.Send.Delay)
	}
	if c.Send.CloseEarlyAfter < 1 {
		return fmt.Errorf("send.close_early_after must be at least 1, got %d", c.Send.CloseEarlyAfter)
	}
	if c.Send.PollAttempts < 1 {
		return fmt.Errorf("send.poll_attempts must be at least 1, got %d", c.Send.PollAttempts)
	}
	if c.Send.PollInterval <= 0 {
		return fmt.Errorf("send.poll_interval must be positive, got %v", c.Send.PollInterval)
	}
	if c.DialTimeout < 0 {
		return fmt.Errorf("dial_timeout must not be negative, got %v", c.DialTimeout)
	}
	return nil
}
