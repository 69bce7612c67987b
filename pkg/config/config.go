package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/onechain/pkg/logging"
	"github.com/dd0wney/onechain/pkg/lsm"
	"github.com/dd0wney/onechain/pkg/metrics"
)

// Config holds engine and process configuration
type Config struct {
	// DataDir holds the segment files
	DataDir string `yaml:"data_dir" validate:"required"`

	// MemTableCapacity is the number of skip list nodes before a flush.
	// It must hold at least one full write buffer.
	MemTableCapacity int `yaml:"memtable_capacity" validate:"gte=100,lte=1000000"`

	// PinMemory locks the memtable arena in RAM
	PinMemory bool `yaml:"pin_memory"`

	// Compression is the segment data block codec
	Compression string `yaml:"compression" validate:"omitempty,oneof=none snappy lz4 zstd"`

	// BloomBytes sizes each segment's bloom filter (0 uses the default)
	BloomBytes int `yaml:"bloom_bytes" validate:"gte=0,lte=16777216"`

	// CacheSize is the number of cached segment lookups (0 disables)
	CacheSize int `yaml:"cache_size" validate:"gte=0"`

	// FlushInterval syncs the engine after this long without writes (0 disables)
	FlushInterval time.Duration `yaml:"flush_interval" validate:"gte=0"`

	// Seed fixes the skip list level generator (0 is random)
	Seed uint64 `yaml:"seed"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`

	// MetricsAddr serves Prometheus metrics when set (e.g. ":9090")
	MetricsAddr string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
}

// Environment variables that override file settings
const (
	EnvDataDir  = "ONECHAIN_DATA_DIR"
	EnvLogLevel = logging.EnvLevel
)

// Default returns the default configuration
func Default() *Config {
	opts := lsm.DefaultOptions("./data")
	return &Config{
		DataDir:          opts.DataDir,
		MemTableCapacity: opts.MemTableCapacity,
		Compression:      opts.Compression.String(),
		BloomBytes:       opts.BloomBytes,
		CacheSize:        opts.CacheSize,
		FlushInterval:    opts.FlushInterval,
		LogLevel:         "info",
	}
}

// Load reads a YAML file over the defaults, applies environment overrides
// and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()

		if err := cfg.decode(f); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// ApplyEnv overrides settings from the environment
func (c *Config) ApplyEnv() {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		c.DataDir = dir
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.LogLevel = level
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// Level returns the configured log level
func (c *Config) Level() logging.Level {
	return logging.ParseLevel(c.LogLevel)
}

// EngineOptions converts the configuration to engine options
func (c *Config) EngineOptions(logger logging.Logger, registry *metrics.Registry) (lsm.Options, error) {
	codec, err := lsm.ParseCodec(c.Compression)
	if err != nil {
		return lsm.Options{}, err
	}

	return lsm.Options{
		DataDir:          c.DataDir,
		MemTableCapacity: c.MemTableCapacity,
		PinMemory:        c.PinMemory,
		Compression:      codec,
		BloomBytes:       c.BloomBytes,
		CacheSize:        c.CacheSize,
		FlushInterval:    c.FlushInterval,
		Seed:             c.Seed,
		Logger:           logger,
		Metrics:          registry,
	}, nil
}
