package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ligustah/stitch/internal/progress"
	"github.com/ligustah/stitch/pkg/compose"
	"github.com/ligustah/stitch/pkg/sharded"
	"gopkg.in/yaml.v3"
)

// Config defines configuration for the stitch CLI.
type Config struct {
	File                  string        `yaml:"file"`
	Bucket                string        `yaml:"bucket"`
	Object                string        `yaml:"object"`
	Streams               int           `yaml:"streams"`
	MinShardSize          int64         `yaml:"min_shard_size"`
	BufferSize            int64         `yaml:"buffer_size"`
	Workers               int           `yaml:"workers"`
	Compose               string        `yaml:"compose"`
	ContentType           string        `yaml:"content_type"`
	KeepShards            bool          `yaml:"keep_shards"`
	IgnoreCleanupFailures bool          `yaml:"ignore_cleanup_failures"`
	SkipChecksum          bool          `yaml:"skip_checksum"`
	Progress              bool          `yaml:"progress"`
	Timeout               time.Duration `yaml:"timeout"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Streams:      sharded.DefaultMaxStreams,
		MinShardSize: sharded.DefaultMinShardSize, // 64MiB
		BufferSize:   sharded.DefaultBufferSize,   // 8MiB
		Compose:      string(compose.KindAuto),
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
type yamlConfig struct {
	File                  string `yaml:"file"`
	Bucket                string `yaml:"bucket"`
	Object                string `yaml:"object"`
	Streams               int    `yaml:"streams"`
	MinShardSize          string `yaml:"min_shard_size"`
	BufferSize            string `yaml:"buffer_size"`
	Workers               int    `yaml:"workers"`
	Compose               string `yaml:"compose"`
	ContentType           string `yaml:"content_type"`
	KeepShards            bool   `yaml:"keep_shards"`
	IgnoreCleanupFailures bool   `yaml:"ignore_cleanup_failures"`
	SkipChecksum          bool   `yaml:"skip_checksum"`
	Progress              bool   `yaml:"progress"`
	Timeout               string `yaml:"timeout"`
}

// LoadFromFile loads configuration from a YAML file. Unset values keep their
// defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	override := Config{
		File:                  yc.File,
		Bucket:                yc.Bucket,
		Object:                yc.Object,
		Streams:               yc.Streams,
		Workers:               yc.Workers,
		Compose:               yc.Compose,
		ContentType:           yc.ContentType,
		KeepShards:            yc.KeepShards,
		IgnoreCleanupFailures: yc.IgnoreCleanupFailures,
		SkipChecksum:          yc.SkipChecksum,
		Progress:              yc.Progress,
	}
	if yc.MinShardSize != "" {
		if override.MinShardSize, err = progress.ParseBytes(yc.MinShardSize); err != nil {
			return Config{}, fmt.Errorf("parse min_shard_size: %w", err)
		}
	}
	if yc.BufferSize != "" {
		if override.BufferSize, err = progress.ParseBytes(yc.BufferSize); err != nil {
			return Config{}, fmt.Errorf("parse buffer_size: %w", err)
		}
	}
	if yc.Timeout != "" {
		if override.Timeout, err = time.ParseDuration(yc.Timeout); err != nil {
			return Config{}, fmt.Errorf("parse timeout: %w", err)
		}
	}

	return Default().Merge(override), nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the STITCH_ prefix.
func (c *Config) LoadFromEnv() error {
	strs := map[string]*string{
		"STITCH_FILE":         &c.File,
		"STITCH_BUCKET":       &c.Bucket,
		"STITCH_OBJECT":       &c.Object,
		"STITCH_COMPOSE":      &c.Compose,
		"STITCH_CONTENT_TYPE": &c.ContentType,
	}
	for name, dst := range strs {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"STITCH_STREAMS": &c.Streams,
		"STITCH_WORKERS": &c.Workers,
	}
	for name, dst := range ints {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", name, err)
			}
			*dst = n
		}
	}

	sizes := map[string]*int64{
		"STITCH_MIN_SHARD_SIZE": &c.MinShardSize,
		"STITCH_BUFFER_SIZE":    &c.BufferSize,
	}
	for name, dst := range sizes {
		if v := os.Getenv(name); v != "" {
			size, err := progress.ParseBytes(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", name, err)
			}
			*dst = size
		}
	}

	bools := map[string]*bool{
		"STITCH_KEEP_SHARDS":             &c.KeepShards,
		"STITCH_IGNORE_CLEANUP_FAILURES": &c.IgnoreCleanupFailures,
		"STITCH_SKIP_CHECKSUM":           &c.SkipChecksum,
		"STITCH_PROGRESS":                &c.Progress,
	}
	for name, dst := range bools {
		if v := os.Getenv(name); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	if v := os.Getenv("STITCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse STITCH_TIMEOUT: %w", err)
		}
		c.Timeout = d
	}

	return nil
}

// Validate validates the configuration for an upload.
func (c *Config) Validate() error {
	if c.File == "" {
		return errors.New("config: file is required")
	}
	if c.Bucket == "" {
		return errors.New("config: bucket is required")
	}
	if c.Object == "" {
		return errors.New("config: object is required")
	}
	if c.Streams <= 0 {
		return errors.New("config: streams must be positive")
	}
	if c.MinShardSize <= 0 {
		return errors.New("config: min_shard_size must be positive")
	}
	if c.BufferSize <= 0 {
		return errors.New("config: buffer_size must be positive")
	}
	if c.Workers < 0 {
		return errors.New("config: workers must not be negative")
	}
	if c.Timeout < 0 {
		return errors.New("config: timeout must not be negative")
	}
	if _, err := compose.ParseKind(c.Compose); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.File != "" {
		c.File = override.File
	}
	if override.Bucket != "" {
		c.Bucket = override.Bucket
	}
	if override.Object != "" {
		c.Object = override.Object
	}
	if override.Streams != 0 {
		c.Streams = override.Streams
	}
	if override.MinShardSize != 0 {
		c.MinShardSize = override.MinShardSize
	}
	if override.BufferSize != 0 {
		c.BufferSize = override.BufferSize
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.Compose != "" {
		c.Compose = override.Compose
	}
	if override.ContentType != "" {
		c.ContentType = override.ContentType
	}
	if override.KeepShards {
		c.KeepShards = true
	}
	if override.IgnoreCleanupFailures {
		c.IgnoreCleanupFailures = true
	}
	if override.SkipChecksum {
		c.SkipChecksum = true
	}
	if override.Progress {
		c.Progress = true
	}
	if override.Timeout != 0 {
		c.Timeout = override.Timeout
	}
	return c
}

// Options converts the configuration into options for sharded.UploadFile.
func (c Config) Options() []sharded.Option {
	return []sharded.Option{
		sharded.WithMaxStreams(c.Streams),
		sharded.WithMinShardSize(c.MinShardSize),
		sharded.WithBufferSize(int(c.BufferSize)),
		sharded.WithWorkers(c.Workers),
		sharded.WithKeepShards(c.KeepShards),
		sharded.WithIgnoreCleanupFailures(c.IgnoreCleanupFailures),
		sharded.WithContentType(c.ContentType),
		sharded.WithChecksum(!c.SkipChecksum),
	}
}
