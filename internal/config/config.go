// Package config loads the environment inputs of spec.md §6 through
// github.com/spf13/viper, adopted from the pack's tuannm99-novasql (the
// teacher has no config package of its own and reads flags directly).
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ProgressLevel is verify.progress.level.
type ProgressLevel string

const (
	ProgressSilent   ProgressLevel = "silent"
	ProgressSummary  ProgressLevel = "summary"
	ProgressDetailed ProgressLevel = "detailed"
)

// Config holds spec.md §6's recognized configuration options, all
// optional with the defaults below.
type Config struct {
	BufferPoolSize           int
	BufferFlusherInterval    time.Duration
	BufferStatisticsInterval time.Duration
	CheckpointInterval       time.Duration
	VerifyProgressLevel      ProgressLevel
	FixTimeout               time.Duration
}

// Defaults matching spec.md §6.
const (
	DefaultBufferPoolSize           = 1024
	DefaultBufferFlusherIntervalMS  = 500
	DefaultStatisticsIntervalMS     = 5000
	DefaultCheckpointIntervalMS     = 30000
	DefaultFixTimeoutMS             = 10000
	DefaultVerifyProgressLevel      = ProgressSummary
)

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("PAGESTORE")
	v.AutomaticEnv()
	v.SetDefault("buffer.pool.size", DefaultBufferPoolSize)
	v.SetDefault("buffer.flusher.interval_ms", DefaultBufferFlusherIntervalMS)
	v.SetDefault("buffer.statistics.interval_ms", DefaultStatisticsIntervalMS)
	v.SetDefault("checkpoint.interval_ms", DefaultCheckpointIntervalMS)
	v.SetDefault("verify.progress.level", string(DefaultVerifyProgressLevel))
	v.SetDefault("fix.timeout_ms", DefaultFixTimeoutMS)
	return v
}

// Load reads configuration from path (YAML) layered under the defaults
// and PAGESTORE_* environment overrides. An empty path skips the file
// layer and returns the defaults plus any environment overrides.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		BufferPoolSize:      v.GetInt("buffer.pool.size"),
		VerifyProgressLevel: ProgressLevel(v.GetString("verify.progress.level")),
	}
	cfg.BufferFlusherInterval = time.Duration(v.GetInt("buffer.flusher.interval_ms")) * time.Millisecond
	cfg.BufferStatisticsInterval = time.Duration(v.GetInt("buffer.statistics.interval_ms")) * time.Millisecond
	cfg.CheckpointInterval = time.Duration(v.GetInt("checkpoint.interval_ms")) * time.Millisecond
	cfg.FixTimeout = time.Duration(v.GetInt("fix.timeout_ms")) * time.Millisecond

	switch cfg.VerifyProgressLevel {
	case ProgressSilent, ProgressSummary, ProgressDetailed:
	default:
		return nil, fmt.Errorf("config: invalid verify.progress.level %q", cfg.VerifyProgressLevel)
	}
	return cfg, nil
}
