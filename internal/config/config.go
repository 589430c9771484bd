// Package config parses the daemon's line-oriented configuration file
// into a resolved Config. Command-line flags are parsed by cmd/lcapd,
// which copies them onto the Config.
package config

import "github.com/lcap-io/lcapd/internal/constants"

// Config is the resolved daemon configuration, merging defaults, the
// config file, and CLI flags.
type Config struct {
	MDT           []string
	CLReader      string
	ModuleName    string
	LogType       string
	Oneshot       bool
	Verbosity     int
	MaxBuckets    int
	RecBatchCount int
	WorkerCount   int

	ConfigPath string
}

// Default returns a Config seeded with the daemon's built-in defaults,
// mirroring config_set_defaults. WorkerCount is left at zero so the
// parser can tell "never set" from "set to the default value" when
// rejecting a duplicate "workers" directive; call ResolveDefaults after
// Parse to fill it in.
func Default() *Config {
	return &Config{
		RecBatchCount: constants.DefaultRecBatch,
		MaxBuckets:    constants.DefaultMaxBuckets,
		ConfigPath:    constants.DefaultConfigPath,
	}
}

// ResolveDefaults fills in any field Parse left at its zero value with
// the daemon's built-in default.
func (c *Config) ResolveDefaults() {
	if c.WorkerCount == 0 {
		c.WorkerCount = constants.DefaultWorkerCount
	}
}
