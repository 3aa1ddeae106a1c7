// Package config collects every tunable of the consensus core into one
// struct with a sane-default constructor and a validation pass.
package config

import (
	"fmt"
	"time"

	"github.com/luxfi/narwhal/reputation"
	"github.com/luxfi/narwhal/shoal"
	"github.com/luxfi/narwhal/sync"
	"github.com/luxfi/narwhal/worker"
)

// Config is every configurable parameter of one validator's consensus
// core.
type Config struct {
	Worker     worker.Config
	Reputation reputation.Config
	Shoal      shoal.Config
	Sync       sync.Config

	// CheckpointInterval is how many committed rounds elapse between
	// storage checkpoints.
	CheckpointInterval uint64

	// StoragePath is the on-disk directory handed to the default pebble
	// KV adapter; empty means the caller supplies its own KV.
	StoragePath string

	// RoundTimeout is checked by Validate to be positive. No component
	// reads it: the Primary applies no deadline to header votes and does
	// not retry a stalled round.
	RoundTimeout time.Duration
}

// Default returns a Config sized for a small-to-medium committee.
func Default() Config {
	return Config{
		Worker: worker.Config{
			MaxTxs:       500,
			MaxBytes:     1 << 20,
			MaxAge:       100 * time.Millisecond,
			MaxQueuedTxs: 50_000,
		},
		Reputation:         reputation.DefaultConfig(),
		Shoal:              shoal.DefaultConfig(),
		Sync:               sync.DefaultConfig(),
		CheckpointInterval: 200,
		RoundTimeout:       2 * time.Second,
	}
}

// Validate checks internal consistency of the configuration.
func (c Config) Validate() error {
	if c.Worker.MaxTxs <= 0 && c.Worker.MaxBytes <= 0 && c.Worker.MaxAge <= 0 {
		return fmt.Errorf("config: worker must have at least one sealing threshold")
	}
	if c.Reputation.WindowSize <= 0 {
		return fmt.Errorf("config: reputation window size must be positive")
	}
	if c.Reputation.Decay <= 0 || c.Reputation.Decay > 1 {
		return fmt.Errorf("config: reputation decay must be in (0, 1]")
	}
	if c.Reputation.TargetLatency <= 0 {
		return fmt.Errorf("config: reputation target latency must be positive")
	}
	if c.CheckpointInterval == 0 {
		return fmt.Errorf("config: checkpoint interval must be positive")
	}
	if c.Sync.MaxAttempts <= 0 {
		return fmt.Errorf("config: sync max attempts must be positive")
	}
	if c.RoundTimeout <= 0 {
		return fmt.Errorf("config: round timeout must be positive")
	}
	return nil
}
