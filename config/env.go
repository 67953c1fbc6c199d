// Package config loads Processor tuning parameters from environment
// variables, for operators who deploy a Processor as a long-running
// service rather than wiring every option in code.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvConfig mirrors the subset of processor.Option values an operator
// commonly wants to tune without a redeploy.
type EnvConfig struct {
	ProcessorName string `env:"PSEP_PROCESSOR_NAME,required,notEmpty"`
	OwnerID       string `env:"PSEP_OWNER_ID"`

	InitialSegmentCount int `env:"PSEP_INITIAL_SEGMENT_COUNT" envDefault:"1"`

	TokenClaimInterval      time.Duration `env:"PSEP_TOKEN_CLAIM_INTERVAL" envDefault:"5s"`
	ClaimExtensionThreshold time.Duration `env:"PSEP_CLAIM_EXTENSION_THRESHOLD" envDefault:"5s"`
	BatchSize               int           `env:"PSEP_BATCH_SIZE" envDefault:"1"`
	MaxClaimedSegments      int           `env:"PSEP_MAX_CLAIMED_SEGMENTS" envDefault:"0"`

	MetricsAddr string `env:"PSEP_METRICS_ADDR" envDefault:":9090"`
}

// Load parses an EnvConfig from the process environment.
func Load() (EnvConfig, error) {
	var c EnvConfig
	if err := env.Parse(&c); err != nil {
		return EnvConfig{}, err
	}
	return c, nil
}

// MustLoad parses an EnvConfig from the process environment, panicking
// on failure. Intended for use during startup, before any goroutine
// depends on the result.
func MustLoad() EnvConfig {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}
