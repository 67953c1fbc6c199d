package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("PSEP_PROCESSOR_NAME", "orders")
	t.Setenv("PSEP_OWNER_ID", "")
	t.Setenv("PSEP_INITIAL_SEGMENT_COUNT", "")
	t.Setenv("PSEP_TOKEN_CLAIM_INTERVAL", "")
	t.Setenv("PSEP_CLAIM_EXTENSION_THRESHOLD", "")
	t.Setenv("PSEP_BATCH_SIZE", "")
	t.Setenv("PSEP_MAX_CLAIMED_SEGMENTS", "")
	t.Setenv("PSEP_METRICS_ADDR", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "orders", cfg.ProcessorName)
	assert.Equal(t, 1, cfg.InitialSegmentCount)
	assert.Equal(t, 5*time.Second, cfg.TokenClaimInterval)
	assert.Equal(t, 5*time.Second, cfg.ClaimExtensionThreshold)
	assert.Equal(t, 1, cfg.BatchSize)
	assert.Equal(t, 0, cfg.MaxClaimedSegments)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
}

func TestLoadOverridesFromEnvironment(t *testing.T) {
	t.Setenv("PSEP_PROCESSOR_NAME", "orders")
	t.Setenv("PSEP_OWNER_ID", "worker-1")
	t.Setenv("PSEP_BATCH_SIZE", "50")
	t.Setenv("PSEP_TOKEN_CLAIM_INTERVAL", "10s")
	t.Setenv("PSEP_MAX_CLAIMED_SEGMENTS", "4")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "worker-1", cfg.OwnerID)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.TokenClaimInterval)
	assert.Equal(t, 4, cfg.MaxClaimedSegments)
}

func TestLoadRequiresProcessorName(t *testing.T) {
	t.Setenv("PSEP_PROCESSOR_NAME", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestMustLoadPanicsOnMissingRequiredField(t *testing.T) {
	t.Setenv("PSEP_PROCESSOR_NAME", "")

	assert.Panics(t, func() {
		MustLoad()
	})
}
