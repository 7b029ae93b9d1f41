package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Index.Backend)

	assert.Equal(t, 5, cfg.CF.MinCoUsers)
	assert.Equal(t, 5, cfg.CF.MinItemPurchases)
	assert.Equal(t, 50, cfg.CF.TopK)
	assert.Equal(t, 180*24*time.Hour, cfg.CF.Window)

	assert.Equal(t, 0.4, cfg.Content.TagWeight)
	assert.Equal(t, 500, cfg.Content.MaxFeatures)

	assert.Equal(t, 30*24*time.Hour, cfg.Popularity.Window)
	assert.Equal(t, 5, cfg.Candidates.RecentPurchases)
	assert.Equal(t, 0.9, cfg.Candidates.DecayFactor)
	assert.Equal(t, 800*time.Millisecond, cfg.Candidates.SourceTimeout)

	assert.Equal(t, 0.4, cfg.Fusion.Weights.CF)
	assert.Equal(t, 0.3, cfg.Fusion.Weights.Content)
	assert.Equal(t, 0.3, cfg.Fusion.Weights.Popularity)
	assert.Equal(t, 0.05, cfg.Fusion.Weights.Novelty)
	assert.Equal(t, 0.1, cfg.Fusion.Weights.PriceGap)
	assert.Equal(t, 15*time.Minute, cfg.Cache.TTL)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9191")
	t.Setenv("CF_MIN_CO_USERS", "3")
	t.Setenv("FUSION_WEIGHTS_CF", "0.6")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9191", cfg.Server.Port)
	assert.Equal(t, 3, cfg.CF.MinCoUsers)
	assert.Equal(t, 0.6, cfg.Fusion.Weights.CF)
	assert.Equal(t, 0.3, cfg.Fusion.Weights.Content)
}
