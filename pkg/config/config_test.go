package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brickstream/internal/models"
	"brickstream/pkg/throughput"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100*time.Millisecond, cfg.UpdateBudget())
	assert.Equal(t, int64(1000)<<20, cfg.MemLimitBytes())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Streaming, cfg.Streaming)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "brickstream.yaml")

	cfg := DefaultConfig()
	cfg.Streaming.Estimator = "median"
	cfg.Streaming.UpdateOrder = "back-to-front"
	cfg.Streaming.UpdateBudgetMS = 40
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)

	s, err := loaded.EstimatorStrategy()
	require.NoError(t, err)
	assert.Equal(t, throughput.Median, s)

	o, err := loaded.Order()
	require.NoError(t, err)
	assert.Equal(t, models.BackToFront, o)
	assert.Equal(t, 40*time.Millisecond, loaded.UpdateBudget())
}

func TestLoadRejectsUnknownEstimator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("streaming:\n  estimator: guess\n"), 0644))

	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidateRanges(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Streaming.UpdateBudgetMS = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.Streaming.InteractiveQuality = 3
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.Streaming.UpdateOrder = "sideways"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestNumCores(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Processing.NumCores = -2
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	assert.Equal(t, -2, cfg.Processing.NumCores, "validation leaves the config untouched")

	path := filepath.Join(t.TempDir(), "cores.yaml")
	require.NoError(t, os.WriteFile(path, []byte("processing:\n  numCores: 0\n"), 0644))
	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, runtime.NumCPU(), loaded.Processing.NumCores)
}

func TestSizeThresholds(t *testing.T) {
	cfg := DefaultConfig()
	large := int64(2000) << 20
	small := int64(100) << 20
	medium := int64(500) << 20

	assert.True(t, cfg.StreamingRequired(large))
	assert.False(t, cfg.StreamingRequired(small))
	assert.Equal(t, 128, cfg.BrickSizeFor(large))
	assert.Equal(t, 0, cfg.BrickSizeFor(small))

	assert.True(t, cfg.InteractiveEnabled(medium))
	assert.False(t, cfg.InteractiveEnabled(small))

	cfg.Streaming.MemSwap = false
	assert.False(t, cfg.StreamingRequired(large))

	cfg.Streaming.InteractiveQuality = 0
	assert.False(t, cfg.InteractiveEnabled(large))
	cfg.Streaming.InteractiveQuality = 1
	assert.True(t, cfg.InteractiveEnabled(small))
}
