// Package config provides configuration loading and management for brickstream.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"brickstream/internal/models"
	"brickstream/pkg/throughput"
)

// ErrInvalidConfig is returned by Validate when a value is out of range
var ErrInvalidConfig = errors.New("invalid configuration")

const megabyte = 1 << 20

// Config represents the application configuration loaded from YAML
type Config struct {
	// Streaming parameters
	Streaming struct {
		// MemSwap enables incremental brick streaming with texture eviction
		MemSwap bool `yaml:"memSwap"`

		// UseMemLimit makes the pool track MemLimitMB instead of querying the device
		UseMemLimit bool `yaml:"useMemLimit"`

		// MemLimitMB is the static texture budget in megabytes
		MemLimitMB int64 `yaml:"memLimitMB"`

		// LargeDataSizeMB is the data size above which streaming is used
		LargeDataSizeMB int64 `yaml:"largeDataSizeMB"`

		// SmallDataSizeMB is the data size below which interactive quality is not reduced
		SmallDataSizeMB int64 `yaml:"smallDataSizeMB"`

		// ForceBrickSize is the brick edge length used for large data
		ForceBrickSize int `yaml:"forceBrickSize"`

		// UpdateBudgetMS is the nominal per-frame time budget in milliseconds
		UpdateBudgetMS int `yaml:"updateBudgetMS"`

		// UpdateOrder is "front-to-back" or "back-to-front"
		UpdateOrder string `yaml:"updateOrder"`

		// InteractiveQuality: 0 off, 1 on, 2 on for large data only
		InteractiveQuality int `yaml:"interactiveQuality"`

		// Estimator is one of mean, trend, regression, recent, median
		Estimator string `yaml:"estimator"`

		// HistorySize is the number of per-frame samples kept for estimation
		HistorySize int `yaml:"historySize"`

		// Compression requests compressed texture formats when the device supports them
		Compression bool `yaml:"compression"`
	} `yaml:"streaming"`

	// Render parameters
	Render struct {
		// SampleRate is the slice sampling rate for still frames
		SampleRate float64 `yaml:"sampleRate"`

		// InteractiveRate is the slice sampling rate while the view is moving
		InteractiveRate float64 `yaml:"interactiveRate"`

		// Snap is the view direction snapping threshold (0 disables)
		Snap float64 `yaml:"snap"`

		// NoiseReduction resamples the composited image before display
		NoiseReduction bool `yaml:"noiseReduction"`
	} `yaml:"render"`

	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for brick extraction
		NumCores int `yaml:"numCores"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// SaveFrames writes every composited frame as an image
		SaveFrames bool `yaml:"saveFrames"`

		// FrameDir is the directory frames are written to
		FrameDir string `yaml:"frameDir"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Streaming.MemSwap = true
	cfg.Streaming.UseMemLimit = true
	cfg.Streaming.MemLimitMB = 1000
	cfg.Streaming.LargeDataSizeMB = 1000
	cfg.Streaming.SmallDataSizeMB = 200
	cfg.Streaming.ForceBrickSize = 128
	cfg.Streaming.UpdateBudgetMS = 100
	cfg.Streaming.UpdateOrder = models.FrontToBack.String()
	cfg.Streaming.InteractiveQuality = 2
	cfg.Streaming.Estimator = throughput.Mean.String()
	cfg.Streaming.HistorySize = throughput.DefaultCapacity
	cfg.Streaming.Compression = false

	cfg.Render.SampleRate = 2.0
	cfg.Render.InteractiveRate = 1.0
	cfg.Render.Snap = 0
	cfg.Render.NoiseReduction = false

	cfg.Processing.NumCores = runtime.NumCPU()

	cfg.Output.Verbose = false
	cfg.Output.SaveFrames = false
	cfg.Output.FrameDir = "frames"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// zero means every core
	if cfg.Processing.NumCores == 0 {
		cfg.Processing.NumCores = runtime.NumCPU()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

// Validate checks ranges and enum names
func (c *Config) Validate() error {
	if _, err := c.Order(); err != nil {
		return err
	}
	if _, err := c.EstimatorStrategy(); err != nil {
		return err
	}
	if c.Streaming.UpdateBudgetMS <= 0 {
		return fmt.Errorf("%w: updateBudgetMS must be positive, got %d", ErrInvalidConfig, c.Streaming.UpdateBudgetMS)
	}
	if c.Streaming.HistorySize <= 0 {
		return fmt.Errorf("%w: historySize must be positive, got %d", ErrInvalidConfig, c.Streaming.HistorySize)
	}
	if c.Streaming.MemLimitMB < 0 {
		return fmt.Errorf("%w: memLimitMB must not be negative", ErrInvalidConfig)
	}
	if c.Streaming.InteractiveQuality < 0 || c.Streaming.InteractiveQuality > 2 {
		return fmt.Errorf("%w: interactiveQuality must be 0, 1 or 2", ErrInvalidConfig)
	}
	if c.Render.SampleRate <= 0 || c.Render.InteractiveRate <= 0 {
		return fmt.Errorf("%w: sampling rates must be positive", ErrInvalidConfig)
	}
	if c.Processing.NumCores < 1 {
		return fmt.Errorf("%w: numCores must be positive, got %d", ErrInvalidConfig, c.Processing.NumCores)
	}
	return nil
}

// Order parses the update order name
func (c *Config) Order() (models.UpdateOrder, error) {
	switch c.Streaming.UpdateOrder {
	case "", models.FrontToBack.String():
		return models.FrontToBack, nil
	case models.BackToFront.String():
		return models.BackToFront, nil
	}
	return models.FrontToBack, fmt.Errorf("%w: unknown update order %q", ErrInvalidConfig, c.Streaming.UpdateOrder)
}

// EstimatorStrategy parses the estimator name
func (c *Config) EstimatorStrategy() (throughput.Strategy, error) {
	s, err := throughput.ParseStrategy(c.Streaming.Estimator)
	if err != nil {
		return s, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return s, nil
}

// UpdateBudget returns the nominal per-frame time budget
func (c *Config) UpdateBudget() time.Duration {
	return time.Duration(c.Streaming.UpdateBudgetMS) * time.Millisecond
}

// MemLimitBytes returns the static texture budget in bytes
func (c *Config) MemLimitBytes() int64 {
	return c.Streaming.MemLimitMB * megabyte
}

// StreamingRequired reports whether a dataset of the given size is streamed
func (c *Config) StreamingRequired(dataBytes int64) bool {
	return c.Streaming.MemSwap && dataBytes > c.Streaming.LargeDataSizeMB*megabyte
}

// BrickSizeFor returns the brick edge length for a dataset, 0 meaning a single brick
func (c *Config) BrickSizeFor(dataBytes int64) int {
	if c.StreamingRequired(dataBytes) {
		return c.Streaming.ForceBrickSize
	}
	return 0
}

// InteractiveEnabled reports whether reduced interactive quality applies to a dataset
func (c *Config) InteractiveEnabled(dataBytes int64) bool {
	switch c.Streaming.InteractiveQuality {
	case 1:
		return true
	case 2:
		return dataBytes > c.Streaming.SmallDataSizeMB*megabyte
	}
	return false
}
