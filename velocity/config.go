package velocity

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/evcalib/utils"
)

const (
	defaultThreshold      = 1.0
	defaultMaxIterations  = 100
	defaultMinInlierRatio = 0.5
)

// Config controls velocity estimation. Zero values take defaults.
type Config struct {
	// Threshold is the largest flow error, in pixels per second, of an inlier.
	Threshold      float64 `json:"threshold,omitempty"`
	MaxIterations  int     `json:"max_iterations,omitempty"`
	MinInlierRatio float64 `json:"min_inlier_ratio,omitempty"`

	Seed       uint64 `json:"seed,omitempty"`
	RandomSeed bool   `json:"random_seed,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	var err error
	if cfg.Threshold < 0 {
		err = multierr.Append(err, errors.Errorf("threshold cannot be negative, got %f", cfg.Threshold))
	}
	if cfg.MaxIterations < 0 {
		err = multierr.Append(err, errors.Errorf("max_iterations cannot be negative, got %d", cfg.MaxIterations))
	}
	if cfg.MinInlierRatio < 0 || cfg.MinInlierRatio > 1 {
		err = multierr.Append(err, errors.Errorf("min_inlier_ratio must be in [0, 1], got %f", cfg.MinInlierRatio))
	}
	if err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	return nil
}

func (cfg Config) withDefaults() Config {
	if cfg.Threshold == 0 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.MinInlierRatio == 0 {
		cfg.MinInlierRatio = defaultMinInlierRatio
	}
	return cfg
}

// ConfigFromAttributes decodes and validates a Config from a loose attribute map.
func ConfigFromAttributes(attrs utils.AttributeMap, path string) (Config, error) {
	cfg, err := utils.DecodeAttributes[Config](attrs)
	if err != nil {
		return Config{}, goutils.NewConfigValidationError(path, err)
	}
	if err := cfg.Validate(path); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
