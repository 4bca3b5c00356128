package sac

import (
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

const (
	defaultProbability   = 0.99
	defaultMaxIterations = 50
)

// Config controls a consensus run.
type Config struct {
	// Threshold is the largest distance at which a point still counts as an inlier.
	Threshold     float64 `json:"threshold"`
	MaxIterations int     `json:"max_iterations,omitempty"`
	// Probability of drawing at least one outlier-free sample; bounds the adaptive iteration count.
	Probability float64 `json:"probability,omitempty"`
	Seed        uint64  `json:"seed,omitempty"`
	RandomSeed  bool    `json:"random_seed,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate(path string) error {
	if c.Threshold <= 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "threshold")
	}
	if c.MaxIterations < 0 {
		return goutils.NewConfigValidationError(path, errors.Errorf("max_iterations cannot be negative, got %d", c.MaxIterations))
	}
	if c.Probability < 0 || c.Probability >= 1 {
		return goutils.NewConfigValidationError(path, errors.Errorf("probability must be in [0, 1), got %f", c.Probability))
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.MaxIterations == 0 {
		c.MaxIterations = defaultMaxIterations
	}
	if c.Probability == 0 {
		c.Probability = defaultProbability
	}
	return c
}
