package normflow

import (
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/evcalib/utils"
)

const (
	defaultRecencyFactor   = 1.5
	defaultMinTimestamp    = 1e-3
	defaultDegeneracyBound = 4e3 * 4e3
)

// Config controls normal flow extraction.
type Config struct {
	// DecaySec is the time surface decay; pixels older than RecencyFactor*DecaySec are ignored.
	DecaySec float64 `json:"decay_sec"`
	// WindowRadius is the Chebyshev radius of the window a plane is fitted over.
	WindowRadius int `json:"window_radius"`
	// NeighborRadius keeps seeds apart: a pixel within it of an earlier seed is not tried.
	NeighborRadius int `json:"neighbor_radius"`
	// GoodRatio is the minimum fraction of the window that must be recent, and of the samples that
	// must be plane inliers.
	GoodRatio              float64 `json:"good_ratio"`
	PlaneDistanceThreshold float64 `json:"plane_distance_threshold"`
	MaxIterations          int     `json:"max_iterations"`

	RecencyFactor float64 `json:"recency_factor,omitempty"`
	MinTimestamp  float64 `json:"min_timestamp,omitempty"`
	// DegeneracyBound caps the squared norm of an accepted flow, in (px/s)^2.
	DegeneracyBound float64 `json:"degeneracy_bound,omitempty"`
	Undistort       bool    `json:"undistort"`

	Seed       uint64 `json:"seed,omitempty"`
	RandomSeed bool   `json:"random_seed,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.DecaySec <= 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "decay_sec")
	}
	if cfg.WindowRadius < 1 {
		return goutils.NewConfigValidationError(path, errors.Errorf("window_radius must be at least 1, got %d", cfg.WindowRadius))
	}
	if cfg.NeighborRadius < 0 {
		return goutils.NewConfigValidationError(path, errors.Errorf("neighbor_radius cannot be negative, got %d", cfg.NeighborRadius))
	}
	if cfg.GoodRatio <= 0 || cfg.GoodRatio > 1 {
		return goutils.NewConfigValidationError(path, errors.Errorf("good_ratio must be in (0, 1], got %f", cfg.GoodRatio))
	}
	if cfg.PlaneDistanceThreshold <= 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "plane_distance_threshold")
	}
	if cfg.MaxIterations < 0 {
		return goutils.NewConfigValidationError(path, errors.Errorf("max_iterations cannot be negative, got %d", cfg.MaxIterations))
	}
	if cfg.RecencyFactor < 0 || cfg.MinTimestamp < 0 || cfg.DegeneracyBound < 0 {
		return goutils.NewConfigValidationError(path, errors.New("recency_factor, min_timestamp and degeneracy_bound cannot be negative"))
	}
	return nil
}

func (cfg Config) withDefaults() Config {
	if cfg.RecencyFactor == 0 {
		cfg.RecencyFactor = defaultRecencyFactor
	}
	if cfg.MinTimestamp == 0 {
		cfg.MinTimestamp = defaultMinTimestamp
	}
	if cfg.DegeneracyBound == 0 {
		cfg.DegeneracyBound = defaultDegeneracyBound
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
