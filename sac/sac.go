// Package sac implements a generic random sample consensus loop over any model type.
package sac

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/sampleuv"
)

var (
	// ErrInsufficientData is returned when a problem has fewer points than one sample needs.
	ErrInsufficientData = errors.New("not enough points to draw a sample")
	// ErrNoModel is returned when no sample produced a model.
	ErrNoModel = errors.New("no model could be computed from any sample")
)

// Problem is a model fitting problem over NumPoints indexed observations.
type Problem[M any] interface {
	// NumPoints is the number of observations.
	NumPoints() int
	// SampleSize is the number of observations that determine a model.
	SampleSize() int
	// ComputeModel fits a model to the given observations; false means the sample is degenerate.
	ComputeModel(indices []int) (M, bool)
	// Distance measures how far observation idx is from model.
	Distance(model M, idx int) float64
	// Refine refits model to all of its inliers; false keeps the sampled model.
	Refine(model M, inliers []int) (M, bool)
}

// Result is the outcome of a consensus run.
type Result[M any] struct {
	Model      M
	Inliers    []int
	Iterations int
}

// InlierRatio is the fraction of the problem's points that are inliers.
func (r Result[M]) InlierRatio(numPoints int) float64 {
	if numPoints == 0 {
		return 0
	}
	return float64(len(r.Inliers)) / float64(numPoints)
}

// Ransac runs random sample consensus with an adaptive iteration bound.
type Ransac[M any] struct {
	cfg Config
	src rand.Source
}

// NewRansac returns a solver that owns its random source, seeded from cfg.
func NewRansac[M any](cfg Config) *Ransac[M] {
	cfg = cfg.withDefaults()
	seed := cfg.Seed
	if cfg.RandomSeed {
		seed = rand.Uint64()
	}
	return &Ransac[M]{cfg: cfg, src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)}
}

// Config returns the solver's effective configuration.
func (r *Ransac[M]) Config() Config {
	return r.cfg
}

// Compute searches for the model with the largest consensus set and refines it on its inliers.
func (r *Ransac[M]) Compute(p Problem[M]) (Result[M], error) {
	var res Result[M]
	n, sampleSize := p.NumPoints(), p.SampleSize()
	if n < sampleSize || sampleSize <= 0 {
		return res, errors.Wrapf(ErrInsufficientData, "have %d points, need %d", n, sampleSize)
	}

	const eps = 1e-12
	var (
		best      M
		bestCount = -1
		k         = 1.0
		skipped   int
		indices   = make([]int, sampleSize)
		maxSkip   = 10 * r.cfg.MaxIterations
	)
	for float64(res.Iterations) < k && skipped < maxSkip {
		sampleuv.WithoutReplacement(indices, n, r.src)
		model, ok := p.ComputeModel(indices)
		if !ok {
			skipped++
			continue
		}

		count := 0
		for i := 0; i < n; i++ {
			if p.Distance(model, i) < r.cfg.Threshold {
				count++
			}
		}
		if count > bestCount {
			best, bestCount = model, count
			w := float64(count) / float64(n)
			pNoOutliers := 1 - math.Pow(w, float64(sampleSize))
			pNoOutliers = math.Max(eps, math.Min(1-eps, pNoOutliers))
			k = math.Log(1-r.cfg.Probability) / math.Log(pNoOutliers)
		}

		res.Iterations++
		if res.Iterations > r.cfg.MaxIterations {
			break
		}
	}
	if bestCount < 0 {
		return res, errors.Wrapf(ErrNoModel, "skipped %d degenerate samples", skipped)
	}

	res.Inliers = make([]int, 0, bestCount)
	for i := 0; i < n; i++ {
		if p.Distance(best, i) < r.cfg.Threshold {
			res.Inliers = append(res.Inliers, i)
		}
	}
	res.Model = best
	if len(res.Inliers) >= sampleSize {
		if refined, ok := p.Refine(best, res.Inliers); ok {
			res.Model = refined
		}
	}
	return res, nil
}
