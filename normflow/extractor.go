// Package normflow fits local planes to the event time surface and turns their slopes into
// normal flow.
package normflow

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/evcalib/event"
	"go.viam.com/evcalib/logging"
	"go.viam.com/evcalib/rimage"
	"go.viam.com/evcalib/sac"
	"go.viam.com/evcalib/utils"
)

// flowDrawScale shortens flow vectors (px/s) to a drawable length.
const flowDrawScale = 0.01

// Extractor computes normal flow from a surface of active events.
type Extractor struct {
	surface *event.Surface
	logger  logging.Logger
	dumper  *PlaneDumper
}

// NewExtractor returns an extractor reading from surface.
func NewExtractor(surface *event.Surface, logger logging.Logger) *Extractor {
	return &Extractor{surface: surface, logger: logger}
}

// SetPlaneDumper enables writing every extraction's accepted planes and visualization through d.
// nil disables it.
func (e *Extractor) SetPlaneDumper(d *PlaneDumper) {
	e.dumper = d
}

type extractStats struct {
	candidates, sparse, noPlane, lowRatio, degenerate int
}

// Extract scans a snapshot of the surface in raster order. Every recent pixel whose window holds
// enough recent samples, and that is not too close to an earlier seed, becomes a seed; a plane is
// fitted to its window by sample consensus and, if enough samples agree and the slope is not
// degenerate, its normal flow is recorded.
func (e *Extractor) Extract(cfg Config) (*Pack, error) {
	if err := cfg.Validate("normflow"); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	snap, err := e.surface.Snapshot(true, cfg.Undistort, cfg.DecaySec)
	if err != nil {
		return nil, errors.Wrap(err, "cannot snapshot event surface")
	}
	raw, latest := snap.RawTimes, snap.LatestTime

	rows, cols := raw.Dims()
	oldest := max(cfg.MinTimestamp, latest-cfg.RecencyFactor*cfg.DecaySec)
	recent := make([]bool, rows*cols)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			t := raw.At(y, x)
			recent[y*cols+x] = t >= oldest && t <= latest
		}
	}

	pack := &Pack{
		RawTimes:     raw,
		Polarities:   snap.Polarities,
		Inliers:      image.NewGray(image.Rect(0, 0, cols, rows)),
		Timestamp:    latest,
		MinTimestamp: cfg.MinTimestamp,
		SeedImage:    rimage.GrayToRGBA(snap.TimeSurface),
		FlowImage:    rimage.GrayToRGBA(snap.TimeSurface),
	}
	flowCtx := gg.NewContextForRGBA(pack.FlowImage)

	ws, nd := cfg.WindowRadius, cfg.NeighborRadius
	border := max(ws, nd)
	minSamples := int(float64((2*ws+1)*(2*ws+1)) * cfg.GoodRatio)
	claimed := make([]bool, rows*cols)
	ransac := sac.NewRansac[Plane](sac.Config{
		Threshold:     cfg.PlaneDistanceThreshold,
		MaxIterations: cfg.MaxIterations,
		Seed:          cfg.Seed,
		RandomSeed:    cfg.RandomSeed,
	})

	var (
		counts  extractStats
		planes  []FittedPlane
		samples = make([]r3.Vector, 0, (2*ws+1)*(2*ws+1))
	)
	for y := border; y < rows-border; y++ {
		for x := border; x < cols-border; x++ {
			if !recent[y*cols+x] {
				continue
			}
			counts.candidates++

			samples = samples[:0]
			timeCentre := 0.0
			blocked := false
		window:
			for dy := -border; dy <= border; dy++ {
				for dx := -border; dx <= border; dx++ {
					nx, ny := x+dx, y+dy
					if abs(dx) <= nd && abs(dy) <= nd && claimed[ny*cols+nx] {
						blocked = true
						break window
					}
					if abs(dx) > ws || abs(dy) > ws || !recent[ny*cols+nx] {
						continue
					}
					t := raw.At(ny, nx)
					samples = append(samples, r3.Vector{X: float64(nx), Y: float64(ny), Z: t})
					if dx == 0 && dy == 0 {
						timeCentre = t
					}
				}
			}
			if blocked {
				continue
			}
			if len(samples) < minSamples {
				counts.sparse++
				continue
			}

			pack.SeedImage.SetRGBA(x, y, rimage.ClaimedColor)
			claimed[y*cols+x] = true

			problem := &localPlaneProblem{samples: centralize(samples)}
			res, err := ransac.Compute(problem)
			if err != nil {
				counts.noPlane++
				continue
			}
			if res.InlierRatio(len(samples)) < cfg.GoodRatio {
				counts.lowRatio++
				continue
			}
			fx, fy, ok := res.Model.Flow()
			if !ok || utils.Square(fx)+utils.Square(fy) > cfg.DegeneracyBound {
				counts.degenerate++
				continue
			}

			flow := r2.Point{X: fx, Y: fy}
			pack.Flows = append(pack.Flows, NormFlow{Timestamp: timeCentre, Pixel: image.Pt(x, y), Flow: flow})
			for _, idx := range res.Inliers {
				s := samples[idx]
				pack.Inliers.SetGray(int(s.X), int(s.Y), color.Gray{Y: 255})
			}

			pack.SeedImage.SetRGBA(x, y, rimage.VerifiedColor)
			seed := r2.Point{X: float64(x), Y: float64(y)}
			rimage.DrawLine(flowCtx, seed.Add(flow.Mul(flowDrawScale)), seed, rimage.FlowDirectionColor(flow), 1)

			if e.dumper != nil {
				planes = append(planes, FittedPlane{
					Coefficients: [3]float64{res.Model.A, res.Model.B, res.Model.C},
					Inliers: lo.Map(res.Inliers, func(idx, _ int) [3]float64 {
						s := problem.samples[idx]
						return [3]float64{s.X, s.Y, s.Z}
					}),
				})
			}
		}
	}

	// an empty extraction has no median; it is logged as zero
	medianSpeed, _ := stats.Median(lo.Map(pack.Flows, func(nf NormFlow, _ int) float64 { return nf.Flow.Norm() }))
	e.logger.Debugw("extracted normal flows",
		"flows", len(pack.Flows),
		"median_speed", medianSpeed,
		"candidates", counts.candidates,
		"sparse", counts.sparse,
		"no_plane", counts.noPlane,
		"low_inlier_ratio", counts.lowRatio,
		"degenerate", counts.degenerate,
	)

	if e.dumper != nil && e.dumper.Enabled() {
		if _, err := e.dumper.Dump(planes, pack.Visualization(cfg.DecaySec)); err != nil {
			e.logger.Warnw("cannot dump local planes", "error", err)
		}
	}
	return pack, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
