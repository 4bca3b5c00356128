// Package spline implements uniform B-splines on R3 and on the rotation group, evaluated segment by
// segment from a window of Order consecutive knots.
package spline

import (
	"math"

	"github.com/pkg/errors"
)

// ErrOutOfRange is returned when a spline is queried outside the time span its knots cover.
var ErrOutOfRange = errors.New("time is outside the spline range")

// Meta describes a uniform knot grid: Order knots influence every segment and the first segment
// starts at StartTime.
type Meta struct {
	Order     int
	StartTime float64
	Dt        float64
	NumKnots  int
}

// Validate checks that the grid can be evaluated.
func (m Meta) Validate() error {
	if m.Order < 2 {
		return errors.Errorf("spline order must be at least 2, got %d", m.Order)
	}
	if m.Dt <= 0 {
		return errors.Errorf("spline knot spacing must be positive, got %f", m.Dt)
	}
	if m.NumKnots < m.Order {
		return errors.Errorf("spline of order %d needs at least %d knots, got %d", m.Order, m.Order, m.NumKnots)
	}
	return nil
}

// MinTime is the first valid query time.
func (m Meta) MinTime() float64 {
	return m.StartTime
}

// MaxTime is the end of the valid query span, exclusive.
func (m Meta) MaxTime() float64 {
	return m.StartTime + float64(m.NumKnots-m.Order+1)*m.Dt
}

// InRange reports whether t can be evaluated.
func (m Meta) InRange(t float64) bool {
	return t >= m.MinTime() && t < m.MaxTime()
}

// ComputeIndex returns the index of the first knot of the segment containing t and the normalized
// position u in [0, 1) within that segment.
func (m Meta) ComputeIndex(t float64) (int, float64, error) {
	if !m.InRange(t) || math.IsNaN(t) {
		return 0, 0, errors.Wrapf(ErrOutOfRange, "t=%f not in [%f, %f)", t, m.MinTime(), m.MaxTime())
	}
	s := (t - m.StartTime) / m.Dt
	idx := int(math.Floor(s))
	u := s - float64(idx)
	if last := m.NumKnots - m.Order; idx > last {
		u += float64(idx - last)
		idx = last
	}
	return idx, u, nil
}

// Window returns the sub-grid, and the index of its first knot, needed to evaluate every time in
// [tMin, tMax].
func (m Meta) Window(tMin, tMax float64) (Meta, int, error) {
	if tMax < tMin {
		return Meta{}, 0, errors.Errorf("window end %f is before its start %f", tMax, tMin)
	}
	first, _, err := m.ComputeIndex(tMin)
	if err != nil {
		return Meta{}, 0, err
	}
	last, _, err := m.ComputeIndex(tMax)
	if err != nil {
		return Meta{}, 0, err
	}
	return Meta{
		Order:     m.Order,
		StartTime: m.StartTime + float64(first)*m.Dt,
		Dt:        m.Dt,
		NumKnots:  last - first + m.Order,
	}, first, nil
}
