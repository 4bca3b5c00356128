// Package event holds event-camera events and the per-pixel surface of their latest timestamps.
package event

import (
	"context"
	"io"

	"github.com/pkg/errors"
)

// Event is a single brightness change reported by an event camera at pixel (X, Y).
type Event struct {
	Timestamp float64
	X, Y      uint16
	Polarity  bool
}

// Array is a batch of events ordered by time. Its Timestamp is the time of the last event.
type Array struct {
	Timestamp float64
	Events    []Event
}

// NewArray wraps events in a batch stamped with the last event's time. It returns nil for an
// empty batch.
func NewArray(events []Event) *Array {
	if len(events) == 0 {
		return nil
	}
	return &Array{Timestamp: events[len(events)-1].Timestamp, Events: events}
}

// Len returns the number of events in the batch.
func (a *Array) Len() int {
	if a == nil {
		return 0
	}
	return len(a.Events)
}

// Source produces event batches. NextArray returns io.EOF when the stream is exhausted.
type Source interface {
	NextArray(ctx context.Context) (*Array, error)
}

// SliceSource replays prerecorded batches in order.
type SliceSource struct {
	arrays []*Array
	next   int
}

// NewSliceSource returns a source over arrays.
func NewSliceSource(arrays ...*Array) *SliceSource {
	return &SliceSource{arrays: arrays}
}

// NextArray returns the next batch.
func (s *SliceSource) NextArray(ctx context.Context) (*Array, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.arrays) {
		return nil, io.EOF
	}
	arr := s.arrays[s.next]
	s.next++
	return arr, nil
}

// Feed grabs every batch from src into surface until the source is exhausted and returns the
// number of events consumed.
func Feed(ctx context.Context, src Source, surface *Surface, draw bool) (int, error) {
	count := 0
	for {
		arr, err := src.NextArray(ctx)
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, errors.Wrap(err, "cannot read events")
		}
		surface.GrabArray(arr, draw)
		count += arr.Len()
	}
}
