package service

import (
	"sync"
	"time"

	"transit-pulse/internal/domain/geo"
)

// sampleBuffer accumulates each active trip's position samples in memory
// so a route trace can be persisted implicitly when the trip ends. Lost on
// restart, which only costs the trace, never the trip.
type sampleBuffer struct {
	mu    sync.Mutex
	trips map[string]*tripSamples
}

type tripSamples struct {
	points []geo.LatLng
	first  time.Time
	last   time.Time
}

func newSampleBuffer() *sampleBuffer {
	return &sampleBuffer{trips: make(map[string]*tripSamples)}
}

func (b *sampleBuffer) add(tripID string, p geo.LatLng, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts, ok := b.trips[tripID]
	if !ok {
		ts = &tripSamples{first: at}
		b.trips[tripID] = ts
	}
	ts.points = append(ts.points, p)
	ts.last = at
}

// snapshot returns a copy of the trip's samples without clearing them, so a
// failed persistence attempt leaves the buffer intact for a retry.
func (b *sampleBuffer) snapshot(tripID string) ([]geo.LatLng, time.Time, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts, ok := b.trips[tripID]
	if !ok {
		return nil, time.Time{}, time.Time{}
	}
	points := make([]geo.LatLng, len(ts.points))
	copy(points, ts.points)
	return points, ts.first, ts.last
}

// drain removes and returns the trip's samples.
func (b *sampleBuffer) drain(tripID string) ([]geo.LatLng, time.Time, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts, ok := b.trips[tripID]
	if !ok {
		return nil, time.Time{}, time.Time{}
	}
	delete(b.trips, tripID)
	return ts.points, ts.first, ts.last
}
