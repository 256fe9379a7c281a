package service

import (
	"sync"
	"time"

	"transit-pulse/internal/domain/geo"
	"transit-pulse/internal/domain/report"

	"github.com/mmcloughlin/geohash"
)

// indexPrecision gives ~4.9 km cells, so a center cell plus its eight
// neighbors always covers the maximum nearby-query radius.
const indexPrecision = 5

// nearbyIndex buckets live reports by geohash cell so nearby queries only
// scan the center cell and its eight neighbors instead of every report.
type nearbyIndex struct {
	mu    sync.RWMutex
	cells map[string]map[string]*report.Report
}

func newNearbyIndex() *nearbyIndex {
	return &nearbyIndex{cells: make(map[string]map[string]*report.Report)}
}

func cellOf(lat, lng float64) string {
	return geohash.EncodeWithPrecision(lat, lng, indexPrecision)
}

func (idx *nearbyIndex) add(r *report.Report) {
	cell := cellOf(r.Latitude, r.Longitude)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	bucket, ok := idx.cells[cell]
	if !ok {
		bucket = make(map[string]*report.Report)
		idx.cells[cell] = bucket
	}
	bucket[r.ID] = r
}

func (idx *nearbyIndex) remove(lat, lng float64, id string) {
	cell := cellOf(lat, lng)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if bucket, ok := idx.cells[cell]; ok {
		delete(bucket, id)
		if len(bucket) == 0 {
			delete(idx.cells, cell)
		}
	}
}

// confirmations bumps the cached counter so reads reflect confirms without
// re-hitting the database.
func (idx *nearbyIndex) confirmations(id string, lat, lng float64, count int) {
	cell := cellOf(lat, lng)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if bucket, ok := idx.cells[cell]; ok {
		if r, ok := bucket[id]; ok {
			r.Confirmations = count
		}
	}
}

// query returns live reports within radius of the point, lazily evicting
// expired entries it walks over.
func (idx *nearbyIndex) query(lat, lng, radius float64, at time.Time) []*report.Report {
	center := cellOf(lat, lng)
	cells := append(geohash.Neighbors(center), center)

	var out []*report.Report
	var stale []*report.Report
	idx.mu.RLock()
	for _, cell := range cells {
		for _, r := range idx.cells[cell] {
			if !r.Live(at) {
				stale = append(stale, r)
				continue
			}
			if geo.WithinMeters(lat, lng, r.Latitude, r.Longitude, radius) {
				out = append(out, r)
			}
		}
	}
	idx.mu.RUnlock()

	for _, r := range stale {
		idx.remove(r.Latitude, r.Longitude, r.ID)
	}
	return out
}
