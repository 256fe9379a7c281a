package monitor

import (
	"context"
	"sync"
	"time"

	"transit-pulse/internal/broadcast"
	"transit-pulse/internal/domain/geo"
	"transit-pulse/internal/general/logger"
	"transit-pulse/internal/general/metrics"
	"transit-pulse/internal/ports"
)

// Intervals are the watcher poll periods and escalation thresholds.
// Overridable in tests; production uses Defaults.
type Intervals struct {
	Congestion time.Duration
	Deviation  time.Duration
	Inactivity time.Duration
	Proximity  time.Duration

	// DeviationSustained is how long the rider must stay off route before
	// the deviation alert fires.
	DeviationSustained time.Duration
	// InactivityThreshold is how long the rider may stay within the anchor
	// radius before the "still on board?" prompt fires.
	InactivityThreshold time.Duration
	// InactivityGrace is how long an unanswered prompt is tolerated before
	// the trip is force-ended.
	InactivityGrace time.Duration
}

func Defaults() Intervals {
	return Intervals{
		Congestion: 120 * time.Second,
		Deviation:  30 * time.Second,
		Inactivity: 60 * time.Second,
		Proximity:  15 * time.Second,

		DeviationSustained:  90 * time.Second,
		InactivityThreshold: 600 * time.Second,
		InactivityGrace:     120 * time.Second,
	}
}

// TripEnder is the termination path the inactivity watcher escalates to.
// Implemented by the trip service; injected after construction to break the
// service -> manager -> service cycle.
type TripEnder interface {
	ForceEndTrip(ctx context.Context, riderID, note string) (ports.EndTripResult, error)
}

// CongestionResolver closes a rider's own congestion report once the
// vehicle has moved on.
type CongestionResolver interface {
	ResolveReport(ctx context.Context, reportID, riderID string) error
}

// TripConfig is the read-only part of a watched trip, resolved once at
// attach time.
type TripConfig struct {
	TripID  string
	RiderID string
	RouteID *string
	// Stops are the route's ordered stop coordinates; empty disables the
	// deviation watcher.
	Stops []geo.LatLng
	// Destination enables the proximity watcher when ProximityEnabled.
	Destination      *geo.LatLng
	ProximityEnabled bool
	StartLat         float64
	StartLng         float64
	StartedAt        time.Time
}

// entry is one trip's watcher set.
type entry struct {
	cancel context.CancelFunc
	done   chan struct{} // closed when every watcher goroutine has exited
	state  *tripState
}

// Manager runs the per-trip watcher sets. One set per trip, keyed by trip
// ID; attaching a trip tears down any previous set completely before the
// new one starts.
type Manager struct {
	logger    *logger.Logger
	metrics   *metrics.Collector
	hub       broadcast.Broadcaster
	uow       ports.UnitOfWork
	reports   ports.ReportRepository
	resolver  CongestionResolver
	intervals Intervals

	mu     sync.Mutex
	trips  map[string]*entry
	enderM sync.RWMutex
	ender  TripEnder
}

func NewManager(
	log *logger.Logger,
	collector *metrics.Collector,
	hub broadcast.Broadcaster,
	uow ports.UnitOfWork,
	reports ports.ReportRepository,
	resolver CongestionResolver,
	intervals Intervals,
) *Manager {
	return &Manager{
		logger:    log,
		metrics:   collector,
		hub:       hub,
		uow:       uow,
		reports:   reports,
		resolver:  resolver,
		intervals: intervals,
		trips:     make(map[string]*entry),
	}
}

// SetEnder wires the trip termination path. Must be called before the first
// Attach.
func (m *Manager) SetEnder(e TripEnder) {
	m.enderM.Lock()
	defer m.enderM.Unlock()
	m.ender = e
}

func (m *Manager) tripEnder() TripEnder {
	m.enderM.RLock()
	defer m.enderM.RUnlock()
	return m.ender
}

// Attach starts the watcher set for a trip. Any existing set for the same
// trip ID is torn down first and fully drained.
func (m *Manager) Attach(cfg TripConfig) {
	m.Detach(cfg.TripID)

	ctx, cancel := context.WithCancel(context.Background())
	st := newTripState(cfg)
	e := &entry{cancel: cancel, done: make(chan struct{}), state: st}

	m.mu.Lock()
	m.trips[cfg.TripID] = e
	active := len(m.trips)
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.ActiveTrips.Set(float64(active))
	}

	var wg sync.WaitGroup
	run := func(name string, fn func(ctx context.Context, st *tripState)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx, st)
			m.logger.Debug(ctx, "watcher_stopped", "Watcher exited", map[string]any{
				"watcher": name,
				"trip_id": cfg.TripID,
			})
		}()
	}

	run("congestion", m.runCongestion)
	run("inactivity", m.runInactivity)
	if len(cfg.Stops) > 0 {
		run("deviation", m.runDeviation)
	}
	if cfg.Destination != nil && cfg.ProximityEnabled {
		run("proximity", m.runProximity)
	}

	go func() {
		wg.Wait()
		close(e.done)
	}()

	m.logger.Info(ctx, "watchers_attached", "Trip watcher set started", map[string]any{
		"trip_id":   cfg.TripID,
		"deviation": len(cfg.Stops) > 0,
		"proximity": cfg.Destination != nil && cfg.ProximityEnabled,
	})
}

// Detach cancels the trip's watcher set and blocks until every goroutine
// has exited.
func (m *Manager) Detach(tripID string) {
	m.mu.Lock()
	e, ok := m.trips[tripID]
	if ok {
		delete(m.trips, tripID)
	}
	active := len(m.trips)
	m.mu.Unlock()
	if !ok {
		return
	}

	e.cancel()
	<-e.done
	if m.metrics != nil {
		m.metrics.ActiveTrips.Set(float64(active))
	}
}

// Observe feeds a new position sample into the trip's shared snapshot.
// No-op when the trip is not watched.
func (m *Manager) Observe(tripID string, lat, lng float64, at time.Time) {
	if e := m.lookup(tripID); e != nil {
		e.state.observe(lat, lng, at)
	}
}

// AcknowledgePrompt resets the inactivity escalation after the rider
// answers "still on board?".
func (m *Manager) AcknowledgePrompt(tripID string, at time.Time) bool {
	e := m.lookup(tripID)
	if e == nil {
		return false
	}
	e.state.ackPrompt(at)
	return true
}

// AcknowledgeDeviation silences deviation alerts for five minutes.
func (m *Manager) AcknowledgeDeviation(tripID string, at time.Time) bool {
	e := m.lookup(tripID)
	if e == nil {
		return false
	}
	e.state.ackDeviation(at)
	return true
}

// AcknowledgePromptByRider is the endpoint-facing variant: the rider comes
// from the auth token, so ownership is implicit.
func (m *Manager) AcknowledgePromptByRider(riderID string, at time.Time) bool {
	if e := m.lookupByRider(riderID); e != nil {
		e.state.ackPrompt(at)
		return true
	}
	return false
}

// AcknowledgeDeviationByRider silences the rider's deviation alerts for
// five minutes.
func (m *Manager) AcknowledgeDeviationByRider(riderID string, at time.Time) bool {
	if e := m.lookupByRider(riderID); e != nil {
		e.state.ackDeviation(at)
		return true
	}
	return false
}

// Watching reports whether a watcher set exists for the trip.
func (m *Manager) Watching(tripID string) bool {
	return m.lookup(tripID) != nil
}

func (m *Manager) lookup(tripID string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trips[tripID]
}

func (m *Manager) lookupByRider(riderID string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.trips {
		if e.state.cfg.RiderID == riderID {
			return e
		}
	}
	return nil
}

func (m *Manager) alertFired(kind string) {
	if m.metrics != nil {
		m.metrics.WatcherAlerts.WithLabelValues(kind).Inc()
	}
}
