package monitor

import (
	"sync"
	"time"

	"transit-pulse/internal/domain/geo"
	"transit-pulse/internal/general/contracts"
)

// tripState is the shared snapshot the watchers poll. The trip service
// writes through Observe; watchers only read and flip their own flags.
type tripState struct {
	cfg TripConfig

	mu sync.RWMutex

	lat       float64
	lng       float64
	updatedAt time.Time

	// inactivity anchoring: the position the rider has not moved 50 m away
	// from, and since when
	anchorLat   float64
	anchorLng   float64
	anchorSince time.Time
	promptAt    time.Time // zero until the "still on board?" prompt fires

	// deviation tracking
	offRouteSince     time.Time // zero while on route
	deviationSilenced time.Time // alerts suppressed until this instant

	// proximity banner progression
	bannerState string // "" -> prepare -> alert -> missed
}

const inactivityAnchorRadius = 50.0 // meters

func newTripState(cfg TripConfig) *tripState {
	return &tripState{
		cfg:         cfg,
		lat:         cfg.StartLat,
		lng:         cfg.StartLng,
		updatedAt:   cfg.StartedAt,
		anchorLat:   cfg.StartLat,
		anchorLng:   cfg.StartLng,
		anchorSince: cfg.StartedAt,
	}
}

func (s *tripState) observe(lat, lng float64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lat, s.lng, s.updatedAt = lat, lng, at

	if geo.DistanceMeters(s.anchorLat, s.anchorLng, lat, lng) > inactivityAnchorRadius {
		s.anchorLat, s.anchorLng = lat, lng
		s.anchorSince = at
		s.promptAt = time.Time{} // movement answers the prompt implicitly
	}
}

func (s *tripState) position() (lat, lng float64, at time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lat, s.lng, s.updatedAt
}

// stationaryFor returns how long the rider has stayed within the anchor
// radius, and whether a prompt is already outstanding (with its fire time).
func (s *tripState) stationaryFor(now time.Time) (time.Duration, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Sub(s.anchorSince), s.promptAt
}

func (s *tripState) markPrompted(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promptAt = at
}

func (s *tripState) ackPrompt(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promptAt = time.Time{}
	s.anchorSince = at
	s.anchorLat, s.anchorLng = s.lat, s.lng
}

// offRoute updates the sustained off-route window and reports how long the
// rider has been off route (zero when on route or silenced).
func (s *tripState) offRoute(off bool, now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !off {
		s.offRouteSince = time.Time{}
		return 0
	}
	if s.offRouteSince.IsZero() {
		s.offRouteSince = now
	}
	if now.Before(s.deviationSilenced) {
		return 0
	}
	return now.Sub(s.offRouteSince)
}

func (s *tripState) ackDeviation(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviationSilenced = at.Add(5 * time.Minute)
	s.offRouteSince = time.Time{}
}

// advanceBanner applies one proximity sample and returns the banner state
// to publish, or "" when nothing changed.
func (s *tripState) advanceBanner(distance float64) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case distance <= proximityAlertMeters:
		if s.bannerState != contracts.BannerAlert {
			s.bannerState = contracts.BannerAlert
			return contracts.BannerAlert
		}
	case distance <= proximityPrepareMeters:
		if s.bannerState == "" {
			s.bannerState = contracts.BannerPrepare
			return contracts.BannerPrepare
		}
	default:
		if s.bannerState == contracts.BannerAlert {
			s.bannerState = contracts.BannerMissed
			return contracts.BannerMissed
		}
	}
	return ""
}
