package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector carries all service metrics on a private registry.
type Collector struct {
	reg *prometheus.Registry

	ActiveTrips     prometheus.Gauge
	TripsStarted    prometheus.Counter
	TripsEnded      prometheus.Counter
	TripsForceEnded prometheus.Counter

	CreditsGranted prometheus.Counter
	CreditsSpent   prometheus.Counter

	BroadcastEvents  prometheus.Counter
	BroadcastDropped prometheus.Counter
	Subscribers      prometheus.Gauge

	ConsensusRuns        prometheus.Counter
	ConsensusSuggestions prometheus.Counter
	ConsensusDiscards    prometheus.Counter

	WatcherAlerts *prometheus.CounterVec // kind label: congestion|deviation|inactivity|proximity

	RecommendDuration prometheus.Histogram
}

// NewCollector registers every metric on a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveTrips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_active_trips",
			Help: "Number of currently active trips with attached watchers.",
		}),
		TripsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_trips_started_total",
			Help: "Total trips started.",
		}),
		TripsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_trips_ended_total",
			Help: "Total trips ended by the rider.",
		}),
		TripsForceEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_trips_force_ended_total",
			Help: "Total trips terminated by the inactivity monitor.",
		}),
		CreditsGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_credits_granted_total",
			Help: "Total credits granted across all categories.",
		}),
		CreditsSpent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_credits_spent_total",
			Help: "Total credits spent on feature opt-ins.",
		}),
		BroadcastEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_broadcast_events_total",
			Help: "Total events published to the live-view broadcast.",
		}),
		BroadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_broadcast_dropped_total",
			Help: "Events dropped because a subscriber buffer was full.",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_broadcast_subscribers",
			Help: "Currently connected broadcast subscribers.",
		}),
		ConsensusRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_consensus_runs_total",
			Help: "Total geometry consensus batch runs.",
		}),
		ConsensusSuggestions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_consensus_suggestions_total",
			Help: "Total suggested geometries published.",
		}),
		ConsensusDiscards: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_consensus_discards_total",
			Help: "Consensus runs discarded for producing too few points.",
		}),
		WatcherAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_watcher_alerts_total",
			Help: "Watcher alerts fired, by watcher kind.",
		}, []string{"kind"}),
		RecommendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_recommend_duration_seconds",
			Help:    "Duration of recommendation queries.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.ActiveTrips, c.TripsStarted, c.TripsEnded, c.TripsForceEnded,
		c.CreditsGranted, c.CreditsSpent,
		c.BroadcastEvents, c.BroadcastDropped, c.Subscribers,
		c.ConsensusRuns, c.ConsensusSuggestions, c.ConsensusDiscards,
		c.WatcherAlerts,
		c.RecommendDuration,
	)

	return c
}

// RecommendObserve records one recommendation query duration.
func (c *Collector) RecommendObserve(d time.Duration) {
	c.RecommendDuration.Observe(d.Seconds())
}

// Serve exposes /metrics until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shCtx)
	case err := <-errCh:
		return err
	}
}
