package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"transit-pulse/internal/domain/geo"
	"transit-pulse/internal/domain/report"
	"transit-pulse/internal/domain/reward"
	"transit-pulse/internal/domain/route"
	"transit-pulse/internal/domain/trace"
	"transit-pulse/internal/domain/trip"
	"transit-pulse/internal/domain/user"
	"transit-pulse/internal/general/contracts"
	"transit-pulse/internal/general/logger"
	"transit-pulse/internal/monitor"
	"transit-pulse/internal/ports"
)

// ----- fakes -----

type fakeUow struct{}

func (fakeUow) WithinTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type fakeTripRepo struct {
	mu     sync.Mutex
	nextID int
	trips  map[string]*trip.Trip
}

func newFakeTripRepo() *fakeTripRepo {
	return &fakeTripRepo{trips: make(map[string]*trip.Trip)}
}

func (f *fakeTripRepo) Create(_ context.Context, t *trip.Trip) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.trips {
		if existing.RiderID == t.RiderID && existing.IsActive {
			return trip.ErrActiveTripExists
		}
	}
	f.nextID++
	t.ID = fmt.Sprintf("trip-%d", f.nextID)
	cp := *t
	f.trips[t.ID] = &cp
	return nil
}

func (f *fakeTripRepo) GetByID(_ context.Context, id string) (*trip.Trip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.trips[id]
	if !ok {
		return nil, trip.ErrNoActiveTrip
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTripRepo) GetActiveForRider(_ context.Context, riderID string) (*trip.Trip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.trips {
		if t.RiderID == riderID && t.IsActive {
			cp := *t
			return &cp, nil
		}
	}
	return nil, trip.ErrNoActiveTrip
}

func (f *fakeTripRepo) SavePosition(_ context.Context, tripID string, lat, lng float64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.trips[tripID]
	t.Latitude, t.Longitude, t.LastPositionAt = &lat, &lng, &at
	return nil
}

func (f *fakeTripRepo) MarkCredited(_ context.Context, tripID string, at time.Time, amount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.trips[tripID]
	t.LastCreditedAt = &at
	t.CreditsEarned += amount
	return nil
}

func (f *fakeTripRepo) End(_ context.Context, tripID string, endedAt time.Time, bonus int, note *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.trips[tripID]
	if !ok || !t.IsActive {
		return trip.ErrTripNotActive
	}
	t.IsActive = false
	t.EndedAt = &endedAt
	t.EndNote = note
	t.CreditsEarned += bonus
	return nil
}

func (f *fakeTripRepo) ListActiveVehicles(context.Context) ([]ports.ActiveVehicle, error) {
	return nil, nil
}

type fakeRouteRepo struct {
	routes map[string]*route.Route
}

func (f *fakeRouteRepo) GetByID(_ context.Context, id string) (*route.Route, error) {
	if r, ok := f.routes[id]; ok {
		return r, nil
	}
	return nil, trip.ErrNoActiveTrip
}
func (f *fakeRouteRepo) ListActive(context.Context) ([]*route.Route, error) { return nil, nil }
func (f *fakeRouteRepo) SetSuggestedGeometry(context.Context, string, *route.SuggestedGeometry) error {
	return nil
}
func (f *fakeRouteRepo) PromoteSuggested(context.Context, string, []geo.LatLng, bool) error {
	return nil
}
func (f *fakeRouteRepo) ClearSuggested(context.Context, string) error { return nil }

type fakeRiderRepo struct {
	premium bool
}

func (f *fakeRiderRepo) GetByID(_ context.Context, id string) (*user.Rider, error) {
	return &user.Rider{ID: id, IsPremium: f.premium}, nil
}
func (f *fakeRiderRepo) SetProximityOptIn(context.Context, string, bool) error { return nil }

type fakeRewardRepo struct {
	mu      sync.Mutex
	entries []*reward.Transaction
}

func (f *fakeRewardRepo) Award(_ context.Context, t *reward.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, t)
	return nil
}
func (f *fakeRewardRepo) Spend(context.Context, string, int, string) (*reward.Transaction, error) {
	return nil, nil
}
func (f *fakeRewardRepo) BalanceOf(context.Context, string) (int, error) { return 0, nil }
func (f *fakeRewardRepo) ListByRider(context.Context, string, int) ([]*reward.Transaction, error) {
	return nil, nil
}

func (f *fakeRewardRepo) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	sum := 0
	for _, e := range f.entries {
		sum += e.Amount
	}
	return sum
}

type fakeTraceRepo struct {
	mu       sync.Mutex
	created  []*trace.RouteTrace
	failNext bool
}

func (f *fakeTraceRepo) Create(_ context.Context, t *trace.RouteTrace) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return fmt.Errorf("trace insert failed")
	}
	f.created = append(f.created, t)
	return nil
}
func (f *fakeTraceRepo) CountPending(_ context.Context, routeID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.created {
		if t.RouteID == routeID && t.Status == trace.StatusPending {
			n++
		}
	}
	return n, nil
}
func (f *fakeTraceRepo) ClaimPending(context.Context, string) ([]*trace.RouteTrace, error) {
	return nil, nil
}
func (f *fakeTraceRepo) SetStatus(context.Context, []string, trace.Status) error { return nil }

type fakeHub struct {
	mu     sync.Mutex
	events []contracts.VehicleEvent
}

func (f *fakeHub) PublishVehicle(ev contracts.VehicleEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}
func (f *fakeHub) PublishAlert(string, contracts.MonitorAlert) {}

func (f *fakeHub) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.Type
	}
	return out
}

type fakeReportRepo struct{}

func (fakeReportRepo) Create(context.Context, *report.Report) error { return nil }
func (fakeReportRepo) GetByID(context.Context, string) (*report.Report, error) {
	return nil, nil
}
func (fakeReportRepo) IncrementConfirmations(context.Context, string) (int, error) { return 0, nil }
func (fakeReportRepo) Resolve(context.Context, string, time.Time) error            { return nil }
func (fakeReportRepo) ListLive(context.Context, time.Time) ([]*report.Report, error) {
	return nil, nil
}
func (fakeReportRepo) GetActiveCongestionByRider(context.Context, string, time.Time) (*report.Report, error) {
	return nil, nil
}

type noResolver struct{}

func (noResolver) ResolveReport(context.Context, string, string) error { return nil }

// ----- fixture -----

type fixture struct {
	svc     ports.TripService
	trips   *fakeTripRepo
	rewards *fakeRewardRepo
	traces  *fakeTraceRepo
	hub     *fakeHub
	mon     *monitor.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.New("test")
	hub := &fakeHub{}
	mon := monitor.NewManager(log, nil, hub, fakeUow{}, fakeReportRepo{}, noResolver{}, monitor.Intervals{
		Congestion: time.Hour, Deviation: time.Hour, Inactivity: time.Hour, Proximity: time.Hour,
	})
	trips := newFakeTripRepo()
	rewards := &fakeRewardRepo{}
	traces := &fakeTraceRepo{}
	routeID := "route-1"
	routes := &fakeRouteRepo{routes: map[string]*route.Route{
		routeID: {
			ID: routeID, Name: "Cross Town", Code: "CT-1", HeadwayMinutes: 15, IsActive: true,
			Stops: []route.Stop{
				{ID: "stop-1", OrderIndex: 1, Latitude: 41.38, Longitude: 2.17},
				{ID: "stop-2", OrderIndex: 2, Latitude: 41.39, Longitude: 2.18},
			},
		},
	}}

	svc := NewTripService(log, nil, fakeUow{}, trips, routes, &fakeRiderRepo{}, rewards, traces, hub, nil, mon)
	mon.SetEnder(svc)
	return &fixture{svc: svc, trips: trips, rewards: rewards, traces: traces, hub: hub, mon: mon}
}

func strPtr(s string) *string { return &s }

// ----- tests -----

func TestStartTripRejectsSecondActive(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	first, err := fx.svc.StartTrip(ctx, ports.StartTripInput{RiderID: "rider-1", Latitude: 41.38, Longitude: 2.17})
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	defer fx.mon.Detach(first.TripID)

	if _, err := fx.svc.StartTrip(ctx, ports.StartTripInput{RiderID: "rider-1", Latitude: 41.38, Longitude: 2.17}); err != trip.ErrActiveTripExists {
		t.Fatalf("second start err = %v, want ErrActiveTripExists", err)
	}

	types := fx.hub.types()
	if len(types) != 1 || types[0] != contracts.EventVehicleJoined {
		t.Fatalf("broadcast types = %v, want one vehicle-joined", types)
	}
}

func TestReportPositionCreditWindow(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	started, err := fx.svc.StartTrip(ctx, ports.StartTripInput{RiderID: "rider-1", Latitude: 41.38, Longitude: 2.17})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer fx.mon.Detach(started.TripID)

	res, err := fx.svc.ReportPosition(ctx, ports.ReportPositionInput{RiderID: "rider-1", Latitude: 41.381, Longitude: 2.171})
	if err != nil {
		t.Fatalf("first report: %v", err)
	}
	if !res.CreditGranted || res.CreditsEarned != 1 {
		t.Fatalf("first report: granted=%v earned=%d, want credit", res.CreditGranted, res.CreditsEarned)
	}

	// inside the window: no second credit
	res, err = fx.svc.ReportPosition(ctx, ports.ReportPositionInput{RiderID: "rider-1", Latitude: 41.382, Longitude: 2.172})
	if err != nil {
		t.Fatalf("second report: %v", err)
	}
	if res.CreditGranted {
		t.Fatal("credit granted inside the 60s window")
	}

	// age the last credit past the window
	fx.trips.mu.Lock()
	stale := time.Now().UTC().Add(-2 * trip.CreditWindow)
	fx.trips.trips[started.TripID].LastCreditedAt = &stale
	fx.trips.mu.Unlock()

	res, err = fx.svc.ReportPosition(ctx, ports.ReportPositionInput{RiderID: "rider-1", Latitude: 41.383, Longitude: 2.173})
	if err != nil {
		t.Fatalf("third report: %v", err)
	}
	if !res.CreditGranted {
		t.Fatal("credit not granted after the window elapsed")
	}
	if fx.rewards.total() != 2 {
		t.Fatalf("ledger total = %d, want 2", fx.rewards.total())
	}
}

func TestReportPositionWithoutActiveTrip(t *testing.T) {
	fx := newFixture(t)
	if _, err := fx.svc.ReportPosition(context.Background(), ports.ReportPositionInput{RiderID: "ghost", Latitude: 41.38, Longitude: 2.17}); err != trip.ErrNoActiveTrip {
		t.Fatalf("err = %v, want ErrNoActiveTrip", err)
	}
}

func TestEndTripGrantsBonusAndKeepsLongTrace(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	started, err := fx.svc.StartTrip(ctx, ports.StartTripInput{RiderID: "rider-1", RouteID: strPtr("route-1"), Latitude: 41.38, Longitude: 2.17})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// start sample plus nine reports crosses the 10-sample trace floor
	for i := 0; i < 9; i++ {
		if _, err := fx.svc.ReportPosition(ctx, ports.ReportPositionInput{
			RiderID: "rider-1", Latitude: 41.38 + float64(i)*0.001, Longitude: 2.17,
		}); err != nil {
			t.Fatalf("report %d: %v", i, err)
		}
	}

	res, err := fx.svc.EndTrip(ctx, "rider-1")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if !res.TraceKept {
		t.Fatal("trace not kept despite 10 samples on a routed trip")
	}
	if len(fx.traces.created) != 1 || fx.traces.created[0].SampleCount != 10 {
		t.Fatalf("traces created = %+v, want one with 10 samples", fx.traces.created)
	}
	if fx.mon.Watching(started.TripID) {
		t.Fatal("watchers still attached after end")
	}

	types := fx.hub.types()
	if types[len(types)-1] != contracts.EventVehicleLeft {
		t.Fatalf("last broadcast = %s, want vehicle-left", types[len(types)-1])
	}

	// bonus on the ledger: 1 earn credit + 10 bonus
	if fx.rewards.total() != 1+trip.CompletionBonus {
		t.Fatalf("ledger total = %d, want %d", fx.rewards.total(), 1+trip.CompletionBonus)
	}

	// idempotent guard
	if _, err := fx.svc.EndTrip(ctx, "rider-1"); err != trip.ErrNoActiveTrip {
		t.Fatalf("double end err = %v, want ErrNoActiveTrip", err)
	}
}

func TestEndTripDropsShortTrace(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.svc.StartTrip(ctx, ports.StartTripInput{RiderID: "rider-1", RouteID: strPtr("route-1"), Latitude: 41.38, Longitude: 2.17}); err != nil {
		t.Fatalf("start: %v", err)
	}
	res, err := fx.svc.EndTrip(ctx, "rider-1")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if res.TraceKept || len(fx.traces.created) != 0 {
		t.Fatal("short position history must not become a trace")
	}
}

func TestEndTripKeepsSamplesAcrossFailedCommit(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	started, err := fx.svc.StartTrip(ctx, ports.StartTripInput{RiderID: "rider-1", RouteID: strPtr("route-1"), Latitude: 41.38, Longitude: 2.17})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 9; i++ {
		if _, err := fx.svc.ReportPosition(ctx, ports.ReportPositionInput{
			RiderID: "rider-1", Latitude: 41.38 + float64(i)*0.001, Longitude: 2.17,
		}); err != nil {
			t.Fatalf("report %d: %v", i, err)
		}
	}

	fx.traces.failNext = true
	if _, err := fx.svc.EndTrip(ctx, "rider-1"); err == nil {
		t.Fatal("end succeeded despite the trace insert failing")
	}

	// the rolled-back attempt must leave the buffer intact for a retry
	buf := fx.svc.(*tripService).samples
	if points, _, _ := buf.snapshot(started.TripID); len(points) != 10 {
		t.Fatalf("buffered samples after failed end = %d, want 10", len(points))
	}

	// the real tx would have rolled the trip row back too
	fx.trips.mu.Lock()
	fx.trips.trips[started.TripID].IsActive = true
	fx.trips.trips[started.TripID].EndedAt = nil
	fx.trips.mu.Unlock()

	res, err := fx.svc.EndTrip(ctx, "rider-1")
	if err != nil {
		t.Fatalf("retry end: %v", err)
	}
	if !res.TraceKept || len(fx.traces.created) != 1 {
		t.Fatalf("retry kept=%v traces=%d, want the trace persisted", res.TraceKept, len(fx.traces.created))
	}
	if points, _, _ := buf.snapshot(started.TripID); len(points) != 0 {
		t.Fatal("buffer not drained after the successful end")
	}
}

func TestForceEndTripRecordsNote(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	started, err := fx.svc.StartTrip(ctx, ports.StartTripInput{RiderID: "rider-1", Latitude: 41.38, Longitude: 2.17})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	note := "auto-ended after inactivity prompt went unanswered"
	res, err := fx.svc.ForceEndTrip(ctx, "rider-1", note)
	if err != nil {
		t.Fatalf("force end: %v", err)
	}
	if res.Message != note {
		t.Errorf("message = %q, want the note", res.Message)
	}

	fx.trips.mu.Lock()
	ended := fx.trips.trips[started.TripID]
	fx.trips.mu.Unlock()
	if ended.IsActive || ended.EndNote == nil || *ended.EndNote != note {
		t.Fatalf("trip record after force end: active=%v note=%v", ended.IsActive, ended.EndNote)
	}
}
