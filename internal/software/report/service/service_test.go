package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"transit-pulse/internal/domain/report"
	"transit-pulse/internal/domain/reward"
	"transit-pulse/internal/general/logger"
	"transit-pulse/internal/general/postgres"
	"transit-pulse/internal/ports"
)

type fakeUow struct{}

func (fakeUow) WithinTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type fakeReportRepo struct {
	nextID  int
	reports map[string]*report.Report
}

func newFakeReportRepo() *fakeReportRepo {
	return &fakeReportRepo{reports: make(map[string]*report.Report)}
}

func (f *fakeReportRepo) Create(_ context.Context, r *report.Report) error {
	f.nextID++
	r.ID = fmt.Sprintf("report-%d", f.nextID)
	cp := *r
	f.reports[r.ID] = &cp
	return nil
}

func (f *fakeReportRepo) GetByID(_ context.Context, id string) (*report.Report, error) {
	r, ok := f.reports[id]
	if !ok {
		return nil, postgres.ErrReportNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeReportRepo) IncrementConfirmations(_ context.Context, id string) (int, error) {
	r, ok := f.reports[id]
	if !ok {
		return 0, postgres.ErrReportNotFound
	}
	r.Confirmations++
	return r.Confirmations, nil
}

func (f *fakeReportRepo) Resolve(_ context.Context, id string, at time.Time) error {
	r, ok := f.reports[id]
	if !ok {
		return postgres.ErrReportNotFound
	}
	r.IsActive = false
	r.ResolvedAt = &at
	return nil
}

func (f *fakeReportRepo) ListLive(_ context.Context, at time.Time) ([]*report.Report, error) {
	var out []*report.Report
	for _, r := range f.reports {
		if r.Live(at) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeReportRepo) GetActiveCongestionByRider(_ context.Context, riderID string, at time.Time) (*report.Report, error) {
	for _, r := range f.reports {
		if r.RiderID == riderID && r.Type == report.TypeCongestion && r.Live(at) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

type fakeRewardRepo struct {
	entries []*reward.Transaction
}

func (f *fakeRewardRepo) Award(_ context.Context, t *reward.Transaction) error {
	f.entries = append(f.entries, t)
	return nil
}

func (f *fakeRewardRepo) Spend(_ context.Context, riderID string, amount int, description string) (*reward.Transaction, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRewardRepo) BalanceOf(_ context.Context, riderID string) (int, error) {
	total := 0
	for _, t := range f.entries {
		if t.RiderID == riderID {
			total += t.Amount
		}
	}
	return total, nil
}

func (f *fakeRewardRepo) ListByRider(_ context.Context, riderID string, limit int) ([]*reward.Transaction, error) {
	var out []*reward.Transaction
	for _, t := range f.entries {
		if t.RiderID == riderID {
			out = append(out, t)
		}
	}
	return out, nil
}

func newTestService() (ports.ReportService, *fakeReportRepo, *fakeRewardRepo) {
	repo := newFakeReportRepo()
	rewards := &fakeRewardRepo{}
	svc := NewReportService(logger.New("test"), fakeUow{}, repo, rewards)
	return svc, repo, rewards
}

func mustCreate(t *testing.T, svc ports.ReportService, riderID string, lat, lng float64) ports.ReportView {
	t.Helper()
	view, err := svc.CreateReport(context.Background(), ports.CreateReportInput{
		RiderID:   riderID,
		Type:      string(report.TypeCongestion),
		Latitude:  lat,
		Longitude: lng,
	})
	if err != nil {
		t.Fatalf("CreateReport: %v", err)
	}
	return view
}

func TestCreateThenNearby(t *testing.T) {
	svc, _, _ := newTestService()

	created := mustCreate(t, svc, "rider-1", 41.3800, 2.1700)

	views, err := svc.NearbyReports(context.Background(), ports.NearbyReportsInput{
		Lat: 41.3805, Lng: 2.1700, RadiusMeters: 500,
	})
	if err != nil {
		t.Fatalf("NearbyReports: %v", err)
	}
	if len(views) != 1 || views[0].ReportID != created.ReportID {
		t.Fatalf("expected the created report nearby, got %+v", views)
	}
}

func TestNearbyFiltersByDistance(t *testing.T) {
	svc, _, _ := newTestService()

	mustCreate(t, svc, "rider-1", 41.3800, 2.1700)
	// ~2.2 km east of the query point, same geohash neighborhood
	mustCreate(t, svc, "rider-2", 41.3800, 2.1960)

	views, err := svc.NearbyReports(context.Background(), ports.NearbyReportsInput{
		Lat: 41.3800, Lng: 2.1700, RadiusMeters: 500,
	})
	if err != nil {
		t.Fatalf("NearbyReports: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected only the close report, got %d", len(views))
	}
}

func TestNearbyInvalidCoords(t *testing.T) {
	svc, _, _ := newTestService()

	if _, err := svc.NearbyReports(context.Background(), ports.NearbyReportsInput{Lat: 95, Lng: 0}); err == nil {
		t.Fatal("expected validation error for latitude out of range")
	}
}

func TestIndexSkipsAndEvictsExpired(t *testing.T) {
	idx := newNearbyIndex()

	r, err := report.New("rider-1", nil, report.TypeCongestion, 41.3800, 2.1700, "")
	if err != nil {
		t.Fatalf("report.New: %v", err)
	}
	r.ID = "report-old"
	r.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	idx.add(r)

	got := idx.query(41.3800, 2.1700, 500, time.Now().UTC())
	if len(got) != 0 {
		t.Fatalf("expected expired report to be skipped, got %d", len(got))
	}
	idx.mu.RLock()
	remaining := len(idx.cells)
	idx.mu.RUnlock()
	if remaining != 0 {
		t.Fatal("expected expired entry to be evicted from the index")
	}
}

func TestConfirmRewardsBothParties(t *testing.T) {
	svc, _, rewards := newTestService()

	created := mustCreate(t, svc, "rider-1", 41.3800, 2.1700)

	view, err := svc.ConfirmReport(context.Background(), created.ReportID, "rider-2")
	if err != nil {
		t.Fatalf("ConfirmReport: %v", err)
	}
	if view.Confirmations != 1 {
		t.Fatalf("expected 1 confirmation, got %d", view.Confirmations)
	}

	reporterTotal, _ := rewards.BalanceOf(context.Background(), "rider-1")
	confirmerTotal, _ := rewards.BalanceOf(context.Background(), "rider-2")
	if reporterTotal != reporterConfirmCredit {
		t.Fatalf("reporter balance = %d, want %d", reporterTotal, reporterConfirmCredit)
	}
	if confirmerTotal != confirmerCredit {
		t.Fatalf("confirmer balance = %d, want %d", confirmerTotal, confirmerCredit)
	}
}

func TestConfirmOwnReportRejected(t *testing.T) {
	svc, _, rewards := newTestService()

	created := mustCreate(t, svc, "rider-1", 41.3800, 2.1700)

	_, err := svc.ConfirmReport(context.Background(), created.ReportID, "rider-1")
	if !errors.Is(err, report.ErrOwnConfirm) {
		t.Fatalf("expected ErrOwnConfirm, got %v", err)
	}
	if len(rewards.entries) != 0 {
		t.Fatalf("no rewards should be granted on a rejected confirm, got %d", len(rewards.entries))
	}
}

func TestConfirmResolvedReportRejected(t *testing.T) {
	svc, _, _ := newTestService()

	created := mustCreate(t, svc, "rider-1", 41.3800, 2.1700)
	if err := svc.ResolveReport(context.Background(), created.ReportID, "rider-1"); err != nil {
		t.Fatalf("ResolveReport: %v", err)
	}

	_, err := svc.ConfirmReport(context.Background(), created.ReportID, "rider-2")
	if !errors.Is(err, report.ErrAlreadyClosed) {
		t.Fatalf("expected ErrAlreadyClosed, got %v", err)
	}
}

func TestResolveRequiresOwnership(t *testing.T) {
	svc, _, _ := newTestService()

	created := mustCreate(t, svc, "rider-1", 41.3800, 2.1700)

	err := svc.ResolveReport(context.Background(), created.ReportID, "rider-2")
	if !errors.Is(err, report.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}

func TestResolveRemovesFromNearby(t *testing.T) {
	svc, _, _ := newTestService()

	created := mustCreate(t, svc, "rider-1", 41.3800, 2.1700)
	if err := svc.ResolveReport(context.Background(), created.ReportID, "rider-1"); err != nil {
		t.Fatalf("ResolveReport: %v", err)
	}

	views, err := svc.NearbyReports(context.Background(), ports.NearbyReportsInput{
		Lat: 41.3800, Lng: 2.1700, RadiusMeters: 500,
	})
	if err != nil {
		t.Fatalf("NearbyReports: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("resolved report should not appear nearby, got %d", len(views))
	}
}

func TestWarmIndexSeedsFromStorage(t *testing.T) {
	repo := newFakeReportRepo()
	r, err := report.New("rider-1", nil, report.TypeAccident, 41.3800, 2.1700, "stalled bus")
	if err != nil {
		t.Fatalf("report.New: %v", err)
	}
	if err := repo.Create(context.Background(), r); err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc := NewReportService(logger.New("test"), fakeUow{}, repo, &fakeRewardRepo{})
	if err := svc.WarmIndex(context.Background()); err != nil {
		t.Fatalf("WarmIndex: %v", err)
	}

	views, err := svc.NearbyReports(context.Background(), ports.NearbyReportsInput{
		Lat: 41.3800, Lng: 2.1700, RadiusMeters: 500,
	})
	if err != nil {
		t.Fatalf("NearbyReports: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected the seeded report after warm-up, got %d", len(views))
	}
}

func TestNearbyCrossesCellBoundaries(t *testing.T) {
	svc, _, _ := newTestService()

	// two points ~300 m apart that straddle a precision-5 geohash edge
	mustCreate(t, svc, "rider-1", 41.3084, 2.1700)

	views, err := svc.NearbyReports(context.Background(), ports.NearbyReportsInput{
		Lat: 41.3058, Lng: 2.1700, RadiusMeters: 500,
	})
	if err != nil {
		t.Fatalf("NearbyReports: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected report from the neighboring cell, got %d", len(views))
	}
}
