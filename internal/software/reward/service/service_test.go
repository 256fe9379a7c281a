package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"transit-pulse/internal/domain/reward"
	"transit-pulse/internal/domain/user"
	"transit-pulse/internal/general/logger"
	"transit-pulse/internal/general/postgres"
	"transit-pulse/internal/ports"
)

type fakeUow struct{}

func (fakeUow) WithinTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type fakeRider struct {
	premium   bool
	proximity bool
}

type fakeRewardRepo struct {
	riders  map[string]*fakeRider
	entries []*reward.Transaction
}

func (f *fakeRewardRepo) Award(_ context.Context, t *reward.Transaction) error {
	f.entries = append(f.entries, t)
	return nil
}

func (f *fakeRewardRepo) Spend(_ context.Context, riderID string, amount int, description string) (*reward.Transaction, error) {
	rider, ok := f.riders[riderID]
	if !ok {
		return nil, postgres.ErrRiderNotFound
	}
	balance, _ := f.BalanceOf(context.Background(), riderID)
	if !rider.premium && balance < amount {
		return nil, reward.ErrInsufficientCredit
	}
	entry, err := reward.New(riderID, -amount, reward.CategorySpend, description)
	if err != nil {
		return nil, err
	}
	f.entries = append(f.entries, entry)
	return entry, nil
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

type fakeRiderRepo struct {
	riders map[string]*fakeRider
}

func (f *fakeRiderRepo) GetByID(_ context.Context, id string) (*user.Rider, error) {
	r, ok := f.riders[id]
	if !ok {
		return nil, postgres.ErrRiderNotFound
	}
	return &user.Rider{ID: id, IsPremium: r.premium, ProximityOptIn: r.proximity}, nil
}

func (f *fakeRiderRepo) SetProximityOptIn(_ context.Context, riderID string, optIn bool) error {
	r, ok := f.riders[riderID]
	if !ok {
		return postgres.ErrRiderNotFound
	}
	r.proximity = optIn
	return nil
}

func newFixture(riders map[string]*fakeRider) (ports.RewardService, *fakeRewardRepo, *fakeRiderRepo) {
	rewards := &fakeRewardRepo{riders: riders}
	riderRepo := &fakeRiderRepo{riders: riders}
	svc := NewRewardService(logger.New("test"), nil, fakeUow{}, rewards, riderRepo)
	return svc, rewards, riderRepo
}

func grant(t *testing.T, rewards *fakeRewardRepo, riderID string, amount int) {
	t.Helper()
	entry, err := reward.New(riderID, amount, reward.CategoryEarn, "seed")
	if err != nil {
		t.Fatalf("reward.New: %v", err)
	}
	entry.CreatedAt = time.Now().UTC()
	if err := rewards.Award(context.Background(), entry); err != nil {
		t.Fatalf("Award: %v", err)
	}
}

func TestBalanceSumsLedger(t *testing.T) {
	svc, rewards, _ := newFixture(map[string]*fakeRider{"rider-1": {}})
	grant(t, rewards, "rider-1", 10)
	grant(t, rewards, "rider-1", 5)
	grant(t, rewards, "rider-2", 99)

	res, err := svc.Balance(context.Background(), "rider-1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if res.Balance != 15 {
		t.Fatalf("balance = %d, want 15", res.Balance)
	}
}

func TestPurchaseSpendsAndEnablesOptIn(t *testing.T) {
	svc, rewards, riderRepo := newFixture(map[string]*fakeRider{"rider-1": {}})
	grant(t, rewards, "rider-1", proximityOptInCost+5)

	res, err := svc.PurchaseProximityAlerts(context.Background(), "rider-1")
	if err != nil {
		t.Fatalf("PurchaseProximityAlerts: %v", err)
	}
	if res.Balance != 5 {
		t.Fatalf("balance after spend = %d, want 5", res.Balance)
	}
	if res.Feature != featureProximityAlerts {
		t.Fatalf("unexpected feature %q", res.Feature)
	}
	rider, _ := riderRepo.GetByID(context.Background(), "rider-1")
	if !rider.ProximityOptIn {
		t.Fatal("expected proximity opt-in to be enabled")
	}
}

func TestPurchaseInsufficientCredit(t *testing.T) {
	svc, rewards, riderRepo := newFixture(map[string]*fakeRider{"rider-1": {}})
	grant(t, rewards, "rider-1", proximityOptInCost-1)

	_, err := svc.PurchaseProximityAlerts(context.Background(), "rider-1")
	if !errors.Is(err, reward.ErrInsufficientCredit) {
		t.Fatalf("expected ErrInsufficientCredit, got %v", err)
	}
	rider, _ := riderRepo.GetByID(context.Background(), "rider-1")
	if rider.ProximityOptIn {
		t.Fatal("opt-in must not be enabled on a failed spend")
	}
}

func TestPremiumMayOverdraw(t *testing.T) {
	svc, _, riderRepo := newFixture(map[string]*fakeRider{"rider-1": {premium: true}})

	res, err := svc.PurchaseProximityAlerts(context.Background(), "rider-1")
	if err != nil {
		t.Fatalf("PurchaseProximityAlerts: %v", err)
	}
	if res.Balance != -proximityOptInCost {
		t.Fatalf("balance = %d, want %d", res.Balance, -proximityOptInCost)
	}
	rider, _ := riderRepo.GetByID(context.Background(), "rider-1")
	if !rider.ProximityOptIn {
		t.Fatal("expected proximity opt-in to be enabled")
	}
}

func TestPurchaseUnknownRider(t *testing.T) {
	svc, _, _ := newFixture(map[string]*fakeRider{})

	_, err := svc.PurchaseProximityAlerts(context.Background(), "ghost")
	if !errors.Is(err, postgres.ErrRiderNotFound) {
		t.Fatalf("expected ErrRiderNotFound, got %v", err)
	}
}
