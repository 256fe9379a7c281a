package report

import (
	"testing"
	"time"
)

func TestNew_ValidatesType(t *testing.T) {
	if _, err := New("rider-1", nil, Type("TRAFFIC_JAM"), 0, 0, ""); err != ErrInvalidType {
		t.Errorf("expected ErrInvalidType, got %v", err)
	}
}

func TestNew_SetsExpiry(t *testing.T) {
	r, err := New("rider-1", nil, TypeCongestion, -6.8, 39.28, "stuck near market")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := r.ExpiresAt.Sub(r.CreatedAt)
	if got != Lifetime {
		t.Errorf("expected %v lifetime, got %v", Lifetime, got)
	}
}

func TestLive_ExcludesExpiredEvenIfUnresolved(t *testing.T) {
	r, _ := New("rider-1", nil, TypeAccident, 0, 0, "")
	at := r.CreatedAt.Add(31 * time.Minute)
	if r.Live(at) {
		t.Error("report past its 30-minute lifetime must not be live")
	}
	if !r.Live(r.CreatedAt.Add(29 * time.Minute)) {
		t.Error("unexpired active report must be live")
	}
}

func TestLive_ExcludesResolved(t *testing.T) {
	r, _ := New("rider-1", nil, TypeBreakdown, 0, 0, "")
	r.IsActive = false
	if r.Live(r.CreatedAt) {
		t.Error("resolved report must not be live")
	}
}
