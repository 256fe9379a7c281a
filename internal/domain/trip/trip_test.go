package trip

import (
	"testing"
	"time"
)

func TestNew_RequiresRider(t *testing.T) {
	if _, err := New("  ", nil, 0, 0); err != ErrEmptyRiderID {
		t.Errorf("expected ErrEmptyRiderID, got %v", err)
	}
}

func TestNew_RejectsBadCoords(t *testing.T) {
	if _, err := New("rider-1", nil, 95, 0); err == nil {
		t.Error("expected coordinate validation error")
	}
}

func TestNew_StartsActiveAtPosition(t *testing.T) {
	tr, err := New("rider-1", nil, -6.8, 39.28)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tr.IsActive {
		t.Error("new trip should be active")
	}
	pos, ok := tr.Position()
	if !ok || pos.Lat != -6.8 || pos.Lng != 39.28 {
		t.Errorf("unexpected position: %+v ok=%v", pos, ok)
	}
}

func TestCreditDue(t *testing.T) {
	tr := &Trip{}
	now := time.Now().UTC()

	if !tr.CreditDue(now) {
		t.Error("first report should always be credit-eligible")
	}

	recent := now.Add(-30 * time.Second)
	tr.LastCreditedAt = &recent
	if tr.CreditDue(now) {
		t.Error("report 30s after last credit must not earn again")
	}

	old := now.Add(-61 * time.Second)
	tr.LastCreditedAt = &old
	if !tr.CreditDue(now) {
		t.Error("report 61s after last credit must earn")
	}

	exact := now.Add(-CreditWindow)
	tr.LastCreditedAt = &exact
	if tr.CreditDue(now) {
		t.Error("window boundary itself is not yet elapsed")
	}
}
