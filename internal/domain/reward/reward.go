package reward

import (
	"errors"
	"strings"
	"time"
)

// Category is the business reason for a ledger entry.
type Category string

const (
	CategoryBonus Category = "BONUS" // flat grants: trip completion, report confirmations
	CategoryEarn  Category = "EARN"  // throttled per-report location credits
	CategorySpend Category = "SPEND" // negative amounts: feature opt-ins
)

var (
	ErrEmptyRiderID       = errors.New("rider_id cannot be empty")
	ErrZeroAmount         = errors.New("amount cannot be zero")
	ErrInvalidCategory    = errors.New("invalid reward category")
	ErrSpendPositive      = errors.New("spend amount must be negative")
	ErrInsufficientCredit = errors.New("insufficient credit balance")
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryBonus, CategoryEarn, CategorySpend:
		return true
	}
	return false
}

// Transaction is one append-only row in the reward ledger. The rider's
// balance is the running sum, cached as a denormalized counter on the rider
// record.
type Transaction struct {
	ID          string
	RiderID     string
	Amount      int // signed credits
	Category    Category
	Description string
	CreatedAt   time.Time
}

// New builds a validated ledger entry.
func New(riderID string, amount int, category Category, description string) (*Transaction, error) {
	if strings.TrimSpace(riderID) == "" {
		return nil, ErrEmptyRiderID
	}
	if amount == 0 {
		return nil, ErrZeroAmount
	}
	if !category.Valid() {
		return nil, ErrInvalidCategory
	}
	if category == CategorySpend && amount > 0 {
		return nil, ErrSpendPositive
	}
	return &Transaction{
		RiderID:     strings.TrimSpace(riderID),
		Amount:      amount,
		Category:    category,
		Description: strings.TrimSpace(description),
		CreatedAt:   time.Now().UTC(),
	}, nil
}
