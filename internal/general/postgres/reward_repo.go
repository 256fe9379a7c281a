package postgres

import (
	"context"
	"errors"
	"fmt"

	"transit-pulse/internal/domain/reward"
	"transit-pulse/internal/ports"

	"github.com/jackc/pgx/v5"
)

// RewardRepo persists the append-only reward ledger and keeps the riders
// table's denormalized balance in step.
type RewardRepo struct{}

// NewRewardRepo constructs a new RewardRepo.
func NewRewardRepo() ports.RewardRepository {
	return &RewardRepo{}
}

var ErrRiderNotFound = errors.New("rider not found")

// Award appends a positive ledger entry and increments the cached balance.
func (repo *RewardRepo) Award(ctx context.Context, t *reward.Transaction) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO reward_transactions (rider_id, amount, category, description)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, t.RiderID, t.Amount, string(t.Category), t.Description).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert reward transaction: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE riders SET credit_balance = credit_balance + $2, updated_at = now()
		WHERE id = $1
	`, t.RiderID, t.Amount)
	if err != nil {
		return fmt.Errorf("increment balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRiderNotFound
	}
	return nil
}

// Spend decrements the balance with a single conditional update so that
// concurrent spends for the same rider cannot overdraw: the WHERE clause
// either matches (and decrements atomically) or the spend fails. Premium
// riders may go negative.
func (repo *RewardRepo) Spend(ctx context.Context, riderID string, amount int, description string) (*reward.Transaction, error) {
	if amount <= 0 {
		return nil, reward.ErrSpendPositive
	}

	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE riders
		SET credit_balance = credit_balance - $2, updated_at = now()
		WHERE id = $1 AND (is_premium OR credit_balance >= $2)
	`, riderID, amount)
	if err != nil {
		return nil, fmt.Errorf("conditional spend: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// distinguish unknown rider from insufficient credit
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM riders WHERE id = $1)`, riderID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check rider: %w", err)
		}
		if !exists {
			return nil, ErrRiderNotFound
		}
		return nil, reward.ErrInsufficientCredit
	}

	entry, err := reward.New(riderID, -amount, reward.CategorySpend, description)
	if err != nil {
		return nil, err
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO reward_transactions (rider_id, amount, category, description)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, entry.RiderID, entry.Amount, string(entry.Category), entry.Description).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert spend transaction: %w", err)
	}
	return entry, nil
}

// BalanceOf reads the cached balance.
func (repo *RewardRepo) BalanceOf(ctx context.Context, riderID string) (int, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return 0, err
	}

	var balance int
	err = tx.QueryRow(ctx, `SELECT credit_balance FROM riders WHERE id = $1`, riderID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrRiderNotFound
		}
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

// ListByRider returns the rider's newest ledger entries.
func (repo *RewardRepo) ListByRider(ctx context.Context, riderID string, limit int) ([]*reward.Transaction, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT id, rider_id, amount, category, description, created_at
		FROM reward_transactions
		WHERE rider_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, riderID, limit)
	if err != nil {
		return nil, fmt.Errorf("list reward transactions: %w", err)
	}
	defer rows.Close()

	var out []*reward.Transaction
	for rows.Next() {
		var t reward.Transaction
		var category string
		if err := rows.Scan(&t.ID, &t.RiderID, &t.Amount, &category, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reward transaction: %w", err)
		}
		t.Category = reward.Category(category)
		out = append(out, &t)
	}
	return out, rows.Err()
}
