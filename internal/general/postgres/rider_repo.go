package postgres

import (
	"context"
	"errors"
	"fmt"

	"transit-pulse/internal/domain/user"
	"transit-pulse/internal/ports"

	"github.com/jackc/pgx/v5"
)

// RiderRepo reads the rider record slice this service owns.
type RiderRepo struct{}

// NewRiderRepo constructs a new RiderRepo.
func NewRiderRepo() ports.RiderRepository {
	return &RiderRepo{}
}

// GetByID fetches a rider by primary key.
func (repo *RiderRepo) GetByID(ctx context.Context, id string) (*user.Rider, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var r user.Rider
	err = tx.QueryRow(ctx, `
		SELECT id, credit_balance, is_premium, proximity_opt_in, created_at, updated_at
		FROM riders
		WHERE id = $1
	`, id).Scan(&r.ID, &r.CreditBalance, &r.IsPremium, &r.ProximityOptIn, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRiderNotFound
		}
		return nil, fmt.Errorf("get rider: %w", err)
	}
	return &r, nil
}

// SetProximityOptIn toggles the destination-proximity watcher entitlement.
func (repo *RiderRepo) SetProximityOptIn(ctx context.Context, riderID string, optIn bool) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE riders SET proximity_opt_in = $2, updated_at = now()
		WHERE id = $1
	`, riderID, optIn)
	if err != nil {
		return fmt.Errorf("set proximity opt-in: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRiderNotFound
	}
	return nil
}
