package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"transit-pulse/internal/domain/trip"
	"transit-pulse/internal/ports"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// TripRepo persists trips using pgx and plain SQL.
type TripRepo struct{}

// NewTripRepo constructs a new TripRepo.
func NewTripRepo() ports.TripRepository {
	return &TripRepo{}
}

const tripColumns = `
	id, rider_id, route_id, latitude, longitude, destination_stop_id,
	started_at, last_position_at, last_credited_at, credits_earned,
	is_active, ended_at, end_note`

func scanTrip(row pgx.Row) (*trip.Trip, error) {
	var t trip.Trip
	err := row.Scan(
		&t.ID, &t.RiderID, &t.RouteID, &t.Latitude, &t.Longitude, &t.DestinationStop,
		&t.StartedAt, &t.LastPositionAt, &t.LastCreditedAt, &t.CreditsEarned,
		&t.IsActive, &t.EndedAt, &t.EndNote,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create inserts an active trip row. The partial unique index
// trips_one_active_per_rider turns a concurrent duplicate start into a
// unique violation, which is surfaced as trip.ErrActiveTripExists.
func (repo *TripRepo) Create(ctx context.Context, t *trip.Trip) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO trips (
			rider_id, route_id, latitude, longitude, destination_stop_id,
			started_at, last_position_at, is_active
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		RETURNING id
	`,
		t.RiderID, t.RouteID, t.Latitude, t.Longitude, t.DestinationStop,
		t.StartedAt, t.LastPositionAt,
	).Scan(&t.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return trip.ErrActiveTripExists
		}
		return fmt.Errorf("insert trip: %w", err)
	}

	return nil
}

// GetByID fetches a trip by primary key.
func (repo *TripRepo) GetByID(ctx context.Context, id string) (*trip.Trip, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	t, err := scanTrip(tx.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, trip.ErrNoActiveTrip
		}
		return nil, fmt.Errorf("get trip: %w", err)
	}
	return t, nil
}

// GetActiveForRider fetches the rider's single active trip.
func (repo *TripRepo) GetActiveForRider(ctx context.Context, riderID string) (*trip.Trip, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	t, err := scanTrip(tx.QueryRow(ctx, `
		SELECT `+tripColumns+`
		FROM trips
		WHERE rider_id = $1 AND is_active
	`, riderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, trip.ErrNoActiveTrip
		}
		return nil, fmt.Errorf("get active trip: %w", err)
	}
	return t, nil
}

// SavePosition updates the current position and last-position timestamp.
func (repo *TripRepo) SavePosition(ctx context.Context, tripID string, lat, lng float64, at time.Time) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE trips
		SET latitude = $2, longitude = $3, last_position_at = $4
		WHERE id = $1 AND is_active
	`, tripID, lat, lng, at)
	if err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return trip.ErrTripNotActive
	}
	return nil
}

// MarkCredited stamps last_credited_at and bumps the per-trip earned total.
func (repo *TripRepo) MarkCredited(ctx context.Context, tripID string, at time.Time, amount int) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE trips
		SET last_credited_at = $2, credits_earned = credits_earned + $3
		WHERE id = $1 AND is_active
	`, tripID, at, amount)
	if err != nil {
		return fmt.Errorf("mark credited: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return trip.ErrTripNotActive
	}
	return nil
}

// End deactivates the trip, stamps the end time, and folds the completion
// bonus into the earned total. The is_active guard makes a second End a
// no-row update, reported as trip.ErrTripNotActive.
func (repo *TripRepo) End(ctx context.Context, tripID string, endedAt time.Time, bonus int, note *string) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE trips
		SET is_active = FALSE, ended_at = $2, credits_earned = credits_earned + $3, end_note = $4
		WHERE id = $1 AND is_active
	`, tripID, endedAt, bonus, note)
	if err != nil {
		return fmt.Errorf("end trip: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return trip.ErrTripNotActive
	}
	return nil
}

// ListActiveVehicles projects active trips that have both a route and a
// position, for the recommendation engine.
func (repo *TripRepo) ListActiveVehicles(ctx context.Context) ([]ports.ActiveVehicle, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT id, route_id, latitude, longitude
		FROM trips
		WHERE is_active AND route_id IS NOT NULL AND latitude IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("list active vehicles: %w", err)
	}
	defer rows.Close()

	var out []ports.ActiveVehicle
	for rows.Next() {
		var v ports.ActiveVehicle
		if err := rows.Scan(&v.TripID, &v.RouteID, &v.Lat, &v.Lng); err != nil {
			return nil, fmt.Errorf("scan active vehicle: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}
