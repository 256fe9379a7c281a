package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"transit-pulse/internal/domain/report"
	"transit-pulse/internal/ports"

	"github.com/jackc/pgx/v5"
)

// ReportRepo persists incident reports using pgx and plain SQL.
type ReportRepo struct{}

// NewReportRepo constructs a new ReportRepo.
func NewReportRepo() ports.ReportRepository {
	return &ReportRepo{}
}

var ErrReportNotFound = errors.New("report not found")

const reportColumns = `
	id, rider_id, route_id, type, latitude, longitude, description,
	confirmations, is_active, created_at, expires_at, resolved_at`

func scanReport(row pgx.Row) (*report.Report, error) {
	var r report.Report
	var typ string
	err := row.Scan(
		&r.ID, &r.RiderID, &r.RouteID, &typ, &r.Latitude, &r.Longitude, &r.Description,
		&r.Confirmations, &r.IsActive, &r.CreatedAt, &r.ExpiresAt, &r.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Type = report.Type(typ)
	return &r, nil
}

// Create inserts an active report.
func (repo *ReportRepo) Create(ctx context.Context, r *report.Report) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO reports (rider_id, route_id, type, latitude, longitude, description, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`,
		r.RiderID, r.RouteID, string(r.Type), r.Latitude, r.Longitude, r.Description, r.ExpiresAt,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// GetByID fetches a report by primary key.
func (repo *ReportRepo) GetByID(ctx context.Context, id string) (*report.Report, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	r, err := scanReport(tx.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReportNotFound
		}
		return nil, fmt.Errorf("get report: %w", err)
	}
	return r, nil
}

// IncrementConfirmations bumps the counter and returns the new value.
func (repo *ReportRepo) IncrementConfirmations(ctx context.Context, id string) (int, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return 0, err
	}

	var n int
	err = tx.QueryRow(ctx, `
		UPDATE reports SET confirmations = confirmations + 1
		WHERE id = $1 AND is_active
		RETURNING confirmations
	`, id).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, report.ErrAlreadyClosed
		}
		return 0, fmt.Errorf("increment confirmations: %w", err)
	}
	return n, nil
}

// Resolve deactivates the report and stamps the resolution time.
func (repo *ReportRepo) Resolve(ctx context.Context, id string, at time.Time) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE reports SET is_active = FALSE, resolved_at = $2
		WHERE id = $1 AND is_active
	`, id, at)
	if err != nil {
		return fmt.Errorf("resolve report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return report.ErrAlreadyClosed
	}
	return nil
}

// ListLive returns unexpired active reports, newest first.
func (repo *ReportRepo) ListLive(ctx context.Context, at time.Time) ([]*report.Report, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT `+reportColumns+`
		FROM reports
		WHERE is_active AND expires_at > $1
		ORDER BY created_at DESC
	`, at)
	if err != nil {
		return nil, fmt.Errorf("list live reports: %w", err)
	}
	defer rows.Close()

	var out []*report.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetActiveCongestionByRider returns the rider's newest live congestion
// report, or nil when none exists.
func (repo *ReportRepo) GetActiveCongestionByRider(ctx context.Context, riderID string, at time.Time) (*report.Report, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	r, err := scanReport(tx.QueryRow(ctx, `
		SELECT `+reportColumns+`
		FROM reports
		WHERE rider_id = $1 AND type = 'CONGESTION' AND is_active AND expires_at > $2
		ORDER BY created_at DESC
		LIMIT 1
	`, riderID, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get congestion report: %w", err)
	}
	return r, nil
}
