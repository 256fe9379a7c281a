package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"transit-pulse/internal/domain/trace"
	"transit-pulse/internal/ports"
)

// TraceRepo persists rider GPS traces; sample sequences live in JSONB.
type TraceRepo struct{}

// NewTraceRepo constructs a new TraceRepo.
func NewTraceRepo() ports.TraceRepository {
	return &TraceRepo{}
}

// Create inserts a pending trace.
func (repo *TraceRepo) Create(ctx context.Context, t *trace.RouteTrace) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	points, err := json.Marshal(t.Points)
	if err != nil {
		return fmt.Errorf("encode trace points: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO route_traces (route_id, rider_id, points, started_at, ended_at, sample_count, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`,
		t.RouteID, t.RiderID, points, t.StartedAt, t.EndedAt, t.SampleCount, string(t.Status),
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert trace: %w", err)
	}
	return nil
}

// CountPending counts the route's unconsumed traces.
func (repo *TraceRepo) CountPending(ctx context.Context, routeID string) (int, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return 0, err
	}

	var n int
	err = tx.QueryRow(ctx, `
		SELECT count(*) FROM route_traces WHERE route_id = $1 AND status = 'PENDING'
	`, routeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending traces: %w", err)
	}
	return n, nil
}

// ClaimPending locks the route's pending traces in creation order. The row
// locks hold until the surrounding transaction commits, so two consensus
// runs for the same route serialize: the later run sees the first run's
// status update and claims nothing.
func (repo *TraceRepo) ClaimPending(ctx context.Context, routeID string) ([]*trace.RouteTrace, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT id, route_id, rider_id, points, started_at, ended_at, sample_count, status, created_at
		FROM route_traces
		WHERE route_id = $1 AND status = 'PENDING'
		ORDER BY created_at
		FOR UPDATE
	`, routeID)
	if err != nil {
		return nil, fmt.Errorf("claim pending traces: %w", err)
	}
	defer rows.Close()

	var out []*trace.RouteTrace
	for rows.Next() {
		var t trace.RouteTrace
		var points []byte
		var status string
		if err := rows.Scan(&t.ID, &t.RouteID, &t.RiderID, &points, &t.StartedAt, &t.EndedAt, &t.SampleCount, &status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		if err := json.Unmarshal(points, &t.Points); err != nil {
			return nil, fmt.Errorf("decode trace points: %w", err)
		}
		t.Status = trace.Status(status)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// SetStatus transitions the given traces to a new status.
func (repo *TraceRepo) SetStatus(ctx context.Context, ids []string, status trace.Status) error {
	if len(ids) == 0 {
		return nil
	}
	if !status.Valid() {
		return fmt.Errorf("invalid trace status %q", status)
	}

	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE route_traces SET status = $2 WHERE id = ANY($1)
	`, ids, string(status))
	if err != nil {
		return fmt.Errorf("set trace status: %w", err)
	}
	return nil
}
