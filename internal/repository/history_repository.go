// Package repository provides PostgreSQL persistence for the dispatch
// service's audit trail.
//
// Live request state lives in the in-memory store; this package only appends
// transition history and archives terminal requests so completed transports
// remain queryable after a restart. History writes are best-effort: a failed
// insert is logged by the caller and never fails a dispatch operation.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiva/ambutrack/internal/model"
)

// HistoryRepository appends to request_transitions and request_archive.
type HistoryRepository struct {
	pool *pgxpool.Pool
}

// NewHistoryRepository creates a new repository backed by the given PG pool.
func NewHistoryRepository(pool *pgxpool.Pool) *HistoryRepository {
	return &HistoryRepository{pool: pool}
}

// Transition is one audit row: a committed lifecycle event.
type Transition struct {
	ID         int64               `json:"id"`
	RequestID  string              `json:"request_id"`
	Event      string              `json:"event"`
	FromStatus model.RequestStatus `json:"from_status"`
	ToStatus   model.RequestStatus `json:"to_status"`
	EtaMinutes int                 `json:"eta_minutes"`
	Version    int64               `json:"version"`
	OccurredAt time.Time           `json:"occurred_at"`
}

// RecordTransition appends one audit row for a committed transition.
func (r *HistoryRepository) RecordTransition(
	ctx context.Context,
	req model.EmergencyRequest,
	event string,
	from model.RequestStatus,
) error {
	query := `
		INSERT INTO request_transitions (
			request_id, requester_id, event,
			from_status, to_status, eta_minutes, version, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		req.ID, req.RequesterID, event,
		from, req.Status, req.EtaMinutes, req.Version, req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("record transition %s for %s: %w", event, req.ID, err)
	}
	return nil
}

// ArchiveRequest upserts the terminal snapshot of a completed request.
// Called once per request when it reaches the completed state.
func (r *HistoryRepository) ArchiveRequest(ctx context.Context, req model.EmergencyRequest) error {
	query := `
		INSERT INTO request_archive (
			id, requester_id, location, contact, details, priority,
			status, initial_eta_minutes, cancelled, cancelled_at,
			created_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			cancelled = EXCLUDED.cancelled,
			cancelled_at = EXCLUDED.cancelled_at,
			completed_at = EXCLUDED.completed_at
	`
	_, err := r.pool.Exec(ctx, query,
		req.ID, req.RequesterID, req.Location, req.Contact, req.Details, req.Priority,
		req.Status, req.InitialEtaMinutes, req.Cancelled, req.CancelledAt,
		req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("archive request %s: %w", req.ID, err)
	}
	return nil
}

// ListTransitions returns the audit trail for one request, oldest first.
func (r *HistoryRepository) ListTransitions(ctx context.Context, requestID string) ([]Transition, error) {
	query := `
		SELECT id, request_id, event, from_status, to_status,
		       eta_minutes, version, occurred_at
		FROM request_transitions
		WHERE request_id = $1
		ORDER BY version ASC
	`
	rows, err := r.pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("list transitions for %s: %w", requestID, err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var tr Transition
		if err := rows.Scan(
			&tr.ID, &tr.RequestID, &tr.Event, &tr.FromStatus, &tr.ToStatus,
			&tr.EtaMinutes, &tr.Version, &tr.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}
