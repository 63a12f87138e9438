package audit

import (
	"context"
	"database/sql"
)

// Repository persists Events to the query_audit_log table. A nil
// *Repository is not valid; callers that want audit logging disabled
// should simply not construct one and guard the call site.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps an already-opened *sql.DB (the pgx stdlib
// driver, registered via its blank import in cmd/dnser).
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Record inserts a single completed-query event.
func (r *Repository) Record(ctx context.Context, ev Event) error {
	const query = `INSERT INTO query_audit_log
		(correlation_id, name, qtype, result_code, mode, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, query,
		ev.CorrelationID, ev.Name, ev.QType, ev.ResultCode, ev.Mode, ev.DurationMS, ev.CreatedAt)
	return err
}

// Recent returns the most recently recorded events, newest first.
func (r *Repository) Recent(ctx context.Context, limit int) ([]Event, error) {
	const query = `SELECT correlation_id, name, qtype, result_code, mode, duration_ms, created_at
		FROM query_audit_log ORDER BY created_at DESC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.CorrelationID, &ev.Name, &ev.QType, &ev.ResultCode, &ev.Mode, &ev.DurationMS, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Ping verifies connectivity to the audit database.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
