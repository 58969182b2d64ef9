package lease

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	EventLeaseAcquired        = "LEASE_ACQUIRED"
	EventLeaseExtended        = "LEASE_EXTENDED"
	EventLeaseReleased        = "LEASE_RELEASED"
	EventLeaseSessionReleased = "LEASE_SESSION_RELEASED"
	EventLeaseSwept           = "LEASE_SWEPT"
)

// Event is an audit-log row. patient_id travels in the payload: it exists
// for audit context only and plays no part in conflict checks.
type Event struct {
	EventType string
	TenantID  string
	LeaseID   string
	SessionID string
	Payload   []byte
	CreatedAt time.Time
}

// Recorder persists audit events. Recording is best-effort everywhere it is
// called: a failed insert never fails the lease operation it describes.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// PgRecorder appends events to the lease_events table:
//
//	CREATE TABLE lease_events (
//	    id         BIGSERIAL PRIMARY KEY,
//	    event_type TEXT NOT NULL,
//	    tenant_id  TEXT NOT NULL,
//	    lease_id   TEXT,
//	    session_id TEXT,
//	    payload    JSONB,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PgRecorder struct {
	pool *pgxpool.Pool
}

func NewPgRecorder(pool *pgxpool.Pool) *PgRecorder {
	return &PgRecorder{pool: pool}
}

func (r *PgRecorder) Record(ctx context.Context, ev Event) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO lease_events (event_type, tenant_id, lease_id, session_id, payload, created_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6)
	`, ev.EventType, ev.TenantID, ev.LeaseID, ev.SessionID, ev.Payload, ev.CreatedAt)
	return err
}

// NoopRecorder is used when no Postgres DSN is configured.
type NoopRecorder struct{}

func (NoopRecorder) Record(context.Context, Event) error { return nil }
