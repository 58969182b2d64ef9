package lease

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long a lease stays live without renewal. Clients renew
// at 40% of it, leaving two missed heartbeats of margin before expiry.
const DefaultTTL = 5 * time.Minute

// AcquireInput carries everything Acquire needs. TenantID, OwnerUserID,
// SlotStart, SlotEnd and SessionID are required; ClinicID scopes the
// conflict key when present and PatientID is audit context only.
type AcquireInput struct {
	TenantID    string
	OwnerUserID string
	ClinicID    string
	SlotStart   int64
	SlotEnd     int64
	SessionID   string
	PatientID   string
}

// Service implements the lease protocol on top of a Store. Expiry is lazy:
// nothing here runs timers per lease, conflict checks simply ignore dead
// entries and the sweeper reclaims them later.
type Service struct {
	store Store
	audit Recorder
	ttl   time.Duration
	now   func() time.Time
}

func NewService(store Store, audit Recorder, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if audit == nil {
		audit = NoopRecorder{}
	}
	return &Service{
		store: store,
		audit: audit,
		ttl:   ttl,
		now:   time.Now,
	}
}

// TTL returns the configured lease lifetime.
func (s *Service) TTL() time.Duration { return s.ttl }

// Acquire reserves [SlotStart, SlotEnd) for the caller's session unless a
// live lease from another session overlaps it. A session holds at most one
// lease: any other lease the session still holds is released server-side
// once the new one is in place, so a buggy client cannot hoard slots.
func (s *Service) Acquire(ctx context.Context, in AcquireInput) (*Lease, error) {
	if in.SlotStart >= in.SlotEnd {
		return nil, ErrInvalidSlotRange
	}

	l := &Lease{
		ID:          uuid.NewString(),
		TenantID:    in.TenantID,
		OwnerUserID: in.OwnerUserID,
		ClinicID:    in.ClinicID,
		SlotStart:   in.SlotStart,
		SlotEnd:     in.SlotEnd,
		SessionID:   in.SessionID,
		PatientID:   in.PatientID,
		ExpiresAt:   s.now().Add(s.ttl).Unix(),
	}

	if err := s.store.Acquire(ctx, l); err != nil {
		return nil, err
	}

	// The session's previous candidate, if any, lives under some other
	// lease id and is abandoned by this acquisition.
	if _, err := s.store.ReleaseSession(ctx, in.TenantID, in.SessionID, l.ID); err != nil {
		log.Printf("release prior lease for session=%s tenant=%s: %v", in.SessionID, in.TenantID, err)
	}

	s.logEvent(ctx, EventLeaseAcquired, l.TenantID, l.ID, l.SessionID, map[string]any{
		"owner_user_id": l.OwnerUserID,
		"clinic_id":     l.ClinicID,
		"slot_start":    l.SlotStart,
		"slot_end":      l.SlotEnd,
		"patient_id":    l.PatientID,
		"expires_at":    l.ExpiresAt,
	})

	return l, nil
}

// Extend refreshes the lease expiry to now + TTL. The refresh is absolute,
// not additive, and never moves an expiry backwards.
func (s *Service) Extend(ctx context.Context, tenantID, leaseID, sessionID string) (int64, error) {
	expiresAt, err := s.store.Extend(ctx, tenantID, leaseID, sessionID, s.now().Add(s.ttl).Unix())
	if err != nil {
		return 0, err
	}

	s.logEvent(ctx, EventLeaseExtended, tenantID, leaseID, sessionID, map[string]any{
		"expires_at": expiresAt,
	})

	return expiresAt, nil
}

// Release drops the lease. Racing against natural expiry or a duplicate
// release is harmless, so a missing lease is a success. A live lease owned
// by a different session is left untouched and reported as ErrUnauthorized.
func (s *Service) Release(ctx context.Context, tenantID, leaseID, sessionID string) error {
	if err := s.store.Release(ctx, tenantID, leaseID, sessionID); err != nil {
		return err
	}

	s.logEvent(ctx, EventLeaseReleased, tenantID, leaseID, sessionID, nil)
	return nil
}

// ReleaseSession drops every live lease the session holds within the
// tenant. Used as the cleanup sweep when a client goes away without a
// targeted Release.
func (s *Service) ReleaseSession(ctx context.Context, tenantID, sessionID string) (int, error) {
	released, err := s.store.ReleaseSession(ctx, tenantID, sessionID, "")
	if err != nil {
		return 0, err
	}

	s.logEvent(ctx, EventLeaseSessionReleased, tenantID, "", sessionID, map[string]any{
		"released": released,
	})

	return released, nil
}

// Sweep purges expired entries from the store. Conflict checks already
// ignore expired leases, so this only reclaims storage.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	purged, err := s.store.PurgeExpired(ctx)
	if err != nil {
		return purged, err
	}
	if purged > 0 {
		s.logEvent(ctx, EventLeaseSwept, "", "", "", map[string]any{
			"purged": purged,
		})
	}
	return purged, nil
}

func (s *Service) logEvent(ctx context.Context, eventType, tenantID, leaseID, sessionID string, payload map[string]any) {
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			log.Printf("failed to marshal audit payload for %s: %v", eventType, err)
			data = nil
		}
	}

	ev := Event{
		EventType: eventType,
		TenantID:  tenantID,
		LeaseID:   leaseID,
		SessionID: sessionID,
		Payload:   data,
		CreatedAt: s.now(),
	}

	if err := s.audit.Record(ctx, ev); err != nil {
		log.Printf("failed to record audit event %s for lease %s: %v", eventType, leaseID, err)
	}
}
