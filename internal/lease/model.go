package lease

import (
	"net/url"
	"time"
)

// Lease is a short-lived, renewable reservation on a provider time slot.
// It is advisory: it guards the interactive booking window only, and the
// appointment-creation mutation still performs its own authoritative
// conflict check at commit time.
type Lease struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	OwnerUserID string `json:"owner_user_id"`
	ClinicID    string `json:"clinic_id,omitempty"`
	SlotStart   int64  `json:"slot_start"`
	SlotEnd     int64  `json:"slot_end"`
	SessionID   string `json:"session_id"`
	PatientID   string `json:"patient_id,omitempty"`
	ExpiresAt   int64  `json:"expires_at"`
}

// OwnerKey is the contention domain: leases only conflict when they share
// it. The clinic component is empty when the slot is not clinic-scoped.
func (l *Lease) OwnerKey() string {
	return OwnerKey(l.OwnerUserID, l.ClinicID)
}

// OwnerKey builds the contention-domain key for an owner/clinic pair. Both
// components are URL-escaped so ids containing the separator (or any other
// delimiter a backing store uses) cannot collide with a different pair.
func OwnerKey(ownerUserID, clinicID string) string {
	return url.QueryEscape(ownerUserID) + "/" + url.QueryEscape(clinicID)
}

// Live reports whether the lease still blocks conflicting acquisitions.
// Expired leases are inert but may linger in storage until swept.
func (l *Lease) Live(now time.Time) bool {
	return now.Unix() < l.ExpiresAt
}

// Overlaps reports half-open interval overlap with [start, end).
func (l *Lease) Overlaps(start, end int64) bool {
	return l.SlotStart < end && start < l.SlotEnd
}
