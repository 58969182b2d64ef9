package api

type AcquireLeaseRequest struct {
	OwnerUserID string `json:"owner_user_id"`
	ClinicID    string `json:"clinic_id,omitempty"`
	SlotStart   int64  `json:"slot_start"`
	SlotEnd     int64  `json:"slot_end"`
	SessionID   string `json:"session_id"`
	PatientID   string `json:"patient_id,omitempty"`
}

type LeaseResponse struct {
	LeaseID   string `json:"lease_id"`
	ExpiresAt int64  `json:"expires_at"`
}

type SessionRequest struct {
	SessionID string `json:"session_id"`
}

type ReleasedResponse struct {
	Released bool `json:"released"`
}

type SessionReleasedResponse struct {
	Released int `json:"released"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
