package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/carebloc/slot-lease-service/internal/lease"
)

func acquireLeaseHandler(svc *lease.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AcquireLeaseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		if req.OwnerUserID == "" {
			writeError(w, http.StatusBadRequest, "missing_owner", "owner_user_id is required")
			return
		}
		if req.SessionID == "" {
			writeError(w, http.StatusBadRequest, "missing_session", "session_id is required")
			return
		}

		l, err := svc.Acquire(r.Context(), lease.AcquireInput{
			TenantID:    GetTenantID(r.Context()),
			OwnerUserID: req.OwnerUserID,
			ClinicID:    req.ClinicID,
			SlotStart:   req.SlotStart,
			SlotEnd:     req.SlotEnd,
			SessionID:   req.SessionID,
			PatientID:   req.PatientID,
		})
		if err != nil {
			handleLeaseError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, LeaseResponse{
			LeaseID:   l.ID,
			ExpiresAt: l.ExpiresAt,
		})
	}
}

func extendLeaseHandler(svc *lease.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.SessionID == "" {
			writeError(w, http.StatusBadRequest, "missing_session", "session_id is required")
			return
		}

		leaseID := chi.URLParam(r, "id")
		expiresAt, err := svc.Extend(r.Context(), GetTenantID(r.Context()), leaseID, req.SessionID)
		if err != nil {
			handleLeaseError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, LeaseResponse{
			LeaseID:   leaseID,
			ExpiresAt: expiresAt,
		})
	}
}

func releaseLeaseHandler(svc *lease.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.SessionID == "" {
			writeError(w, http.StatusBadRequest, "missing_session", "session_id is required")
			return
		}

		leaseID := chi.URLParam(r, "id")
		if err := svc.Release(r.Context(), GetTenantID(r.Context()), leaseID, req.SessionID); err != nil {
			handleLeaseError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, ReleasedResponse{Released: true})
	}
}

func releaseSessionHandler(svc *lease.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")

		released, err := svc.ReleaseSession(r.Context(), GetTenantID(r.Context()), sessionID)
		if err != nil {
			handleLeaseError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, SessionReleasedResponse{Released: released})
	}
}

func handleLeaseError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lease.ErrInvalidSlotRange):
		writeError(w, http.StatusBadRequest, "invalid_slot_range", err.Error())
	case errors.Is(err, lease.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", "slot is held by another booking session")
	case errors.Is(err, lease.ErrLeaseExpired):
		writeError(w, http.StatusGone, "lease_expired", "lease is no longer live")
	case errors.Is(err, lease.ErrUnauthorized):
		// Same advice as expiry on purpose: the true owner is not disclosed.
		writeError(w, http.StatusForbidden, "not_lease_owner", "lease is not held by this session")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
