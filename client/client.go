// Package client holds the booking-side half of the slot lease protocol:
// an HTTP client for the four lease operations and the keep-alive agent
// that drives them during an interactive booking flow.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/carebloc/slot-lease-service/internal/lease"
)

// Slot identifies the provider time range being reserved.
type Slot struct {
	OwnerUserID string
	ClinicID    string
	Start       int64
	End         int64
	PatientID   string
}

// Grant is the server's handle on a successful acquisition.
type Grant struct {
	LeaseID   string
	ExpiresAt int64
}

// API is the lease operation surface the Agent drives. Client implements it
// over HTTP; tests and in-process deployments substitute their own.
type API interface {
	Acquire(ctx context.Context, slot Slot, sessionID string) (Grant, error)
	Extend(ctx context.Context, leaseID, sessionID string) (int64, error)
	Release(ctx context.Context, leaseID, sessionID string) error
	ReleaseSession(ctx context.Context, sessionID string) error
}

// Client talks to the lease service for a single tenant.
type Client struct {
	baseURL  string
	tenantID string
	httpc    *http.Client
}

func New(baseURL, tenantID string) *Client {
	return &Client{
		baseURL:  baseURL,
		tenantID: tenantID,
		httpc:    &http.Client{Timeout: 10 * time.Second},
	}
}

type acquireRequest struct {
	OwnerUserID string `json:"owner_user_id"`
	ClinicID    string `json:"clinic_id,omitempty"`
	SlotStart   int64  `json:"slot_start"`
	SlotEnd     int64  `json:"slot_end"`
	SessionID   string `json:"session_id"`
	PatientID   string `json:"patient_id,omitempty"`
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

type leaseResponse struct {
	LeaseID   string `json:"lease_id"`
	ExpiresAt int64  `json:"expires_at"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (c *Client) Acquire(ctx context.Context, slot Slot, sessionID string) (Grant, error) {
	var resp leaseResponse
	err := c.post(ctx, "/v1/leases", sessionID, acquireRequest{
		OwnerUserID: slot.OwnerUserID,
		ClinicID:    slot.ClinicID,
		SlotStart:   slot.Start,
		SlotEnd:     slot.End,
		SessionID:   sessionID,
		PatientID:   slot.PatientID,
	}, &resp)
	if err != nil {
		return Grant{}, err
	}
	return Grant{LeaseID: resp.LeaseID, ExpiresAt: resp.ExpiresAt}, nil
}

func (c *Client) Extend(ctx context.Context, leaseID, sessionID string) (int64, error) {
	var resp leaseResponse
	err := c.post(ctx, "/v1/leases/"+leaseID+"/extend", sessionID, sessionRequest{SessionID: sessionID}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.ExpiresAt, nil
}

func (c *Client) Release(ctx context.Context, leaseID, sessionID string) error {
	return c.post(ctx, "/v1/leases/"+leaseID+"/release", sessionID, sessionRequest{SessionID: sessionID}, nil)
}

func (c *Client) ReleaseSession(ctx context.Context, sessionID string) error {
	return c.post(ctx, "/v1/sessions/"+sessionID+"/release", sessionID, struct{}{}, nil)
}

func (c *Client) post(ctx context.Context, path, sessionID string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", c.tenantID)
	req.Header.Set("X-Session-ID", sessionID)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("call lease service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// decodeError maps the server's error codes back onto the protocol
// sentinels so callers can use errors.Is on either side of the wire.
func decodeError(resp *http.Response) error {
	var body errorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(data, &body)

	switch body.Error {
	case "slot_conflict":
		return lease.ErrSlotConflict
	case "lease_expired":
		return lease.ErrLeaseExpired
	case "not_lease_owner":
		return lease.ErrUnauthorized
	case "invalid_slot_range":
		return lease.ErrInvalidSlotRange
	}
	return fmt.Errorf("lease service returned %d: %s %s", resp.StatusCode, body.Error, body.Details)
}
