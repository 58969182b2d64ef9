package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/carebloc/slot-lease-service/internal/api"
	"github.com/carebloc/slot-lease-service/internal/lease"
)

// End-to-end over HTTP: real router, real service, in-memory store.
func newClientPair(t *testing.T) (*Client, *Client) {
	t.Helper()
	svc := lease.NewService(lease.NewMemoryStore(), lease.NoopRecorder{}, 5*time.Minute)
	srv := httptest.NewServer(api.NewRouter(api.RouterConfig{Service: svc, Env: "test", Version: "test"}))
	t.Cleanup(srv.Close)
	return New(srv.URL, "tenant-1"), New(srv.URL, "tenant-2")
}

func TestClientRoundTrip(t *testing.T) {
	c, _ := newClientPair(t)
	ctx := context.Background()
	slot := Slot{OwnerUserID: "dr-a", ClinicID: "clinic-1", Start: 1000, End: 1300, PatientID: "pat-1"}

	grant, err := c.Acquire(ctx, slot, "s1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if grant.LeaseID == "" || grant.ExpiresAt == 0 {
		t.Fatalf("incomplete grant: %+v", grant)
	}

	if _, err := c.Acquire(ctx, Slot{OwnerUserID: "dr-a", ClinicID: "clinic-1", Start: 1100, End: 1400}, "s2"); !errors.Is(err, lease.ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}

	expiresAt, err := c.Extend(ctx, grant.LeaseID, "s1")
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if expiresAt < grant.ExpiresAt {
		t.Fatalf("extend moved expiry backwards: %d -> %d", grant.ExpiresAt, expiresAt)
	}

	if _, err := c.Extend(ctx, grant.LeaseID, "s2"); !errors.Is(err, lease.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := c.Extend(ctx, "no-such-lease", "s1"); !errors.Is(err, lease.ErrLeaseExpired) {
		t.Fatalf("expected ErrLeaseExpired, got %v", err)
	}

	if err := c.Release(ctx, grant.LeaseID, "s1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := c.Release(ctx, grant.LeaseID, "s1"); err != nil {
		t.Fatalf("repeated release: %v", err)
	}

	if err := c.ReleaseSession(ctx, "s1"); err != nil {
		t.Fatalf("release session: %v", err)
	}
}

func TestClientTenantIsolation(t *testing.T) {
	c1, c2 := newClientPair(t)
	ctx := context.Background()
	slot := Slot{OwnerUserID: "dr-a", Start: 1000, End: 1300}

	if _, err := c1.Acquire(ctx, slot, "s1"); err != nil {
		t.Fatalf("tenant-1 acquire: %v", err)
	}
	// Identical owner and range, different tenant: no conflict.
	if _, err := c2.Acquire(ctx, slot, "s2"); err != nil {
		t.Fatalf("tenant-2 acquire: %v", err)
	}
}

func TestAgentOverHTTP(t *testing.T) {
	c, _ := newClientPair(t)

	agent := NewAgent(c, "s1", WithRenewInterval(25*time.Millisecond))
	defer agent.Close()

	grant, err := agent.Select(context.Background(), Slot{OwnerUserID: "dr-a", Start: 1000, End: 1300})
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	waitFor(t, func() bool {
		held, ok := agent.Held()
		return ok && held.LeaseID == grant.LeaseID
	}, "held grant")

	agent.Complete(context.Background())
	if _, ok := agent.Held(); ok {
		t.Fatal("agent should be empty after completion")
	}
}
