package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/carebloc/slot-lease-service/internal/lease"
)

// fakeAPI is an in-process stand-in for the lease service, just enough
// state to observe what the agent does.
type fakeAPI struct {
	mu           sync.Mutex
	nextID       int
	leases       map[string]string // lease id -> session id
	released     []string
	sessionSwept bool
	extendErr    error
	extends      int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{leases: make(map[string]string)}
}

func (f *fakeAPI) Acquire(_ context.Context, _ Slot, sessionID string) (Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := string(rune('a' + f.nextID - 1))
	f.leases[id] = sessionID
	return Grant{LeaseID: id, ExpiresAt: time.Now().Add(5 * time.Minute).Unix()}, nil
}

func (f *fakeAPI) Extend(_ context.Context, leaseID, sessionID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extends++
	if f.extendErr != nil {
		return 0, f.extendErr
	}
	if f.leases[leaseID] != sessionID {
		return 0, lease.ErrLeaseExpired
	}
	return time.Now().Add(5 * time.Minute).Unix(), nil
}

func (f *fakeAPI) Release(_ context.Context, leaseID, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leases[leaseID] == sessionID {
		delete(f.leases, leaseID)
	}
	f.released = append(f.released, leaseID)
	return nil
}

func (f *fakeAPI) ReleaseSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, s := range f.leases {
		if s == sessionID {
			delete(f.leases, id)
		}
	}
	f.sessionSwept = true
	return nil
}

func (f *fakeAPI) setExtendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extendErr = err
}

func (f *fakeAPI) extendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.extends
}

func (f *fakeAPI) releasedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.released...)
}

func (f *fakeAPI) swept() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionSwept
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testSlot() Slot {
	return Slot{OwnerUserID: "dr-a", Start: 1000, End: 1300}
}

func TestAgentSelectAcquiresAndRenews(t *testing.T) {
	api := newFakeAPI()
	agent := NewAgent(api, "s1", WithRenewInterval(20*time.Millisecond))
	defer agent.Close()

	grant, err := agent.Select(context.Background(), testSlot())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if grant.LeaseID == "" {
		t.Fatal("missing lease id")
	}

	// The renewal timer keeps firing without any further calls.
	waitFor(t, func() bool { return api.extendCount() >= 2 }, "two renewals")

	held, ok := agent.Held()
	if !ok || held.LeaseID != grant.LeaseID {
		t.Fatalf("agent should still hold %s", grant.LeaseID)
	}
}

func TestAgentReselectReleasesPreviousLease(t *testing.T) {
	api := newFakeAPI()
	agent := NewAgent(api, "s1", WithRenewInterval(time.Hour))
	defer agent.Close()

	first, err := agent.Select(context.Background(), testSlot())
	if err != nil {
		t.Fatalf("first select: %v", err)
	}
	second, err := agent.Select(context.Background(), Slot{OwnerUserID: "dr-b", Start: 2000, End: 2300})
	if err != nil {
		t.Fatalf("second select: %v", err)
	}
	if first.LeaseID == second.LeaseID {
		t.Fatal("expected a fresh lease")
	}

	released := api.releasedIDs()
	if len(released) != 1 || released[0] != first.LeaseID {
		t.Fatalf("released = %v, want [%s]", released, first.LeaseID)
	}
}

func TestAgentConflictIsSurfacedNotRetried(t *testing.T) {
	api := newFakeAPI()
	agent := NewAgent(api, "s1", WithRenewInterval(time.Hour))
	defer agent.Close()

	blockedAPI := &conflictAPI{fakeAPI: api}
	blocked := NewAgent(blockedAPI, "s2", WithRenewInterval(time.Hour))
	defer blocked.Close()

	if _, err := blocked.Select(context.Background(), testSlot()); !errors.Is(err, lease.ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}
	if _, ok := blocked.Held(); ok {
		t.Fatal("agent must not hold anything after a conflict")
	}
	if n := blockedAPI.acquires; n != 1 {
		t.Fatalf("acquire attempts = %d, want 1 (no auto-retry)", n)
	}
}

type conflictAPI struct {
	*fakeAPI
	acquires int
}

func (c *conflictAPI) Acquire(context.Context, Slot, string) (Grant, error) {
	c.acquires++
	return Grant{}, lease.ErrSlotConflict
}

func TestAgentExtendFailureTriggersLossHandler(t *testing.T) {
	api := newFakeAPI()

	lostCh := make(chan string, 4)
	agent := NewAgent(api, "s1",
		WithRenewInterval(20*time.Millisecond),
		WithLeaseLostHandler(func(id string) { lostCh <- id }),
	)
	defer agent.Close()

	grant, err := agent.Select(context.Background(), testSlot())
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	api.setExtendErr(lease.ErrLeaseExpired)

	select {
	case id := <-lostCh:
		if id != grant.LeaseID {
			t.Fatalf("lost lease = %s, want %s", id, grant.LeaseID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loss handler never invoked")
	}

	if _, ok := agent.Held(); ok {
		t.Fatal("agent must clear the lease after loss")
	}

	// The renewal timer stopped with the loss: no further extend attempts.
	n := api.extendCount()
	time.Sleep(100 * time.Millisecond)
	if api.extendCount() != n {
		t.Fatal("renewal loop still running after loss")
	}

	select {
	case <-lostCh:
		t.Fatal("loss handler fired more than once")
	default:
	}
}

func TestAgentLossCancelsRenewalContext(t *testing.T) {
	api := newFakeAPI()
	agent := NewAgent(api, "s1",
		WithRenewInterval(20*time.Millisecond),
		WithLeaseLostHandler(func(string) {}),
	)
	defer agent.Close()

	if _, err := agent.Select(context.Background(), testSlot()); err != nil {
		t.Fatalf("select: %v", err)
	}
	agent.mu.Lock()
	ctx := agent.renewCtx
	agent.mu.Unlock()

	api.setExtendErr(lease.ErrLeaseExpired)

	// Loss must cancel the renewal context, not just drop the cancel func.
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("renewal context not canceled after lease loss")
	}
}

func TestAgentCompleteReleasesAndStops(t *testing.T) {
	api := newFakeAPI()
	agent := NewAgent(api, "s1", WithRenewInterval(20*time.Millisecond))
	defer agent.Close()

	grant, err := agent.Select(context.Background(), testSlot())
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	agent.Complete(context.Background())

	if _, ok := agent.Held(); ok {
		t.Fatal("agent must clear the lease on completion")
	}
	released := api.releasedIDs()
	if len(released) != 1 || released[0] != grant.LeaseID {
		t.Fatalf("released = %v, want [%s]", released, grant.LeaseID)
	}

	n := api.extendCount()
	time.Sleep(100 * time.Millisecond)
	if api.extendCount() != n {
		t.Fatal("renewal loop still running after completion")
	}

	// Completing again is harmless.
	agent.Complete(context.Background())
}

func TestAgentCloseSweepsSession(t *testing.T) {
	api := newFakeAPI()
	agent := NewAgent(api, "s1", WithRenewInterval(time.Hour))

	if _, err := agent.Select(context.Background(), testSlot()); err != nil {
		t.Fatalf("select: %v", err)
	}

	agent.Close()

	if !api.swept() {
		t.Fatal("Close must fire a session-wide release")
	}
	if _, ok := agent.Held(); ok {
		t.Fatal("agent must clear state on Close")
	}
}
