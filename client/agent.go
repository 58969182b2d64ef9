package client

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/carebloc/slot-lease-service/internal/lease"
)

// Protocol sentinels re-exported for callers matching with errors.Is
// outside this module, where internal/lease is not importable.
var (
	ErrSlotConflict  = lease.ErrSlotConflict
	ErrLeaseExpired  = lease.ErrLeaseExpired
	ErrNotLeaseOwner = lease.ErrUnauthorized
)

// DefaultRenewInterval is 40% of the default lease TTL: a lease survives
// two missed heartbeats before expiring naturally.
const DefaultRenewInterval = 2 * time.Minute

// Agent keeps at most one slot lease alive for one booking session. It
// acquires on Select, renews on a fixed interval in a background goroutine,
// and releases on Complete, Cancel or Close. The renewal cadence is not
// tied to user activity; only a successful server response re-arms it, and
// a failed renewal means the selection is lost.
//
// All public methods are safe for concurrent use, but the agent issues at
// most one protocol call at a time.
type Agent struct {
	api       API
	sessionID string
	interval  time.Duration

	// onLost is invoked (outside the agent lock, once per loss) when a
	// renewal fails and the holder must re-select before booking.
	onLost func(leaseID string)

	mu        sync.Mutex
	held      *Grant
	renewCtx  context.Context
	stopRenew context.CancelFunc
}

type AgentOption func(*Agent)

// WithRenewInterval overrides the renewal cadence.
func WithRenewInterval(d time.Duration) AgentOption {
	return func(a *Agent) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithLeaseLostHandler installs the "lock expired" notification consumed by
// the booking UI to force re-selection.
func WithLeaseLostHandler(fn func(leaseID string)) AgentOption {
	return func(a *Agent) { a.onLost = fn }
}

func NewAgent(api API, sessionID string, opts ...AgentOption) *Agent {
	a := &Agent{
		api:       api,
		sessionID: sessionID,
		interval:  DefaultRenewInterval,
		onLost:    func(string) {},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Held returns the currently held grant, if any.
func (a *Agent) Held() (Grant, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.held == nil {
		return Grant{}, false
	}
	return *a.held, true
}

// Select reserves a new candidate slot. Any previously held lease is
// released best-effort first: picking a new slot abandons the old one.
// A conflict comes back as ErrSlotConflict and is not retried here; the
// user picks a different slot instead.
func (a *Agent) Select(ctx context.Context, slot Slot) (Grant, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.held != nil {
		prev := a.held.LeaseID
		a.stopRenewLocked()
		a.held = nil
		if err := a.api.Release(ctx, prev, a.sessionID); err != nil {
			log.Printf("release previous lease %s: %v", prev, err)
		}
	}

	grant, err := a.api.Acquire(ctx, slot, a.sessionID)
	if err != nil {
		return Grant{}, err
	}

	a.held = &grant
	a.startRenewLocked(grant.LeaseID)
	return grant, nil
}

// Complete releases the lease after a confirmed booking. Release failures
// are logged and swallowed: the lease dies by TTL anyway and the booking
// itself has already been validated downstream.
func (a *Agent) Complete(ctx context.Context) {
	a.releaseHeld(ctx)
}

// Cancel releases the lease after an abandoned flow.
func (a *Agent) Cancel(ctx context.Context) {
	a.releaseHeld(ctx)
}

func (a *Agent) releaseHeld(ctx context.Context) {
	a.mu.Lock()
	if a.held == nil {
		a.mu.Unlock()
		return
	}
	id := a.held.LeaseID
	a.stopRenewLocked()
	a.held = nil
	a.mu.Unlock()

	if err := a.api.Release(ctx, id, a.sessionID); err != nil {
		log.Printf("release lease %s: %v", id, err)
	}
}

// Close tears the agent down: the renewal loop stops and every lease the
// session still holds server-side is swept in one call. Errors are
// swallowed, there is nobody left to act on them; store TTL is the
// backstop if this call never lands.
func (a *Agent) Close() {
	a.mu.Lock()
	a.stopRenewLocked()
	a.held = nil
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := a.api.ReleaseSession(ctx, a.sessionID); err != nil {
		log.Printf("release session %s: %v", a.sessionID, err)
	}
}

// startRenewLocked arms the renewal ticker for the given lease. Expects
// a.mu held.
func (a *Agent) startRenewLocked(leaseID string) {
	ctx, cancel := context.WithCancel(context.Background())
	a.renewCtx = ctx
	a.stopRenew = cancel

	go func() {
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				expiresAt, err := a.api.Extend(ctx, leaseID, a.sessionID)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					a.handleLoss(leaseID, err)
					return
				}
				a.setExpiry(leaseID, expiresAt)
			}
		}
	}()
}

// stopRenewLocked cancels the renewal goroutine. A goroutine mid-Extend
// sees the canceled context and exits without invoking the loss handler.
// Expects a.mu held.
func (a *Agent) stopRenewLocked() {
	if a.stopRenew == nil {
		return
	}
	a.stopRenew()
	a.stopRenew = nil
}

func (a *Agent) setExpiry(leaseID string, expiresAt int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.held != nil && a.held.LeaseID == leaseID {
		a.held.ExpiresAt = expiresAt
	}
}

func (a *Agent) handleLoss(leaseID string, err error) {
	a.mu.Lock()
	if a.held == nil || a.held.LeaseID != leaseID {
		a.mu.Unlock()
		return
	}
	a.held = nil
	a.stopRenewLocked()
	a.mu.Unlock()

	log.Printf("lease %s lost: %v", leaseID, err)
	a.onLost(leaseID)
}
