package lease

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a single-process Store used by tests and dev setups
// without Redis. One mutex serializes all mutations, which trivially
// provides the atomicity Acquire requires.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	tenants map[string]*tenantLeases
}

type tenantLeases struct {
	owners   map[string]map[string]*Lease // owner-key -> lease id -> lease
	refs     map[string]string            // lease id -> owner-key
	sessions map[string]map[string]bool   // session id -> lease ids
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:     time.Now,
		tenants: make(map[string]*tenantLeases),
	}
}

func (s *MemoryStore) tenant(id string) *tenantLeases {
	t, ok := s.tenants[id]
	if !ok {
		t = &tenantLeases{
			owners:   make(map[string]map[string]*Lease),
			refs:     make(map[string]string),
			sessions: make(map[string]map[string]bool),
		}
		s.tenants[id] = t
	}
	return t
}

func (s *MemoryStore) Acquire(_ context.Context, l *Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	t := s.tenant(l.TenantID)
	key := l.OwnerKey()

	held := t.owners[key]
	for id, existing := range held {
		if !existing.Live(now) {
			s.drop(t, id)
			continue
		}
		if existing.SessionID != l.SessionID && existing.Overlaps(l.SlotStart, l.SlotEnd) {
			return ErrSlotConflict
		}
	}

	if t.owners[key] == nil {
		t.owners[key] = make(map[string]*Lease)
	}
	cp := *l
	t.owners[key][l.ID] = &cp
	t.refs[l.ID] = key
	if t.sessions[l.SessionID] == nil {
		t.sessions[l.SessionID] = make(map[string]bool)
	}
	t.sessions[l.SessionID][l.ID] = true
	return nil
}

func (s *MemoryStore) Extend(_ context.Context, tenantID, leaseID, sessionID string, expiresAt int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tenant(tenantID)
	l := s.find(t, leaseID)
	if l == nil || !l.Live(s.now()) {
		if l != nil {
			s.drop(t, leaseID)
		}
		return 0, ErrLeaseExpired
	}
	if l.SessionID != sessionID {
		return 0, ErrUnauthorized
	}
	if expiresAt > l.ExpiresAt {
		l.ExpiresAt = expiresAt
	}
	return l.ExpiresAt, nil
}

func (s *MemoryStore) Release(_ context.Context, tenantID, leaseID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tenant(tenantID)
	l := s.find(t, leaseID)
	if l == nil || !l.Live(s.now()) {
		if l != nil {
			s.drop(t, leaseID)
		}
		return nil
	}
	if l.SessionID != sessionID {
		return ErrUnauthorized
	}
	s.drop(t, leaseID)
	return nil
}

func (s *MemoryStore) ReleaseSession(_ context.Context, tenantID, sessionID, exceptLeaseID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tenant(tenantID)
	now := s.now()
	released := 0
	for id := range t.sessions[sessionID] {
		if id == exceptLeaseID {
			continue
		}
		if l := s.find(t, id); l != nil && l.Live(now) {
			released++
		}
		s.drop(t, id)
	}
	return released, nil
}

func (s *MemoryStore) PurgeExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	purged := 0
	for _, t := range s.tenants {
		for _, held := range t.owners {
			for id, l := range held {
				if !l.Live(now) {
					s.drop(t, id)
					purged++
				}
			}
		}
	}
	return purged, nil
}

// Get returns a copy of the lease regardless of liveness. Test helper.
func (s *MemoryStore) Get(tenantID, leaseID string) (*Lease, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.find(s.tenant(tenantID), leaseID)
	if l == nil {
		return nil, false
	}
	cp := *l
	return &cp, true
}

// find and drop expect s.mu held.

func (s *MemoryStore) find(t *tenantLeases, leaseID string) *Lease {
	key, ok := t.refs[leaseID]
	if !ok {
		return nil
	}
	return t.owners[key][leaseID]
}

func (s *MemoryStore) drop(t *tenantLeases, leaseID string) {
	key, ok := t.refs[leaseID]
	if !ok {
		return
	}
	if l := t.owners[key][leaseID]; l != nil {
		delete(t.sessions[l.SessionID], leaseID)
		if len(t.sessions[l.SessionID]) == 0 {
			delete(t.sessions, l.SessionID)
		}
	}
	delete(t.owners[key], leaseID)
	if len(t.owners[key]) == 0 {
		delete(t.owners, key)
	}
	delete(t.refs, leaseID)
}
