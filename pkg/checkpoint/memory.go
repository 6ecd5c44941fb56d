package checkpoint

import (
	"context"
	"sync"
	"time"
)

type lease struct {
	owner string
	until time.Time
}

// MemoryStore keeps checkpoints in process memory. Used by tests and dry runs.
type MemoryStore struct {
	mu     sync.Mutex
	items  map[string]Checkpoint
	leases map[string]lease
	now    func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:  make(map[string]Checkpoint),
		leases: make(map[string]lease),
		now:    time.Now,
	}
}

// SetClock replaces the clock used for lease expiry (for testing).
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Get returns a copy of the stored checkpoint.
func (s *MemoryStore) Get(_ context.Context, workday string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.items[workday]
	if !ok {
		return nil, ErrNotFound
	}
	return &cp, nil
}

// Put stores a copy of cp.
func (s *MemoryStore) Put(_ context.Context, cp *Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[cp.Workday] = *cp
	return nil
}

// Delete removes the workday's record.
func (s *MemoryStore) Delete(_ context.Context, workday string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, workday)
	return nil
}

// AcquireLease implements Store.
func (s *MemoryStore) AcquireLease(_ context.Context, workday, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if l, ok := s.leases[workday]; ok && l.owner != owner && now.Before(l.until) {
		return false, nil
	}
	s.leases[workday] = lease{owner: owner, until: now.Add(ttl)}
	return true, nil
}

// ReleaseLease implements Store.
func (s *MemoryStore) ReleaseLease(_ context.Context, workday, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.leases[workday]; ok && l.owner == owner {
		delete(s.leases, workday)
	}
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}
