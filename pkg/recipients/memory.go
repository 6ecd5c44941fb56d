package recipients

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps subscribers in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Recipient
}

// NewMemoryStore creates a store seeded with rs.
func NewMemoryStore(rs ...Recipient) *MemoryStore {
	s := &MemoryStore{items: make(map[string]Recipient)}
	for _, r := range rs {
		_, _ = s.Upsert(context.Background(), r)
	}
	return s
}

// Upsert implements Store.
func (s *MemoryStore) Upsert(_ context.Context, r Recipient) (Recipient, error) {
	email, err := NormalizeEmail(r.Email)
	if err != nil {
		return Recipient{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.items[email]; ok {
		r.ID = existing.ID
		r.CreatedAt = existing.CreatedAt
	} else {
		r.ID = uuid.NewString()
		r.CreatedAt = now
	}
	r.Email = email
	r.Subscribed = true
	r.UpdatedAt = now
	s.items[email] = r
	return r, nil
}

// Unsubscribe implements Store.
func (s *MemoryStore) Unsubscribe(_ context.Context, email string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.items[email]
	if !ok {
		return ErrNotFound
	}
	r.Subscribed = false
	r.UpdatedAt = time.Now().UTC()
	s.items[email] = r
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, email string) (Recipient, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return Recipient{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.items[email]
	if !ok {
		return Recipient{}, ErrNotFound
	}
	return r, nil
}

// CountActive implements Store.
func (s *MemoryStore) CountActive(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, r := range s.items {
		if r.Subscribed {
			n++
		}
	}
	return n, nil
}

// ListActiveAfter implements Store.
func (s *MemoryStore) ListActiveAfter(_ context.Context, cursor string, limit int) ([]Recipient, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Recipient
	for _, r := range s.items {
		if r.Subscribed && r.Email > cursor {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
