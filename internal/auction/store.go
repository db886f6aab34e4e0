package auction

import (
	"context"
	"sort"
	"sync"
)

// Store abstracts durable auction state. Implementations only persist;
// serialization of read-modify-write cycles is the Machine's job.
type Store interface {
	// NextID returns the next monotonically increasing auction id.
	NextID(ctx context.Context) (uint64, error)
	// ReserveCorrelationKey claims the key for the registry's lifetime.
	// Returns ErrDuplicateCorrelationKey if any auction, past or present,
	// already used it.
	ReserveCorrelationKey(ctx context.Context, key string) error
	// ReleaseCorrelationKey undoes a reservation whose create never
	// completed, so the key can be retried. No-op for unknown keys.
	ReleaseCorrelationKey(ctx context.Context, key string) error
	// Put inserts or replaces the auction record.
	Put(ctx context.Context, a Auction) error
	// Get returns the auction or ErrNotFound.
	Get(ctx context.Context, id uint64) (Auction, error)
	// ListActive returns non-ended auctions ordered by id ascending,
	// capped at limit when limit > 0.
	ListActive(ctx context.Context, limit int) ([]Auction, error)
	// ListUnsettled returns auctions that still need monitor action, ordered
	// by id ascending: not yet ended, or ended won but not yet settled.
	// Unsold auctions are terminal once ended and are excluded.
	ListUnsettled(ctx context.Context) ([]Auction, error)
}

// InMemoryStore implements Store with in-process maps.
type InMemoryStore struct {
	mu       sync.RWMutex
	auctions map[uint64]Auction
	keys     map[string]uint64 // correlation key -> auction id, never deleted
	nextID   uint64
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		auctions: make(map[uint64]Auction),
		keys:     make(map[string]uint64),
	}
}

func (s *InMemoryStore) NextID(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID, nil
}

func (s *InMemoryStore) ReserveCorrelationKey(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, used := s.keys[key]; used {
		return ErrDuplicateCorrelationKey
	}
	s.keys[key] = 0 // owner id recorded on Put
	return nil
}

func (s *InMemoryStore) ReleaseCorrelationKey(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Only an unclaimed reservation may be released; a key owned by a
	// stored auction stays claimed forever.
	if id, ok := s.keys[key]; ok && id == 0 {
		delete(s.keys, key)
	}
	return nil
}

func (s *InMemoryStore) Put(ctx context.Context, a Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auctions[a.ID] = a
	if a.CorrelationKey != "" {
		s.keys[a.CorrelationKey] = a.ID
	}
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, id uint64) (Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.auctions[id]
	if !ok {
		return Auction{}, ErrNotFound
	}
	return a, nil
}

func (s *InMemoryStore) ListActive(ctx context.Context, limit int) ([]Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Auction, 0, len(s.auctions))
	for _, a := range s.auctions {
		if !a.Ended {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) ListUnsettled(ctx context.Context) ([]Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Auction, 0, len(s.auctions))
	for _, a := range s.auctions {
		if a.Settled {
			continue
		}
		if a.Ended && a.Outcome != OutcomeWon {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
