package credential

import (
	"context"
	"sync"
	"time"
)

// Store persists credentials with a unique index on auction id. Burn is a
// store-level operation so the holder check and the burned flip are atomic.
type Store interface {
	Put(ctx context.Context, c Credential) error
	Get(ctx context.Context, id string) (Credential, error)
	// Burn flips burned false->true exactly once for the holder.
	// Fails ErrNotHolder or ErrAlreadyBurned without mutating.
	Burn(ctx context.Context, id, caller string) (Credential, error)
}

// InMemoryStore implements Store with in-process maps.
type InMemoryStore struct {
	mu        sync.RWMutex
	byID      map[string]Credential
	byAuction map[uint64]string
}

// NewInMemoryStore creates an empty credential store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:      make(map[string]Credential),
		byAuction: make(map[uint64]string),
	}
}

func (s *InMemoryStore) Put(ctx context.Context, c Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, bound := s.byAuction[c.AuctionID]; bound {
		return ErrAuctionBound
	}
	s.byID[c.ID] = c
	s.byAuction[c.AuctionID] = c.ID
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, id string) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return Credential{}, ErrNotFound
	}
	return c, nil
}

func (s *InMemoryStore) Burn(ctx context.Context, id, caller string) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return Credential{}, ErrNotFound
	}
	if c.Holder != caller {
		return Credential{}, ErrNotHolder
	}
	if c.Burned {
		return Credential{}, ErrAlreadyBurned
	}
	c.Burned = true
	c.BurnedAt = time.Now().UTC()
	s.byID[id] = c
	return c, nil
}
