package monitor

import (
	"context"
	"sort"
	"sync"
	"time"
)

// FailedAttempt records a provisioning failure for bounded retry. Keyed
// uniquely per auction; repeat failures only bump the counter.
type FailedAttempt struct {
	AuctionID    uint64    `json:"auction_id"`
	Message      string    `json:"message"`
	AttemptCount int       `json:"attempt_count"`
	LastAttempt  time.Time `json:"last_attempt"`
}

// AttemptStore is the durable retry queue for provisioning failures.
type AttemptStore interface {
	// Record registers a failure: inserts at count 1 or increments the
	// existing row, updating message and last-attempt time.
	Record(ctx context.Context, auctionID uint64, message string, at time.Time) (FailedAttempt, error)
	// ListRetryable returns attempts with AttemptCount < maxAttempts whose
	// LastAttempt is not after the cutoff, ordered by auction id.
	ListRetryable(ctx context.Context, cutoff time.Time, maxAttempts int) ([]FailedAttempt, error)
	// Resolve removes the attempt record after a successful retry.
	Resolve(ctx context.Context, auctionID uint64) error
}

// ResourceStore tracks provisioned downstream resources so the at-least-once
// provisioner invocation can be deduped per auction.
type ResourceStore interface {
	RecordResource(ctx context.Context, auctionID uint64, res Resource) error
	HasResource(ctx context.Context, auctionID uint64) (bool, error)
}

// InMemoryAttempts implements AttemptStore and ResourceStore in process.
type InMemoryAttempts struct {
	mu        sync.RWMutex
	attempts  map[uint64]FailedAttempt
	resources map[uint64]Resource
}

// NewInMemoryAttempts creates empty attempt and resource stores.
func NewInMemoryAttempts() *InMemoryAttempts {
	return &InMemoryAttempts{
		attempts:  make(map[uint64]FailedAttempt),
		resources: make(map[uint64]Resource),
	}
}

func (s *InMemoryAttempts) Record(ctx context.Context, auctionID uint64, message string, at time.Time) (FailedAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fa := s.attempts[auctionID]
	fa.AuctionID = auctionID
	fa.Message = message
	fa.AttemptCount++
	fa.LastAttempt = at
	s.attempts[auctionID] = fa
	return fa, nil
}

func (s *InMemoryAttempts) ListRetryable(ctx context.Context, cutoff time.Time, maxAttempts int) ([]FailedAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []FailedAttempt
	for _, fa := range s.attempts {
		if fa.AttemptCount >= maxAttempts {
			continue
		}
		if fa.LastAttempt.After(cutoff) {
			continue
		}
		out = append(out, fa)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AuctionID < out[j].AuctionID })
	return out, nil
}

func (s *InMemoryAttempts) Resolve(ctx context.Context, auctionID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, auctionID)
	return nil
}

func (s *InMemoryAttempts) RecordResource(ctx context.Context, auctionID uint64, res Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[auctionID] = res
	return nil
}

func (s *InMemoryAttempts) HasResource(ctx context.Context, auctionID uint64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.resources[auctionID]
	return ok, nil
}
