package ledger

import (
	"context"
	"math"
	"sync"
)

// Service tracks refundable pending returns per (auction, bidder) pair.
type Service interface {
	// Credit adds amount to the pair's pending return.
	Credit(ctx context.Context, auctionID uint64, bidder string, amount int64) error
	// Withdraw atomically reads and zeroes the pair's pending return,
	// returning the amount owed. The balance is zeroed before any external
	// transfer effect takes place (checks-effects-interactions).
	Withdraw(ctx context.Context, auctionID uint64, bidder string) (int64, error)
	// Pending reports the pair's current pending return.
	Pending(ctx context.Context, auctionID uint64, bidder string) (int64, error)
	// HeldTotal sums all pending returns for one auction.
	HeldTotal(ctx context.Context, auctionID uint64) (int64, error)
}

type pairKey struct {
	auctionID uint64
	bidder    string
}

// InMemory implements Service with in-process concurrency safety.
type InMemory struct {
	mu      sync.RWMutex
	returns map[pairKey]int64
}

// NewInMemory creates a fresh ledger.
func NewInMemory() *InMemory {
	return &InMemory{returns: make(map[pairKey]int64)}
}

func (s *InMemory) Credit(ctx context.Context, auctionID uint64, bidder string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := pairKey{auctionID, bidder}
	cur := s.returns[k]
	if cur > math.MaxInt64-amount {
		return ErrOverflow
	}
	s.returns[k] = cur + amount
	return nil
}

func (s *InMemory) Withdraw(ctx context.Context, auctionID uint64, bidder string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := pairKey{auctionID, bidder}
	amount := s.returns[k]
	if amount == 0 {
		return 0, ErrNothingToWithdraw
	}
	// Zero before the caller performs the transfer effect, so a re-entrant
	// withdraw for the same pair finds nothing to take.
	delete(s.returns, k)
	return amount, nil
}

func (s *InMemory) Pending(ctx context.Context, auctionID uint64, bidder string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.returns[pairKey{auctionID, bidder}], nil
}

func (s *InMemory) HeldTotal(ctx context.Context, auctionID uint64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for k, v := range s.returns {
		if k.auctionID == auctionID {
			total += v
		}
	}
	return total, nil
}
