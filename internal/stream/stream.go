// Package stream carries the observable facts the auction core emits.
// Facts are appended to an ordered in-process journal before fan-out, so a
// subscriber that missed the live dispatch can replay from a sequence number.
package stream

import (
	"context"
	"sync"
	"time"

	"meetbid.org/internal/ids"
)

// Kind enumerates the fact types observers can receive.
type Kind string

const (
	KindAuctionCreated   Kind = "auction_created"
	KindBidPlaced        Kind = "bid_placed"
	KindAuctionEnded     Kind = "auction_ended"
	KindCredentialIssued Kind = "credential_issued"
	KindCredentialBurned Kind = "credential_burned"
	KindFundsWithdrawn   Kind = "funds_withdrawn"
)

// Fact is one observable event. Fields beyond Kind/AuctionID are populated
// per kind; ticks are the logical clock values used by the auction core.
type Fact struct {
	Seq       uint64    `json:"seq"`
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	AuctionID uint64    `json:"auction_id"`
	At        time.Time `json:"at"`

	Bidder       string `json:"bidder,omitempty"`
	Amount       int64  `json:"amount,omitempty"`
	NewEndTime   int64  `json:"new_end_time,omitempty"`
	Outcome      string `json:"outcome,omitempty"`
	Winner       string `json:"winner,omitempty"`
	Host         string `json:"host,omitempty"`
	WinningBid   int64  `json:"winning_bid,omitempty"`
	HostAmount   int64  `json:"host_amount,omitempty"`
	FeeAmount    int64  `json:"fee_amount,omitempty"`
	CredentialID string `json:"credential_id,omitempty"`
	Holder       string `json:"holder,omitempty"`
}

// Stream journals facts and fan-outs to all active subscribers.
type Stream struct {
	mu      sync.RWMutex
	subs    map[int]chan Fact
	nextSub int
	journal []Fact
	seq     uint64
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan Fact)}
}

// Publish assigns the fact its sequence number, records it in the journal and
// then dispatches to subscribers. Slow subscribers are skipped, never blocked
// on; they can recover through ListSince. Dispatch happens under the lock so
// a concurrently cancelling subscriber cannot close its channel mid-send.
func (s *Stream) Publish(f Fact) Fact {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	f.Seq = s.seq
	if f.ID == "" {
		f.ID = ids.New()
	}
	if f.At.IsZero() {
		f.At = time.Now().UTC()
	}
	s.journal = append(s.journal, f)
	for _, ch := range s.subs {
		select {
		case ch <- f:
		default:
		}
	}
	return f
}

// Subscribe registers a subscriber and returns a channel which will receive
// facts. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Fact {
	ch := make(chan Fact, 64)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// ListSince returns up to limit journaled facts with Seq > afterSeq, in order.
func (s *Stream) ListSince(afterSeq uint64, limit int) []Fact {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Fact
	for _, f := range s.journal {
		if f.Seq <= afterSeq {
			continue
		}
		out = append(out, f)
		if len(out) >= limit {
			break
		}
	}
	return out
}
