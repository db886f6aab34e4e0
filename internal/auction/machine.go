package auction

import (
	"context"
	"fmt"
	"sync"

	"meetbid.org/internal/ledger"
	"meetbid.org/internal/obs"
	"meetbid.org/internal/stream"
)

// Machine applies bid and settlement transitions against one auction plus
// its ledger. Every mutating operation on a given auction id runs under that
// id's lock, so concurrent bids serialize per auction while distinct
// auctions proceed in parallel. No external I/O happens inside the critical
// section.
type Machine struct {
	store  Store
	ledger ledger.Service
	facts  *stream.Stream
	params Params

	mu    sync.Mutex
	locks map[uint64]*sync.Mutex
}

// NewMachine wires the state machine over its store and ledger.
func NewMachine(store Store, lg ledger.Service, facts *stream.Stream, params Params) *Machine {
	return &Machine{
		store:  store,
		ledger: lg,
		facts:  facts,
		params: params,
		locks:  make(map[uint64]*sync.Mutex),
	}
}

// Params exposes the platform constants the machine enforces.
func (m *Machine) Params() Params { return m.params }

func (m *Machine) lockFor(id uint64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// PlaceBid attempts to make bidder the new leader at amount.
//
// The previous leader's stake becomes a pending return the moment it is
// outbid; the leader change, the ledger credit and the anti-snipe extension
// are one atomic step.
func (m *Machine) PlaceBid(ctx context.Context, auctionID uint64, bidder string, amount int64, now Tick) (Auction, error) {
	if bidder == "" || amount <= 0 {
		return Auction{}, ErrInvalidParameters
	}

	l := m.lockFor(auctionID)
	l.Lock()
	defer l.Unlock()

	a, err := m.store.Get(ctx, auctionID)
	if err != nil {
		return Auction{}, err
	}

	if a.Ended || now >= a.EndTime {
		return Auction{}, ErrAuctionEnded
	}
	if amount < a.ReservePrice {
		return Auction{}, ErrBidTooLow
	}
	if a.HighestBid > 0 && amount < a.HighestBid+m.params.MinIncrement {
		return Auction{}, ErrBidTooLow
	}
	// Policy: the current leader cannot raise their own bid through this
	// call; they would strand their previous stake as a self-refund.
	if a.HighestBidder != "" && bidder == a.HighestBidder {
		return Auction{}, ErrSelfOutbid
	}

	if a.HighestBidder != "" {
		if err := m.ledger.Credit(ctx, a.ID, a.HighestBidder, a.HighestBid); err != nil {
			return Auction{}, fmt.Errorf("credit outbid return: %w", err)
		}
	}

	a.HighestBid = amount
	a.HighestBidder = bidder

	// Anti-snipe: a bid inside the trailing window extends the end time,
	// never shortens it.
	if a.EndTime-now <= m.params.AntiSnipeWindow {
		if ext := now + m.params.ExtensionWindow; ext > a.EndTime {
			a.EndTime = ext
		}
	}

	if err := m.store.Put(ctx, a); err != nil {
		return Auction{}, err
	}

	if m.facts != nil {
		m.facts.Publish(stream.Fact{
			Kind:       stream.KindBidPlaced,
			AuctionID:  a.ID,
			Bidder:     bidder,
			Amount:     amount,
			NewEndTime: int64(a.EndTime),
		})
	}
	obs.BidsTotal.Inc()
	return a, nil
}

// EndAuction flips the auction to its terminal ended state once the end time
// is reached. The fee split is computed here, in the same atomic step as the
// ended transition, so no later claim can double-pay.
func (m *Machine) EndAuction(ctx context.Context, auctionID uint64, now Tick) (Auction, error) {
	l := m.lockFor(auctionID)
	l.Lock()
	defer l.Unlock()

	a, err := m.store.Get(ctx, auctionID)
	if err != nil {
		return Auction{}, err
	}
	if a.Ended {
		return Auction{}, ErrAlreadyEnded
	}
	if now < a.EndTime {
		return Auction{}, ErrAuctionStillActive
	}

	a.Ended = true
	if a.HighestBidder != "" {
		a.Outcome = OutcomeWon
		a.PlatformAmount = a.HighestBid * m.params.FeeBps / 10000
		a.HostAmount = a.HighestBid - a.PlatformAmount
	} else {
		a.Outcome = OutcomeUnsold
	}

	if err := m.store.Put(ctx, a); err != nil {
		return Auction{}, err
	}

	if m.facts != nil {
		f := stream.Fact{
			Kind:      stream.KindAuctionEnded,
			AuctionID: a.ID,
			Outcome:   string(a.Outcome),
			Host:      a.Host,
		}
		if a.Outcome == OutcomeWon {
			f.Winner = a.HighestBidder
			f.WinningBid = a.HighestBid
			f.HostAmount = a.HostAmount
			f.FeeAmount = a.PlatformAmount
		}
		m.facts.Publish(f)
	}
	obs.AuctionsEndedTotal.WithLabelValues(string(a.Outcome)).Inc()
	obs.ActiveAuctions.Dec()
	return a, nil
}

// WithdrawBid reclaims an outbid stake. Available regardless of the
// auction's ended state.
func (m *Machine) WithdrawBid(ctx context.Context, auctionID uint64, bidder string) (int64, error) {
	amount, err := m.ledger.Withdraw(ctx, auctionID, bidder)
	if err != nil {
		return 0, err
	}
	if m.facts != nil {
		m.facts.Publish(stream.Fact{
			Kind:      stream.KindFundsWithdrawn,
			AuctionID: auctionID,
			Bidder:    bidder,
			Amount:    amount,
		})
	}
	return amount, nil
}

// Settle marks the auction settled exactly once. The mint callback creates
// the access credential and returns its id; it runs inside the auction's
// critical section so the settled flip and the credential record are one
// atomic step.
func (m *Machine) Settle(ctx context.Context, auctionID uint64, mint func(Auction) (string, error)) (Auction, error) {
	l := m.lockFor(auctionID)
	l.Lock()
	defer l.Unlock()

	a, err := m.store.Get(ctx, auctionID)
	if err != nil {
		return Auction{}, err
	}
	if a.Settled {
		return Auction{}, ErrAlreadySettled
	}
	if !a.Ended || a.HighestBidder == "" {
		return Auction{}, ErrNotSettleable
	}

	credID, err := mint(a)
	if err != nil {
		return Auction{}, err
	}
	a.Settled = true
	a.CredentialID = credID

	if err := m.store.Put(ctx, a); err != nil {
		return Auction{}, err
	}
	return a, nil
}
