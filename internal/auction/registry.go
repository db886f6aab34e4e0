package auction

import (
	"context"
	"strings"
	"time"

	"meetbid.org/internal/obs"
	"meetbid.org/internal/stream"
)

// Registry owns the set of auctions: id assignment, correlation-key
// uniqueness and creation-time validation.
type Registry struct {
	store  Store
	facts  *stream.Stream
	params Params
}

// NewRegistry wires a registry over the given store.
func NewRegistry(store Store, facts *stream.Stream, params Params) *Registry {
	return &Registry{store: store, facts: facts, params: params}
}

// Create validates and records a new auction. The correlation key is claimed
// for the registry's full lifetime; reuse stays forbidden after the auction
// ends.
func (r *Registry) Create(ctx context.Context, p CreateParams, now Tick) (Auction, error) {
	p.Host = strings.TrimSpace(p.Host)
	p.CorrelationKey = strings.TrimSpace(p.CorrelationKey)

	if p.Host == "" || p.CorrelationKey == "" {
		return Auction{}, ErrInvalidParameters
	}
	if p.DurationTicks <= r.params.AntiSnipeWindow {
		return Auction{}, ErrInvalidParameters
	}
	if p.ReservePrice < r.params.MinReservePrice {
		return Auction{}, ErrInvalidParameters
	}
	if p.MeetingDurationMinutes <= 0 {
		return Auction{}, ErrInvalidParameters
	}

	if err := r.store.ReserveCorrelationKey(ctx, p.CorrelationKey); err != nil {
		return Auction{}, err
	}
	id, err := r.store.NextID(ctx)
	if err != nil {
		_ = r.store.ReleaseCorrelationKey(ctx, p.CorrelationKey)
		return Auction{}, err
	}

	a := Auction{
		ID:                     id,
		Host:                   p.Host,
		CorrelationKey:         p.CorrelationKey,
		StartTime:              now,
		EndTime:                now + p.DurationTicks,
		ReservePrice:           p.ReservePrice,
		MeetingDurationMinutes: p.MeetingDurationMinutes,
		Metadata:               p.Metadata,
		CreatedAt:              time.Now().UTC(),
	}
	if err := r.store.Put(ctx, a); err != nil {
		_ = r.store.ReleaseCorrelationKey(ctx, p.CorrelationKey)
		return Auction{}, err
	}

	if r.facts != nil {
		r.facts.Publish(stream.Fact{
			Kind:       stream.KindAuctionCreated,
			AuctionID:  a.ID,
			Host:       a.Host,
			Amount:     a.ReservePrice,
			NewEndTime: int64(a.EndTime),
		})
	}
	obs.ActiveAuctions.Inc()
	return a, nil
}

// Get returns one auction by id.
func (r *Registry) Get(ctx context.Context, id uint64) (Auction, error) {
	return r.store.Get(ctx, id)
}

// ListActive returns non-ended auctions ordered by id ascending.
func (r *Registry) ListActive(ctx context.Context, limit int) ([]Auction, error) {
	return r.store.ListActive(ctx, limit)
}

// ListUnsettled exposes the monitor sweep query.
func (r *Registry) ListUnsettled(ctx context.Context) ([]Auction, error) {
	return r.store.ListUnsettled(ctx)
}
