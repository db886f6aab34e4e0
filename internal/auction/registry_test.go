package auction

import (
	"context"
	"errors"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := CreateParams{
		Host:                   "host-1",
		CorrelationKey:         "@host1",
		DurationTicks:          1000,
		ReservePrice:           100,
		MeetingDurationMinutes: 30,
	}

	cases := []struct {
		name   string
		mutate func(*CreateParams)
	}{
		{"empty host", func(p *CreateParams) { p.Host = " " }},
		{"empty correlation key", func(p *CreateParams) { p.CorrelationKey = "" }},
		{"duration inside anti-snipe window", func(p *CreateParams) { p.DurationTicks = 50 }},
		{"reserve below platform minimum", func(p *CreateParams) { p.ReservePrice = 99 }},
		{"zero meeting duration", func(p *CreateParams) { p.MeetingDurationMinutes = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := base
			tc.mutate(&p)
			_, err := f.reg.Create(ctx, p, 0)
			check.True(t, errors.Is(err, ErrInvalidParameters))
		})
	}

	a, err := f.reg.Create(ctx, base, 100)
	assert.Nil(t, err)
	check.Equal(t, uint64(1), a.ID)
	check.Equal(t, Tick(100), a.StartTime)
	check.Equal(t, Tick(1100), a.EndTime)
	check.Equal(t, int64(0), a.HighestBid)
	check.Equal(t, "", a.HighestBidder)
}

func TestCorrelationKeyNeverReused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := CreateParams{
		Host:                   "host-1",
		CorrelationKey:         "@celebrity",
		DurationTicks:          1000,
		ReservePrice:           100,
		MeetingDurationMinutes: 30,
	}
	a, err := f.reg.Create(ctx, p, 0)
	assert.Nil(t, err)

	_, err = f.reg.Create(ctx, p, 0)
	check.True(t, errors.Is(err, ErrDuplicateCorrelationKey))

	// Still forbidden after the first auction ends.
	_, err = f.machine.EndAuction(ctx, a.ID, 1000)
	assert.Nil(t, err)
	_, err = f.reg.Create(ctx, p, 2000)
	check.True(t, errors.Is(err, ErrDuplicateCorrelationKey))
}

// flakyPutStore fails a configurable number of Puts, simulating a transient
// storage error during create.
type flakyPutStore struct {
	*InMemoryStore
	putFailures int
}

func (s *flakyPutStore) Put(ctx context.Context, a Auction) error {
	if s.putFailures > 0 {
		s.putFailures--
		return errors.New("storage unavailable")
	}
	return s.InMemoryStore.Put(ctx, a)
}

func TestCreateFailureReleasesCorrelationKey(t *testing.T) {
	store := &flakyPutStore{InMemoryStore: NewInMemoryStore(), putFailures: 1}
	reg := NewRegistry(store, nil, testParams())
	ctx := context.Background()

	p := CreateParams{
		Host:                   "host-1",
		CorrelationKey:         "@celebrity",
		DurationTicks:          1000,
		ReservePrice:           100,
		MeetingDurationMinutes: 30,
	}

	_, err := reg.Create(ctx, p, 0)
	assert.Error(t, err)
	check.False(t, errors.Is(err, ErrDuplicateCorrelationKey))

	// The failed create left no reservation behind; a retry succeeds.
	a, err := reg.Create(ctx, p, 0)
	assert.Nil(t, err)
	check.Equal(t, "@celebrity", a.CorrelationKey)

	// Once an auction owns the key it stays claimed, release or not.
	_ = store.ReleaseCorrelationKey(ctx, p.CorrelationKey)
	_, err = reg.Create(ctx, p, 0)
	check.True(t, errors.Is(err, ErrDuplicateCorrelationKey))
}

func TestIDsAreMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		a, err := f.reg.Create(ctx, CreateParams{
			Host:                   "host",
			CorrelationKey:         "@key" + string(rune('0'+i)),
			DurationTicks:          1000,
			ReservePrice:           100,
			MeetingDurationMinutes: 15,
		}, 0)
		assert.Nil(t, err)
		check.Equal(t, uint64(i), a.ID)
	}
}

func TestListActiveExcludesEnded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	keys := []string{"@a", "@b", "@c"}
	var made []Auction
	for _, k := range keys {
		a, err := f.reg.Create(ctx, CreateParams{
			Host:                   "host",
			CorrelationKey:         k,
			DurationTicks:          1000,
			ReservePrice:           100,
			MeetingDurationMinutes: 15,
		}, 0)
		assert.Nil(t, err)
		made = append(made, a)
	}

	_, err := f.machine.EndAuction(ctx, made[1].ID, 1000)
	assert.Nil(t, err)

	active, err := f.reg.ListActive(ctx, 0)
	assert.Nil(t, err)
	assert.Equal(t, 2, len(active))
	check.Equal(t, made[0].ID, active[0].ID)
	check.Equal(t, made[2].ID, active[1].ID)

	capped, err := f.reg.ListActive(ctx, 1)
	assert.Nil(t, err)
	assert.Equal(t, 1, len(capped))
	check.Equal(t, made[0].ID, capped[0].ID)
}

func TestListUnsettledSkipsUnsold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	won, err := f.reg.Create(ctx, CreateParams{
		Host: "host", CorrelationKey: "@won", DurationTicks: 1000,
		ReservePrice: 100, MeetingDurationMinutes: 15,
	}, 0)
	assert.Nil(t, err)
	unsold, err := f.reg.Create(ctx, CreateParams{
		Host: "host", CorrelationKey: "@unsold", DurationTicks: 1000,
		ReservePrice: 100, MeetingDurationMinutes: 15,
	}, 0)
	assert.Nil(t, err)

	_, err = f.machine.PlaceBid(ctx, won.ID, "alice", 100, 10)
	assert.Nil(t, err)
	_, err = f.machine.EndAuction(ctx, won.ID, 1000)
	assert.Nil(t, err)
	_, err = f.machine.EndAuction(ctx, unsold.ID, 1000)
	assert.Nil(t, err)

	pending, err := f.reg.ListUnsettled(ctx)
	assert.Nil(t, err)
	assert.Equal(t, 1, len(pending))
	check.Equal(t, won.ID, pending[0].ID)

	// Once settled the won auction drops out too.
	_, err = f.machine.Settle(ctx, won.ID, func(Auction) (string, error) { return "c1", nil })
	assert.Nil(t, err)
	pending, err = f.reg.ListUnsettled(ctx)
	assert.Nil(t, err)
	check.Equal(t, 0, len(pending))
}
