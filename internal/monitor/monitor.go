// Package monitor drives auctions to settlement. It polls the registry on
// two cadences, ends due auctions, issues credentials and invokes the
// external meeting-provisioning collaborator with bounded retry. The
// auction's ended/settled transitions are final before provisioning is ever
// attempted, so a provisioning failure is always independently retryable.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meetbid.org/internal/auction"
	"meetbid.org/internal/credential"
	"meetbid.org/internal/obs"
)

// Resource is the opaque descriptor the provisioning collaborator returns.
type Resource struct {
	JoinURL string `json:"join_url"`
	Secret  string `json:"secret"`
}

// ProvisionRequest identifies the meeting to provision for a settled auction.
type ProvisionRequest struct {
	AuctionID              uint64
	Winner                 string
	Host                   string
	MeetingDurationMinutes int
}

// Provisioner is the external collaborator. Invoked at least once per
// auction; the monitor dedupes via the resource store.
type Provisioner interface {
	Provision(ctx context.Context, req ProvisionRequest) (Resource, error)
}

// Config tunes sweep cadence and retry policy.
type Config struct {
	FastPoll time.Duration // fine sweep over auctions near their end time
	SlowPoll time.Duration // coarse sweep over everything unsettled
	// NearWindow in ticks: auctions within this of endTime qualify for the
	// fast sweep.
	NearWindow   auction.Tick
	MaxAttempts  int
	RetryBackoff time.Duration // backoff floor, doubled per attempt, capped
}

// DefaultConfig mirrors production cadence.
func DefaultConfig() Config {
	return Config{
		FastPoll:     2 * time.Second,
		SlowPoll:     30 * time.Second,
		NearWindow:   120,
		MaxAttempts:  5,
		RetryBackoff: 15 * time.Second,
	}
}

// Monitor is the settlement scheduler.
type Monitor struct {
	registry *auction.Registry
	machine  *auction.Machine
	issuer   *credential.Issuer
	prov     Provisioner
	attempts AttemptStore
	res      ResourceStore
	clock    auction.Clock
	cfg      Config
	logf     func(format string, args ...any)
}

// New wires a monitor. logf defaults to a no-op when nil.
func New(reg *auction.Registry, m *auction.Machine, iss *credential.Issuer, prov Provisioner,
	attempts AttemptStore, res ResourceStore, clock auction.Clock, cfg Config,
	logf func(format string, args ...any)) *Monitor {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Monitor{
		registry: reg, machine: m, issuer: iss, prov: prov,
		attempts: attempts, res: res, clock: clock, cfg: cfg, logf: logf,
	}
}

// Run polls until ctx ends. The fast ticker only touches auctions near
// their end time; the slow ticker sweeps everything unsettled and drives
// the retry pass.
func (m *Monitor) Run(ctx context.Context) {
	fast := time.NewTicker(m.cfg.FastPoll)
	slow := time.NewTicker(m.cfg.SlowPoll)
	defer fast.Stop()
	defer slow.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fast.C:
			m.Sweep(ctx, true)
		case <-slow.C:
			m.Sweep(ctx, false)
			m.RetryPass(ctx)
		}
	}
}

// Sweep settles every due auction. nearOnly restricts the pass to auctions
// within NearWindow ticks of their end time.
func (m *Monitor) Sweep(ctx context.Context, nearOnly bool) {
	now := m.clock.Now()
	pending, err := m.registry.ListUnsettled(ctx)
	if err != nil {
		m.logf("monitor: list unsettled: %v", err)
		return
	}
	for _, a := range pending {
		if nearOnly && a.EndTime-now > m.cfg.NearWindow {
			continue
		}
		if !a.Ended && now < a.EndTime {
			continue
		}
		m.settle(ctx, a.ID, now)
	}
}

// settle runs the end -> issue -> provision chain for one due auction.
// Every step is self-guarding, so racing another sweep is harmless.
func (m *Monitor) settle(ctx context.Context, auctionID uint64, now auction.Tick) {
	ended, err := m.machine.EndAuction(ctx, auctionID, now)
	switch {
	case err == nil:
	case errors.Is(err, auction.ErrAlreadyEnded):
		ended, err = m.registry.Get(ctx, auctionID)
		if err != nil {
			m.logf("monitor: reload auction %d: %v", auctionID, err)
			return
		}
	default:
		m.logf("monitor: end auction %d: %v", auctionID, err)
		return
	}

	if ended.Outcome != auction.OutcomeWon {
		return
	}

	if _, err := m.issuer.Issue(ctx, auctionID); err != nil && !errors.Is(err, auction.ErrAlreadySettled) {
		m.logf("monitor: issue credential for auction %d: %v", auctionID, err)
		return
	}

	m.provision(ctx, ended)
}

// provision invokes the downstream collaborator once, outside any auction
// lock. Failures are recorded for the retry pass and never touch auction or
// ledger state.
func (m *Monitor) provision(ctx context.Context, a auction.Auction) {
	exists, err := m.res.HasResource(ctx, a.ID)
	if err != nil {
		m.logf("monitor: resource lookup for auction %d: %v", a.ID, err)
		return
	}
	if exists {
		return
	}

	res, err := m.prov.Provision(ctx, ProvisionRequest{
		AuctionID:              a.ID,
		Winner:                 a.HighestBidder,
		Host:                   a.Host,
		MeetingDurationMinutes: a.MeetingDurationMinutes,
	})
	if err != nil {
		fa, recErr := m.attempts.Record(ctx, a.ID, err.Error(), time.Now().UTC())
		if recErr != nil {
			m.logf("monitor: record failed attempt for auction %d: %v", a.ID, recErr)
			return
		}
		obs.ProvisioningAttemptsTotal.WithLabelValues("failure").Inc()
		if fa.AttemptCount >= m.cfg.MaxAttempts {
			m.logf("monitor: auction %d provisioning exhausted after %d attempts: %s",
				a.ID, fa.AttemptCount, fa.Message)
		}
		return
	}

	if err := m.res.RecordResource(ctx, a.ID, res); err != nil {
		m.logf("monitor: record resource for auction %d: %v", a.ID, err)
		return
	}
	_ = m.attempts.Resolve(ctx, a.ID)
	obs.ProvisioningAttemptsTotal.WithLabelValues("success").Inc()
}

// RetryPass re-attempts provisioning for recorded failures whose backoff has
// elapsed and whose attempt budget remains.
func (m *Monitor) RetryPass(ctx context.Context) {
	now := time.Now().UTC()
	due, err := m.attempts.ListRetryable(ctx, now.Add(-m.cfg.RetryBackoff), m.cfg.MaxAttempts)
	if err != nil {
		m.logf("monitor: list retryable: %v", err)
		return
	}
	for _, fa := range due {
		if now.Sub(fa.LastAttempt) < m.backoffFor(fa.AttemptCount) {
			continue
		}
		a, err := m.registry.Get(ctx, fa.AuctionID)
		if err != nil {
			m.logf("monitor: reload auction %d for retry: %v", fa.AuctionID, err)
			continue
		}
		m.provision(ctx, a)
	}
}

// backoffFor doubles the floor per prior attempt, capped at 16x.
func (m *Monitor) backoffFor(attempts int) time.Duration {
	d := m.cfg.RetryBackoff
	for i := 1; i < attempts && i < 5; i++ {
		d *= 2
	}
	return d
}

var _ Provisioner = ProvisionerFunc(nil)

// ProvisionerFunc adapts a function to the Provisioner interface.
type ProvisionerFunc func(ctx context.Context, req ProvisionRequest) (Resource, error)

func (f ProvisionerFunc) Provision(ctx context.Context, req ProvisionRequest) (Resource, error) {
	return f(ctx, req)
}

// LoggingProvisioner is the default no-op collaborator used when no real
// meeting backend is configured: it fabricates a descriptor and logs it.
func LoggingProvisioner(logf func(format string, args ...any)) Provisioner {
	return ProvisionerFunc(func(ctx context.Context, req ProvisionRequest) (Resource, error) {
		logf("provision: auction %d winner %s host %s (%d min)",
			req.AuctionID, req.Winner, req.Host, req.MeetingDurationMinutes)
		return Resource{
			JoinURL: fmt.Sprintf("https://meet.invalid/%d", req.AuctionID),
			Secret:  "dev-secret",
		}, nil
	})
}
