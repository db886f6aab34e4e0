package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"meetbid.org/internal/auction"
	"meetbid.org/internal/credential"
	"meetbid.org/internal/ledger"
	"meetbid.org/internal/monitor"
	"meetbid.org/internal/stream"
)

// smoke-auction runs the whole lifecycle in-process: create, bid, outbid,
// withdraw, end, settle via the monitor, burn the credential, and check
// that no money was lost along the way.

type frozenClock struct{ now auction.Tick }

func (c *frozenClock) Now() auction.Tick { return c.now }

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	params := auction.DefaultParams()
	store := auction.NewInMemoryStore()
	funds := ledger.NewInMemory()
	facts := stream.New()
	registry := auction.NewRegistry(store, facts, params)
	machine := auction.NewMachine(store, funds, facts, params)
	creds := credential.NewInMemoryStore()
	issuer := credential.NewIssuer(machine, creds, facts, 3600)

	clock := &frozenClock{now: 1_000}
	attempts := monitor.NewInMemoryAttempts()
	mon := monitor.New(registry, machine, issuer, monitor.LoggingProvisioner(log.Printf),
		attempts, attempts, clock, monitor.DefaultConfig(), log.Printf)

	acc, err := registry.Create(ctx, auction.CreateParams{
		Host:                   "host-1",
		CorrelationKey:         "host-1:smoke-slot",
		DurationTicks:          900,
		ReservePrice:           100,
		MeetingDurationMinutes: 30,
	}, clock.Now())
	if err != nil {
		log.Fatalf("create auction: %v", err)
	}

	if _, err := machine.PlaceBid(ctx, acc.ID, "bidder-a", 150, clock.Now()); err != nil {
		log.Fatalf("first bid: %v", err)
	}
	if _, err := machine.PlaceBid(ctx, acc.ID, "bidder-b", 300, clock.Now()); err != nil {
		log.Fatalf("second bid: %v", err)
	}

	refund, err := machine.WithdrawBid(ctx, acc.ID, "bidder-a")
	if err != nil {
		log.Fatalf("withdraw: %v", err)
	}
	if refund != 150 {
		log.Fatalf("refund: got %d, want 150", refund)
	}

	// Jump past the deadline; one sweep ends, settles and provisions.
	clock.now = acc.EndTime
	mon.Sweep(ctx, false)

	final, err := registry.Get(ctx, acc.ID)
	if err != nil {
		log.Fatalf("reload auction: %v", err)
	}
	if final.Outcome != auction.OutcomeWon || !final.Settled {
		log.Fatalf("not settled: %+v", final)
	}
	if final.PlatformAmount+final.HostAmount != final.HighestBid {
		log.Fatalf("fee split does not conserve: %d + %d != %d",
			final.PlatformAmount, final.HostAmount, final.HighestBid)
	}

	grant, err := issuer.Burn(ctx, final.CredentialID, "bidder-b")
	if err != nil {
		log.Fatalf("burn credential: %v", err)
	}

	held, err := funds.HeldTotal(ctx, acc.ID)
	if err != nil {
		log.Fatalf("held total: %v", err)
	}
	if held != 0 {
		log.Fatalf("ledger still holds %d after withdrawals", held)
	}

	fmt.Printf("✅ auction smoke test passed: auction=%d credential=%s grant=%s\n",
		acc.ID, final.CredentialID, grant.Token)
}
