package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meetbid.org/internal/auction"
	"meetbid.org/internal/config"
	"meetbid.org/internal/credential"
	"meetbid.org/internal/httpapi"
	"meetbid.org/internal/ledger"
	"meetbid.org/internal/monitor"
	"meetbid.org/internal/obs"
	"meetbid.org/internal/store/pg"
	"meetbid.org/internal/stream"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg := config.Load()

	params := auction.Params{
		MinIncrement:    cfg.MinIncrement,
		FeeBps:          cfg.FeeBps,
		MinReservePrice: cfg.MinReservePrice,
		AntiSnipeWindow: auction.Tick(cfg.AntiSnipeWindow),
		ExtensionWindow: auction.Tick(cfg.ExtensionWindow),
	}

	var (
		auctions    auction.Store
		funds       ledger.Service
		credentials credential.Store
		attempts    monitor.AttemptStore
		resources   monitor.ResourceStore
		probe       httpapi.ReadyProbe
		pgStore     *pg.Store
	)
	if cfg.PGDSN != "" {
		var err error
		pgStore, err = pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		auctions = pgStore
		funds = pgStore
		credentials = pgStore.Credentials()
		attempts = pgStore
		resources = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		log.Println("no MEETBID_PG_DSN set, running on in-memory stores")
		auctions = auction.NewInMemoryStore()
		funds = ledger.NewInMemory()
		credentials = credential.NewInMemoryStore()
		mem := monitor.NewInMemoryAttempts()
		attempts = mem
		resources = mem
	}

	clock := auction.WallClock{}
	facts := stream.New()
	registry := auction.NewRegistry(auctions, facts, params)
	machine := auction.NewMachine(auctions, funds, facts, params)
	issuer := credential.NewIssuer(machine, credentials, facts, auction.Tick(cfg.BurnWindow))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mon := monitor.New(registry, machine, issuer, monitor.LoggingProvisioner(log.Printf), attempts, resources, clock, monitor.Config{
		FastPoll:     cfg.FastPoll,
		SlowPoll:     cfg.SlowPoll,
		NearWindow:   auction.Tick(cfg.NearWindow),
		MaxAttempts:  cfg.MaxAttempts,
		RetryBackoff: cfg.RetryBackoff,
	}, log.Printf)
	go mon.Run(ctx)

	if cfg.AMQPURL != "" {
		fwd := stream.NewForwarder(cfg.AMQPURL, cfg.FactQueue)
		go fwd.Run(ctx, facts)
	}

	api := httpapi.New(probe, version, registry, machine, issuer, funds, facts, clock)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second, // SSE clients hold the response open
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting meetbid-api %s on %s", version, srv.Addr)
	obs.SetReady(true)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}
