// Package config loads service configuration from environment variables.
// Every knob has a default so the service runs with an empty environment;
// a .env file is honoured when present.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the runtime configuration for the auction platform.
type Config struct {
	Addr  string // HTTP listen address
	PGDSN string // PostgreSQL DSN; empty runs on in-memory stores

	// HTTP rate limiting (token bucket per client IP).
	RateBurst  int
	RatePerSec int

	// Auction platform constants. Amounts in minor units, windows in ticks.
	MinIncrement    int64
	FeeBps          int64
	MinReservePrice int64
	AntiSnipeWindow int64
	ExtensionWindow int64

	// Credential burn window around the scheduled meeting time, in ticks.
	BurnWindow int64

	// Monitor cadence and retry policy.
	FastPoll     time.Duration
	SlowPoll     time.Duration
	NearWindow   int64 // ticks before endTime that qualify for the fast sweep
	MaxAttempts  int
	RetryBackoff time.Duration

	// Optional AMQP fact forwarding; disabled when empty.
	AMQPURL   string
	FactQueue string
}

// Load reads configuration from the environment. Values that fail to parse
// are fatal; missing values fall back to defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: skipping .env: %v", err)
	}

	return Config{
		Addr:  getenv("MEETBID_ADDR", ":8080"),
		PGDSN: os.Getenv("MEETBID_PG_DSN"),

		RateBurst:  getint("MEETBID_RATE_BURST", 20),
		RatePerSec: getint("MEETBID_RATE_PER_SEC", 10),

		MinIncrement:    getint64("MEETBID_MIN_INCREMENT", 1),
		FeeBps:          getint64("MEETBID_FEE_BPS", 250),
		MinReservePrice: getint64("MEETBID_MIN_RESERVE", 100),
		AntiSnipeWindow: getint64("MEETBID_ANTI_SNIPE_WINDOW", 300),
		ExtensionWindow: getint64("MEETBID_EXTENSION_WINDOW", 300),

		BurnWindow: getint64("MEETBID_BURN_WINDOW", 3600),

		FastPoll:     getdur("MEETBID_FAST_POLL", 2*time.Second),
		SlowPoll:     getdur("MEETBID_SLOW_POLL", 30*time.Second),
		NearWindow:   getint64("MEETBID_NEAR_WINDOW", 120),
		MaxAttempts:  getint("MEETBID_MAX_PROVISION_ATTEMPTS", 5),
		RetryBackoff: getdur("MEETBID_RETRY_BACKOFF", 15*time.Second),

		AMQPURL:   os.Getenv("MEETBID_AMQP_URL"),
		FactQueue: getenv("MEETBID_FACT_QUEUE", "auction.facts"),
	}
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("config: invalid int for %s: %q", key, v)
	}
	return n
}

func getint64(key string, def int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Fatalf("config: invalid int for %s: %q", key, v)
	}
	return n
}

func getdur(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("config: invalid duration for %s: %q", key, v)
	}
	return d
}
