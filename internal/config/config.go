// Package config loads service configuration from the environment.
// An optional .env file is honored for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all tunables consumed by the compute pipeline. Values are
// read once at startup and treated as read-only afterwards.
type Config struct {
	Port     string
	LogLevel string

	// Upstream endpoints.
	RxNormBaseURL string
	NDCBaseURL    string

	// Per-call and per-request time budgets.
	UpstreamTimeout time.Duration
	RequestBudget   time.Duration

	// Cache tuning. Identity data tolerates less staleness than package
	// metadata, hence the distinct TTLs.
	CacheCapacity int
	RxNormTTL     time.Duration
	NDCTTL        time.Duration
	MaxStale      time.Duration

	// Sliding-window admission limits, per upstream.
	RxNormRateLimit  int
	RxNormRateWindow time.Duration
	NDCRateLimit     int
	NDCRateWindow    time.Duration

	// Package selection policy.
	MaxOverfillPct float64
	MaxPacks       int

	// Natural-language sig fallback.
	SigFallbackEnabled bool
	SigFallbackURL     string
	SigFallbackModel   string
	SigFallbackAPIKey  string

	// Optional API-key gate; empty map disables authentication.
	APIKeys map[string]string

	// OTLP trace export; empty endpoint disables tracing.
	OTLPEndpoint string
}

// Load reads configuration from the environment, applying defaults for
// anything unset. A missing .env file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     envString("PORT", "8080"),
		LogLevel: envString("LOG_LEVEL", "info"),

		RxNormBaseURL: envString("RXNORM_BASE_URL", "https://rxnav.nlm.nih.gov/REST"),
		NDCBaseURL:    envString("NDC_BASE_URL", "https://api.fda.gov/drug/ndc.json"),

		UpstreamTimeout: envDuration("UPSTREAM_TIMEOUT", 5*time.Second),
		RequestBudget:   envDuration("REQUEST_BUDGET", 10*time.Second),

		CacheCapacity: envInt("CACHE_CAPACITY", 1000),
		RxNormTTL:     envDuration("RXNORM_CACHE_TTL", time.Hour),
		NDCTTL:        envDuration("NDC_CACHE_TTL", 24*time.Hour),
		MaxStale:      envDuration("CACHE_MAX_STALE", 72*time.Hour),

		// RxNav publishes 20 req/s per IP; openFDA allows 240 req/min
		// without an API key.
		RxNormRateLimit:  envInt("RXNORM_RATE_LIMIT", 20),
		RxNormRateWindow: envDuration("RXNORM_RATE_WINDOW", time.Second),
		NDCRateLimit:     envInt("NDC_RATE_LIMIT", 240),
		NDCRateWindow:    envDuration("NDC_RATE_WINDOW", time.Minute),

		MaxOverfillPct: envFloat("MAX_OVERFILL_PCT", 10),
		MaxPacks:       envInt("MAX_PACKS", 3),

		SigFallbackEnabled: envBool("SIG_FALLBACK_ENABLED", false),
		SigFallbackURL:     envString("SIG_FALLBACK_URL", "https://api.openai.com/v1/chat/completions"),
		SigFallbackModel:   envString("SIG_FALLBACK_MODEL", "gpt-4o-mini"),
		SigFallbackAPIKey:  os.Getenv("SIG_FALLBACK_API_KEY"),

		APIKeys: map[string]string{},

		OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),
	}

	if key := os.Getenv("API_KEY"); key != "" {
		cfg.APIKeys[key] = "env-client"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MaxPacks < 1 {
		return fmt.Errorf("MAX_PACKS must be at least 1, got %d", c.MaxPacks)
	}
	if c.MaxOverfillPct < 0 {
		return fmt.Errorf("MAX_OVERFILL_PCT must not be negative, got %g", c.MaxOverfillPct)
	}
	if c.SigFallbackEnabled && c.SigFallbackAPIKey == "" {
		return fmt.Errorf("SIG_FALLBACK_ENABLED requires SIG_FALLBACK_API_KEY")
	}
	if c.RequestBudget < c.UpstreamTimeout {
		return fmt.Errorf("REQUEST_BUDGET %s is shorter than UPSTREAM_TIMEOUT %s",
			c.RequestBudget, c.UpstreamTimeout)
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
