// Package upstream implements the shared resilience shape for external
// data calls: admission limiting, circuit breaking, bounded timeouts,
// and a single retry with backoff.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rxops/packfit/internal/apperr"
	"github.com/rxops/packfit/internal/observability/metrics"
	"github.com/rxops/packfit/pkg/circuitbreaker"
	"github.com/rxops/packfit/pkg/ratelimit"
)

// ErrNotFound marks a definitive upstream 4xx. Callers cache it as a
// negative result to avoid hot-looping on bad queries.
var ErrNotFound = errors.New("upstream: not found")

// Config holds caller tuning.
type Config struct {
	// Name identifies the dependency in logs and errors.
	Name string
	// Timeout bounds each individual HTTP attempt.
	Timeout time.Duration
	// RetryBackoff is the delay before the single retry.
	RetryBackoff time.Duration
	// MaxRetryBackoff caps the grown backoff.
	MaxRetryBackoff time.Duration
}

// DefaultConfig returns the standard per-call discipline: 5s bound,
// 1s backoff doubled once and capped at 2s.
func DefaultConfig(name string) Config {
	return Config{
		Name:            name,
		Timeout:         5 * time.Second,
		RetryBackoff:    time.Second,
		MaxRetryBackoff: 2 * time.Second,
	}
}

// Caller issues JSON GET requests to one upstream dependency.
type Caller struct {
	cfg     Config
	client  *http.Client
	limiter *ratelimit.Limiter
	breaker *circuitbreaker.Breaker
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates a caller. limiter and breaker are required; they are the
// process-wide singletons for this dependency.
func New(cfg Config, limiter *ratelimit.Limiter, breaker *circuitbreaker.Breaker, m *metrics.Metrics, logger *zap.Logger) *Caller {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig(cfg.Name)
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.MaxRetryBackoff < cfg.RetryBackoff {
		cfg.MaxRetryBackoff = def.MaxRetryBackoff
	}
	return &Caller{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		breaker: breaker,
		metrics: m,
		logger:  logger,
	}
}

// GetJSON fetches url and decodes the body into out. It fails closed
// with a rate-limit error when the local admission budget is exhausted,
// returns ErrNotFound on 4xx, and retries once on 5xx or timeout.
func (c *Caller) GetJSON(ctx context.Context, url string, out any) error {
	if !c.limiter.TryAcquire() {
		retry := c.limiter.RetryAfter()
		c.metrics.LimiterRejected(c.cfg.Name)
		c.logger.Warn("admission budget exhausted",
			zap.String("dependency", c.cfg.Name),
			zap.Duration("retry_after", retry))
		return apperr.RateLimited(c.cfg.Name, retry)
	}

	_, err := c.breaker.Execute(ctx, func() (any, error) {
		return nil, c.getWithRetry(ctx, url, out)
	})
	if circuitbreaker.ErrOpen(err) {
		return fmt.Errorf("%s unavailable: %w", c.cfg.Name, err)
	}
	return err
}

func (c *Caller) getWithRetry(ctx context.Context, url string, out any) error {
	backoff := c.cfg.RetryBackoff

	var lastErr error
	for attempt := 0; attempt <= 1; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.cfg.MaxRetryBackoff {
				backoff = c.cfg.MaxRetryBackoff
			}
		}

		err := c.getOnce(ctx, url, out)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrNotFound):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		}

		lastErr = err
		c.logger.Warn("upstream attempt failed",
			zap.String("dependency", c.cfg.Name),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return fmt.Errorf("%s: retries exhausted: %w", c.cfg.Name, lastErr)
}

func (c *Caller) getOnce(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("status 429 from %s", c.cfg.Name)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("status %d: %w", resp.StatusCode, ErrNotFound)
	default:
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("status %d from %s", resp.StatusCode, c.cfg.Name)
	}
}
