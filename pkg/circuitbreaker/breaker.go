// Package circuitbreaker wraps sony/gobreaker for calls to public
// drug-data upstreams, with OpenTelemetry counters and zap state logging.
package circuitbreaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// State represents the breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config holds breaker configuration.
type Config struct {
	// Name identifies the upstream dependency.
	Name string
	// MaxRequests is the number of probes allowed while half-open.
	MaxRequests uint32
	// Interval is the closed-state counter reset period.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// ConsecutiveFailures opens the breaker below MinRequests volume.
	ConsecutiveFailures uint32
	// FailureRatio opens the breaker once MinRequests have been seen.
	FailureRatio float64
	// MinRequests is the minimum volume before FailureRatio applies.
	MinRequests uint32
}

// DefaultConfig returns defaults tuned for public, rate-capped REST
// upstreams: trip fast on consecutive timeouts, recover within a minute.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		MaxRequests:         2,
		Interval:            60 * time.Second,
		Timeout:             20 * time.Second,
		ConsecutiveFailures: 4,
		FailureRatio:        0.5,
		MinRequests:         8,
	}
}

// Breaker wraps a gobreaker.CircuitBreaker with observability.
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	name   string
	logger *zap.Logger

	meter    metric.Meter
	requests metric.Int64Counter
	failures metric.Int64Counter
	rejected metric.Int64Counter

	stateMu sync.RWMutex
	state   State
}

// New creates a breaker for one upstream dependency.
func New(cfg Config, logger *zap.Logger) (*Breaker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Breaker{
		name:   cfg.Name,
		logger: logger,
		meter:  otel.Meter("circuit-breaker"),
		state:  StateClosed,
	}

	var err error
	b.requests, err = b.meter.Int64Counter("upstream_breaker_requests_total",
		metric.WithDescription("Requests attempted through the breaker"))
	if err != nil {
		return nil, fmt.Errorf("create requests counter: %w", err)
	}
	b.failures, err = b.meter.Int64Counter("upstream_breaker_failures_total",
		metric.WithDescription("Requests that failed in the upstream"))
	if err != nil {
		return nil, fmt.Errorf("create failures counter: %w", err)
	}
	b.rejected, err = b.meter.Int64Counter("upstream_breaker_rejected_total",
		metric.WithDescription("Requests rejected while the breaker was open"))
	if err != nil {
		return nil, fmt.Errorf("create rejected counter: %w", err)
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			b.onStateChange(from, to)
		},
	})

	return b, nil
}

// ErrOpen reports whether err means the breaker rejected the call
// without reaching the upstream.
func ErrOpen(err error) bool {
	return err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests
}

// Execute runs fn through the breaker.
func (b *Breaker) Execute(ctx context.Context, fn func() (any, error)) (any, error) {
	attrs := metric.WithAttributes(attribute.String("dependency", b.name))
	b.requests.Add(ctx, 1, attrs)

	result, err := b.cb.Execute(fn)
	if err != nil {
		if ErrOpen(err) {
			b.rejected.Add(ctx, 1, attrs)
		} else {
			b.failures.Add(ctx, 1, attrs)
		}
		return nil, err
	}
	return result, nil
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.state
}

func (b *Breaker) onStateChange(from, to gobreaker.State) {
	toState := mapState(to)

	b.stateMu.Lock()
	b.state = toState
	b.stateMu.Unlock()

	b.logger.Warn("circuit breaker state changed",
		zap.String("dependency", b.name),
		zap.String("from", string(mapState(from))),
		zap.String("to", string(toState)))
}

func mapState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
