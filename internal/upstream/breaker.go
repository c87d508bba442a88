package upstream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"offlinegate/internal/metrics"
)

// ErrCircuitOpen is returned while the breaker short-circuits fetches.
var ErrCircuitOpen = errors.New("origin circuit open")

type BreakerConfig struct {
	ConsecutiveFailures int
	Cooldown            time.Duration
}

// Breaker stops calling the origin for Cooldown after ConsecutiveFailures
// network failures in a row, so offline fallbacks answer without waiting
// on dial timeouts. HTTP error statuses are successful fetches and reset
// the count.
type Breaker struct {
	next Fetcher
	cfg  BreakerConfig
	now  func() time.Time

	mu        sync.Mutex
	failures  int
	openUntil time.Time
}

// NewBreaker wraps next. A zero ConsecutiveFailures disables the breaker
// and returns next unchanged.
func NewBreaker(next Fetcher, cfg BreakerConfig) Fetcher {
	if cfg.ConsecutiveFailures <= 0 {
		return next
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Second
	}
	return &Breaker{next: next, cfg: cfg, now: time.Now}
}

func (b *Breaker) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := b.allow(); err != nil {
		return nil, err
	}
	resp, err := b.next.Fetch(ctx, req)
	if err != nil && ctx.Err() == nil {
		b.reportFailure()
		return nil, err
	}
	if err == nil {
		b.reportSuccess()
	}
	return resp, err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openUntil.IsZero() {
		return nil
	}
	if b.now().Before(b.openUntil) {
		return ErrCircuitOpen
	}
	// Half-open: let the next fetch probe the origin.
	b.openUntil = time.Time{}
	b.failures = b.cfg.ConsecutiveFailures - 1
	metrics.SetOriginCircuitOpen(false)
	return nil
}

func (b *Breaker) reportSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

func (b *Breaker) reportFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.failures >= b.cfg.ConsecutiveFailures {
		b.openUntil = b.now().Add(b.cfg.Cooldown)
		metrics.SetOriginCircuitOpen(true)
	}
}
