// Package pending tracks asynchronous work the host must wait for before
// tearing the agent down: in-flight event handling and detached background
// tasks such as cache writes.
package pending

import (
	"context"
	"sync"
	"time"

	"offlinegate/internal/logging"
	"offlinegate/internal/metrics"
)

// Group is a set of in-flight work. The zero value is not usable; use New.
type Group struct {
	mu sync.Mutex
	n  int64
	// idle is closed whenever n drops to zero; nil while nothing was ever
	// in flight.
	idle chan struct{}

	timeout time.Duration
	logger  logging.Logger
}

// New returns a Group whose detached tasks are bounded by timeout.
func New(timeout time.Duration, logger logging.Logger) *Group {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Group{timeout: timeout, logger: logger}
}

// Track marks one unit of work as in flight. Calls to done after the
// first are no-ops.
// Track may be called while a Wait is in progress; that Wait then also
// waits for the new unit.
func (g *Group) Track() (done func()) {
	g.mu.Lock()
	if g.n == 0 {
		g.idle = make(chan struct{})
	}
	g.n++
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			g.n--
			if g.n == 0 {
				close(g.idle)
			}
		})
	}
}

// Go runs fn detached from ctx's cancellation, bounded by the group
// timeout. It is best effort: the caller is never blocked on fn and a
// failure is logged and counted, nothing more.
func (g *Group) Go(ctx context.Context, task string, fn func(context.Context) error) {
	done := g.Track()
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	go func() {
		defer done()
		defer cancel()
		if err := fn(taskCtx); err != nil {
			metrics.IncBackgroundFailure(task)
			g.logger.Warn("background task failed", "task", task, "error", err)
		}
	}()
}

// Pending reports the number of units currently in flight.
func (g *Group) Pending() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

// Wait blocks until nothing is in flight or ctx is done.
func (g *Group) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		if g.n == 0 {
			g.mu.Unlock()
			return nil
		}
		idle := g.idle
		g.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
