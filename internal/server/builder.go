package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"offlinegate/internal/agent"
	"offlinegate/internal/cache"
	"offlinegate/internal/cache/sqlite"
	"offlinegate/internal/config"
	"offlinegate/internal/logging"
	"offlinegate/internal/metrics"
	"offlinegate/internal/middleware"
	"offlinegate/internal/upstream"
)

// Runtime is a built agent and the server exposing it.
type Runtime struct {
	Agent  *agent.Agent
	Server *http.Server
	TLS    config.TLSConfig

	storage      cache.Storage
	closeStorage func() error
	logger       logging.Logger
}

type Builder struct {
	cfg    *config.Config
	logger logging.Logger
}

func NewBuilder(cfg *config.Config, logger logging.Logger) *Builder {
	return &Builder{
		cfg:    cfg,
		logger: logger,
	}
}

func (b *Builder) Build() (*Runtime, error) {
	storage, closeStorage, err := b.buildStorage()
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(b.cfg.Origin.URL)
	if err != nil {
		_ = closeStorage()
		return nil, fmt.Errorf("parse origin url: %w", err)
	}
	transport := upstream.NewTransport(upstream.TransportOptions{
		InsecureSkipVerify: b.cfg.Origin.InsecureSkipVerify,
	})
	fetcher := upstream.NewBreaker(
		upstream.NewOrigin(base, transport, b.cfg.Origin.Timeout),
		upstream.BreakerConfig{
			ConsecutiveFailures: b.cfg.Origin.CircuitBreaker.ConsecutiveFailures,
			Cooldown:            b.cfg.Origin.CircuitBreaker.Cooldown,
		},
	)

	a, err := agent.New(b.cfg.AgentOptions(), storage, fetcher, b.logger)
	if err != nil {
		_ = closeStorage()
		return nil, err
	}

	var appHandler http.Handler = a
	appHandler = middleware.Chain(appHandler,
		middleware.Recover(b.logger),
		middleware.AccessLog(b.logger),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", a.HealthHandler())
	mux.Handle("/", appHandler)

	return &Runtime{
		Agent: a,
		Server: &http.Server{
			Addr:              b.cfg.Server.Address,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		TLS:          b.cfg.Server.TLS,
		storage:      storage,
		closeStorage: closeStorage,
		logger:       b.logger,
	}, nil
}

func (b *Builder) buildStorage() (cache.Storage, func() error, error) {
	switch b.cfg.Storage.Driver {
	case config.DriverSQLite:
		s, err := sqlite.Open(b.cfg.Storage.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		return s, s.Close, nil
	case config.DriverMemory, "":
		return cache.NewMemoryStorage(b.cfg.Storage.MaxEntries), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", b.cfg.Storage.Driver)
	}
}

// Bootstrap drives the agent through install and activation, retrying a
// failed install up to attempts times.
func (r *Runtime) Bootstrap(ctx context.Context, attempts int, delay time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for i := 1; i <= attempts; i++ {
		if err = r.Agent.Install(ctx); err == nil {
			break
		}
		r.logger.Warn("install failed", "attempt", i, "attempts", attempts, "error", err)
		if i == attempts {
			return fmt.Errorf("install: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	report, err := r.Agent.Activate(ctx)
	if err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	if report.Err != nil {
		r.logger.Warn("some stale stores were not deleted", "failed", report.Failed, "error", report.Err)
	}
	r.logger.Info("agent active", "generation", r.Agent.Generation(), "stale_deleted", len(report.Deleted))
	return nil
}

// Shutdown stops the server, waits for pending agent work and closes the
// storage.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error
	if err := r.Server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	r.logger.Info("waiting for pending agent work", "pending", r.Agent.Pending())
	if err := r.Agent.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("wait for pending work: %w", err))
	}
	if err := r.closeStorage(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	return errors.Join(errs...)
}
