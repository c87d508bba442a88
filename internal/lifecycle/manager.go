// Package lifecycle installs and activates cache generations.
//
// Install pre-populates the current generation with the asset manifest,
// all or nothing. Activate destroys every other generation so that no
// stale store is read once the agent serves requests.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"offlinegate/internal/cache"
	"offlinegate/internal/logging"
	"offlinegate/internal/metrics"
	"offlinegate/internal/upstream"
	"offlinegate/internal/version"
)

// maxParallel bounds concurrent manifest fetches and store deletions.
const maxParallel = 4

type Manager struct {
	storage      cache.Storage
	fetcher      upstream.Fetcher
	generation   string
	manifest     []string
	maxBodyBytes int64
	logger       logging.Logger
}

type ManagerConfig struct {
	Generation   string
	Manifest     []string
	MaxBodyBytes int64
}

func NewManager(cfg ManagerConfig, storage cache.Storage, fetcher upstream.Fetcher, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{
		storage:      storage,
		fetcher:      fetcher,
		generation:   cfg.Generation,
		manifest:     append([]string(nil), cfg.Manifest...),
		maxBodyBytes: cfg.MaxBodyBytes,
		logger:       logger,
	}
}

// Install fetches every manifest asset and stores them in the current
// generation. Any network failure, non-2xx status or oversized body fails
// the whole install and nothing is written.
func (m *Manager) Install(ctx context.Context) error {
	store, err := m.storage.Open(ctx, m.generation)
	if err != nil {
		return fmt.Errorf("open %s: %w", m.generation, err)
	}

	entries := make([]cache.Entry, len(m.manifest))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for i, path := range m.manifest {
		g.Go(func() error {
			resp, err := m.fetchAsset(gctx, path)
			if err != nil {
				return err
			}
			entries[i] = cache.Entry{Key: cache.Key(http.MethodGet, path), Response: resp}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("install %s: %w", m.generation, err)
	}

	if err := store.PutAll(ctx, entries); err != nil {
		return fmt.Errorf("install %s: %w", m.generation, err)
	}
	m.logger.Info("generation installed", "generation", m.generation, "assets", len(entries))
	return nil
}

func (m *Manager) fetchAsset(ctx context.Context, path string) (*cache.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", path, err)
	}
	resp, err := m.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("asset %s: unexpected status %d", path, resp.StatusCode)
	}
	stored, err := cache.ReadResponse(resp, m.maxBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", path, err)
	}
	return stored, nil
}

// ActivateReport lists what Activate did with the stale generations.
type ActivateReport struct {
	Deleted []string
	Failed  []string
	// Err joins the per-store failures; it never aborts activation.
	Err error
}

// Activate deletes every store other than the current generation. Each
// deletion is independent; failures are logged and reported, and the
// remaining stores are still deleted. It only errors when the store names
// cannot be listed.
func (m *Manager) Activate(ctx context.Context) (ActivateReport, error) {
	names, err := m.storage.Names(ctx)
	if err != nil {
		return ActivateReport{}, fmt.Errorf("list stores: %w", err)
	}

	var (
		mu     sync.Mutex
		report ActivateReport
		errs   []error
		g      errgroup.Group
	)
	g.SetLimit(maxParallel)
	for _, name := range version.Stale(names, m.generation) {
		g.Go(func() error {
			_, err := m.storage.Delete(ctx, name)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				metrics.IncStaleStore("failed")
				m.logger.Warn("stale store delete failed", "store", name, "error", err)
				report.Failed = append(report.Failed, name)
				errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
				return nil
			}
			metrics.IncStaleStore("deleted")
			m.logger.Info("stale store deleted", "store", name)
			report.Deleted = append(report.Deleted, name)
			return nil
		})
	}
	_ = g.Wait()

	report.Err = errors.Join(errs...)
	m.logger.Info("generation activated", "generation", m.generation,
		"deleted", len(report.Deleted), "failed", len(report.Failed))
	return report, nil
}
