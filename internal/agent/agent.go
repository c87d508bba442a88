// Package agent is the offline-caching fetch agent. It is installed and
// activated by its host, then answers every intercepted request through
// the router and its strategies.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"offlinegate/internal/cache"
	"offlinegate/internal/lifecycle"
	"offlinegate/internal/logging"
	"offlinegate/internal/metrics"
	"offlinegate/internal/pending"
	"offlinegate/internal/router"
	"offlinegate/internal/strategy"
	"offlinegate/internal/upstream"
)

// passthrough labels requests answered before the agent is active.
const passthrough = "passthrough"

type Agent struct {
	opts    Options
	manager *lifecycle.Manager
	machine *lifecycle.Machine
	router  *router.Router
	fetcher upstream.Fetcher
	tasks   *pending.Group
	logger  logging.Logger
}

func New(opts Options, storage cache.Storage, fetcher upstream.Fetcher, logger logging.Logger) (*Agent, error) {
	if storage == nil || fetcher == nil {
		return nil, errors.New("agent requires storage and fetcher")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	opts = opts.withDefaults()
	tasks := pending.New(opts.WriteTimeout, logger)

	rt, err := router.New(
		router.Rule{
			Category: router.Navigation,
			Match:    router.IsNavigation,
			Strategy: &strategy.Navigation{
				Fetcher:      fetcher,
				Storage:      storage,
				Generation:   opts.Generation,
				ShellPath:    opts.ShellPath,
				MaxBodyBytes: opts.MaxBodyBytes,
				Tasks:        tasks,
				Logger:       logger,
			},
		},
		router.Rule{
			Category: router.API,
			Match:    router.PathPrefix(opts.APIPrefix),
			Strategy: &strategy.API{Fetcher: fetcher, Logger: logger},
		},
		router.Rule{
			Category: router.Static,
			Strategy: &strategy.Static{
				Fetcher:    fetcher,
				Storage:    storage,
				Generation: opts.Generation,
				Logger:     logger,
			},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}

	manager := lifecycle.NewManager(lifecycle.ManagerConfig{
		Generation:   opts.Generation,
		Manifest:     opts.Manifest,
		MaxBodyBytes: opts.MaxBodyBytes,
	}, storage, fetcher, logger)

	return &Agent{
		opts:    opts,
		manager: manager,
		machine: lifecycle.NewMachine(),
		router:  rt,
		fetcher: fetcher,
		tasks:   tasks,
		logger:  logger,
	}, nil
}

func (a *Agent) Generation() string {
	return a.opts.Generation
}

func (a *Agent) State() lifecycle.State {
	return a.machine.State()
}

// Install runs the setup step. On failure the agent returns to
// uninstalled and the host may retry.
func (a *Agent) Install(ctx context.Context) error {
	done := a.tasks.Track()
	defer done()

	if err := a.machine.Advance(lifecycle.Uninstalled, lifecycle.Installing); err != nil {
		return err
	}
	if err := a.manager.Install(ctx); err != nil {
		_ = a.machine.Advance(lifecycle.Installing, lifecycle.Uninstalled)
		return err
	}
	return a.machine.Advance(lifecycle.Installing, lifecycle.Installed)
}

// Activate removes stale generations. Requests are only routed through the
// strategies once it returns without error. Per-store deletion failures
// are reported but do not fail activation.
func (a *Agent) Activate(ctx context.Context) (lifecycle.ActivateReport, error) {
	done := a.tasks.Track()
	defer done()

	if err := a.machine.Advance(lifecycle.Installed, lifecycle.Activating); err != nil {
		return lifecycle.ActivateReport{}, err
	}
	report, err := a.manager.Activate(ctx)
	if err != nil {
		_ = a.machine.Advance(lifecycle.Activating, lifecycle.Installed)
		return report, err
	}
	return report, a.machine.Advance(lifecycle.Activating, lifecycle.Active)
}

// Shutdown waits for in-flight requests and background cache writes.
func (a *Agent) Shutdown(ctx context.Context) error {
	return a.tasks.Wait(ctx)
}

// Pending reports in-flight requests plus background cache writes.
func (a *Agent) Pending() int64 {
	return a.tasks.Pending()
}

// ServeHTTP answers one intercepted request with exactly one response.
func (a *Agent) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	done := a.tasks.Track()
	defer done()

	ctx := req.Context()
	start := time.Now()

	var (
		category string
		res      strategy.Result
		err      error
	)
	if a.machine.State() != lifecycle.Active {
		category = passthrough
		var resp *http.Response
		resp, err = a.fetcher.Fetch(ctx, req)
		res = strategy.Result{Response: resp, Source: strategy.SourceNetwork}
	} else {
		var c router.Category
		c, res, err = a.router.Dispatch(ctx, req)
		category = string(c)
	}

	if err != nil {
		a.logger.Warn("request failed", "category", category, "method", req.Method, "path", req.URL.Path, "error", err)
		http.Error(rw, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		metrics.ObserveRequest(category, "error", strconv.Itoa(http.StatusBadGateway), time.Since(start))
		return
	}

	resp := res.Response
	defer resp.Body.Close()
	if copyErr := writeResponse(rw, resp); copyErr != nil {
		a.logger.Debug("copy response body", "path", req.URL.Path, "error", copyErr)
	}
	metrics.ObserveRequest(category, string(res.Source), strconv.Itoa(resp.StatusCode), time.Since(start))
}

// HealthHandler reports 200 once the agent is active and 503 before.
func (a *Agent) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state := a.machine.State()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if state != lifecycle.Active {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_, _ = io.WriteString(w, state.String()+" "+a.opts.Generation+"\n")
	})
}

func writeResponse(rw http.ResponseWriter, resp *http.Response) error {
	copyHeader(rw.Header(), resp.Header)

	trailerKeys := make([]string, 0, len(resp.Trailer))
	for k := range resp.Trailer {
		trailerKeys = append(trailerKeys, k)
	}
	if len(trailerKeys) > 0 {
		rw.Header().Set("Trailer", strings.Join(trailerKeys, ","))
	}

	rw.WriteHeader(resp.StatusCode)

	var w io.Writer = rw
	if flusher, ok := rw.(http.Flusher); ok {
		w = flushWriter{w: rw, f: flusher}
	}
	_, err := io.Copy(w, resp.Body)

	for k, values := range resp.Trailer {
		for _, v := range values {
			rw.Header().Add(k, v)
		}
	}
	return err
}

type flushWriter struct {
	w io.Writer
	f http.Flusher
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	fw.f.Flush()
	return n, err
}

func copyHeader(dst, src http.Header) {
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}
