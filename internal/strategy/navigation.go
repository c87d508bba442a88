package strategy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"offlinegate/internal/cache"
	"offlinegate/internal/logging"
	"offlinegate/internal/metrics"
	"offlinegate/internal/pending"
	"offlinegate/internal/upstream"
)

// Navigation is network-first for document loads. A successful GET
// document is streamed to the caller and kept as the shell once fully
// read; when the network is down the shell is served.
type Navigation struct {
	Fetcher      upstream.Fetcher
	Storage      cache.Storage
	Generation   string
	ShellPath    string
	MaxBodyBytes int64
	Tasks        *pending.Group
	Logger       logging.Logger
}

func (n *Navigation) Respond(ctx context.Context, req *http.Request) (Result, error) {
	resp, err := n.Fetcher.Fetch(ctx, req)
	if err != nil {
		return n.fallback(ctx, req, err)
	}
	if req.Method == http.MethodGet && resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		resp.Body = &shellTee{
			ReadCloser: resp.Body,
			limit:      n.MaxBodyBytes,
			onEOF: func(body []byte) {
				n.storeShell(ctx, resp, body)
			},
			onSkip: func(reason string) {
				n.Logger.Debug("shell not cached", "path", req.URL.Path, "reason", reason)
			},
		}
	}
	return Result{Response: resp, Source: SourceNetwork}, nil
}

// storeShell schedules the shell write in the background once the
// document has been streamed to the caller.
func (n *Navigation) storeShell(ctx context.Context, resp *http.Response, body []byte) {
	shell := &cache.Response{
		StatusCode: resp.StatusCode,
		Header:     cache.CloneHeader(resp.Header),
		Body:       body,
		StoredAt:   time.Now().UTC(),
	}
	key := cache.Key(http.MethodGet, n.ShellPath)
	n.Tasks.Go(ctx, "store-shell", func(ctx context.Context) error {
		store, err := n.Storage.Open(ctx, n.Generation)
		if err != nil {
			return fmt.Errorf("open %s: %w", n.Generation, err)
		}
		return store.Put(ctx, key, shell)
	})
}

// shellTee copies the body into a bounded buffer as the caller reads it.
// onEOF runs once with a copy of the body after a clean EOF; a read error,
// an oversized body or an early Close runs onSkip instead.
type shellTee struct {
	io.ReadCloser
	limit  int64
	buf    bytes.Buffer
	done   bool
	onEOF  func(body []byte)
	onSkip func(reason string)
}

func (t *shellTee) Read(p []byte) (int, error) {
	n, err := t.ReadCloser.Read(p)
	if t.done {
		return n, err
	}
	if n > 0 {
		if t.limit > 0 && int64(t.buf.Len()+n) > t.limit {
			t.skip("body exceeds cache limit")
		} else {
			t.buf.Write(p[:n])
		}
	}
	switch {
	case t.done:
	case err == io.EOF:
		t.done = true
		t.onEOF(bytes.Clone(t.buf.Bytes()))
		t.buf = bytes.Buffer{}
	case err != nil:
		t.skip(err.Error())
	}
	return n, err
}

func (t *shellTee) Close() error {
	if !t.done {
		t.skip("closed before EOF")
	}
	return t.ReadCloser.Close()
}

func (t *shellTee) skip(reason string) {
	t.done = true
	t.buf = bytes.Buffer{}
	t.onSkip(reason)
}

func (n *Navigation) fallback(ctx context.Context, req *http.Request, fetchErr error) (Result, error) {
	store, err := n.Storage.Open(ctx, n.Generation)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w (open %s: %w)", ErrNoShell, fetchErr, n.Generation, err)
	}
	shell, ok, err := store.Match(ctx, cache.Key(http.MethodGet, n.ShellPath))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w (match shell: %w)", ErrNoShell, fetchErr, err)
	}
	if !ok {
		metrics.IncCacheMiss("navigation")
		return Result{}, fmt.Errorf("%w: %w", ErrNoShell, fetchErr)
	}

	metrics.IncCacheHit("navigation")
	metrics.IncFallback("navigation")
	n.Logger.Info("serving cached shell", "path", req.URL.Path, "error", fetchErr)
	return Result{Response: shell.HTTP(req), Source: SourceFallback}, nil
}
