package upstream

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Fetcher performs a network fetch. A returned error means the network
// failed; any HTTP status, including 4xx and 5xx, is a successful fetch.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Origin fetches requests from the application origin.
type Origin struct {
	base   *url.URL
	client *http.Client
}

// NewOrigin returns a Fetcher that rewrites requests onto base. Redirects
// are returned to the caller rather than followed.
func NewOrigin(base *url.URL, rt http.RoundTripper, timeout time.Duration) *Origin {
	return &Origin{
		base: base,
		client: &http.Client{
			Transport: rt,
			Timeout:   timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (o *Origin) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	outReq := o.rewrite(ctx, req)
	resp, err := o.client.Do(outReq)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", outReq.URL.Redacted(), err)
	}
	return resp, nil
}

func (o *Origin) rewrite(ctx context.Context, req *http.Request) *http.Request {
	outReq := req.Clone(ctx)
	outReq.RequestURI = ""

	target := *req.URL
	target.Scheme = o.base.Scheme
	target.Host = o.base.Host
	target.User = o.base.User
	target.Path = joinPath(o.base.Path, req.URL.Path)
	target.RawPath = ""
	outReq.URL = &target
	outReq.Host = o.base.Host

	for _, h := range hopHeaders {
		outReq.Header.Del(h)
	}

	if clientIP := remoteIP(req.RemoteAddr); clientIP != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			outReq.Header.Set("X-Forwarded-For", prior+", "+clientIP)
		} else {
			outReq.Header.Set("X-Forwarded-For", clientIP)
		}
	}
	return outReq
}

func joinPath(base, path string) string {
	if path == "" {
		path = "/"
	}
	switch {
	case base == "" || base == "/":
		return path
	case strings.HasSuffix(base, "/") && strings.HasPrefix(path, "/"):
		return base + path[1:]
	case !strings.HasSuffix(base, "/") && !strings.HasPrefix(path, "/"):
		return base + "/" + path
	}
	return base + path
}

func remoteIP(rawAddr string) string {
	if rawAddr == "" {
		return ""
	}
	if _, rest, ok := strings.Cut(rawAddr, "://"); ok {
		rawAddr = rest
	}
	if host, _, err := net.SplitHostPort(rawAddr); err == nil {
		return host
	}
	if ip := net.ParseIP(rawAddr); ip != nil {
		return ip.String()
	}
	return ""
}
