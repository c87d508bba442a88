// Package strategy holds the response policies applied to intercepted
// requests. Each strategy produces exactly one response, or an error when
// it has no way to answer.
package strategy

import (
	"context"
	"errors"
	"net/http"
)

// ErrNoShell is returned by Navigation when the network failed and no shell
// document is stored.
var ErrNoShell = errors.New("network unavailable and no shell cached")

// Source names where a response came from.
type Source string

const (
	SourceNetwork  Source = "network"
	SourceCache    Source = "cache"
	SourceFallback Source = "fallback"
)

// Result is a produced response and where it came from.
type Result struct {
	Response *http.Response
	Source   Source
}

// Strategy answers one request.
type Strategy interface {
	Respond(ctx context.Context, req *http.Request) (Result, error)
}

// Func adapts a function to Strategy.
type Func func(ctx context.Context, req *http.Request) (Result, error)

func (f Func) Respond(ctx context.Context, req *http.Request) (Result, error) {
	return f(ctx, req)
}
