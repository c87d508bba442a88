// Package router classifies intercepted requests and hands each one to
// exactly one strategy. Rules are evaluated in order; the first match wins
// and the last rule must match everything.
package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"offlinegate/internal/strategy"
)

// ErrNoCatchAll is returned by New when the last rule is not a catch-all.
var ErrNoCatchAll = errors.New("last rule must match every request")

// Category names the class a request was routed to.
type Category string

const (
	Navigation Category = "navigation"
	API        Category = "api"
	Static     Category = "static"
)

// Predicate reports whether a rule applies to req. A nil predicate matches
// every request.
type Predicate func(req *http.Request) bool

type Rule struct {
	Category Category
	Match    Predicate
	Strategy strategy.Strategy
}

type Router struct {
	rules []Rule
}

func New(rules ...Rule) (*Router, error) {
	if len(rules) == 0 || rules[len(rules)-1].Match != nil {
		return nil, ErrNoCatchAll
	}
	for i, r := range rules {
		if r.Strategy == nil {
			return nil, fmt.Errorf("rule %d (%s) has no strategy", i, r.Category)
		}
	}
	return &Router{rules: append([]Rule(nil), rules...)}, nil
}

// Classify returns the first rule matching req.
func (r *Router) Classify(req *http.Request) Rule {
	for _, rule := range r.rules {
		if rule.Match == nil || rule.Match(req) {
			return rule
		}
	}
	// unreachable: New guarantees a catch-all
	return r.rules[len(r.rules)-1]
}

// Dispatch classifies req and runs the matching strategy once.
func (r *Router) Dispatch(ctx context.Context, req *http.Request) (Category, strategy.Result, error) {
	rule := r.Classify(req)
	res, err := rule.Strategy.Respond(ctx, req)
	return rule.Category, res, err
}

// IsNavigation reports whether req is a document load. Browsers mark those
// with Sec-Fetch-Mode: navigate; clients that send no fetch metadata fall
// back to a GET accepting HTML.
func IsNavigation(req *http.Request) bool {
	if mode := req.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return req.Method == http.MethodGet && strings.Contains(req.Header.Get("Accept"), "text/html")
}

// PathPrefix matches requests whose path starts with prefix.
func PathPrefix(prefix string) Predicate {
	return func(req *http.Request) bool {
		return strings.HasPrefix(req.URL.Path, prefix)
	}
}
