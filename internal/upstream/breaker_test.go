package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scripted struct {
	calls atomic.Int32
	err   atomic.Pointer[error]
}

func (s *scripted) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	s.calls.Add(1)
	if p := s.err.Load(); p != nil {
		return nil, *p
	}
	return &http.Response{
		StatusCode: http.StatusServiceUnavailable,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("")),
	}, nil
}

func (s *scripted) fail(err error) { s.err.Store(&err) }
func (s *scripted) recover()       { s.err.Store(nil) }

func fetch(f Fetcher) error {
	resp, err := f.Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err == nil {
		_ = resp.Body.Close()
	}
	return err
}

func TestNewBreaker_DisabledReturnsNext(t *testing.T) {
	next := &scripted{}
	assert.Same(t, Fetcher(next), NewBreaker(next, BreakerConfig{}))
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	next := &scripted{}
	next.fail(errors.New("connection refused"))

	clock := time.Unix(1000, 0)
	b := NewBreaker(next, BreakerConfig{ConsecutiveFailures: 2, Cooldown: time.Minute}).(*Breaker)
	b.now = func() time.Time { return clock }

	require.Error(t, fetch(b))
	require.Error(t, fetch(b))
	assert.Equal(t, int32(2), next.calls.Load())

	assert.ErrorIs(t, fetch(b), ErrCircuitOpen)
	assert.Equal(t, int32(2), next.calls.Load(), "open circuit must not reach the origin")

	clock = clock.Add(time.Minute)
	next.recover()
	require.NoError(t, fetch(b))
	assert.Equal(t, int32(3), next.calls.Load())
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	next := &scripted{}
	next.fail(errors.New("no route to host"))

	clock := time.Unix(1000, 0)
	b := NewBreaker(next, BreakerConfig{ConsecutiveFailures: 3, Cooldown: time.Second}).(*Breaker)
	b.now = func() time.Time { return clock }

	for range 3 {
		require.Error(t, fetch(b))
	}
	assert.ErrorIs(t, fetch(b), ErrCircuitOpen)

	clock = clock.Add(2 * time.Second)
	require.Error(t, fetch(b))
	assert.ErrorIs(t, fetch(b), ErrCircuitOpen)
	assert.Equal(t, int32(4), next.calls.Load())
}

func TestBreaker_HTTPErrorsResetCount(t *testing.T) {
	next := &scripted{}
	b := NewBreaker(next, BreakerConfig{ConsecutiveFailures: 2, Cooldown: time.Minute})

	next.fail(errors.New("timeout"))
	require.Error(t, fetch(b))
	next.recover()
	require.NoError(t, fetch(b))
	next.fail(errors.New("timeout"))
	require.Error(t, fetch(b))

	err := fetch(b)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCircuitOpen, "second failure in a row reaches the origin")
	assert.ErrorIs(t, fetch(b), ErrCircuitOpen)
}
