package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

var (
	// ErrBodyTooLarge is returned by ReadResponse when a body exceeds the limit.
	ErrBodyTooLarge = errors.New("response body exceeds cache limit")
	// ErrStoreNotFound is returned when writing through a handle whose store
	// has been deleted.
	ErrStoreNotFound = errors.New("cache store not found")
	// ErrStoreFull is returned by PutAll when a bounded store cannot hold
	// every entry of the batch.
	ErrStoreFull = errors.New("cache store capacity exceeded")
)

// Response is a stored response. Body holds the bytes exactly as fetched.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	StoredAt   time.Time
}

// Entry pairs a request key with the response stored under it.
type Entry struct {
	Key      string
	Response *Response
}

// Store is one named cache generation. Implementations are safe for
// concurrent use and atomic per key.
type Store interface {
	Name() string
	Match(ctx context.Context, key string) (*Response, bool, error)
	Put(ctx context.Context, key string, resp *Response) error
	// PutAll writes every entry or none of them.
	PutAll(ctx context.Context, entries []Entry) error
	Keys(ctx context.Context) ([]string, error)
}

// Storage holds the named stores.
type Storage interface {
	// Open returns the store with the given name, creating it if absent.
	Open(ctx context.Context, name string) (Store, error)
	// Delete destroys the named store and reports whether it existed.
	Delete(ctx context.Context, name string) (bool, error)
	// Names lists the existing stores in creation order.
	Names(ctx context.Context) ([]string, error)
}

// Key builds the request key for a method and request URI.
func Key(method, requestURI string) string {
	return method + " " + requestURI
}

// RequestKey builds the request key of req.
func RequestKey(req *http.Request) string {
	return Key(req.Method, req.URL.RequestURI())
}

// Cacheable reports whether req may be matched against or stored in a store.
func Cacheable(req *http.Request) bool {
	return req.Method == http.MethodGet
}

// ReadResponse drains and closes resp.Body into a Response. A body larger
// than limit yields ErrBodyTooLarge; limit <= 0 disables the check.
func ReadResponse(resp *http.Response, limit int64) (*Response, error) {
	defer resp.Body.Close()

	var r io.Reader = resp.Body
	if limit > 0 {
		r = io.LimitReader(resp.Body, limit+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if limit > 0 && int64(len(body)) > limit {
		return nil, ErrBodyTooLarge
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     CloneHeader(resp.Header),
		Body:       body,
		StoredAt:   time.Now().UTC(),
	}, nil
}

// Clone returns a deep copy of r.
func (r *Response) Clone() *Response {
	body := make([]byte, len(r.Body))
	copy(body, r.Body)
	return &Response{
		StatusCode: r.StatusCode,
		Header:     CloneHeader(r.Header),
		Body:       body,
		StoredAt:   r.StoredAt,
	}
}

// HTTP materializes r as an *http.Response answering req.
func (r *Response) HTTP(req *http.Request) *http.Response {
	header := CloneHeader(r.Header)
	header.Set("Content-Length", strconv.Itoa(len(r.Body)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", r.StatusCode, http.StatusText(r.StatusCode)),
		StatusCode:    r.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}

func CloneHeader(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
	return dst
}
