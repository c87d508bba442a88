package cache

import (
	"context"
	"fmt"
	"sync"
)

type entry struct {
	key  string
	resp *Response
	prev *entry
	next *entry
}

// InMemoryCache is a bounded LRU store. Matches refresh recency; once
// maxEntries is exceeded the least recently used entry is evicted. PutAll
// refuses a batch that cannot fit, so it never evicts its own entries.
type InMemoryCache struct {
	mu         sync.Mutex
	name       string
	items      map[string]*entry
	head       *entry
	tail       *entry
	maxEntries int
}

var _ Store = (*InMemoryCache)(nil)

func NewInMemoryCache(name string, maxEntries int) *InMemoryCache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &InMemoryCache{
		name:       name,
		items:      make(map[string]*entry, maxEntries),
		maxEntries: maxEntries,
	}
}

func (c *InMemoryCache) Name() string {
	return c.name
}

func (c *InMemoryCache) Match(ctx context.Context, key string) (*Response, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	c.moveToFront(e)

	return e.resp.Clone(), true, nil
}

func (c *InMemoryCache) Put(ctx context.Context, key string, resp *Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(key, resp.Clone())
	return nil
}

func (c *InMemoryCache) PutAll(ctx context.Context, entries []Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	distinct := make(map[string]struct{}, len(entries))
	cloned := make([]Entry, len(entries))
	for i, e := range entries {
		distinct[e.Key] = struct{}{}
		cloned[i] = Entry{Key: e.Key, Response: e.Response.Clone()}
	}
	if len(distinct) > c.maxEntries {
		return fmt.Errorf("%w: %d entries, capacity %d", ErrStoreFull, len(distinct), c.maxEntries)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range cloned {
		c.set(e.Key, e.Response)
	}
	return nil
}

// Keys lists keys from least to most recently used.
func (c *InMemoryCache) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.items))
	for e := c.tail; e != nil; e = e.prev {
		keys = append(keys, e.key)
	}
	return keys, nil
}

func (c *InMemoryCache) set(key string, resp *Response) {
	if e, ok := c.items[key]; ok {
		e.resp = resp
		c.moveToFront(e)
		return
	}

	e := &entry{
		key:  key,
		resp: resp,
	}
	c.items[key] = e
	c.addToFront(e)

	if len(c.items) > c.maxEntries {
		c.evictOldest()
	}
}

func (c *InMemoryCache) addToFront(e *entry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *InMemoryCache) moveToFront(e *entry) {
	if c.head == e {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *InMemoryCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (c *InMemoryCache) evictOldest() {
	if c.tail == nil {
		return
	}
	oldest := c.tail
	c.remove(oldest)
	delete(c.items, oldest.key)
}

// MemoryStorage keeps named InMemoryCache stores in process memory.
type MemoryStorage struct {
	mu         sync.Mutex
	stores     map[string]*InMemoryCache
	order      []string
	maxEntries int
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates an empty storage whose stores hold at most
// maxEntries entries each.
func NewMemoryStorage(maxEntries int) *MemoryStorage {
	return &MemoryStorage{
		stores:     make(map[string]*InMemoryCache),
		maxEntries: maxEntries,
	}
}

func (s *MemoryStorage) Open(ctx context.Context, name string) (Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.stores[name]; ok {
		return c, nil
	}
	c := NewInMemoryCache(name, s.maxEntries)
	s.stores[name] = c
	s.order = append(s.order, name)
	return c, nil
}

func (s *MemoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stores[name]; !ok {
		return false, nil
	}
	delete(s.stores, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (s *MemoryStorage) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...), nil
}
