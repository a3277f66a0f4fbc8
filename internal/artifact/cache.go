// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package artifact

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/samber/oops"
	"golang.org/x/sync/singleflight"
)

// flight tracks one fetch for a name and the callers waiting on it. Once
// done, its outcome is kept for callers that joined just before it finished.
type flight struct {
	key     string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int

	done bool
	art  *Artifact
	err  error
}

// Cache holds fetched artifacts keyed by plugin name for the lifetime of the
// process. Entries are never replaced, refreshed or evicted.
//
// Concurrent first resolutions of the same name share a single fetch. Each
// caller may stop waiting through its own context; the shared fetch is only
// canceled once every waiter has gone.
//
// Cache is safe for concurrent use.
type Cache struct {
	fetcher Fetcher
	group   singleflight.Group

	mu      sync.Mutex
	entries map[string]*Artifact
	flights map[string]*flight
	gen     uint64
	closed  bool
}

// NewCache creates an empty cache backed by fetcher.
// Panics if fetcher is nil.
func NewCache(fetcher Fetcher) *Cache {
	if fetcher == nil {
		panic("artifact.NewCache: fetcher cannot be nil")
	}
	return &Cache{
		fetcher: fetcher,
		entries: make(map[string]*Artifact),
		flights: make(map[string]*flight),
	}
}

// Resolve returns the cached artifact for name, fetching and storing it on
// first use. A failed fetch stores nothing.
func (c *Cache) Resolve(ctx context.Context, name string) (*Artifact, error) {
	if name == "" {
		return nil, ErrInvalidName(name, "name is empty")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed(name)
	}
	if art, ok := c.entries[name]; ok {
		c.mu.Unlock()
		recordLookup(LookupHit)
		return art, nil
	}

	f, ok := c.flights[name]
	if ok && f.ctx.Err() == nil {
		recordLookup(LookupShared)
	} else {
		// The fetch context outlives the first caller; it is canceled when
		// the last waiter leaves or the fetch completes.
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		c.gen++
		f = &flight{
			key:    name + "#" + strconv.FormatUint(c.gen, 10),
			ctx:    fctx,
			cancel: cancel,
		}
		c.flights[name] = f
		recordLookup(LookupMiss)
	}
	f.waiters++
	c.mu.Unlock()

	ch := c.group.DoChan(f.key, func() (any, error) {
		return c.fill(f, name)
	})

	select {
	case res := <-ch:
		c.leave(f, false)
		if res.Err != nil {
			return nil, res.Err
		}
		art, ok := res.Val.(*Artifact)
		if !ok {
			return nil, oops.In("artifact").With("plugin", name).Errorf("unexpected fetch result %T", res.Val)
		}
		return art, nil
	case <-ctx.Done():
		c.leave(f, true)
		return nil, ErrCanceled(name, ctx.Err())
	}
}

// fill runs the shared fetch for f and stores a successful result. A caller
// whose DoChan started after f finished gets f's outcome without a fetch.
func (c *Cache) fill(f *flight, name string) (*Artifact, error) {
	c.mu.Lock()
	if f.done {
		c.mu.Unlock()
		return f.art, f.err
	}
	c.mu.Unlock()

	defer f.cancel()

	art, err := c.fetcher.Fetch(f.ctx, name)

	c.mu.Lock()
	defer c.mu.Unlock()

	art, err = c.settle(f, name, art, err)
	f.done, f.art, f.err = true, art, err
	return art, err
}

// settle retires f and stores a successful fetch. c.mu must be held.
func (c *Cache) settle(f *flight, name string, art *Artifact, err error) (*Artifact, error) {
	if c.flights[name] == f {
		delete(c.flights, name)
	}
	if err != nil {
		return nil, err
	}
	if art == nil {
		return nil, oops.In("artifact").With("plugin", name).New("fetcher returned no artifact")
	}
	if c.closed {
		return nil, ErrClosed(name)
	}
	if existing, ok := c.entries[name]; ok {
		return existing, nil
	}

	c.entries[name] = art
	CacheEntries.Set(float64(len(c.entries)))
	return art, nil
}

// leave drops one waiter from f. A canceled waiter that was the last one
// cancels the shared fetch.
func (c *Cache) leave(f *flight, canceled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f.waiters--
	if canceled && f.waiters <= 0 {
		f.cancel()
	}
}

// Lookup returns the cached artifact for name without fetching.
func (c *Cache) Lookup(name string) (*Artifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	art, ok := c.entries[name]
	return art, ok
}

// Len returns the number of cached artifacts.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Names returns the cached plugin names in sorted order.
func (c *Cache) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close cancels in-flight fetches and drops all entries. Resolve fails with
// CodeClosed afterwards. Close is idempotent.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	for name, f := range c.flights {
		f.cancel()
		delete(c.flights, name)
	}
	c.entries = make(map[string]*Artifact)
	CacheEntries.Set(0)
	return nil
}
