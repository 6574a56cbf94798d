package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RefillFunc fetches the next page of venue fill records keyed by the lookup
// key (exchange order id for the CEX, lowercase tx hash for the DEX). The
// implementation owns its pagination cursor and must advance it past the
// returned page, so successive calls walk forward. An empty page means the
// venue has nothing new past the cursor.
type RefillFunc[V any] func(ctx context.Context) (map[string]V, error)

type refillResult struct {
	fetched int
	err     error
}

type inflightRefill struct {
	done chan struct{}
	res  refillResult
}

// FillCache caches venue fill records and refills itself on misses. At most
// one refill runs at a time; concurrent missers join the in-flight fetch
// rather than issuing their own, which keeps a burst of lookups from
// hammering a rate-limited venue API.
type FillCache[V any] struct {
	refill        RefillFunc[V]
	maxPages      int
	refillTimeout time.Duration

	mu       sync.Mutex
	entries  map[string]V
	inflight *inflightRefill
}

func NewFillCache[V any](refill RefillFunc[V], maxPages int, refillTimeout time.Duration) *FillCache[V] {
	if maxPages <= 0 {
		maxPages = 25
	}
	if refillTimeout <= 0 {
		refillTimeout = time.Minute
	}
	return &FillCache[V]{
		refill:        refill,
		maxPages:      maxPages,
		refillTimeout: refillTimeout,
		entries:       make(map[string]V),
	}
}

// Lookup returns the cached record for key, refilling from the venue until
// the key appears or the venue runs out of new records. A miss after an
// empty page is a definitive "not there yet" for this pass; the order stays
// pending and a later pass retries. The page bound protects against a venue
// that keeps returning pages without ever yielding the key.
func (c *FillCache[V]) Lookup(ctx context.Context, key string) (V, bool, error) {
	var zero V
	for page := 0; page < c.maxPages; page++ {
		c.mu.Lock()
		if v, ok := c.entries[key]; ok {
			c.mu.Unlock()
			return v, true, nil
		}
		fl := c.inflight
		if fl == nil {
			fl = &inflightRefill{done: make(chan struct{})}
			c.inflight = fl
			go c.runRefill(fl)
		}
		c.mu.Unlock()

		select {
		case <-fl.done:
		case <-ctx.Done():
			return zero, false, ctx.Err()
		}
		if fl.res.err != nil {
			return zero, false, fl.res.err
		}

		c.mu.Lock()
		v, ok := c.entries[key]
		c.mu.Unlock()
		if ok {
			return v, true, nil
		}
		if fl.res.fetched == 0 {
			return zero, false, nil
		}
	}
	return zero, false, fmt.Errorf("fill cache: key %q not found after %d refill pages", key, c.maxPages)
}

// runRefill performs one page fetch and merges it in. The fetch runs on its
// own deadline rather than any single caller's context, since the result is
// shared by every waiter.
func (c *FillCache[V]) runRefill(fl *inflightRefill) {
	ctx, cancel := context.WithTimeout(context.Background(), c.refillTimeout)
	defer cancel()

	page, err := c.refill(ctx)

	c.mu.Lock()
	for k, v := range page {
		c.entries[k] = v
	}
	c.inflight = nil
	c.mu.Unlock()

	fl.res = refillResult{fetched: len(page), err: err}
	close(fl.done)
}

// Purge drops one record, typically after it has been consumed.
func (c *FillCache[V]) Purge(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len reports the number of cached records, for the status surface.
func (c *FillCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
