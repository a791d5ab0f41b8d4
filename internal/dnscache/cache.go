// Package dnscache provides a thread-safe, run-scoped cache for resolved MX
// sets with singleflight deduplication for concurrent requests to the same
// domain.
package dnscache

import (
	"strings"
	"sync"
	"time"

	"github.com/optimode/mailcheck/types"
)

// Entry is one resolved domain. Entries are never mutated once stored;
// a re-fetch replaces the whole entry.
type Entry struct {
	Domain    string
	Status    types.DomainStatus
	Hosts     []types.MXHost
	Detail    string
	FetchedAt time.Time
}

// FetchFunc performs the actual resolution. cacheable=false keeps the
// result out of the cache (it is still handed to concurrent waiters).
type FetchFunc func() (e Entry, cacheable bool)

// Cache is a thread-safe MX cache keyed by lower-cased domain.
// Entries live for the lifetime of the Cache.
// Concurrent lookups for the same domain are deduplicated:
// only one fetch is performed, and all waiters receive the result.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*slot
	now     func() time.Time
}

type slot struct {
	entry Entry
	done  chan struct{} // closed when fetch is complete
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]*slot),
		now:     time.Now,
	}
}

// Get returns the stored entry for domain, if a completed one exists.
func (c *Cache) Get(domain string) (Entry, bool) {
	c.mu.Lock()
	s, ok := c.entries[key(domain)]
	c.mu.Unlock()
	if !ok {
		return Entry{}, false
	}
	select {
	case <-s.done:
		return copyEntry(s.entry), true
	default:
		return Entry{}, false
	}
}

// Lookup returns the entry for domain, calling fetch on a miss.
// hit is true when no fetch was performed by this call.
func (c *Cache) Lookup(domain string, fetch FetchFunc) (e Entry, hit bool) {
	k := key(domain)
	c.mu.Lock()

	if s, ok := c.entries[k]; ok {
		c.mu.Unlock()
		// Completed or in progress, either way the result is shared.
		<-s.done
		return copyEntry(s.entry), true
	}

	s := &slot{done: make(chan struct{})}
	c.entries[k] = s
	c.mu.Unlock()

	entry, cacheable := fetch()
	if entry.FetchedAt.IsZero() {
		entry.FetchedAt = c.now()
	}
	s.entry = entry
	close(s.done)

	if !cacheable {
		c.mu.Lock()
		if c.entries[k] == s {
			delete(c.entries, k)
		}
		c.mu.Unlock()
	}

	return copyEntry(entry), false
}

// Store replaces the entry for e.Domain.
func (c *Cache) Store(e Entry) {
	if e.FetchedAt.IsZero() {
		e.FetchedAt = c.now()
	}
	s := &slot{entry: copyEntry(e), done: make(chan struct{})}
	close(s.done)

	c.mu.Lock()
	c.entries[key(e.Domain)] = s
	c.mu.Unlock()
}

// Len returns the number of entries in the cache (for diagnostics).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func key(domain string) string {
	return strings.ToLower(strings.TrimSuffix(domain, "."))
}

// copyEntry returns a copy whose host slice callers may freely modify.
func copyEntry(e Entry) Entry {
	if e.Hosts != nil {
		hosts := make([]types.MXHost, len(e.Hosts))
		copy(hosts, e.Hosts)
		e.Hosts = hosts
	}
	return e
}
