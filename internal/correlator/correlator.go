// Package correlator makes correlated client commands idempotent per request id.
package correlator

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/spyderonmode/TicTacMaster-sub002/internal/protocol"
)

type entry struct {
	reply   protocol.Outbound
	expires time.Time
}

// Stats counts executions and replays.
type Stats struct {
	Executed uint64 `json:"executed"`
	Replayed uint64 `json:"replayed"`
	Uncached uint64 `json:"uncached"`
}

// Correlator caches the terminal reply of each (user, command, requestId) for a TTL,
// so a client retry replays the reply instead of repeating side effects.
type Correlator struct {
	ttl     time.Duration
	sfGroup singleflight.Group

	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time

	executed uint64
	replayed uint64
	uncached uint64
}

func New(ttl time.Duration) *Correlator {
	return &Correlator{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func cacheKey(userID, cmdType, requestID string) string {
	return userID + "|" + cmdType + "|" + requestID
}

func (c *Correlator) lookup(key string) (protocol.Outbound, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return e.reply, true
}

func cacheable(reply protocol.Outbound) bool {
	if f, ok := reply.(protocol.Failure); ok {
		return f.Error != protocol.CodeInternal && f.Error != protocol.CodeServerBusy
	}
	return true
}

// Do runs fn at most once per key within the TTL and reports whether the reply was replayed.
// An empty requestID runs fn without caching.
func (c *Correlator) Do(userID, cmdType, requestID string, fn func() protocol.Outbound) (protocol.Outbound, bool) {
	if requestID == "" {
		atomic.AddUint64(&c.uncached, 1)
		return fn(), false
	}

	key := cacheKey(userID, cmdType, requestID)
	if reply, ok := c.lookup(key); ok {
		atomic.AddUint64(&c.replayed, 1)
		log.Printf("[correlator] Replaying %s for %s (request %s)", cmdType, userID, requestID)
		return reply, true
	}

	var executed bool
	val, _, _ := c.sfGroup.Do(key, func() (any, error) {
		// a flight that finished between lookup and Do already cached its reply
		if reply, ok := c.lookup(key); ok {
			return reply, nil
		}
		executed = true
		reply := fn()
		if cacheable(reply) {
			c.mu.Lock()
			c.entries[key] = entry{reply: reply, expires: c.now().Add(c.ttl)}
			c.mu.Unlock()
		}
		return reply, nil
	})

	if executed {
		atomic.AddUint64(&c.executed, 1)
	} else {
		atomic.AddUint64(&c.replayed, 1)
	}
	return val.(protocol.Outbound), !executed
}

// Purge drops expired entries and returns how many were removed.
func (c *Correlator) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Run purges expired entries every interval until ctx is done.
func (c *Correlator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := c.Purge(); n > 0 {
				log.Printf("[correlator] Purged %d expired request(s)", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Correlator) GetStats() Stats {
	return Stats{
		Executed: atomic.LoadUint64(&c.executed),
		Replayed: atomic.LoadUint64(&c.replayed),
		Uncached: atomic.LoadUint64(&c.uncached),
	}
}
