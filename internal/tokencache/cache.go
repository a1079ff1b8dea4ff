// Package tokencache implements the opaque token issuance and lookup
// store: mint a token bound to a backend target, look it up before
// expiry, and let it fall out of the cache on its own once its TTL
// passes.
package tokencache

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nitecon/udp-director/internal/metrics"
	"github.com/nitecon/udp-director/internal/selector"
)

type entry struct {
	target    selector.Target
	expiresAt time.Time
}

// Cache maps opaque token strings to backend targets with TTL eviction.
// Tokens are never explicitly revoked; they disappear only by expiry.
type Cache struct {
	ttl       time.Duration
	entries   sync.Map // map[string]entry
	stopChan  chan struct{}
	sweepOnce sync.Once
}

// New creates a Cache whose entries expire ttl after being minted, and
// starts its background sweep goroutine.
func New(ttl time.Duration) *Cache {
	c := &Cache{
		ttl:      ttl,
		stopChan: make(chan struct{}),
	}
	c.startSweep()
	return c
}

// Mint generates a fresh random token bound to target and stores the
// association, returning the token string.
func (c *Cache) Mint(target selector.Target) string {
	token := uuid.New().String()
	c.entries.Store(token, entry{
		target:    target,
		expiresAt: time.Now().Add(c.ttl),
	})
	metrics.TokensMinted.Inc()
	return token
}

// Lookup returns the target bound to token if it exists and has not yet
// expired. A lookup immediately after TTL expiry returns ok=false even
// if the background sweep has not yet removed the entry.
func (c *Cache) Lookup(token string) (selector.Target, bool) {
	value, ok := c.entries.Load(token)
	if !ok {
		return selector.Target{}, false
	}

	e := value.(entry)
	if time.Now().After(e.expiresAt) {
		c.entries.Delete(token)
		return selector.Target{}, false
	}

	return e.target, true
}

// startSweep runs a periodic goroutine that evicts expired entries so the
// cache does not grow unbounded between lookups.
func (c *Cache) startSweep() {
	c.sweepOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(c.ttl)
			defer ticker.Stop()

			for {
				select {
				case <-ticker.C:
					c.sweepExpired()
				case <-c.stopChan:
					return
				}
			}
		}()
	})
}

func (c *Cache) sweepExpired() {
	now := time.Now()
	removed := 0

	c.entries.Range(func(key, value interface{}) bool {
		e := value.(entry)
		if now.After(e.expiresAt) {
			c.entries.Delete(key)
			removed++
		}
		return true
	})

	if removed > 0 {
		log.Debug().Int("count", removed).Msg("Swept expired tokens")
	}
}

// Close stops the background sweep goroutine.
func (c *Cache) Close() {
	close(c.stopChan)
}
