package proxy

import (
	"sync"

	"github.com/nitecon/udp-director/internal/selector"
)

// DefaultEndpointCache is the single process-wide mutable singleton the
// Data Proxy and Resource Monitor share: the backend chosen for clients
// that arrive on a data port without a prior session. A handle to the
// same instance is passed to both so the monitor's invalidation is
// immediately visible to every data-port listener.
type DefaultEndpointCache struct {
	mu     sync.RWMutex
	target *selector.Target
}

// NewDefaultEndpointCache creates an empty cache.
func NewDefaultEndpointCache() *DefaultEndpointCache {
	return &DefaultEndpointCache{}
}

// Get returns the cached target, if any.
func (c *DefaultEndpointCache) Get() (selector.Target, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.target == nil {
		return selector.Target{}, false
	}
	return *c.target, true
}

// Set stores target as the current default endpoint.
func (c *DefaultEndpointCache) Set(target selector.Target) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target = &target
}

// Invalidate clears the cache, forcing the next miss to re-query the
// orchestrator.
func (c *DefaultEndpointCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target = nil
}
