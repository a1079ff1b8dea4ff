package query

import (
	"container/list"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipRateLimiter provides per-client-IP rate limiting for the query
// channel, with LRU eviction so a client spraying distinct source IPs
// cannot grow this cache unbounded.
type ipRateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*list.Element
	lruList    *list.List
	rate       rate.Limit
	burst      int
	maxEntries int
	maxIdleAge time.Duration
}

type lruEntry struct {
	ip           string
	limiter      *rate.Limiter
	lastAccessed time.Time
}

// newIPRateLimiter builds a limiter allowing requestsPerMinute requests
// per IP with the given burst, tracking at most maxEntries distinct IPs.
func newIPRateLimiter(requestsPerMinute, burst, maxEntries int) *ipRateLimiter {
	return &ipRateLimiter{
		limiters:   make(map[string]*list.Element),
		lruList:    list.New(),
		rate:       rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:      burst,
		maxEntries: maxEntries,
		maxIdleAge: 15 * time.Minute,
	}
}

// allow reports whether a request from ip may proceed, creating a fresh
// limiter for ip on first sight and evicting the least recently used
// entry if the cache is already at capacity.
func (l *ipRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	elem, ok := l.limiters[ip]
	if !ok {
		if l.lruList.Len() >= l.maxEntries {
			l.evictOldest()
		}
		elem = l.lruList.PushFront(&lruEntry{
			ip:           ip,
			limiter:      rate.NewLimiter(l.rate, l.burst),
			lastAccessed: time.Now(),
		})
		l.limiters[ip] = elem
	} else {
		l.lruList.MoveToFront(elem)
		elem.Value.(*lruEntry).lastAccessed = time.Now()
	}

	return elem.Value.(*lruEntry).limiter.Allow()
}

func (l *ipRateLimiter) evictOldest() {
	elem := l.lruList.Back()
	if elem == nil {
		return
	}
	l.lruList.Remove(elem)
	delete(l.limiters, elem.Value.(*lruEntry).ip)
}

// cleanup removes limiters idle for longer than maxIdleAge. The LRU list
// is ordered by access time, so it stops at the first entry still fresh.
func (l *ipRateLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for elem := l.lruList.Back(); elem != nil; {
		entry := elem.Value.(*lruEntry)
		if now.Sub(entry.lastAccessed) <= l.maxIdleAge {
			break
		}
		prev := elem.Prev()
		l.lruList.Remove(elem)
		delete(l.limiters, entry.ip)
		elem = prev
	}
}

// runCleanup periodically reaps idle limiters until ctxDone closes.
func (l *ipRateLimiter) runCleanup(ctxDone <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-ctxDone:
			return
		}
	}
}
