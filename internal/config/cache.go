package config

import (
	"sync"
	"sync/atomic"
	"time"
)

// ttlCache memoizes raw string values fetched from a remote Source (Redis)
// for a short, fixed window, the same tradeoff ecache2 makes with its
// background-calibrated clock: a control-plane round trip is orders of
// magnitude slower than a packet's budget, so every config lookup on the
// data-plane read path goes through this cache instead of hitting Redis
// per packet.
type ttlCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     int64 // nanoseconds
}

type cacheEntry struct {
	value   string
	expires int64
}

var clockNanos = time.Now().UnixNano()

func init() {
	go func() {
		for {
			time.Sleep(10 * time.Millisecond)
			atomic.StoreInt64(&clockNanos, time.Now().UnixNano())
		}
	}()
}

func clockNow() int64 { return atomic.LoadInt64(&clockNanos) }

func newTTLCache(ttl time.Duration) *ttlCache {
	return &ttlCache{entries: make(map[string]cacheEntry), ttl: int64(ttl)}
}

// get returns the cached value for name if it hasn't expired.
func (c *ttlCache) get(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[name]
	if !ok || clockNow() >= e.expires {
		return "", false
	}
	return e.value, true
}

// put stores value for name, valid until the cache's ttl elapses.
func (c *ttlCache) put(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[name] = cacheEntry{value: value, expires: clockNow() + c.ttl}
}
