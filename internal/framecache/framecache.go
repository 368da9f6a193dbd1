// Package framecache holds recently-sent raw NV12/I420 frame buffers so the
// ingester can reattach original image bytes to a detection that arrives
// after the frame itself was sent, keyed by the wire frame_id.
package framecache

import (
	"strconv"
	"sync"
	"time"

	"github.com/clearlane/visionpipe/internal/metrics"
)

// DefaultTTL is used when Cache is constructed with a zero ttl.
const DefaultTTL = 2000 * time.Millisecond

// Entry is the cached frame payload plus the capture metadata the ingester
// needs to build a multipart upload.
type Entry struct {
	Data     []byte
	Width    int
	Height   int
	TsUtcNs  int64
	Planes   int
}

type record struct {
	entry      Entry
	expiration time.Time
}

// Cache is a TTL-bounded keyed store for frame buffers. The sweep timer is
// cancelable via Stop so a feeder's destroy() does not leak a goroutine.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]record
	ttl     time.Duration
	stop    chan struct{}
	stopped bool
}

// New starts a Cache with the given TTL and a sweep derived from it. If ttl is <= 0,
// DefaultTTL is used. The sweep runs at ttl/2 (never less than 250ms).
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		entries: make(map[string]record),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	sweepInterval := ttl / 2
	if sweepInterval < 250*time.Millisecond {
		sweepInterval = 250 * time.Millisecond
	}
	go c.sweepLoop(sweepInterval)
	return c
}

// Put caches e under frameID, overwriting any prior entry for the same id.
func (c *Cache) Put(frameID uint64, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key(frameID)] = record{entry: e, expiration: time.Now().Add(c.ttl)}
	metrics.FrameCacheSize.Set(float64(len(c.entries)))
}

// Get returns the cached entry for frameID, or ok=false if absent or
// expired. The ingester treats a miss as "frame gone, skip ingestion".
func (c *Cache) Get(frameID uint64) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, found := c.entries[key(frameID)]
	if !found || time.Now().After(r.expiration) {
		return Entry{}, false
	}
	return r.entry, true
}

// Delete removes the entry for frameID, if any.
func (c *Cache) Delete(frameID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key(frameID))
}

// Len returns the number of entries currently stored, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop cancels the sweep timer. Safe to call more than once.
func (c *Cache) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	close(c.stop)
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, r := range c.entries {
		if now.After(r.expiration) {
			delete(c.entries, k)
		}
	}
	metrics.FrameCacheSize.Set(float64(len(c.entries)))
}

func key(frameID uint64) string {
	return strconv.FormatUint(frameID, 10)
}
