package risk

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/vmihailenco/msgpack/v5"
)

// Cache is a bounded, process-wide, best-effort store of computed MeasureSets
// keyed by input fingerprint. Entries are evicted least-recently-used first.
// A miss is always safe: the engine simply recomputes.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[string]*list.Element

	hits   uint64
	misses uint64
}

type cacheEntry struct {
	key   string
	value *MeasureSet
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Size   int    `json:"size"`
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

// NewCache creates a cache holding at most capacity entries. A non-positive
// capacity returns nil, which Engine.SetCache treats as disabled.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		return nil
	}
	return &Cache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

// Get returns the cached value for key.
func (c *Cache) Get(key string) (*MeasureSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).value, true
}

// Put stores value under key, evicting the oldest entry when full.
func (c *Cache) Put(key string, value *MeasureSet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).value = value
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, value: value})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Size: c.order.Len(), Hits: c.hits, Misses: c.misses}
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[string]*list.Element, c.capacity)
}

type fingerprintInput struct {
	Timestamps       []int64   `msgpack:"ts"`
	Values           []float64 `msgpack:"v"`
	ConfidenceLevels []float64 `msgpack:"cl"`
	RiskFreeRate     float64   `msgpack:"rf"`
	BenchmarkTS      []int64   `msgpack:"bts,omitempty"`
	BenchmarkValues  []float64 `msgpack:"bv,omitempty"`
	Beta             *float64  `msgpack:"beta,omitempty"`
	Config           Config    `msgpack:"cfg"`
}

// fingerprint hashes a msgpack encoding of everything that affects the result.
func fingerprint(returns domain.ReturnSeries, o options, cfg Config) (string, error) {
	in := fingerprintInput{
		Timestamps:       unixNanos(returns),
		Values:           returns.Values(),
		ConfidenceLevels: o.confidenceLevels,
		RiskFreeRate:     o.riskFreeRate,
		Beta:             o.beta,
		Config:           cfg,
	}
	if o.benchmark != nil {
		in.BenchmarkTS = unixNanos(*o.benchmark)
		in.BenchmarkValues = o.benchmark.Values()
	}

	data, err := msgpack.Marshal(&in)
	if err != nil {
		return "", fmt.Errorf("failed to encode cache key: %w", err)
	}
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:]), nil
}

func unixNanos(s domain.ReturnSeries) []int64 {
	ts := s.Timestamps()
	out := make([]int64, len(ts))
	for i, t := range ts {
		out[i] = t.UnixNano()
	}
	return out
}
