package lru

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/rr-lookup/internal/lookup/domain"
	"github.com/haukened/rr-lookup/internal/lookup/repos/blacklist"
)

// decisionCache is an LRU-backed blacklist.DecisionCache keyed by normalized
// number. It counts hits, misses and evictions.
type decisionCache struct {
	lru       *lru.Cache[string, domain.BlacklistDecision]
	hits      uint64
	misses    uint64
	evictions uint64
}

// disabledCache is a no-op DecisionCache used when size <= 0.
type disabledCache struct{}

// newLRU is a seam for tests.
var newLRU = func(size int, onEvict func(string, domain.BlacklistDecision)) (*lru.Cache[string, domain.BlacklistDecision], error) {
	return lru.NewWithEvict(size, onEvict)
}

// New creates a DecisionCache holding up to size decisions. If size <= 0 a
// disabled cache is returned that always misses.
func New(size int) (blacklist.DecisionCache, error) {
	if size <= 0 {
		return &disabledCache{}, nil
	}

	dc := &decisionCache{}
	// Purge reports every dropped entry through the eviction callback too.
	cache, err := newLRU(size, func(string, domain.BlacklistDecision) {
		atomic.AddUint64(&dc.evictions, 1)
	})
	if err != nil {
		return nil, err
	}
	dc.lru = cache
	return dc, nil
}

func (c *decisionCache) Get(number string) (domain.BlacklistDecision, bool) {
	if val, ok := c.lru.Get(number); ok {
		atomic.AddUint64(&c.hits, 1)
		return val, true
	}
	atomic.AddUint64(&c.misses, 1)
	return domain.BlacklistDecision{}, false
}

func (c *decisionCache) Put(number string, d domain.BlacklistDecision) {
	c.lru.Add(number, d)
}

func (c *decisionCache) Len() int { return c.lru.Len() }

func (c *decisionCache) Purge() { c.lru.Purge() }

// Stats returns cumulative hit, miss and eviction counters.
func (c *decisionCache) Stats() (hits, misses, evictions uint64) {
	return atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses), atomic.LoadUint64(&c.evictions)
}

func (d *disabledCache) Get(string) (domain.BlacklistDecision, bool) {
	return domain.BlacklistDecision{}, false
}

func (d *disabledCache) Put(string, domain.BlacklistDecision) {}

func (d *disabledCache) Len() int { return 0 }

func (d *disabledCache) Purge() {}

func (d *disabledCache) Stats() (uint64, uint64, uint64) { return 0, 0, 0 }

var _ blacklist.DecisionCache = (*decisionCache)(nil)
var _ blacklist.DecisionCache = (*disabledCache)(nil)
