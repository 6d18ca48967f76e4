package lru

import (
	"errors"
	"testing"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/rr-lookup/internal/lookup/domain"
)

func listed(n string) domain.BlacklistDecision {
	return domain.BlacklistDecision{Listed: true, Entry: domain.BlacklistEntry{Number: n, Flags: domain.BlockAll}}
}

func TestDecisionCache_HitMissAndPut(t *testing.T) {
	c, err := New(2)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if _, ok := c.Get("+15551234567"); ok {
		t.Fatalf("expected miss before put")
	}
	c.Put("+15551234567", listed("+15551234567"))

	got, ok := c.Get("+15551234567")
	if !ok || !got.Listed || got.Entry.Number != "+15551234567" {
		t.Fatalf("unexpected get: ok=%v got=%+v", ok, got)
	}
	hits, misses, evictions := c.Stats()
	if hits != 1 || misses != 1 || evictions != 0 {
		t.Fatalf("unexpected stats: hits=%d misses=%d evictions=%d", hits, misses, evictions)
	}
}

func TestDecisionCache_EvictionAndLen(t *testing.T) {
	c, err := New(2)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	c.Put("+1", listed("+1"))
	c.Put("+2", listed("+2"))
	if got := c.Len(); got != 2 {
		t.Fatalf("len=%d want=2", got)
	}
	// touch +1 so +2 is least recently used
	c.Get("+1")
	c.Put("+3", listed("+3"))
	if got := c.Len(); got != 2 {
		t.Fatalf("len=%d want=2 after eviction", got)
	}
	if _, ok := c.Get("+2"); ok {
		t.Fatalf("expected +2 to be evicted")
	}
	if _, _, ev := c.Stats(); ev != 1 {
		t.Fatalf("evictions=%d want=1", ev)
	}
}

func TestDecisionCache_PurgeCountsEvictions(t *testing.T) {
	c, err := New(3)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	c.Put("+1", listed("+1"))
	c.Put("+2", listed("+2"))
	c.Put("+3", listed("+3"))

	c.Purge()
	if got := c.Len(); got != 0 {
		t.Fatalf("len=%d want=0 after purge", got)
	}
	if _, _, ev := c.Stats(); ev != 3 {
		t.Fatalf("evictions=%d want=3 after purge", ev)
	}
}

func TestDecisionCache_Disabled(t *testing.T) {
	c, err := New(0)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	c.Put("+1", listed("+1"))
	if _, ok := c.Get("+1"); ok {
		t.Fatalf("expected miss in disabled cache")
	}
	if got := c.Len(); got != 0 {
		t.Fatalf("len=%d want=0 for disabled", got)
	}
	c.Purge()
	if h, m, e := c.Stats(); h+m+e != 0 {
		t.Fatalf("disabled cache should track no stats")
	}
}

func TestNewLRU_Error(t *testing.T) {
	original := newLRU
	defer func() { newLRU = original }()
	newLRU = func(int, func(string, domain.BlacklistDecision)) (*lru.Cache[string, domain.BlacklistDecision], error) {
		return nil, errors.New("cache creation error")
	}
	if _, err := New(1); err == nil {
		t.Fatalf("expected error but got nil")
	}
}
