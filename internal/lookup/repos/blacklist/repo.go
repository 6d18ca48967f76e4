package blacklist

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/haukened/rr-lookup/internal/lookup/common/clock"
	"github.com/haukened/rr-lookup/internal/lookup/common/log"
	"github.com/haukened/rr-lookup/internal/lookup/common/phone"
	"github.com/haukened/rr-lookup/internal/lookup/domain"
)

// growthHeadroom is added to the entry count when sizing the Bloom filter so
// that entries added after Load do not immediately degrade the FP rate.
const growthHeadroom = 1024

// repository implements Repository by composing a Store, a Bloom filter
// (via factory) and a DecisionCache. Reads go bloom → cache → store; writes
// go to the store first, then extend the Bloom filter and purge the cache.
//
// gen is bumped under mu by every write. A read only caches what it got from
// the store if no write finished in between.
type repository struct {
	mu      sync.RWMutex
	gen     uint64
	store   Store
	cache   DecisionCache
	bloom   BloomFilter
	factory BloomFactory
	fpRate  float64
	clock   clock.Clock
	logger  log.Logger
}

// Options configures NewRepository.
type Options struct {
	Store   Store
	Cache   DecisionCache
	Factory BloomFactory
	FPRate  float64 // target false-positive rate when (re)building the Bloom filter
	Clock   clock.Clock
	Logger  log.Logger
}

// NewRepository constructs a Repository. The Bloom filter is empty until Load
// runs; until then every read consults the store.
func NewRepository(opts Options) Repository {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &repository{
		store:   opts.Store,
		cache:   opts.Cache,
		factory: opts.Factory,
		fpRate:  opts.FPRate,
		clock:   opts.Clock,
		logger:  opts.Logger,
	}
}

// IsListed reports how number matches the blacklist for mask.
// Policy: on internal errors, prefer not listed.
func (r *repository) IsListed(number string, mask domain.BlockMask) domain.MatchResult {
	n := phone.NormalizeForBlacklist(number)
	if n == "" {
		return domain.MatchNone
	}
	if phone.IsPrefixPattern(n) {
		return r.checkPattern(n).Match(mask)
	}
	// 1) checkBloom: early-allow if definitively negative
	if !r.checkBloom(n) {
		return domain.MatchNone
	}
	// 2) checkCache
	key := cacheKey(n, mask)
	if d, ok := r.checkCache(key); ok {
		return d.Match(mask)
	}
	// 3) checkStore
	gen := r.generation()
	dec := r.checkStore(n, mask)
	// 4) updateCache
	r.updateCache(key, dec, gen)
	return dec.Match(mask)
}

// AddOrUpdate applies set then clear to the entry for number. An entry left
// with no flags is removed.
func (r *repository) AddOrUpdate(number string, set, clear domain.BlockMask) error {
	n := phone.NormalizeForBlacklist(number)
	if n == "" {
		return fmt.Errorf("%w: %q", ErrInvalidNumber, number)
	}
	kind := domain.EntryExact
	if phone.IsPrefixPattern(n) {
		kind = domain.EntryPrefix
		n = strings.TrimSuffix(n, string(phone.Wildcard))
	}

	entry, err := r.store.Apply(n, kind, set, clear, r.clock.Now().Unix())
	if err != nil {
		return fmt.Errorf("blacklist update %s: %w", n, err)
	}

	r.mu.Lock()
	r.gen++
	if entry.Flags != domain.BlockNone && r.bloom != nil {
		r.bloom.AddEntry(entry)
	}
	// A prefix entry can change the decision for any number, so drop everything.
	r.cache.Purge()
	r.mu.Unlock()

	r.logger.Debug(map[string]any{
		"number": n,
		"kind":   kind.String(),
		"flags":  entry.Flags.String(),
	}, "Blacklist entry updated")
	return nil
}

// Entries returns every stored entry.
func (r *repository) Entries() ([]domain.BlacklistEntry, error) {
	return r.store.Entries()
}

// Load rebuilds the Bloom filter from the store and purges the decision cache.
func (r *repository) Load() error {
	entries, err := r.store.Entries()
	if err != nil {
		return fmt.Errorf("blacklist load: %w", err)
	}
	bf := r.factory.New(uint64(len(entries))+growthHeadroom, r.fpRate)
	for _, e := range entries {
		bf.AddEntry(e)
	}

	r.mu.Lock()
	r.gen++
	r.bloom = bf
	r.cache.Purge()
	r.mu.Unlock()

	r.logger.Info(map[string]any{"entries": len(entries)}, "Blacklist loaded")
	return nil
}

// Stats reports cache counters and store metadata.
func (r *repository) Stats() RepoStats {
	hits, misses, evictions := r.cache.Stats()
	return RepoStats{Hits: hits, Misses: misses, Evictions: evictions, Store: r.store.Stats()}
}

// Close releases the store.
func (r *repository) Close() error {
	return r.store.Close()
}

// cacheKey scopes a cached decision to the mask it was resolved for, since an
// entry that misses the mask falls through to a shorter prefix.
func cacheKey(n string, mask domain.BlockMask) string {
	return n + "#" + strconv.Itoa(int(mask))
}

// checkBloom returns true if we should consult the store (maybe-positive),
// or false if we can early-allow (definitely negative). If no bloom is loaded,
// returns true to allow authoritative checking.
func (r *repository) checkBloom(n string) bool {
	r.mu.RLock()
	bf := r.bloom
	r.mu.RUnlock()
	if bf == nil {
		return true
	}
	return bf.MightList(n)
}

// checkCache returns a cached decision when present.
func (r *repository) checkCache(key string) (domain.BlacklistDecision, bool) {
	r.mu.RLock()
	d, ok := r.cache.Get(key)
	r.mu.RUnlock()
	return d, ok
}

func (r *repository) generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gen
}

// checkStore consults the authoritative store and materializes a decision.
// On any error or miss, returns not listed.
func (r *repository) checkStore(n string, mask domain.BlockMask) domain.BlacklistDecision {
	entry, ok, err := r.store.GetFirstMatch(n, mask)
	if err != nil {
		r.logger.Warn(map[string]any{"number": n, "error": err.Error()}, "Blacklist store read failed")
		return domain.EmptyDecision()
	}
	if !ok {
		return domain.EmptyDecision()
	}
	return domain.BlacklistDecision{Listed: true, Entry: entry}
}

// checkPattern looks up a prefix entry by its own pattern ("+1900*").
func (r *repository) checkPattern(n string) domain.BlacklistDecision {
	entry, ok, err := r.store.Get(strings.TrimSuffix(n, string(phone.Wildcard)), domain.EntryPrefix)
	if err != nil || !ok {
		return domain.EmptyDecision()
	}
	return domain.BlacklistDecision{Listed: true, Entry: entry}
}

// updateCache writes the final decision unless a write has landed since gen
// was read, in which case dec may predate it.
func (r *repository) updateCache(key string, dec domain.BlacklistDecision, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return
	}
	r.cache.Put(key, dec)
}
