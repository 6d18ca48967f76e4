package blacklist

import (
	"errors"

	"github.com/haukened/rr-lookup/internal/lookup/domain"
)

// ErrInvalidNumber is returned when a number normalizes to nothing.
var ErrInvalidNumber = errors.New("blacklist number has no digits")

// BloomSizer computes Bloom filter parameters from capacity (n) and target FP rate (p).
// It returns m (number of bits) and k (number of hash functions).
type BloomSizer interface {
	Size(n uint64, p float64) (m uint64, k uint8)
}

// BloomFilter pre-screens lookups. MightList covers the number's exact entry
// and every prefix entry that could match it; false means no entry applies.
type BloomFilter interface {
	AddEntry(e domain.BlacklistEntry)
	MightList(number string) bool
}

// BloomFactory builds filters sized for a dataset.
type BloomFactory interface {
	New(capacity uint64, fpRate float64) BloomFilter
}

// DecisionCache caches blacklist decisions by normalized number and mask with basic metrics.
type DecisionCache interface {
	Get(number string) (domain.BlacklistDecision, bool)
	Put(number string, d domain.BlacklistDecision)
	Len() int
	Purge()
	Stats() (hits, misses, evictions uint64)
}

// StoreStats captures high-level counts and metadata for the persistent store.
type StoreStats struct {
	ExactCount  uint64
	PrefixCount uint64
	Version     uint64 // bumped on every write
	UpdatedUnix int64  // seconds since epoch
}

// Store is the authoritative persistent index.
//   - GetFirstMatch: the most specific entry for number whose flags intersect
//     mask; the exact entry first, then prefixes longest first
//   - Get: the entry stored under number for the given kind
//   - Apply: atomic read-modify-write of one entry's flags; zero flags delete it
//   - Entries: every stored entry, used to rebuild the Bloom filter
type Store interface {
	GetFirstMatch(number string, mask domain.BlockMask) (domain.BlacklistEntry, bool, error)
	Get(number string, kind domain.EntryKind) (domain.BlacklistEntry, bool, error)
	Apply(number string, kind domain.EntryKind, set, clear domain.BlockMask, updatedUnix int64) (domain.BlacklistEntry, error)
	Entries() ([]domain.BlacklistEntry, error)
	Stats() StoreStats
	Close() error
}

// RepoStats exposes repository-level counters and underlying store stats.
type RepoStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Store     StoreStats
}

// Repository is the composition layer that wires cache → bloom → store.
//   - IsListed matches a number against entries whose flags intersect mask
//   - AddOrUpdate sets then clears flags on the entry for number ("+1900*" addresses a prefix entry)
//   - Load rebuilds the Bloom filter from the store
type Repository interface {
	IsListed(number string, mask domain.BlockMask) domain.MatchResult
	AddOrUpdate(number string, set, clear domain.BlockMask) error
	Entries() ([]domain.BlacklistEntry, error)
	Load() error
	Stats() RepoStats
	Close() error
}
