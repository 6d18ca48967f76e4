package bloom

import (
	"sync"

	bitsbloom "github.com/bits-and-blooms/bloom/v3"

	"github.com/haukened/rr-lookup/internal/lookup/domain"
)

// Keys carry the entry kind so an exact entry for "+1900" never answers a
// prefix test for the same digits.
const (
	exactKeyPrefix  = "e:"
	prefixKeyPrefix = "p:"
)

// filter holds blacklist entries in a bits-and-blooms BloomFilter. AddEntry
// takes the write lock; MightList holds the read lock across all its tests.
type filter struct {
	mu sync.RWMutex
	bf *bitsbloom.BloomFilter
}

func entryKey(e domain.BlacklistEntry) string {
	if e.Kind == domain.EntryPrefix {
		return prefixKeyPrefix + e.Number
	}
	return exactKeyPrefix + e.Number
}

func (f *filter) AddEntry(e domain.BlacklistEntry) {
	key := entryKey(e)
	f.mu.Lock()
	f.bf.AddString(key)
	f.mu.Unlock()
}

// MightList reports whether an exact entry for number, or a prefix entry for
// any leading part of it, may have been added. False is definitive.
func (f *filter) MightList(number string) bool {
	if number == "" {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.bf.TestString(exactKeyPrefix + number) {
		return true
	}
	// longest first
	for i := len(number); i > 0; i-- {
		if f.bf.TestString(prefixKeyPrefix + number[:i]) {
			return true
		}
	}
	return false
}
