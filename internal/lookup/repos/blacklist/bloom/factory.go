package bloom

import (
	bitsbloom "github.com/bits-and-blooms/bloom/v3"

	"github.com/haukened/rr-lookup/internal/lookup/repos/blacklist"
)

// factory implements blacklist.BloomFactory on top of a BloomSizer.
type factory struct {
	sizer blacklist.BloomSizer
}

// NewFactory returns a BloomFactory that sizes filters with NewSizer.
func NewFactory() blacklist.BloomFactory { return factory{sizer: NewSizer()} }

// NewFactoryWithSizer returns a BloomFactory using s to pick filter dimensions.
func NewFactoryWithSizer(s blacklist.BloomSizer) blacklist.BloomFactory {
	if s == nil {
		s = NewSizer()
	}
	return factory{sizer: s}
}

// New constructs a filter sized for capacity entries at the target false
// positive rate.
func (f factory) New(capacity uint64, fpRate float64) blacklist.BloomFilter {
	m, k := f.sizer.Size(capacity, fpRate)
	return &filter{bf: bitsbloom.New(uint(m), uint(k))}
}
