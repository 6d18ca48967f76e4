package bloom

import (
	"math"

	"github.com/haukened/rr-lookup/internal/lookup/repos/blacklist"
)

const (
	// defaultFPRate applies when the requested rate is outside (0, 1).
	defaultFPRate = 0.01

	// probesPerLookup is how many keys one lookup tests for a full length
	// E.164 number: the exact key plus a prefix key for "+" and each of up
	// to 15 digits.
	probesPerLookup = 17

	// minEntries is the smallest entry count a filter is sized for.
	minEntries = 64

	maxHashes = 16
)

// sizer implements blacklist.BloomSizer. The requested rate p is the chance
// that one lookup of an unlisted number reaches the store, so each key test
// gets p / probesPerLookup:
//
//	m = - (n * ln(p/probes)) / (ln 2)^2
//	k = (m / n) * ln 2, clamped to [1, maxHashes]
type sizer struct{}

// NewSizer returns a BloomSizer for blacklist filters.
func NewSizer() blacklist.BloomSizer { return sizer{} }

// Size returns the bit count and hash count for n entries.
func (sizer) Size(n uint64, p float64) (uint64, uint8) {
	if n < minEntries {
		n = minEntries
	}
	if !(p > 0 && p < 1) {
		p = defaultFPRate
	}
	perKey := p / probesPerLookup
	ln2 := math.Ln2
	m := uint64(math.Ceil(-float64(n) * math.Log(perKey) / (ln2 * ln2)))
	k := math.Round((float64(m) / float64(n)) * ln2)
	k = math.Min(maxHashes, math.Max(1, k))
	return m, uint8(k)
}
