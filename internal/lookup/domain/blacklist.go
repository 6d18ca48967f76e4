package domain

import (
	"fmt"
	"strings"
)

// BlockMask selects what a blacklist entry blocks.
type BlockMask uint8

const (
	BlockCalls BlockMask = 1 << iota
	BlockMessages

	BlockNone BlockMask = 0
	BlockAll            = BlockCalls | BlockMessages
)

// Has reports whether every bit of other is set in m.
func (m BlockMask) Has(other BlockMask) bool { return m&other == other && other != 0 }

// Intersects reports whether m and other share any bit.
func (m BlockMask) Intersects(other BlockMask) bool { return m&other != 0 }

// Apply sets then clears the given bits.
func (m BlockMask) Apply(set, clear BlockMask) BlockMask { return (m | set) &^ clear }

func (m BlockMask) String() string {
	if m == BlockNone {
		return "none"
	}
	var parts []string
	if m&BlockCalls != 0 {
		parts = append(parts, "calls")
	}
	if m&BlockMessages != 0 {
		parts = append(parts, "messages")
	}
	if rest := m &^ BlockAll; rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint8(rest)))
	}
	return strings.Join(parts, "|")
}

// EntryKind defines how a blacklist entry matches numbers.
//
// exact  - matches the normalized number only
// prefix - matches every number starting with the entry (stored without the '*')
type EntryKind uint8

const (
	EntryExact EntryKind = iota
	EntryPrefix
)

func (k EntryKind) String() string {
	switch k {
	case EntryExact:
		return "exact"
	case EntryPrefix:
		return "prefix"
	default:
		return fmt.Sprintf("EntryKind(%d)", k)
	}
}

// BlacklistEntry is one persisted blacklist row.
type BlacklistEntry struct {
	Number string // normalized; prefix entries omit the trailing '*'
	Flags  BlockMask
	Kind   EntryKind
}

// Key returns the form AddOrUpdate accepts: the number, with a trailing '*'
// for prefix entries.
func (e BlacklistEntry) Key() string {
	if e.Kind == EntryPrefix {
		return e.Number + "*"
	}
	return e.Number
}

// MatchResult is the outcome of checking a number against the blacklist.
type MatchResult uint8

const (
	MatchNone MatchResult = iota
	MatchList
	MatchPrefix
)

// Matched reports whether the number is listed.
func (r MatchResult) Matched() bool { return r != MatchNone }

func (r MatchResult) String() string {
	switch r {
	case MatchNone:
		return "none"
	case MatchList:
		return "list"
	case MatchPrefix:
		return "prefix"
	default:
		return fmt.Sprintf("MatchResult(%d)", r)
	}
}

// BlacklistDecision is a cached resolution of a number to the entry that governs it.
type BlacklistDecision struct {
	Listed bool
	Entry  BlacklistEntry
}

// EmptyDecision returns a not-listed decision.
func EmptyDecision() BlacklistDecision { return BlacklistDecision{} }

// Match evaluates the decision against mask.
func (d BlacklistDecision) Match(mask BlockMask) MatchResult {
	if !d.Listed || !d.Entry.Flags.Intersects(mask) {
		return MatchNone
	}
	if d.Entry.Kind == EntryPrefix {
		return MatchPrefix
	}
	return MatchList
}
