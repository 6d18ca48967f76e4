package blacklist

import "github.com/haukened/rr-lookup/internal/lookup/domain"

// NoopBlacklist lists nothing and accepts every write.
type NoopBlacklist struct{}

func (n *NoopBlacklist) IsListed(string, domain.BlockMask) domain.MatchResult {
	return domain.MatchNone
}

func (n *NoopBlacklist) AddOrUpdate(string, domain.BlockMask, domain.BlockMask) error { return nil }

func (n *NoopBlacklist) Entries() ([]domain.BlacklistEntry, error) { return nil, nil }

func (n *NoopBlacklist) Load() error { return nil }

func (n *NoopBlacklist) Stats() RepoStats { return RepoStats{} }

func (n *NoopBlacklist) Close() error { return nil }

var _ Repository = (*NoopBlacklist)(nil)
