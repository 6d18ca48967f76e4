package block

import (
	"context"

	"github.com/haukened/rr-lookup/internal/lookup/domain"
)

// Blacklist is the local block-list store.
type Blacklist interface {
	AddOrUpdate(number string, set, clear domain.BlockMask) error
	IsListed(number string, mask domain.BlockMask) domain.MatchResult
}

// SpamReporter is the part of a lookup provider the helpers notify.
type SpamReporter interface {
	Initialize() bool
	SupportsSpamReporting() bool
	MarkAsSpam(number string)
	UnmarkAsSpam(number string)
	Disable()
}

// NumberSource lists the phone numbers of a contact.
type NumberSource interface {
	ContactNumbers(ctx context.Context, contactID int64) ([]string, error)
}

// Callbacks is told when a block or unblock request has finished. Each
// request produces exactly one call, whatever the blacklist outcome.
type Callbacks interface {
	OnBlockCompleted()
	OnUnblockCompleted()
}

// CallbackFuncs adapts a pair of functions to Callbacks. Nil fields are skipped.
type CallbackFuncs struct {
	Blocked   func()
	Unblocked func()
}

func (c CallbackFuncs) OnBlockCompleted() {
	if c.Blocked != nil {
		c.Blocked()
	}
}

func (c CallbackFuncs) OnUnblockCompleted() {
	if c.Unblocked != nil {
		c.Unblocked()
	}
}
