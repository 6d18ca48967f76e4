package block

import (
	"context"
	"fmt"
)

// ContactHelper blocks or unblocks every number of one contact.
type ContactHelper struct {
	contactID int64
	c         *coordinator
}

// NewContactHelper returns a helper for contactID whose numbers come from
// numbers.
func NewContactHelper(contactID int64, numbers NumberSource, opts Options) *ContactHelper {
	load := func(ctx context.Context) ([]string, error) {
		if numbers == nil {
			return nil, fmt.Errorf("no number source for contact %d", contactID)
		}
		return numbers.ContactNumbers(ctx, contactID)
	}
	return &ContactHelper{
		contactID: contactID,
		c:         newCoordinator(opts, load, map[string]any{"component": "block", "contact_id": contactID}),
	}
}

// GatherDataInBackground loads the contact's numbers and recomputes whether
// any of them is blacklisted. The channel closes when that is done.
func (h *ContactHelper) GatherDataInBackground() <-chan struct{} {
	return h.c.background(h.c.gather)
}

// IsContactBlacklisted reports the last gathered value.
func (h *ContactHelper) IsContactBlacklisted() bool { return h.c.isBlacklisted() }

// BlockContact blacklists every number of the contact and, if notify is set,
// reports each one as spam.
func (h *ContactHelper) BlockContact(notify bool) <-chan struct{} { return h.c.run(true, notify) }

// UnblockContact removes every number of the contact from the blacklist and,
// if notify is set, withdraws the spam reports.
func (h *ContactHelper) UnblockContact(notify bool) <-chan struct{} { return h.c.run(false, notify) }

// Wait blocks until all background work has finished.
func (h *ContactHelper) Wait() { h.c.wg.Wait() }

// Close waits for background work and disables the provider if this helper
// initialized it.
func (h *ContactHelper) Close() { h.c.close() }
