package block

import (
	"context"
	"strings"
)

// NumberHelper blocks or unblocks a single phone number.
type NumberHelper struct {
	number string
	c      *coordinator
}

func NewNumberHelper(number string, opts Options) *NumberHelper {
	number = strings.TrimSpace(number)
	load := func(context.Context) ([]string, error) {
		if number == "" {
			return nil, nil
		}
		return []string{number}, nil
	}
	return &NumberHelper{
		number: number,
		c:      newCoordinator(opts, load, map[string]any{"component": "block", "number": number}),
	}
}

func (h *NumberHelper) Number() string { return h.number }

func (h *NumberHelper) GatherDataInBackground() <-chan struct{} {
	return h.c.background(h.c.gather)
}

func (h *NumberHelper) IsBlacklisted() bool { return h.c.isBlacklisted() }

func (h *NumberHelper) BlockNumber(notify bool) <-chan struct{} { return h.c.run(true, notify) }

func (h *NumberHelper) UnblockNumber(notify bool) <-chan struct{} { return h.c.run(false, notify) }

func (h *NumberHelper) Wait() { h.c.wg.Wait() }

func (h *NumberHelper) Close() { h.c.close() }
