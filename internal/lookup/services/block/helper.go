// Package block coordinates block and unblock actions: each one toggles the
// local blacklist and, when asked, tells the lookup provider that the number
// is (or no longer is) spam. All work runs on background goroutines and ends
// with exactly one completion callback.
package block

import (
	"context"
	"sync"
	"time"

	"github.com/haukened/rr-lookup/internal/lookup/common/log"
	"github.com/haukened/rr-lookup/internal/lookup/common/phone"
	"github.com/haukened/rr-lookup/internal/lookup/domain"
)

// Options configures the helpers.
type Options struct {
	Blacklist Blacklist
	Reporter  SpamReporter // may be nil when no provider is configured
	Callbacks Callbacks
	Region    string        // default region for formatting numbers for the provider
	Timeout   time.Duration // bound on loading a contact's numbers; defaults to 5 seconds
	Logger    log.Logger
}

// coordinator holds the state shared by ContactHelper and NumberHelper.
type coordinator struct {
	blacklist Blacklist
	reporter  SpamReporter
	callbacks Callbacks
	region    string
	timeout   time.Duration
	logger    log.Logger
	load      func(ctx context.Context) ([]string, error)

	wg sync.WaitGroup

	// initMu serializes reporter initialization; initTried is reset by close
	// so a helper used again after Close initializes a fresh reporter session.
	initMu       sync.Mutex
	initTried    bool
	reporterInit bool

	mu          sync.Mutex
	gathered    bool
	numbers     []string
	blacklisted bool
}

func newCoordinator(opts Options, load func(ctx context.Context) ([]string, error), fields map[string]any) *coordinator {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.GetLogger()
	}
	if opts.Callbacks == nil {
		opts.Callbacks = CallbackFuncs{}
	}
	return &coordinator{
		blacklist: opts.Blacklist,
		reporter:  opts.Reporter,
		callbacks: opts.Callbacks,
		region:    opts.Region,
		timeout:   opts.Timeout,
		logger:    log.WithFields(opts.Logger, fields),
		load:      load,
	}
}

// background runs fn on a tracked goroutine and returns a channel closed when
// fn returns.
func (c *coordinator) background(fn func()) <-chan struct{} {
	done := make(chan struct{})
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(done)
		fn()
	}()
	return done
}

// gather reloads the numbers, recomputes the blacklisted flag and makes sure
// the reporter has been initialized once.
func (c *coordinator) gather() {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	numbers, err := c.load(ctx)
	if err != nil {
		c.logger.Warn(map[string]any{"error": err.Error()}, "Failed to load numbers")
		numbers = nil
	}

	listed := false
	for _, n := range numbers {
		if c.blacklist.IsListed(n, domain.BlockAll).Matched() {
			listed = true
			break
		}
	}

	c.ensureReporter()

	c.mu.Lock()
	c.numbers = numbers
	c.blacklisted = listed
	c.gathered = true
	c.mu.Unlock()
}

// ensureReporter initializes the reporter at most once per session. A session
// ends with close.
func (c *coordinator) ensureReporter() {
	if c.reporter == nil {
		return
	}
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if c.initTried {
		return
	}
	c.initTried = true
	ok := c.reporter.Initialize()
	c.mu.Lock()
	c.reporterInit = ok
	c.mu.Unlock()
	if !ok {
		c.logger.Warn(nil, "Lookup provider failed to initialize")
	}
}

// snapshot gathers first when nothing has been gathered yet.
func (c *coordinator) snapshot() []string {
	c.mu.Lock()
	gathered := c.gathered
	c.mu.Unlock()
	if !gathered {
		c.gather()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.numbers...)
}

func (c *coordinator) isBlacklisted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blacklisted
}

func (c *coordinator) shouldNotify(notify bool) bool {
	if !notify || c.reporter == nil {
		return false
	}
	c.ensureReporter()
	c.mu.Lock()
	initialized := c.reporterInit
	c.mu.Unlock()
	return initialized && c.reporter.SupportsSpamReporting()
}

// toggle sets or clears every block flag on each number, then notifies the
// reporter when allowed. Blacklist failures are logged and otherwise ignored.
func (c *coordinator) toggle(block, notify bool) {
	numbers := c.snapshot()

	set, unset := domain.BlockAll, domain.BlockNone
	if !block {
		set, unset = domain.BlockNone, domain.BlockAll
	}
	for _, n := range numbers {
		key := phone.NormalizeForBlacklist(n)
		if err := c.blacklist.AddOrUpdate(key, set, unset); err != nil {
			c.logger.Warn(map[string]any{"number": n, "error": err.Error()}, "Blacklist update failed")
		}
	}

	c.mu.Lock()
	c.blacklisted = block && len(numbers) > 0
	c.mu.Unlock()

	if !c.shouldNotify(notify) {
		return
	}
	for _, n := range numbers {
		formatted, err := phone.ToE164(n, c.region)
		if err != nil {
			c.logger.Debug(map[string]any{"number": n, "error": err.Error()}, "Skipping spam report for unformattable number")
			continue
		}
		if block {
			c.reporter.MarkAsSpam(formatted)
		} else {
			c.reporter.UnmarkAsSpam(formatted)
		}
	}
}

func (c *coordinator) run(block, notify bool) <-chan struct{} {
	return c.background(func() {
		c.toggle(block, notify)
		if block {
			c.callbacks.OnBlockCompleted()
		} else {
			c.callbacks.OnUnblockCompleted()
		}
	})
}

// close waits for background work and disables the reporter if this helper
// initialized it. The next block or gather starts a new reporter session.
func (c *coordinator) close() {
	c.wg.Wait()
	c.initMu.Lock()
	defer c.initMu.Unlock()
	c.mu.Lock()
	initialized := c.reporterInit
	c.reporterInit = false
	c.mu.Unlock()
	c.initTried = false
	if initialized {
		c.reporter.Disable()
	}
}
