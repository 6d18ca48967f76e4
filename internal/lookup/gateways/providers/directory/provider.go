package directory

import (
	"context"
	"errors"
	"time"

	"github.com/haukened/rr-lookup/internal/lookup/common/log"
	"github.com/haukened/rr-lookup/internal/lookup/domain"
	"github.com/haukened/rr-lookup/internal/lookup/gateways/providers"
	"github.com/haukened/rr-lookup/internal/lookup/services/dispatcher"
)

const (
	displayName      = "Local directory"
	uniqueIdentifier = "directory"
)

// Provider answers lookups from the local caller directory and records spam
// reports in it.
type Provider struct {
	lc      providers.Lifecycle
	store   *Store
	timeout time.Duration
	logger  log.Logger
}

// Options configures NewProvider.
type Options struct {
	Store   *Store
	Timeout time.Duration // per-query deadline; defaults to 5 seconds
	Logger  log.Logger
}

// NewProvider builds a Provider over an open Store. The store's lifetime
// belongs to the caller.
func NewProvider(opts Options) *Provider {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.GetLogger()
	}
	return &Provider{
		store:   opts.Store,
		timeout: opts.Timeout,
		logger:  log.WithFields(opts.Logger, map[string]any{"provider": uniqueIdentifier}),
	}
}

// Initialize checks that the directory is reachable.
func (p *Provider) Initialize() bool {
	return p.lc.Start(func() error {
		if p.store == nil {
			return errors.New("directory store is not configured")
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.store.Health(ctx); err != nil {
			p.logger.Warn(map[string]any{"error": err.Error()}, "Provider initialization failed")
			return err
		}
		return nil
	})
}

// IsEnabled reports whether a directory store is configured.
func (p *Provider) IsEnabled() bool { return p.store != nil }

func (p *Provider) FetchInfo(req *domain.LookupRequest) {
	if req == nil {
		return
	}
	started := p.lc.Go(func(ctx context.Context) {
		if resp := p.find(ctx, req); resp != nil {
			p.lc.Deliver(ctx, req, resp)
		}
	})
	if !started {
		p.logger.Debug(map[string]any{"number": req.PhoneNumber}, "Fetch dropped, provider not initialized")
	}
}

func (p *Provider) BlockingFetchInfo(ctx context.Context, req *domain.LookupRequest) *domain.LookupResponse {
	if req == nil {
		return nil
	}
	ctx, done, ok := p.lc.Enter(ctx)
	if !ok {
		return nil
	}
	defer done()
	return p.find(ctx, req)
}

func (p *Provider) find(ctx context.Context, req *domain.LookupRequest) *domain.LookupResponse {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	c, err := p.store.FindCaller(ctx, req.PhoneNumber)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			p.logger.Warn(map[string]any{
				"request_id": req.ID,
				"number":     req.PhoneNumber,
				"error":      err.Error(),
			}, "Directory lookup failed")
		}
		return nil
	}
	if !c.HasInfo() {
		return nil
	}
	return c.Response(displayName)
}

// MarkAsSpam records one spam report for number.
func (p *Provider) MarkAsSpam(number string) { p.adjust(number, 1) }

// UnmarkAsSpam withdraws one spam report for number.
func (p *Provider) UnmarkAsSpam(number string) { p.adjust(number, -1) }

func (p *Provider) adjust(number string, delta int) {
	started := p.lc.Go(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		count, err := p.store.AdjustSpamCount(ctx, number, delta)
		if err != nil {
			p.logger.Warn(map[string]any{"number": number, "error": err.Error()}, "Spam report failed")
			return
		}
		p.logger.Debug(map[string]any{"number": number, "spam_count": count}, "Spam count updated")
	})
	if !started {
		p.logger.Debug(map[string]any{"number": number}, "Spam report dropped, provider not initialized")
	}
}

func (p *Provider) SupportsSpamReporting() bool { return true }
func (p *Provider) DisplayName() string         { return displayName }
func (p *Provider) UniqueIdentifier() string    { return uniqueIdentifier }

// Disable waits for outstanding queries and reports.
func (p *Provider) Disable() { p.lc.Stop(nil) }

var _ dispatcher.Provider = (*Provider)(nil)
