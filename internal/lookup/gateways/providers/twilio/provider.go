package twilio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/twilio/twilio-go/client"
	"golang.org/x/time/rate"

	"github.com/haukened/rr-lookup/internal/lookup/common/log"
	"github.com/haukened/rr-lookup/internal/lookup/domain"
	"github.com/haukened/rr-lookup/internal/lookup/gateways/providers"
	"github.com/haukened/rr-lookup/internal/lookup/services/dispatcher"
)

// Error message constants for consistent error handling
const (
	errNotInitialized = "twilio provider is not initialized"
	errRateLimited    = "rate limiter: %w"
	errQueryTimeout   = "lookup timeout after %v"
	errLookupFailed   = "lookup %s: %w"
)

const (
	displayName      = "Twilio"
	uniqueIdentifier = "twilio"
)

// Provider resolves caller names through Twilio Lookups. It does not support
// spam reporting.
type Provider struct {
	lc      providers.Lifecycle
	conns   *ConnectionManager
	client  Client
	limiter *rate.Limiter
	timeout time.Duration
	enabled bool
	logger  log.Logger
}

// Options configures New.
type Options struct {
	AccountSID string
	AuthToken  string
	Timeout    time.Duration // per-request deadline when the caller sets none
	Rate       float64       // requests per second
	Burst      int

	// Connections overrides the connection handle built from the credentials,
	// letting several providers share one client.
	Connections *ConnectionManager
	Logger      log.Logger
}

// New builds a Provider. It is enabled iff both credentials are set.
// Timeout defaults to 5 seconds; Rate and Burst default to 5.
func New(opts Options) *Provider {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Rate <= 0 {
		opts.Rate = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	if opts.Connections == nil {
		opts.Connections = NewConnectionManager(opts.AccountSID, opts.AuthToken)
	}
	if opts.Logger == nil {
		opts.Logger = log.GetLogger()
	}
	return &Provider{
		conns:   opts.Connections,
		limiter: rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst),
		timeout: opts.Timeout,
		enabled: opts.AccountSID != "" && opts.AuthToken != "",
		logger:  log.WithFields(opts.Logger, map[string]any{"provider": uniqueIdentifier}),
	}
}

// Initialize acquires a client from the connection handle.
func (p *Provider) Initialize() bool {
	ok := p.lc.Start(func() error {
		c, err := p.conns.Acquire()
		if err != nil {
			p.logger.Warn(map[string]any{"error": err.Error()}, "Provider initialization failed")
			return err
		}
		p.client = c
		return nil
	})
	if ok {
		p.logger.Debug(nil, "Provider initialized")
	}
	return ok
}

func (p *Provider) IsEnabled() bool { return p.enabled }

// FetchInfo looks req up in the background and reports successful results
// through req.Callback.
func (p *Provider) FetchInfo(req *domain.LookupRequest) {
	if req == nil {
		return
	}
	started := p.lc.Go(func(ctx context.Context) {
		resp, err := p.lookup(ctx, req.PhoneNumber)
		if err != nil {
			p.logger.Debug(map[string]any{
				"request_id": req.ID,
				"number":     req.PhoneNumber,
				"error":      err.Error(),
			}, "Lookup failed")
			return
		}
		if resp == nil {
			return
		}
		p.lc.Deliver(ctx, req, resp)
	})
	if !started {
		p.logger.Debug(map[string]any{"number": req.PhoneNumber}, errNotInitialized)
	}
}

// BlockingFetchInfo looks req up on the calling goroutine.
func (p *Provider) BlockingFetchInfo(ctx context.Context, req *domain.LookupRequest) *domain.LookupResponse {
	if req == nil {
		return nil
	}
	ctx, done, ok := p.lc.Enter(ctx)
	if !ok {
		return nil
	}
	defer done()

	resp, err := p.lookup(ctx, req.PhoneNumber)
	if err != nil {
		p.logger.Debug(map[string]any{
			"request_id": req.ID,
			"number":     req.PhoneNumber,
			"error":      err.Error(),
		}, "Blocking lookup failed")
		return nil
	}
	return resp
}

func (p *Provider) MarkAsSpam(string)          {}
func (p *Provider) UnmarkAsSpam(string)        {}
func (p *Provider) SupportsSpamReporting() bool { return false }
func (p *Provider) DisplayName() string         { return displayName }
func (p *Provider) UniqueIdentifier() string    { return uniqueIdentifier }

// Disable waits for in-flight lookups and releases the client.
func (p *Provider) Disable() {
	p.lc.Stop(func() {
		p.client = nil
		p.conns.Release()
		p.logger.Debug(nil, "Provider disabled")
	})
}

// ensureContextDeadline adds the provider's default timeout when ctx has no deadline.
func (p *Provider) ensureContextDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); !ok {
		return context.WithTimeout(ctx, p.timeout)
	}
	return ctx, nil
}

// lookup returns nil without error when Twilio knows no caller name.
func (p *Provider) lookup(ctx context.Context, number string) (*domain.LookupResponse, error) {
	ctx, cancel := p.ensureContextDeadline(ctx)
	if cancel != nil {
		defer cancel()
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf(errRateLimited, err)
	}

	c := p.client
	type result struct {
		info CallerInfo
		err  error
	}
	resultChan := make(chan result, 1)
	go func() {
		info, err := c.LookupCallerName(number)
		resultChan <- result{info: info, err: err}
	}()

	select {
	case res := <-resultChan:
		if res.err != nil {
			if isNotFound(res.err) {
				return nil, nil
			}
			return nil, fmt.Errorf(errLookupFailed, number, res.err)
		}
		return p.toResponse(number, res.info), nil
	case <-ctx.Done():
		return nil, fmt.Errorf(errQueryTimeout, p.timeout)
	}
}

func (p *Provider) toResponse(number string, info CallerInfo) *domain.LookupResponse {
	name := strings.TrimSpace(info.CallerName)
	if name == "" {
		return nil
	}
	if info.PhoneNumber != "" {
		number = info.PhoneNumber
	}
	return &domain.LookupResponse{
		ProviderName: displayName,
		Name:         name,
		Number:       number,
		Country:      info.CountryCode,
		Status:       domain.StatusSuccess,
	}
}

func isNotFound(err error) bool {
	var twilioErr *client.TwilioRestError
	if !errors.As(err, &twilioErr) {
		return false
	}
	return twilioErr.Status == http.StatusNotFound
}

var _ dispatcher.Provider = (*Provider)(nil)
