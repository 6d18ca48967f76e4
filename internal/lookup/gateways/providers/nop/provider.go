// Package nop provides a lookup provider that never resolves anything. It is
// used when no backend is configured and as a stand-in under test.
package nop

import (
	"context"

	"github.com/haukened/rr-lookup/internal/lookup/domain"
	"github.com/haukened/rr-lookup/internal/lookup/gateways/providers"
	"github.com/haukened/rr-lookup/internal/lookup/services/dispatcher"
)

// Provider initializes successfully, reports itself disabled and drops every
// request.
type Provider struct {
	lc providers.Lifecycle
}

// New returns a Provider.
func New() *Provider { return &Provider{} }

func (p *Provider) Initialize() bool                { return p.lc.Start(nil) }
func (p *Provider) IsEnabled() bool                 { return false }
func (p *Provider) FetchInfo(*domain.LookupRequest) {}
func (p *Provider) MarkAsSpam(string)               {}
func (p *Provider) UnmarkAsSpam(string)             {}
func (p *Provider) SupportsSpamReporting() bool     { return false }
func (p *Provider) DisplayName() string             { return "None" }
func (p *Provider) UniqueIdentifier() string        { return "nop" }
func (p *Provider) Disable()                        { p.lc.Stop(nil) }

func (p *Provider) BlockingFetchInfo(context.Context, *domain.LookupRequest) *domain.LookupResponse {
	return nil
}

// Initialized reports whether Initialize has run without a later Disable.
func (p *Provider) Initialized() bool { return p.lc.Active() }

var _ dispatcher.Provider = (*Provider)(nil)
