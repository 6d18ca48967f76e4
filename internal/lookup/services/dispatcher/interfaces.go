package dispatcher

import (
	"context"

	"github.com/haukened/rr-lookup/internal/lookup/domain"
)

// Provider is a pluggable caller-information backend.
type Provider interface {
	// Initialize acquires the backend's resources. It returns false on failure,
	// after which every other operation is a no-op.
	Initialize() bool

	// IsEnabled reports external availability, independent of Initialize.
	IsEnabled() bool

	// FetchInfo resolves req asynchronously. req.Callback is invoked at most
	// once, on success, from any goroutine. Failures are silent.
	FetchInfo(req *domain.LookupRequest)

	// BlockingFetchInfo resolves req on the calling goroutine. It returns nil
	// on failure or when there is no result.
	BlockingFetchInfo(ctx context.Context, req *domain.LookupRequest) *domain.LookupResponse

	MarkAsSpam(number string)
	UnmarkAsSpam(number string)
	SupportsSpamReporting() bool

	DisplayName() string
	UniqueIdentifier() string

	// Disable releases what Initialize acquired. Once it returns no further
	// callbacks are delivered until the provider is initialized again.
	Disable()
}
