package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/haukened/rr-lookup/internal/lookup/common/phone"
)

var (
	ErrInvalidNumber = errors.New("lookup request number must be E.164")
	ErrNilCallback   = errors.New("lookup request callback must not be nil")
)

// Callback receives the result of an asynchronous lookup. Providers invoke
// OnNewInfo at most once per request and only on success; a failed lookup is
// signalled by silence.
type Callback interface {
	OnNewInfo(req *LookupRequest, resp *LookupResponse)
}

// CallbackFunc adapts a plain function to Callback.
type CallbackFunc func(req *LookupRequest, resp *LookupResponse)

func (f CallbackFunc) OnNewInfo(req *LookupRequest, resp *LookupResponse) { f(req, resp) }

// LookupRequest asks a provider to resolve PhoneNumber. Two requests are equal
// when their numbers are equal, regardless of callback or ID.
type LookupRequest struct {
	ID          string // correlation id for logs only
	PhoneNumber string // E.164
	Callback    Callback
}

// NewLookupRequest validates number and cb and assigns a fresh ID.
func NewLookupRequest(number string, cb Callback) (*LookupRequest, error) {
	if !phone.IsE164Format(number) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNumber, number)
	}
	if cb == nil {
		return nil, ErrNilCallback
	}
	return &LookupRequest{ID: uuid.NewString(), PhoneNumber: number, Callback: cb}, nil
}

// Key is the de-duplication key.
func (r *LookupRequest) Key() string { return r.PhoneNumber }

// Equal reports whether r and other target the same number.
func (r *LookupRequest) Equal(other *LookupRequest) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.PhoneNumber == other.PhoneNumber
}

// WithCallback returns a copy of r that reports to cb instead.
func (r *LookupRequest) WithCallback(cb Callback) *LookupRequest {
	cp := *r
	cp.Callback = cb
	return &cp
}

func (r *LookupRequest) String() string {
	return fmt.Sprintf("LookupRequest{id=%s number=%s}", r.ID, r.PhoneNumber)
}
