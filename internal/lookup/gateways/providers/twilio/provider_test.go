package twilio

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/twilio/twilio-go/client"

	"github.com/haukened/rr-lookup/internal/lookup/common/log"
	"github.com/haukened/rr-lookup/internal/lookup/domain"
)

// MockClient implements Client for testing
type MockClient struct {
	mock.Mock
}

func (m *MockClient) LookupCallerName(number string) (CallerInfo, error) {
	args := m.Called(number)
	return args.Get(0).(CallerInfo), args.Error(1)
}

func newTestProvider(t *testing.T, c Client) *Provider {
	t.Helper()
	p := New(Options{
		AccountSID:  "AC123",
		AuthToken:   "token",
		Timeout:     200 * time.Millisecond,
		Rate:        1000,
		Burst:       1000,
		Connections: NewConnectionManagerWithFactory(func() (Client, error) { return c, nil }),
		Logger:      log.NewNoopLogger(),
	})
	return p
}

func collectingCallback() (domain.Callback, <-chan *domain.LookupResponse) {
	ch := make(chan *domain.LookupResponse, 4)
	return domain.CallbackFunc(func(_ *domain.LookupRequest, r *domain.LookupResponse) { ch <- r }), ch
}

func TestNew_Defaults(t *testing.T) {
	p := New(Options{})
	assert.False(t, p.IsEnabled())
	assert.Equal(t, 5*time.Second, p.timeout)
	assert.Equal(t, "Twilio", p.DisplayName())
	assert.Equal(t, "twilio", p.UniqueIdentifier())
	assert.False(t, p.SupportsSpamReporting())

	// no credentials, no client
	assert.False(t, p.Initialize())
}

func TestNew_EnabledWithCredentials(t *testing.T) {
	p := New(Options{AccountSID: "AC123", AuthToken: "token", Logger: log.NewNoopLogger()})
	assert.True(t, p.IsEnabled())
}

func TestInitialize_SharesConnection(t *testing.T) {
	mc := &MockClient{}
	created := 0
	conns := NewConnectionManagerWithFactory(func() (Client, error) { created++; return mc, nil })
	a := New(Options{AccountSID: "a", AuthToken: "b", Connections: conns, Logger: log.NewNoopLogger()})
	b := New(Options{AccountSID: "a", AuthToken: "b", Connections: conns, Logger: log.NewNoopLogger()})

	require.True(t, a.Initialize())
	require.True(t, a.Initialize())
	require.True(t, b.Initialize())
	assert.Equal(t, 1, created)
	assert.Equal(t, 2, conns.Refs())

	a.Disable()
	assert.Equal(t, 1, conns.Refs())
	b.Disable()
	assert.Equal(t, 0, conns.Refs())
}

func TestFetchInfo_DeliversOnSuccess(t *testing.T) {
	mc := &MockClient{}
	mc.On("LookupCallerName", "+15551234567").Return(CallerInfo{
		PhoneNumber: "+15551234567",
		CallerName:  " ACME CORP ",
		CallerType:  "BUSINESS",
		CountryCode: "US",
	}, nil)
	p := newTestProvider(t, mc)
	require.True(t, p.Initialize())
	defer p.Disable()

	cb, ch := collectingCallback()
	p.FetchInfo(&domain.LookupRequest{PhoneNumber: "+15551234567", Callback: cb})

	select {
	case resp := <-ch:
		assert.Equal(t, "ACME CORP", resp.Name)
		assert.Equal(t, "US", resp.Country)
		assert.Equal(t, "Twilio", resp.ProviderName)
		assert.Equal(t, domain.StatusSuccess, resp.Status)
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}
	mc.AssertExpectations(t)
}

func TestFetchInfo_SilentOnFailure(t *testing.T) {
	mc := &MockClient{}
	mc.On("LookupCallerName", "+15550000000").Return(CallerInfo{}, errors.New("boom"))
	mc.On("LookupCallerName", "+15550000001").Return(CallerInfo{}, &client.TwilioRestError{Status: http.StatusNotFound})
	mc.On("LookupCallerName", "+15550000002").Return(CallerInfo{PhoneNumber: "+15550000002"}, nil)
	p := newTestProvider(t, mc)
	require.True(t, p.Initialize())

	cb, ch := collectingCallback()
	for _, n := range []string{"+15550000000", "+15550000001", "+15550000002"} {
		p.FetchInfo(&domain.LookupRequest{PhoneNumber: n, Callback: cb})
	}
	p.Disable()

	select {
	case resp := <-ch:
		t.Fatalf("unexpected callback: %+v", resp)
	default:
	}
	mc.AssertNumberOfCalls(t, "LookupCallerName", 3)
}

func TestFetchInfo_NotInitialized(t *testing.T) {
	mc := &MockClient{}
	p := newTestProvider(t, mc)
	cb, ch := collectingCallback()
	p.FetchInfo(&domain.LookupRequest{PhoneNumber: "+15551234567", Callback: cb})
	p.FetchInfo(nil)

	select {
	case <-ch:
		t.Fatal("uninitialized provider must not deliver")
	case <-time.After(20 * time.Millisecond):
	}
	mc.AssertNotCalled(t, "LookupCallerName", mock.Anything)
}

func TestDisable_NoCallbackAfterReturn(t *testing.T) {
	mc := &MockClient{}
	unblock := make(chan time.Time)
	mc.On("LookupCallerName", "+15551234567").
		WaitUntil(unblock).
		Return(CallerInfo{CallerName: "Late"}, nil)
	p := newTestProvider(t, mc)
	require.True(t, p.Initialize())

	var mu sync.Mutex
	delivered := 0
	p.FetchInfo(&domain.LookupRequest{PhoneNumber: "+15551234567", Callback: domain.CallbackFunc(func(*domain.LookupRequest, *domain.LookupResponse) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})})

	time.Sleep(10 * time.Millisecond)
	p.Disable()
	close(unblock)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, delivered)
}

func TestBlockingFetchInfo(t *testing.T) {
	mc := &MockClient{}
	mc.On("LookupCallerName", "+15551234567").Return(CallerInfo{CallerName: "Alice", CountryCode: "US"}, nil)
	mc.On("LookupCallerName", "+15557654321").Return(CallerInfo{}, errors.New("boom"))
	p := newTestProvider(t, mc)

	req := &domain.LookupRequest{PhoneNumber: "+15551234567"}
	assert.Nil(t, p.BlockingFetchInfo(context.Background(), req), "uninitialized provider returns nil")

	require.True(t, p.Initialize())
	defer p.Disable()

	resp := p.BlockingFetchInfo(context.Background(), req)
	require.NotNil(t, resp)
	assert.Equal(t, "Alice", resp.Name)
	assert.Equal(t, "+15551234567", resp.Number)

	assert.Nil(t, p.BlockingFetchInfo(context.Background(), &domain.LookupRequest{PhoneNumber: "+15557654321"}))
	assert.Nil(t, p.BlockingFetchInfo(context.Background(), nil))
}

func TestBlockingFetchInfo_Timeout(t *testing.T) {
	mc := &MockClient{}
	unblock := make(chan time.Time)
	defer close(unblock)
	mc.On("LookupCallerName", "+15551234567").WaitUntil(unblock).Return(CallerInfo{CallerName: "Slow"}, nil)
	p := newTestProvider(t, mc)
	require.True(t, p.Initialize())
	defer p.Disable()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	assert.Nil(t, p.BlockingFetchInfo(ctx, &domain.LookupRequest{PhoneNumber: "+15551234567"}))
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestLookup_RateLimiterRejects(t *testing.T) {
	mc := &MockClient{}
	p := newTestProvider(t, mc)
	p.limiter.SetBurst(0)
	require.True(t, p.Initialize())
	defer p.Disable()

	_, err := p.lookup(context.Background(), "+15551234567")
	assert.Error(t, err)
	mc.AssertNotCalled(t, "LookupCallerName", mock.Anything)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&client.TwilioRestError{Status: http.StatusNotFound}))
	assert.False(t, isNotFound(&client.TwilioRestError{Status: http.StatusTooManyRequests}))
	assert.False(t, isNotFound(errors.New("plain")))
}

func TestSpamCallsAreNoops(t *testing.T) {
	mc := &MockClient{}
	p := newTestProvider(t, mc)
	require.True(t, p.Initialize())
	defer p.Disable()
	p.MarkAsSpam("+15551234567")
	p.UnmarkAsSpam("+15551234567")
	mc.AssertNotCalled(t, "LookupCallerName", mock.Anything)
}
