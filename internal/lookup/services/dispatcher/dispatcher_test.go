package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-lookup/internal/lookup/common/clock"
	"github.com/haukened/rr-lookup/internal/lookup/common/log"
	"github.com/haukened/rr-lookup/internal/lookup/domain"
)

// fakeProvider records every call in order. Fetches are held until the test
// resolves them.
type fakeProvider struct {
	mu        sync.Mutex
	initOK    bool
	initCalls int
	disabled  int
	calls     []string
	fetched   []*domain.LookupRequest
	enabled   bool
	spam      bool
	blocking  *domain.LookupResponse
	block     chan struct{} // when set, FetchInfo waits on it
	notify    chan string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{initOK: true, enabled: true, notify: make(chan string, 256)}
}

func (p *fakeProvider) record(call string) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
	p.notify <- call
}

func (p *fakeProvider) Initialize() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initCalls++
	return p.initOK
}

func (p *fakeProvider) IsEnabled() bool { return p.enabled }

func (p *fakeProvider) FetchInfo(req *domain.LookupRequest) {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	p.fetched = append(p.fetched, req)
	p.mu.Unlock()
	p.record("fetch:" + req.PhoneNumber)
}

func (p *fakeProvider) BlockingFetchInfo(_ context.Context, req *domain.LookupRequest) *domain.LookupResponse {
	p.record("blocking:" + req.PhoneNumber)
	return p.blocking
}

func (p *fakeProvider) MarkAsSpam(number string)    { p.record("spam:" + number) }
func (p *fakeProvider) UnmarkAsSpam(number string)  { p.record("unspam:" + number) }
func (p *fakeProvider) SupportsSpamReporting() bool { return p.spam }
func (p *fakeProvider) DisplayName() string         { return "Fake" }
func (p *fakeProvider) UniqueIdentifier() string    { return "fake" }

func (p *fakeProvider) Disable() {
	p.mu.Lock()
	p.disabled++
	p.mu.Unlock()
}

// resolve delivers a response for the i-th fetched request.
func (p *fakeProvider) resolve(i int, resp *domain.LookupResponse) {
	p.mu.Lock()
	req := p.fetched[i]
	p.mu.Unlock()
	req.Callback.OnNewInfo(req, resp)
}

func (p *fakeProvider) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakeProvider) waitCalls(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-p.notify:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for provider call %d of %d", i+1, n)
		}
	}
}

func newTestDispatcher(p Provider, opts ...func(*Options)) *Dispatcher {
	o := Options{Provider: p, Logger: log.NewNoopLogger()}
	for _, fn := range opts {
		fn(&o)
	}
	return New(o)
}

func newRequest(t *testing.T, number string, cb domain.Callback) *domain.LookupRequest {
	t.Helper()
	if cb == nil {
		cb = domain.CallbackFunc(func(*domain.LookupRequest, *domain.LookupResponse) {})
	}
	req, err := domain.NewLookupRequest(number, cb)
	require.NoError(t, err)
	return req
}

func TestInitialize_Idempotent(t *testing.T) {
	p := newFakeProvider()
	d := newTestDispatcher(p)
	defer d.TearDown()

	assert.Equal(t, StateUninitialized, d.State())
	assert.True(t, d.Initialize())
	assert.True(t, d.Initialize())
	assert.Equal(t, 1, p.initCalls)
	assert.Equal(t, StateReady, d.State())
}

func TestInitialize_ProviderFailure(t *testing.T) {
	p := newFakeProvider()
	p.initOK = false
	d := newTestDispatcher(p)

	assert.False(t, d.Initialize())
	assert.Equal(t, StateUninitialized, d.State())
	assert.False(t, d.FetchInfoForPhoneNumber(newRequest(t, "+15551234567", nil)))
	d.MarkAsSpam("+15551234567")
	assert.Nil(t, d.BlockingFetchInfoForPhoneNumber(context.Background(), newRequest(t, "+15551234567", nil)))
	assert.Empty(t, p.snapshot())

	// an explicit second attempt may succeed
	p.initOK = true
	assert.True(t, d.Initialize())
	assert.Equal(t, 2, p.initCalls)
	d.TearDown()
}

func TestInitialize_NoProvider(t *testing.T) {
	d := New(Options{Logger: log.NewNoopLogger()})
	assert.False(t, d.Initialize())
	assert.False(t, d.IsProviderEnabled())
	assert.False(t, d.IsProviderInterestedInSpam())
	assert.Equal(t, "", d.ProviderName())
	d.TearDown()
}

func TestFetch_DedupWhilePending(t *testing.T) {
	p := newFakeProvider()
	d := newTestDispatcher(p)
	require.True(t, d.Initialize())
	defer d.TearDown()

	assert.True(t, d.FetchInfoForPhoneNumber(newRequest(t, "+15551234567", nil)))
	assert.False(t, d.FetchInfoForPhoneNumber(newRequest(t, "+15551234567", nil)))
	assert.True(t, d.FetchInfoForPhoneNumber(newRequest(t, "+15557654321", nil)))

	p.waitCalls(t, 2)
	assert.Equal(t, []string{"fetch:+15551234567", "fetch:+15557654321"}, p.snapshot())
	assert.Equal(t, 2, d.PendingCount())
	assert.True(t, d.IsPending("+15551234567"))
}

func TestFetch_ResubmitAfterCallback(t *testing.T) {
	p := newFakeProvider()
	d := newTestDispatcher(p)
	require.True(t, d.Initialize())
	defer d.TearDown()

	var mu sync.Mutex
	var got []*domain.LookupResponse
	var gotReq *domain.LookupRequest
	cb := domain.CallbackFunc(func(req *domain.LookupRequest, resp *domain.LookupResponse) {
		mu.Lock()
		got = append(got, resp)
		gotReq = req
		mu.Unlock()
	})
	first := newRequest(t, "+15551234567", cb)

	assert.True(t, d.FetchInfoForPhoneNumber(first))
	assert.False(t, d.FetchInfoForPhoneNumber(newRequest(t, "+15551234567", cb)))
	p.waitCalls(t, 1)

	resp := &domain.LookupResponse{Name: "Alice", Status: domain.StatusSuccess}
	p.resolve(0, resp)
	// a second delivery for the same request is swallowed
	p.resolve(0, resp)

	mu.Lock()
	assert.Len(t, got, 1)
	assert.Same(t, first, gotReq, "caller sees its own request")
	mu.Unlock()

	assert.Equal(t, 0, d.PendingCount())
	assert.True(t, d.FetchInfoForPhoneNumber(newRequest(t, "+15551234567", cb)))
	p.waitCalls(t, 1)
}

func TestFetch_EvictNeverKeepsPending(t *testing.T) {
	p := newFakeProvider()
	d := newTestDispatcher(p, func(o *Options) { o.Eviction = EvictNever })
	require.True(t, d.Initialize())
	defer d.TearDown()

	called := make(chan struct{}, 1)
	req := newRequest(t, "+15551234567", domain.CallbackFunc(func(*domain.LookupRequest, *domain.LookupResponse) {
		called <- struct{}{}
	}))
	require.True(t, d.FetchInfoForPhoneNumber(req))
	p.waitCalls(t, 1)

	p.resolve(0, &domain.LookupResponse{Name: "Alice"})
	<-called
	assert.False(t, d.FetchInfoForPhoneNumber(newRequest(t, "+15551234567", nil)))
	assert.Equal(t, 1, d.PendingCount())

	// the provider sees the caller's own request under this policy
	p.mu.Lock()
	assert.Same(t, req, p.fetched[0])
	p.mu.Unlock()
}

func TestFetch_PendingTTL(t *testing.T) {
	p := newFakeProvider()
	mc := &clock.MockClock{CurrentTime: time.Unix(1700000000, 0)}
	d := newTestDispatcher(p, func(o *Options) {
		o.Eviction = EvictNever
		o.PendingTTL = time.Minute
		o.Clock = mc
	})
	require.True(t, d.Initialize())
	defer d.TearDown()

	require.True(t, d.FetchInfoForPhoneNumber(newRequest(t, "+15551234567", nil)))
	mc.Advance(30 * time.Second)
	assert.False(t, d.FetchInfoForPhoneNumber(newRequest(t, "+15551234567", nil)))

	mc.Advance(31 * time.Second)
	assert.Equal(t, 0, d.PendingCount())
	assert.True(t, d.FetchInfoForPhoneNumber(newRequest(t, "+15551234567", nil)))
	p.waitCalls(t, 2)
}

func TestFetch_LateCallbackKeepsNewerEntry(t *testing.T) {
	p := newFakeProvider()
	mc := &clock.MockClock{CurrentTime: time.Unix(1700000000, 0)}
	d := newTestDispatcher(p, func(o *Options) {
		o.PendingTTL = time.Minute
		o.Clock = mc
	})
	require.True(t, d.Initialize())
	defer d.TearDown()

	require.True(t, d.FetchInfoForPhoneNumber(newRequest(t, "+15551234567", nil)))
	p.waitCalls(t, 1)
	mc.Advance(2 * time.Minute)
	require.True(t, d.FetchInfoForPhoneNumber(newRequest(t, "+15551234567", nil)))
	p.waitCalls(t, 1)

	// the expired first request finally resolves; the second stays pending
	p.resolve(0, &domain.LookupResponse{Name: "late"})
	assert.True(t, d.IsPending("+15551234567"))

	p.resolve(1, &domain.LookupResponse{Name: "fresh"})
	assert.False(t, d.IsPending("+15551234567"))
}

func TestFetch_QueueFull(t *testing.T) {
	p := newFakeProvider()
	p.block = make(chan struct{})
	d := newTestDispatcher(p, func(o *Options) { o.QueueSize = 1 })
	require.True(t, d.Initialize())

	// the worker takes the first message and blocks in the provider
	require.True(t, d.FetchInfoForPhoneNumber(newRequest(t, "+15550000001", nil)))
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, time.Millisecond)

	require.True(t, d.FetchInfoForPhoneNumber(newRequest(t, "+15550000002", nil)))
	assert.False(t, d.FetchInfoForPhoneNumber(newRequest(t, "+15550000003", nil)))
	assert.False(t, d.IsPending("+15550000003"), "rejected request must not stay pending")

	close(p.block)
	p.waitCalls(t, 2)
	d.TearDown()
}

func TestFIFOAcrossMessageKinds(t *testing.T) {
	p := newFakeProvider()
	d := newTestDispatcher(p)
	require.True(t, d.Initialize())
	defer d.TearDown()

	want := []string{
		"fetch:+15550000001",
		"spam:+15550000009",
		"fetch:+15550000002",
		"spam:+15550000008",
		"spam:+15550000007",
		"fetch:+15550000003",
	}
	for _, call := range want {
		switch call[:5] {
		case "fetch":
			require.True(t, d.FetchInfoForPhoneNumber(newRequest(t, call[6:], nil)))
		case "spam:":
			d.MarkAsSpam(call[5:])
		}
	}
	p.waitCalls(t, len(want))
	assert.Equal(t, want, p.snapshot())
}

func TestTearDown_Silence(t *testing.T) {
	p := newFakeProvider()
	d := newTestDispatcher(p)
	require.True(t, d.Initialize())

	d.MarkAsSpam("+15550000001")
	p.waitCalls(t, 1)

	d.TearDown()
	assert.Equal(t, StateTornDown, d.State())
	assert.Equal(t, 1, p.disabled)

	d.MarkAsSpam("+15550000002")
	assert.False(t, d.FetchInfoForPhoneNumber(newRequest(t, "+15550000003", nil)))
	assert.Nil(t, d.BlockingFetchInfoForPhoneNumber(context.Background(), newRequest(t, "+15550000004", nil)))
	assert.False(t, d.Initialize())
	assert.False(t, d.IsProviderEnabled())
	assert.False(t, d.IsProviderInterestedInSpam())

	// second teardown is a no-op
	d.TearDown()
	assert.Equal(t, 1, p.disabled)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"spam:+15550000001"}, p.snapshot())
}

func TestTearDown_DropsQueuedMessages(t *testing.T) {
	p := newFakeProvider()
	p.block = make(chan struct{})
	d := newTestDispatcher(p)
	require.True(t, d.Initialize())

	require.True(t, d.FetchInfoForPhoneNumber(newRequest(t, "+15550000001", nil)))
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, time.Millisecond)
	d.MarkAsSpam("+15550000002")
	d.MarkAsSpam("+15550000003")

	torn := make(chan struct{})
	go func() {
		d.TearDown()
		close(torn)
	}()
	require.Eventually(t, func() bool { return d.State() == StateTornDown }, time.Second, time.Millisecond)
	// release the in-flight fetch; the worker must now see the stop signal
	close(p.block)
	<-torn

	assert.Equal(t, []string{"fetch:+15550000001"}, p.snapshot())
}

func TestTearDown_BeforeInitialize(t *testing.T) {
	p := newFakeProvider()
	d := newTestDispatcher(p)
	d.TearDown()
	assert.Equal(t, StateTornDown, d.State())
	assert.Equal(t, 1, p.disabled)
	assert.Equal(t, 0, d.PendingCount())
}

func TestBlockingFetch_BypassesQueueAndPending(t *testing.T) {
	p := newFakeProvider()
	p.blocking = &domain.LookupResponse{Name: "Alice"}
	d := newTestDispatcher(p)
	require.True(t, d.Initialize())
	defer d.TearDown()

	require.True(t, d.FetchInfoForPhoneNumber(newRequest(t, "+15551234567", nil)))
	resp := d.BlockingFetchInfoForPhoneNumber(context.Background(), newRequest(t, "+15551234567", nil))
	require.NotNil(t, resp)
	assert.Equal(t, "Alice", resp.Name)
	assert.Nil(t, d.BlockingFetchInfoForPhoneNumber(context.Background(), nil))
	p.waitCalls(t, 2)
}

func TestPassThroughQueries(t *testing.T) {
	p := newFakeProvider()
	p.spam = true
	d := newTestDispatcher(p)

	assert.True(t, d.IsProviderEnabled())
	assert.True(t, d.IsProviderInterestedInSpam())
	assert.Equal(t, "Fake", d.ProviderName())

	p.enabled = false
	p.spam = false
	assert.False(t, d.IsProviderEnabled())
	assert.False(t, d.IsProviderInterestedInSpam())
}

func TestFetch_NilRequest(t *testing.T) {
	d := newTestDispatcher(newFakeProvider())
	require.True(t, d.Initialize())
	defer d.TearDown()
	assert.False(t, d.FetchInfoForPhoneNumber(nil))
}

func TestConcurrentSubmissions(t *testing.T) {
	p := newFakeProvider()
	d := newTestDispatcher(p, func(o *Options) { o.QueueSize = 512 })
	require.True(t, d.Initialize())
	defer d.TearDown()

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := domain.NewLookupRequest("+15551234567", domain.CallbackFunc(func(*domain.LookupRequest, *domain.LookupResponse) {}))
			if d.FetchInfoForPhoneNumber(req) {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, accepted)
	p.waitCalls(t, 1)
}

func TestParseEvictionPolicy(t *testing.T) {
	for in, want := range map[string]EvictionPolicy{"callback": EvictOnCallback, "": EvictOnCallback, "never": EvictNever} {
		got, err := ParseEvictionPolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseEvictionPolicy("sometimes")
	assert.Error(t, err)
}

func TestStringers(t *testing.T) {
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "torn_down", StateTornDown.String())
	assert.Equal(t, "State(9)", State(9).String())
	assert.Equal(t, "never", EvictNever.String())
	assert.Equal(t, "EvictionPolicy(9)", EvictionPolicy(9).String())
}

func TestHandle_UnknownMessage(t *testing.T) {
	type bogus struct{ fetchInfo }
	p := newFakeProvider()
	d := newTestDispatcher(p)
	d.handle(bogus{})
	assert.Empty(t, p.snapshot())
}
