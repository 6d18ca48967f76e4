// Package dispatcher serializes access to a lookup provider. A single worker
// goroutine drains a FIFO queue of fetch and mark-as-spam messages, and a
// pending set rejects a second fetch for a number that is still in flight.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haukened/rr-lookup/internal/lookup/common/clock"
	"github.com/haukened/rr-lookup/internal/lookup/common/log"
	"github.com/haukened/rr-lookup/internal/lookup/domain"
)

// DefaultQueueSize is used when Options.QueueSize is not positive.
const DefaultQueueSize = 64

// State is the dispatcher lifecycle.
type State uint32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateTornDown:
		return "torn_down"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// EvictionPolicy decides when a fetched number leaves the pending set.
type EvictionPolicy uint8

const (
	// EvictOnCallback retires a number when the provider delivers its result.
	EvictOnCallback EvictionPolicy = iota
	// EvictNever keeps every submitted number pending for the dispatcher's
	// lifetime unless PendingTTL expires it.
	EvictNever
)

func (p EvictionPolicy) String() string {
	switch p {
	case EvictOnCallback:
		return "callback"
	case EvictNever:
		return "never"
	default:
		return fmt.Sprintf("EvictionPolicy(%d)", p)
	}
}

// ParseEvictionPolicy maps "callback" or "never" to a policy.
func ParseEvictionPolicy(s string) (EvictionPolicy, error) {
	switch s {
	case "callback", "":
		return EvictOnCallback, nil
	case "never":
		return EvictNever, nil
	default:
		return 0, fmt.Errorf("unknown pending eviction policy %q", s)
	}
}

// message is a unit of work for the worker.
type message interface {
	isMessage()
}

type fetchInfo struct {
	req *domain.LookupRequest
}

type markAsSpam struct {
	number string
}

func (fetchInfo) isMessage()  {}
func (markAsSpam) isMessage() {}

// Options configures New.
type Options struct {
	Provider   Provider
	Logger     log.Logger
	Clock      clock.Clock
	QueueSize  int
	Eviction   EvictionPolicy
	PendingTTL time.Duration // zero keeps entries until evicted by policy
}

// Dispatcher owns one Provider and feeds it from a single worker goroutine.
type Dispatcher struct {
	provider   Provider
	logger     log.Logger
	clock      clock.Clock
	queueSize  int
	eviction   EvictionPolicy
	pendingTTL time.Duration

	mu      sync.Mutex
	state   State
	queue   chan message
	stopCh  chan struct{}
	done    chan struct{}
	pending *pendingSet
}

// New returns an uninitialized Dispatcher for opts.Provider.
func New(opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = log.GetLogger()
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	fields := map[string]any{"component": "dispatcher"}
	if opts.Provider != nil {
		fields["provider"] = opts.Provider.UniqueIdentifier()
	}
	return &Dispatcher{
		provider:   opts.Provider,
		logger:     log.WithFields(opts.Logger, fields),
		clock:      opts.Clock,
		queueSize:  opts.QueueSize,
		eviction:   opts.Eviction,
		pendingTTL: opts.PendingTTL,
	}
}

// Initialize initializes the provider and starts the worker. Calling it on a
// ready dispatcher returns true without touching the provider. A provider
// failure returns false and leaves the dispatcher uninitialized; nothing is
// retried unless Initialize is called again. A torn-down dispatcher stays
// down.
func (d *Dispatcher) Initialize() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case StateReady:
		return true
	case StateTornDown:
		d.logger.Warn(nil, "Initialize called after teardown")
		return false
	}
	if d.provider == nil {
		d.logger.Error(nil, "No provider configured")
		return false
	}

	d.state = StateInitializing
	if !d.provider.Initialize() {
		d.state = StateUninitialized
		d.logger.Warn(nil, "Provider failed to initialize")
		return false
	}

	d.pending = newPendingSet(d.clock, d.pendingTTL)
	d.queue = make(chan message, d.queueSize)
	d.stopCh = make(chan struct{})
	d.done = make(chan struct{})
	go d.loop(d.queue, d.stopCh, d.done)

	d.state = StateReady
	d.logger.Info(map[string]any{
		"queue_size":  d.queueSize,
		"eviction":    d.eviction.String(),
		"pending_ttl": d.pendingTTL.String(),
	}, "Dispatcher ready")
	return true
}

// FetchInfoForPhoneNumber queues req for the provider. It returns false when
// the dispatcher is not ready, when a request for the same number is still
// pending, or when the queue is full.
func (d *Dispatcher) FetchInfoForPhoneNumber(req *domain.LookupRequest) bool {
	if req == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateReady {
		d.logger.Debug(map[string]any{"number": req.PhoneNumber, "state": d.state.String()}, "Fetch rejected, dispatcher not ready")
		return false
	}
	key := req.Key()
	token, ok := d.pending.add(key)
	if !ok {
		d.logger.Debug(map[string]any{"number": req.PhoneNumber, "request_id": req.ID}, "Fetch rejected, request already pending")
		return false
	}

	forwarded := req
	if d.eviction == EvictOnCallback {
		forwarded = req.WithCallback(&retiringCallback{
			req:    req,
			retire: func() { d.pending.remove(key, token) },
		})
	}

	select {
	case d.queue <- fetchInfo{req: forwarded}:
		return true
	default:
		d.pending.remove(key, token)
		d.logger.Warn(map[string]any{"number": req.PhoneNumber, "queue_size": d.queueSize}, "Fetch rejected, queue full")
		return false
	}
}

// BlockingFetchInfoForPhoneNumber asks the provider directly on the calling
// goroutine, bypassing the queue and the pending set. It returns nil when the
// dispatcher is not ready or the provider has no answer.
func (d *Dispatcher) BlockingFetchInfoForPhoneNumber(ctx context.Context, req *domain.LookupRequest) *domain.LookupResponse {
	if req == nil || d.State() != StateReady {
		return nil
	}
	return d.provider.BlockingFetchInfo(ctx, req)
}

// MarkAsSpam queues a spam report for number behind any queued fetches.
func (d *Dispatcher) MarkAsSpam(number string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateReady {
		d.logger.Debug(map[string]any{"number": number, "state": d.state.String()}, "Mark as spam dropped, dispatcher not ready")
		return
	}
	select {
	case d.queue <- markAsSpam{number: number}:
	default:
		d.logger.Warn(map[string]any{"number": number, "queue_size": d.queueSize}, "Mark as spam dropped, queue full")
	}
}

func (d *Dispatcher) IsProviderEnabled() bool {
	if d.provider == nil || d.State() == StateTornDown {
		return false
	}
	return d.provider.IsEnabled()
}

func (d *Dispatcher) IsProviderInterestedInSpam() bool {
	if d.provider == nil || d.State() == StateTornDown {
		return false
	}
	return d.provider.SupportsSpamReporting()
}

func (d *Dispatcher) ProviderName() string {
	if d.provider == nil {
		return ""
	}
	return d.provider.DisplayName()
}

// TearDown stops the worker, waits for it to exit and disables the provider.
// Queued messages are dropped. Every later call is inert.
func (d *Dispatcher) TearDown() {
	d.mu.Lock()
	if d.state == StateTornDown {
		d.mu.Unlock()
		return
	}
	wasReady := d.state == StateReady
	d.state = StateTornDown
	stopCh, done := d.stopCh, d.done
	d.mu.Unlock()

	if wasReady {
		close(stopCh)
		<-done
	}
	if d.provider != nil {
		d.provider.Disable()
	}
	d.logger.Info(nil, "Dispatcher torn down")
}

// State returns the current lifecycle state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// PendingCount returns the number of numbers currently pending.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	p := d.pending
	d.mu.Unlock()
	if p == nil {
		return 0
	}
	return p.len()
}

// IsPending reports whether a fetch for number is in flight.
func (d *Dispatcher) IsPending(number string) bool {
	d.mu.Lock()
	p := d.pending
	d.mu.Unlock()
	return p != nil && p.contains(number)
}

// loop is the single consumer of queue. A stop signal wins over queued work.
func (d *Dispatcher) loop(queue <-chan message, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stopCh:
			d.logger.Debug(map[string]any{"dropped": len(queue)}, "Worker stopping")
			return
		case msg := <-queue:
			select {
			case <-stopCh:
				d.logger.Debug(map[string]any{"dropped": len(queue) + 1}, "Worker stopping")
				return
			default:
			}
			d.handle(msg)
		}
	}
}

func (d *Dispatcher) handle(msg message) {
	switch m := msg.(type) {
	case fetchInfo:
		d.logger.Debug(map[string]any{"number": m.req.PhoneNumber, "request_id": m.req.ID}, "Dispatching fetch")
		d.provider.FetchInfo(m.req)
	case markAsSpam:
		d.logger.Debug(map[string]any{"number": m.number}, "Dispatching mark as spam")
		d.provider.MarkAsSpam(m.number)
	default:
		d.logger.Warn(map[string]any{"type": fmt.Sprintf("%T", msg)}, "Unknown message")
	}
}

// retiringCallback removes its request from the pending set before handing the
// result to the caller's callback. Only the first delivery is forwarded.
type retiringCallback struct {
	once   sync.Once
	req    *domain.LookupRequest
	retire func()
}

func (c *retiringCallback) OnNewInfo(_ *domain.LookupRequest, resp *domain.LookupResponse) {
	first := false
	c.once.Do(func() {
		c.retire()
		first = true
	})
	if first && c.req.Callback != nil {
		c.req.Callback.OnNewInfo(c.req, resp)
	}
}
