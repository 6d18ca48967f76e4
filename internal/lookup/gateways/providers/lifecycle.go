// Package providers holds the plumbing shared by the concrete lookup
// backends: an init/disable state machine that tracks in-flight work so that
// no callback is delivered once a provider has been disabled.
package providers

import (
	"context"
	"sync"

	"github.com/haukened/rr-lookup/internal/lookup/domain"
)

// Lifecycle brackets a provider's usable lifetime between Start and Stop.
// The zero value is inactive and ready to use.
//
// Work started through Go or Enter is tracked; Stop cancels its context and
// waits for it to finish. Callbacks must not call Stop (directly or through
// Disable) or Stop will wait on itself.
type Lifecycle struct {
	mu     sync.Mutex
	active bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Start runs acquire and marks the lifecycle active. It is idempotent: an
// active lifecycle returns true without calling acquire again. A failing
// acquire leaves the lifecycle inactive and returns false.
func (l *Lifecycle) Start(acquire func() error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active {
		return true
	}
	if acquire != nil {
		if err := acquire(); err != nil {
			return false
		}
	}
	l.ctx, l.cancel = context.WithCancel(context.Background())
	l.active = true
	return true
}

// Stop marks the lifecycle inactive, cancels outstanding work, waits for it to
// return and then runs release. Stopping an inactive lifecycle does nothing.
func (l *Lifecycle) Stop(release func()) {
	l.mu.Lock()
	if !l.active {
		l.mu.Unlock()
		return
	}
	l.active = false
	l.cancel()
	l.mu.Unlock()

	l.wg.Wait()
	if release != nil {
		release()
	}
}

// Active reports whether Start has succeeded and Stop has not yet run.
func (l *Lifecycle) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Enter registers a unit of synchronous work. The returned context is done
// when either parent is done or the lifecycle stops; done must be called when
// the work finishes. ok is false if the lifecycle is inactive.
func (l *Lifecycle) Enter(parent context.Context) (ctx context.Context, done func(), ok bool) {
	l.mu.Lock()
	if !l.active {
		l.mu.Unlock()
		return nil, func() {}, false
	}
	l.wg.Add(1)
	lcCtx := l.ctx
	l.mu.Unlock()

	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(lcCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
		l.wg.Done()
	}, true
}

// Go runs fn on its own goroutine with the lifecycle context. It returns
// false, without running fn, if the lifecycle is inactive.
func (l *Lifecycle) Go(fn func(ctx context.Context)) bool {
	l.mu.Lock()
	if !l.active {
		l.mu.Unlock()
		return false
	}
	l.wg.Add(1)
	ctx := l.ctx
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		fn(ctx)
	}()
	return true
}

// Deliver hands resp to the request's callback unless ctx is already done or
// there is nothing to deliver. It reports whether the callback ran.
func (l *Lifecycle) Deliver(ctx context.Context, req *domain.LookupRequest, resp *domain.LookupResponse) bool {
	if req == nil || req.Callback == nil || resp == nil {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	req.Callback.OnNewInfo(req, resp)
	return true
}
