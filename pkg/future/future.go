// Package future implements the broker core's asynchronous value: a
// one-shot (or, in streaming mode, resettable) container for a result or
// an error, plus the RPC, wait_all/wait_any, and heartbeat-sync
// specializations built on top of it.
//
// Grounded on original_source/src/common/libflux/future.c for the state
// machine and original_source/src/common/libflux/rpc.c for the RPC
// specialization. A future's init_cb runs at most once, the first time the
// future is attached to a reactor or has Get/WaitFor called on it;
// continuations scheduled via Then always fire on the reactor, never
// synchronously, per §4.5.
package future

import (
	"sync"
	"time"

	"github.com/flux-framework/flux-core-sub021/pkg/dispatch"
	"github.com/flux-framework/flux-core-sub021/pkg/fluxerr"
	"github.com/flux-framework/flux-core-sub021/pkg/handle"
	"github.com/flux-framework/flux-core-sub021/pkg/reactor"
)

type state uint8

const (
	stateUnfulfilled state = iota
	stateFulfilledOK
	stateFulfilledErr
	stateDestroyed
)

type continuation struct {
	cb    func(f *Future)
	timer *reactor.TimerWatcher
}

// Future is a suspendable asynchronous value. The zero value is not
// usable; use Create.
type Future struct {
	mu   sync.Mutex
	st   state
	data []byte
	err  error

	initCb   func(f *Future)
	initDone bool
	streaming bool

	h *handle.Handle
	d *dispatch.Dispatcher
	r *reactor.Reactor

	auxMu sync.Mutex
	aux   map[string]any

	continuations []*continuation
	fulfilled     chan struct{}
}

// Create allocates an unfulfilled future. initCb, if non-nil, runs exactly
// once, the first time the future is attached to a reactor (SetReactor) or
// has Get/WaitFor called on it.
func Create(initCb func(f *Future)) *Future {
	return &Future{
		initCb:    initCb,
		aux:       make(map[string]any),
		fulfilled: make(chan struct{}),
	}
}

// SetHandleDispatcher attaches the handle and dispatcher an RPC-flavored
// future's init_cb and Get drive loop need. Plain futures (composites,
// caller-fulfilled values) leave these nil.
func (f *Future) SetHandleDispatcher(h *handle.Handle, d *dispatch.Dispatcher) {
	f.mu.Lock()
	f.h = h
	f.d = d
	f.mu.Unlock()
}

// SetReactor attaches r, enabling Then, and runs init_cb if this is the
// future's first reactor attachment.
func (f *Future) SetReactor(r *reactor.Reactor) {
	f.mu.Lock()
	f.r = r
	f.mu.Unlock()
	f.ensureInit()
}

// SetStreaming marks the future as streaming (Reset-capable); the RPC
// future sets this for matchtags drawn from the streaming range.
func (f *Future) SetStreaming(v bool) {
	f.mu.Lock()
	f.streaming = v
	f.mu.Unlock()
}

func (f *Future) ensureInit() {
	f.mu.Lock()
	if f.initDone || f.initCb == nil {
		f.mu.Unlock()
		return
	}
	f.initDone = true
	cb := f.initCb
	f.mu.Unlock()
	cb(f)
}

// AuxGet returns the scratch value stored under key, used to keep
// per-future helper objects (e.g. a claimed matchtag's cleanup state)
// alive for the future's lifetime.
func (f *Future) AuxGet(key string) (any, bool) {
	f.auxMu.Lock()
	defer f.auxMu.Unlock()
	v, ok := f.aux[key]
	return v, ok
}

// AuxSet stores a scratch value under key.
func (f *Future) AuxSet(key string, value any) {
	f.auxMu.Lock()
	defer f.auxMu.Unlock()
	f.aux[key] = value
}

// Fulfill transitions the future to fulfilled(ok) with data, scheduling any
// armed continuations on the reactor. Calling Fulfill on an already-
// fulfilled, non-streaming future is a no-op.
func (f *Future) Fulfill(data []byte) {
	f.mu.Lock()
	if f.st != stateUnfulfilled {
		f.mu.Unlock()
		return
	}
	f.st = stateFulfilledOK
	f.data = data
	f.err = nil
	ch := f.fulfilled
	conts := f.continuations
	f.continuations = nil
	f.mu.Unlock()

	close(ch)
	f.scheduleContinuations(conts)
}

// FulfillError transitions the future to fulfilled(err) with err.
func (f *Future) FulfillError(err error) {
	f.mu.Lock()
	if f.st != stateUnfulfilled {
		f.mu.Unlock()
		return
	}
	f.st = stateFulfilledErr
	f.err = err
	f.data = nil
	ch := f.fulfilled
	conts := f.continuations
	f.continuations = nil
	f.mu.Unlock()

	close(ch)
	f.scheduleContinuations(conts)
}

func (f *Future) scheduleContinuations(conts []*continuation) {
	f.mu.Lock()
	r := f.r
	f.mu.Unlock()
	for _, c := range conts {
		if c.timer != nil {
			c.timer.Stop()
		}
		cont := c
		if r != nil {
			r.AddTimer(0, 0, func(*reactor.Reactor, *reactor.TimerWatcher) { cont.cb(f) })
		} else {
			// No reactor attached: nothing will ever drive a loop to deliver
			// this continuation, so run it on the fulfiller's own goroutine.
			// Then refuses to arm without a reactor, so this path is reached
			// only when the reactor was detached (SetReactor(nil)) after Then
			// armed the continuation.
			go cont.cb(f)
		}
	}
}

// Reset returns a streaming future to unfulfilled. It does not re-arm
// continuations: Fulfill and FulfillError consume every continuation armed
// by Then, so a callback for the next response must be armed with Then
// again after Reset.
func (f *Future) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.streaming {
		return fluxerr.ErrInval
	}
	if f.st == stateDestroyed {
		return fluxerr.ErrInval
	}
	f.st = stateUnfulfilled
	f.data = nil
	f.err = nil
	f.fulfilled = make(chan struct{})
	return nil
}

// Destroy releases the future's aux storage and detaches any pending
// continuations. It does not touch already-delivered user data.
func (f *Future) Destroy() {
	f.mu.Lock()
	f.st = stateDestroyed
	for _, c := range f.continuations {
		if c.timer != nil {
			c.timer.Stop()
		}
	}
	f.continuations = nil
	f.mu.Unlock()

	f.auxMu.Lock()
	f.aux = nil
	f.auxMu.Unlock()
}

// Then arms cb to run on the reactor once the future is fulfilled (or
// immediately re-scheduled if it already is — never invoked synchronously).
// A negative timeout disables the timeout; otherwise the future fulfills
// with ErrTimedOut if nothing else fulfills it first.
func (f *Future) Then(timeout time.Duration, cb func(f *Future)) error {
	f.mu.Lock()
	if f.st == stateDestroyed {
		f.mu.Unlock()
		return fluxerr.ErrInval
	}
	r := f.r
	already := f.st != stateUnfulfilled
	f.mu.Unlock()

	if r == nil {
		return fluxerr.ErrInval
	}
	f.ensureInit()

	if already {
		r.AddTimer(0, 0, func(*reactor.Reactor, *reactor.TimerWatcher) { cb(f) })
		return nil
	}

	c := &continuation{cb: cb}
	f.mu.Lock()
	f.continuations = append(f.continuations, c)
	f.mu.Unlock()

	if timeout >= 0 {
		c.timer = r.AddTimer(timeout, 0, func(*reactor.Reactor, *reactor.TimerWatcher) {
			f.FulfillError(fluxerr.ErrTimedOut)
		})
	}
	return nil
}

func (f *Future) peek() (data []byte, err error, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.st {
	case stateFulfilledOK:
		return f.data, nil, true
	case stateFulfilledErr:
		return nil, f.err, true
	case stateDestroyed:
		return nil, fluxerr.ErrInval, true
	default:
		return nil, nil, false
	}
}

// Get blocks until the future is fulfilled, returning its data or error.
// If the future carries a handle/dispatcher (an RPC future) and is not yet
// fulfilled, Get drives that handle's own receive loop directly rather
// than requiring a reactor to already be running. Get refuses to block
// (returning ErrInval) when called from within that same dispatcher's
// Dispatch call — e.g. from a response handler callback — since blocking
// there would deadlock a reactor that is the only thing able to deliver
// the fulfillment.
func (f *Future) Get() ([]byte, error) {
	f.ensureInit()

	f.mu.Lock()
	d := f.d
	h := f.h
	f.mu.Unlock()

	if d != nil && d.Dispatching() {
		return nil, fluxerr.ErrInval
	}

	for {
		if data, err, ok := f.peek(); ok {
			return data, err
		}
		if h == nil {
			<-f.waitCh()
			continue
		}
		msg, err := h.Recv(handle.Match{Types: handle.MatchAny}, 0)
		if err != nil {
			return nil, err
		}
		d.Dispatch(msg)
	}
}

// WaitFor blocks until the future is fulfilled or timeout elapses,
// whichever comes first.
func (f *Future) WaitFor(timeout time.Duration) ([]byte, error) {
	f.ensureInit()

	f.mu.Lock()
	d := f.d
	h := f.h
	f.mu.Unlock()

	if d != nil && d.Dispatching() {
		return nil, fluxerr.ErrInval
	}

	deadline := time.Now().Add(timeout)
	for {
		if data, err, ok := f.peek(); ok {
			return data, err
		}
		if time.Now().After(deadline) {
			return nil, fluxerr.ErrTimedOut
		}
		if h != nil {
			msg, err := h.Recv(handle.Match{Types: handle.MatchAny}, handle.RecvNonblock)
			if err == nil {
				d.Dispatch(msg)
				continue
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// Fulfilled reports whether the future has left the unfulfilled state
// (ok, error, or destroyed).
func (f *Future) Fulfilled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st != stateUnfulfilled
}

func (f *Future) waitCh() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fulfilled
}
