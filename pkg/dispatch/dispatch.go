// Package dispatch implements the per-handle message dispatcher: an
// ordered list of topic/type/matchtag-matched handlers, plus the
// matchtag-claim table RPC futures use to intercept their own responses
// before any registered handler sees them.
//
// Grounded on original_source/src/common/libflux/msg_handler.c: matching
// is list-order sensitive, responses claim-first by default, events
// broadcast by default, and a response whose matchtag is claimed by a
// future never reaches a registered handler.
package dispatch

import (
	"sync"
	"sync/atomic"

	"github.com/flux-framework/flux-core-sub021/pkg/handle"
	"github.com/flux-framework/flux-core-sub021/pkg/log"
	"github.com/flux-framework/flux-core-sub021/pkg/message"
	"github.com/flux-framework/flux-core-sub021/pkg/metrics"
)

// Handler is a registered message handler: a match spec, an exclusivity
// policy, an optional owning service name (for disconnect/cancel), and the
// user callback.
type Handler struct {
	Match     handle.Match
	Exclusive bool
	Service   string
	Callback  func(msg *message.Message)

	d      *Dispatcher
	active bool
}

// Stop deactivates the handler without removing it from the list; Start
// reactivates it.
func (h *Handler) Stop() {
	h.d.mu.Lock()
	defer h.d.mu.Unlock()
	h.active = false
}

// Start (re)activates a stopped handler.
func (h *Handler) Start() {
	h.d.mu.Lock()
	defer h.d.mu.Unlock()
	h.active = true
}

// Destroy permanently removes the handler from the dispatcher.
func (h *Handler) Destroy() {
	h.d.mu.Lock()
	defer h.d.mu.Unlock()
	h.d.removeLocked(h)
}

// Dispatcher is the per-handle dispatch table. The zero value is not
// usable; use New.
type Dispatcher struct {
	h *handle.Handle

	mu       sync.Mutex
	handlers []*Handler
	claims   map[uint32]func(*message.Message)

	dispatching int32 // atomic; >0 while Dispatch is on the call stack
}

// Dispatching reports whether any goroutine is currently inside a Dispatch
// call on this dispatcher; the count is per dispatcher, not per goroutine.
// future.Get uses this to refuse a blocking wait from within a
// response/event callback, where it would deadlock the single-threaded
// reactor driving that same dispatch.
func (d *Dispatcher) Dispatching() bool {
	return atomic.LoadInt32(&d.dispatching) > 0
}

// New creates a dispatcher bound to h. It is installed lazily in spirit —
// callers create one on first msg_handler registration, same as the
// source — but Go has no lazy-static hook, so callers just construct it
// when they need it.
func New(h *handle.Handle) *Dispatcher {
	return &Dispatcher{h: h, claims: make(map[uint32]func(*message.Message))}
}

// Register adds a handler to the end of the list. Exclusive handlers stop
// matching after the first hit within a Dispatch call; non-exclusive
// handlers let matching continue to subsequent handlers.
func (d *Dispatcher) Register(match handle.Match, exclusive bool, service string, cb func(*message.Message)) *Handler {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := &Handler{Match: match, Exclusive: exclusive, Service: service, Callback: cb, d: d, active: true}
	d.handlers = append(d.handlers, h)
	return h
}

// RegisterRequest registers a handler for requests to a named service,
// exclusive by default per §4.4 ("requests... dispatched to the handlers
// for that service").
func (d *Dispatcher) RegisterRequest(topic, service string, cb func(*message.Message)) *Handler {
	return d.Register(handle.Match{Types: handle.MatchRequest, Topic: topic}, true, service, cb)
}

// RegisterResponse registers a handler for unclaimed responses, exclusive
// by default per §4.4.
func (d *Dispatcher) RegisterResponse(topic string, cb func(*message.Message)) *Handler {
	return d.Register(handle.Match{Types: handle.MatchResponse, Topic: topic}, true, "", cb)
}

// RegisterEvent registers a handler for events matching topic, broadcast
// (non-exclusive) by default per §4.4.
func (d *Dispatcher) RegisterEvent(topic string, cb func(*message.Message)) *Handler {
	return d.Register(handle.Match{Types: handle.MatchEvent, Topic: topic}, false, "", cb)
}

func (d *Dispatcher) removeLocked(target *Handler) {
	for i, h := range d.handlers {
		if h == target {
			d.handlers = append(d.handlers[:i], d.handlers[i+1:]...)
			return
		}
	}
}

// ClaimResponse registers cb to receive the single response carrying tag,
// intercepting it before any registered response handler sees it. Used by
// the RPC future on init. The claim is consumed (removed) by the caller
// via Unclaim, typically once the response arrives (or, for streaming
// RPCs, once ENODATA or an error response arrives).
func (d *Dispatcher) ClaimResponse(tag uint32, cb func(*message.Message)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.claims[tag] = cb
}

// Unclaim releases a matchtag claim without waiting for a response, used
// when an RPC future is destroyed before it completes.
func (d *Dispatcher) Unclaim(tag uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.claims, tag)
}

// Dispatch routes one received message: a response whose matchtag is
// claimed goes straight to the claimant; otherwise the handler list is
// walked in order, exclusive handlers stopping at the first match,
// non-exclusive handlers letting the walk continue. It reports whether
// anything handled the message.
func (d *Dispatcher) Dispatch(msg *message.Message) bool {
	atomic.AddInt32(&d.dispatching, 1)
	defer atomic.AddInt32(&d.dispatching, -1)

	if msg.Type() == message.TypeResponse {
		d.mu.Lock()
		cb, claimed := d.claims[msg.Matchtag()]
		d.mu.Unlock()
		if claimed {
			metrics.DispatchMatchedTotal.WithLabelValues(msg.Topic()).Inc()
			cb(msg)
			return true
		}
	}

	d.mu.Lock()
	handlers := make([]*Handler, len(d.handlers))
	copy(handlers, d.handlers)
	d.mu.Unlock()

	handled := false
	for _, h := range handlers {
		if !h.active || !h.Match.Matches(msg) {
			continue
		}
		handled = true
		metrics.DispatchMatchedTotal.WithLabelValues(msg.Topic()).Inc()
		h.Callback(msg)
		if h.Exclusive {
			break
		}
	}
	if !handled {
		metrics.DispatchUnmatchedTotal.Inc()
		log.WithHandle(d.h.ConnectorName()).Debug().
			Str("topic", msg.Topic()).Str("type", msg.Type().String()).
			Msg("no handler matched message")
	}
	return handled
}
