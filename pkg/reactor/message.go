package reactor

import (
	"context"

	"github.com/flux-framework/flux-core-sub021/pkg/dispatch"
	"github.com/flux-framework/flux-core-sub021/pkg/handle"
	"github.com/flux-framework/flux-core-sub021/pkg/log"
	"github.com/flux-framework/flux-core-sub021/pkg/tracing"
)

// MessageWatcher is backed by a handle's pollfd; each wakeup consumes
// exactly one message and routes it through the handle's dispatcher,
// bounding work per iteration as §4.4 requires.
type MessageWatcher struct {
	*FDWatcher
	h      *handle.Handle
	d      *dispatch.Dispatcher
	tracer *tracing.Provider
}

// AddMessage registers a message watcher on h's pollfd, routing every
// received message to d.
func (r *Reactor) AddMessage(h *handle.Handle, d *dispatch.Dispatcher) (*MessageWatcher, error) {
	f, err := h.Pollfd()
	if err != nil {
		return nil, err
	}
	mw := &MessageWatcher{h: h, d: d}
	mw.FDWatcher = r.AddFD(f, PollIn, mw.onReady)
	return mw, nil
}

// SetTracer attaches a tracing provider: every message this watcher
// delivers to its dispatcher is wrapped in a span named for its type and
// topic (itself a no-op unless h.Trace() is also on). Optional — a
// watcher with no tracer attached dispatches exactly as before.
func (mw *MessageWatcher) SetTracer(p *tracing.Provider) { mw.tracer = p }

func (mw *MessageWatcher) kind() string { return "message" }

func (mw *MessageWatcher) onReady(r *Reactor, _ *FDWatcher, revents uint8) {
	defer mw.h.Drain()
	if revents&PollErr != 0 {
		log.WithHandle(mw.h.ConnectorName()).Warn().Msg("message watcher: handle reported error readiness")
		return
	}
	msg, err := mw.h.Recv(handle.Match{Types: handle.MatchAny}, handle.RecvNonblock)
	if err != nil {
		return
	}
	if mw.tracer != nil {
		_, span := mw.tracer.SpanForMessage(context.Background(), mw.h, msg)
		defer span.End()
	}
	mw.d.Dispatch(msg)
}
