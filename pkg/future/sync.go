package future

import (
	"github.com/flux-framework/flux-core-sub021/pkg/dispatch"
	"github.com/flux-framework/flux-core-sub021/pkg/handle"
	"github.com/flux-framework/flux-core-sub021/pkg/message"
)

// Sync builds a future that fulfills on every heartbeat.pulse event,
// gated by sequence number and a minimum gap minGap between fulfillments
// (so a slow consumer can deliberately skip pulses). Grounded on
// original_source/src/common/libflux/sync.c.
//
// Because events are broadcast to every handler regardless of who's
// "caught up" (§4.2), a get+reset loop would otherwise re-fulfill on the
// same pulse it just consumed, or on a stale one queued before the loop
// started: init_cb subscribes once, tracks the last seq actually
// delivered, and only re-fulfills on a strictly newer seq at least minGap
// ahead of it.
func Sync(h *handle.Handle, d *dispatch.Dispatcher, minGap uint32) *Future {
	var f *Future
	lastSeq := int64(-1)

	f = Create(func(f *Future) {
		if err := h.EventSubscribe("heartbeat.pulse"); err != nil {
			f.FulfillError(err)
			return
		}
		d.RegisterEvent("heartbeat.pulse", func(msg *message.Message) {
			seq := int64(msg.Seq())
			if lastSeq >= 0 {
				if seq <= lastSeq {
					return
				}
				if uint32(seq-lastSeq) < minGap {
					return
				}
			}
			lastSeq = seq
			f.Fulfill(nil)
		})
	})
	f.SetHandleDispatcher(h, d)
	f.SetStreaming(true)
	return f
}
