package future

import (
	"github.com/flux-framework/flux-core-sub021/pkg/dispatch"
	"github.com/flux-framework/flux-core-sub021/pkg/fluxerr"
	"github.com/flux-framework/flux-core-sub021/pkg/handle"
	"github.com/flux-framework/flux-core-sub021/pkg/message"
	"github.com/flux-framework/flux-core-sub021/pkg/metrics"
)

// RPCFlags mirrors flux_rpc's flag family.
type RPCFlags uint8

const (
	// RPCStreaming draws the matchtag from the streaming range and keeps
	// the claim alive across multiple responses until ENODATA or an error
	// arrives.
	RPCStreaming RPCFlags = 1 << iota
	// RPCNoResponse sends the request without waiting on (or claiming) any
	// response at all; the future is fulfilled with nil data (or the send
	// error) as soon as init_cb has sent the request.
	RPCNoResponse
)

// RPC builds a future for one (or, with RPCStreaming, many) request/
// response round trip over h. Grounded on
// original_source/src/common/libflux/rpc.c: the future's init_cb allocates
// a matchtag, claims the response on d, and sends the request; the
// returned future is unfulfilled until the matching response (or an error)
// arrives.
func RPC(h *handle.Handle, d *dispatch.Dispatcher, topic string, nodeid uint32, flags RPCFlags, payload []byte) *Future {
	var f *Future
	f = Create(func(f *Future) {
		timer := metrics.NewTimer()

		if flags&RPCNoResponse != 0 {
			req := message.New(message.TypeRequest)
			req.SetTopic(topic)
			req.SetNodeid(nodeid)
			if payload != nil {
				req.SetPayload(payload)
			}
			if err := h.Send(req, 0); err != nil {
				metrics.FutureFulfillTotal.WithLabelValues("error").Inc()
				f.FulfillError(err)
				return
			}
			metrics.FutureFulfillTotal.WithLabelValues("ok").Inc()
			f.Fulfill(nil)
			return
		}

		streaming := flags&RPCStreaming != 0
		tag, err := h.Matchtags().Alloc(streaming)
		if err != nil {
			metrics.FutureFulfillTotal.WithLabelValues("error").Inc()
			f.FulfillError(err)
			return
		}
		f.SetStreaming(streaming)

		released := false
		release := func() {
			if !released {
				released = true
				h.Matchtags().Free(tag)
				d.Unclaim(tag)
				metrics.RPCInflight.Dec()
			}
		}
		f.AuxSet("rpc.release", release)

		d.ClaimResponse(tag, func(resp *message.Message) {
			if errnum := resp.Errnum(); errnum != 0 {
				if streaming && errnum == fluxerr.ENODATA {
					release()
					timer.ObserveDurationVec(metrics.RPCDuration, topic)
					metrics.FutureFulfillTotal.WithLabelValues("error").Inc()
					f.FulfillError(fluxerr.ErrNoData)
					return
				}
				release()
				timer.ObserveDurationVec(metrics.RPCDuration, topic)
				metrics.FutureFulfillTotal.WithLabelValues("error").Inc()
				f.FulfillError(fluxerr.FromErrno(errnum))
				return
			}
			data, _ := resp.Payload()
			if !streaming {
				release()
				timer.ObserveDurationVec(metrics.RPCDuration, topic)
			}
			metrics.FutureFulfillTotal.WithLabelValues("ok").Inc()
			f.Fulfill(data)
		})

		req := message.New(message.TypeRequest)
		req.SetTopic(topic)
		req.SetNodeid(nodeid)
		req.SetMatchtag(tag)
		if payload != nil {
			req.SetPayload(payload)
		}
		if err := h.Send(req, 0); err != nil {
			release()
			metrics.FutureFulfillTotal.WithLabelValues("error").Inc()
			f.FulfillError(err)
			return
		}
		metrics.RPCInflight.Inc()
	})
	f.SetHandleDispatcher(h, d)
	return f
}

// StreamingNext returns a streaming RPC future to unfulfilled so it can take
// its next response; it is Reset under an RPC-facing name. It arms no
// continuation: a caller that wants a callback for the next response calls
// Then again.
func (f *Future) StreamingNext() error {
	return f.Reset()
}

// Cancel releases this RPC future's matchtag claim immediately, without
// waiting for ENODATA. Per §4.5, the future itself cannot abort remote
// work — the caller is expected to also send a job-manager.cancel-style
// request if it wants the far end to stop; Cancel only stops this process
// from waiting on (and reacting to) further responses.
func (f *Future) Cancel() {
	if v, ok := f.AuxGet("rpc.release"); ok {
		if release, ok := v.(func()); ok {
			release()
		}
	}
	f.Destroy()
}
