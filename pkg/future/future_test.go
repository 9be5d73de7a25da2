package future_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flux-framework/flux-core-sub021/pkg/dispatch"
	"github.com/flux-framework/flux-core-sub021/pkg/fluxerr"
	"github.com/flux-framework/flux-core-sub021/pkg/future"
	"github.com/flux-framework/flux-core-sub021/pkg/handle"
	_ "github.com/flux-framework/flux-core-sub021/pkg/handle/loopconn"
	"github.com/flux-framework/flux-core-sub021/pkg/message"
	"github.com/flux-framework/flux-core-sub021/pkg/reactor"
)

func openLoop(t *testing.T) *handle.Handle {
	t.Helper()
	h, err := handle.Open("loop://", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestGetReturnsImmediatelyWhenAlreadyFulfilled(t *testing.T) {
	f := future.Create(nil)
	f.Fulfill([]byte("ok"))
	data, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
}

func TestGetReturnsFulfillError(t *testing.T) {
	f := future.Create(nil)
	f.FulfillError(fluxerr.ErrNoEnt)
	_, err := f.Get()
	assert.ErrorIs(t, err, fluxerr.ErrNoEnt)
}

func TestSecondFulfillIsNoop(t *testing.T) {
	f := future.Create(nil)
	f.Fulfill([]byte("first"))
	f.Fulfill([]byte("second"))
	data, _ := f.Get()
	assert.Equal(t, "first", string(data))
}

func TestRPCRoundTripFulfillsWithResponsePayload(t *testing.T) {
	h := openLoop(t)
	d := dispatch.New(h)

	f := future.RPC(h, d, "foo.bar", 0, 0, []byte("ping"))
	f.SetReactor(reactor.New())

	req, err := h.Recv(handle.Match{Types: handle.MatchRequest}, 0)
	require.NoError(t, err)
	assert.Equal(t, "foo.bar", req.Topic())

	resp := message.DeriveResponse(req, 0)
	resp.SetPayload([]byte("pong"))
	assert.True(t, d.Dispatch(resp))

	data, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, "pong", string(data))
}

func TestRPCErrorResponseFulfillsError(t *testing.T) {
	h := openLoop(t)
	d := dispatch.New(h)

	f := future.RPC(h, d, "foo.bar", 0, 0, nil)
	f.SetReactor(reactor.New())
	req, err := h.Recv(handle.Match{Types: handle.MatchRequest}, 0)
	require.NoError(t, err)

	resp := message.DeriveResponse(req, fluxerr.EINVAL)
	d.Dispatch(resp)

	_, err = f.Get()
	assert.ErrorIs(t, err, fluxerr.ErrInval)
}

func TestStreamingRPCTerminatesOnENODATA(t *testing.T) {
	h := openLoop(t)
	d := dispatch.New(h)

	f := future.RPC(h, d, "foo.stream", 0, future.RPCStreaming, nil)
	f.SetReactor(reactor.New())
	req, err := h.Recv(handle.Match{Types: handle.MatchRequest}, 0)
	require.NoError(t, err)
	assert.True(t, handle.IsStreaming(req.Matchtag()))

	resp1 := message.DeriveResponse(req, 0)
	resp1.SetPayload([]byte("a"))
	d.Dispatch(resp1)
	data, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))
	require.NoError(t, f.StreamingNext())

	resp2 := message.DeriveResponse(req, 0)
	resp2.SetPayload([]byte("b"))
	d.Dispatch(resp2)
	data, err = f.Get()
	require.NoError(t, err)
	assert.Equal(t, "b", string(data))
	require.NoError(t, f.StreamingNext())

	resp3 := message.DeriveResponse(req, fluxerr.ENODATA)
	d.Dispatch(resp3)
	_, err = f.Get()
	assert.ErrorIs(t, err, fluxerr.ErrNoData)
}

func TestGetRefusesFromWithinDispatchCallback(t *testing.T) {
	h := openLoop(t)
	d := dispatch.New(h)
	other := future.RPC(h, d, "unrelated.topic", 0, 0, nil)

	var gotErr error
	d.RegisterEvent("a.b", func(*message.Message) {
		_, gotErr = other.Get()
	})
	ev := message.New(message.TypeEvent)
	ev.SetTopic("a.b")
	d.Dispatch(ev)

	assert.ErrorIs(t, gotErr, fluxerr.ErrInval)
}

func TestThenSchedulesOnReactorNotSynchronously(t *testing.T) {
	f := future.Create(nil)
	r := reactor.New()
	f.SetReactor(r)
	f.Fulfill([]byte("x"))

	var called bool
	require.NoError(t, f.Then(-1, func(*future.Future) {
		called = true
		r.Stop()
	}))
	assert.False(t, called, "Then must not invoke cb synchronously")
	r.Run(0)
	assert.True(t, called)
}

func TestThenFiresAfterLaterFulfillment(t *testing.T) {
	f := future.Create(nil)
	r := reactor.New()
	f.SetReactor(r)

	var called bool
	require.NoError(t, f.Then(-1, func(*future.Future) {
		called = true
		r.Stop()
	}))
	r.AddTimer(5*time.Millisecond, 0, func(*reactor.Reactor, *reactor.TimerWatcher) {
		f.Fulfill([]byte("y"))
	})
	r.Run(0)
	assert.True(t, called)
}

func TestThenTimeoutFulfillsErrTimedOut(t *testing.T) {
	f := future.Create(nil)
	r := reactor.New()
	f.SetReactor(r)

	var gotErr error
	require.NoError(t, f.Then(5*time.Millisecond, func(ff *future.Future) {
		_, gotErr = ff.Get()
		r.Stop()
	}))
	r.Run(0)
	assert.ErrorIs(t, gotErr, fluxerr.ErrTimedOut)
}

func TestWaitAllFulfillsOnceEveryChildFulfills(t *testing.T) {
	r := reactor.New()
	f1 := future.Create(nil)
	f1.SetReactor(r)
	f2 := future.Create(nil)
	f2.SetReactor(r)

	composite := future.WaitAll([]*future.Future{f1, f2})
	composite.SetReactor(r)

	r.AddTimer(5*time.Millisecond, 0, func(*reactor.Reactor, *reactor.TimerWatcher) {
		f1.Fulfill([]byte("1"))
	})
	r.AddTimer(10*time.Millisecond, 0, func(*reactor.Reactor, *reactor.TimerWatcher) {
		f2.Fulfill([]byte("2"))
	})

	var done bool
	require.NoError(t, composite.Then(-1, func(*future.Future) {
		done = true
		r.Stop()
	}))
	r.Run(0)
	assert.True(t, done)
}

func TestWaitAnyFulfillsOnFirstChild(t *testing.T) {
	r := reactor.New()
	f1 := future.Create(nil)
	f1.SetReactor(r)
	f2 := future.Create(nil)
	f2.SetReactor(r)

	composite := future.WaitAny([]*future.Future{f1, f2})
	composite.SetReactor(r)

	r.AddTimer(5*time.Millisecond, 0, func(*reactor.Reactor, *reactor.TimerWatcher) {
		f1.Fulfill([]byte("first"))
	})
	r.AddTimer(time.Hour, 0, func(*reactor.Reactor, *reactor.TimerWatcher) {
		f2.Fulfill([]byte("never"))
	})

	var data []byte
	require.NoError(t, composite.Then(-1, func(cf *future.Future) {
		data, _ = cf.Get()
		r.Stop()
	}))
	r.Run(0)
	assert.Equal(t, "first", string(data))
}

func newPulse(seq uint32) *message.Message {
	ev := message.New(message.TypeEvent)
	ev.SetTopic("heartbeat.pulse")
	ev.SetSeq(seq)
	return ev
}

func TestSyncFiresOnceForEachDistinctSeq(t *testing.T) {
	h := openLoop(t)
	d := dispatch.New(h)
	r := reactor.New()

	f := future.Sync(h, d, 0)
	f.SetReactor(r)

	seqs := []uint32{0, 1, 2, 3}
	idx := 0
	var count int

	var dispatchNext func()
	dispatchNext = func() {
		for idx < len(seqs) {
			ev := newPulse(seqs[idx])
			idx++
			d.Dispatch(ev)
			if f.Fulfilled() {
				return
			}
		}
		r.Stop()
	}

	var step func(*future.Future)
	step = func(ff *future.Future) {
		count++
		require.NoError(t, ff.Reset())
		if idx < len(seqs) {
			require.NoError(t, ff.Then(-1, step))
		} else {
			r.Stop()
			return
		}
		dispatchNext()
	}
	require.NoError(t, f.Then(-1, step))
	dispatchNext()

	r.Run(0)
	assert.Equal(t, 4, count)
}

func TestSyncIgnoresDuplicateSeq(t *testing.T) {
	h := openLoop(t)
	d := dispatch.New(h)
	r := reactor.New()

	f := future.Sync(h, d, 0)
	f.SetReactor(r)

	seqs := []uint32{0, 0, 1, 2}
	idx := 0
	var count int

	var dispatchNext func()
	dispatchNext = func() {
		for idx < len(seqs) {
			ev := newPulse(seqs[idx])
			idx++
			d.Dispatch(ev)
			if f.Fulfilled() {
				return
			}
		}
		r.Stop()
	}

	var step func(*future.Future)
	step = func(ff *future.Future) {
		count++
		require.NoError(t, ff.Reset())
		if idx < len(seqs) {
			require.NoError(t, ff.Then(-1, step))
			dispatchNext()
		} else {
			r.Stop()
		}
	}
	require.NoError(t, f.Then(-1, step))
	dispatchNext()

	r.Run(0)
	assert.Equal(t, 3, count)
}

func TestCancelUnclaimsSoLateResponseGoesUnhandled(t *testing.T) {
	h := openLoop(t)
	d := dispatch.New(h)

	f := future.RPC(h, d, "foo.bar", 0, 0, nil)
	f.SetReactor(reactor.New())
	req, err := h.Recv(handle.Match{Types: handle.MatchRequest}, 0)
	require.NoError(t, err)

	f.Cancel()

	resp := message.DeriveResponse(req, 0)
	assert.False(t, d.Dispatch(resp), "a canceled RPC's matchtag claim must be released")
	assert.True(t, f.Fulfilled(), "Cancel destroys the future, and a destroyed future counts as fulfilled")
}
