package reactor_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flux-framework/flux-core-sub021/pkg/dispatch"
	"github.com/flux-framework/flux-core-sub021/pkg/handle"
	_ "github.com/flux-framework/flux-core-sub021/pkg/handle/loopconn"
	"github.com/flux-framework/flux-core-sub021/pkg/message"
	"github.com/flux-framework/flux-core-sub021/pkg/reactor"
	"github.com/flux-framework/flux-core-sub021/pkg/tracing"
)

func TestTimerFiresOnce(t *testing.T) {
	r := reactor.New()
	var fired int
	r.AddTimer(10*time.Millisecond, 0, func(rr *reactor.Reactor, w *reactor.TimerWatcher) {
		fired++
	})
	code := r.Run(0)
	assert.Equal(t, 0, code)
	assert.Equal(t, 1, fired)
}

func TestTimerRepeatsThenStops(t *testing.T) {
	r := reactor.New()
	var fired int
	var w *reactor.TimerWatcher
	w = r.AddTimer(5*time.Millisecond, 5*time.Millisecond, func(rr *reactor.Reactor, tw *reactor.TimerWatcher) {
		fired++
		if fired == 3 {
			w.Stop()
		}
	})
	r.Run(0)
	assert.Equal(t, 3, fired)
}

func TestStopEndsRunEarly(t *testing.T) {
	r := reactor.New()
	r.AddTimer(time.Hour, time.Hour, func(rr *reactor.Reactor, w *reactor.TimerWatcher) {})
	r.AddTimer(5*time.Millisecond, 0, func(rr *reactor.Reactor, w *reactor.TimerWatcher) {
		rr.Stop()
	})

	done := make(chan struct{})
	go func() {
		r.Run(0)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reactor did not stop")
	}
}

func TestFDWatcherFiresOnReadable(t *testing.T) {
	rf, wf, err := os.Pipe()
	require.NoError(t, err)
	defer rf.Close()
	defer wf.Close()

	r := reactor.New()
	var got []byte
	fw := r.AddFD(rf, reactor.PollIn, func(rr *reactor.Reactor, w *reactor.FDWatcher, revents uint8) {
		buf := make([]byte, 16)
		n, _ := rf.Read(buf)
		got = buf[:n]
		w.Destroy()
		rr.Stop()
	})
	defer fw.Destroy()

	go func() {
		time.Sleep(10 * time.Millisecond)
		wf.Write([]byte("hi"))
	}()

	done := make(chan struct{})
	go func() {
		r.Run(0)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fd watcher never fired")
	}
	assert.Equal(t, "hi", string(got))
}

func TestMessageWatcherDispatchesOneMessagePerWakeup(t *testing.T) {
	h, err := handle.Open("loop://", 0)
	require.NoError(t, err)
	defer h.Close()

	d := dispatch.New(h)
	var count int
	d.RegisterRequest("foo.*", "foo", func(*message.Message) { count++ })

	r := reactor.New()
	mw, err := r.AddMessage(h, d)
	require.NoError(t, err)
	defer mw.Destroy()

	req := message.New(message.TypeRequest)
	req.SetTopic("foo.bar")
	require.NoError(t, h.Send(req, 0))

	r.AddTimer(50*time.Millisecond, 0, func(rr *reactor.Reactor, w *reactor.TimerWatcher) {
		rr.Stop()
	})

	r.Run(0)
	assert.Equal(t, 1, count)
}

func TestMessageWatcherDispatchesThroughAttachedTracerWithoutError(t *testing.T) {
	h, err := handle.Open("loop://", 0)
	require.NoError(t, err)
	defer h.Close()
	h.SetTrace(true)

	d := dispatch.New(h)
	var count int
	d.RegisterRequest("foo.*", "foo", func(*message.Message) { count++ })

	r := reactor.New()
	mw, err := r.AddMessage(h, d)
	require.NoError(t, err)
	defer mw.Destroy()

	provider, err := tracing.NewProvider(tracing.Config{Enabled: true, ServiceName: "test"})
	require.NoError(t, err)
	defer provider.Shutdown(context.Background())
	mw.SetTracer(provider)

	req := message.New(message.TypeRequest)
	req.SetTopic("foo.bar")
	require.NoError(t, h.Send(req, 0))

	r.AddTimer(50*time.Millisecond, 0, func(rr *reactor.Reactor, w *reactor.TimerWatcher) {
		rr.Stop()
	})
	r.Run(0)

	assert.Equal(t, 1, count)
}
