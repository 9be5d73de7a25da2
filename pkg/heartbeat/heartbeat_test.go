package heartbeat_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flux-framework/flux-core-sub021/pkg/dispatch"
	"github.com/flux-framework/flux-core-sub021/pkg/handle"
	_ "github.com/flux-framework/flux-core-sub021/pkg/handle/loopconn"
	"github.com/flux-framework/flux-core-sub021/pkg/heartbeat"
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

func TestRankZeroPublishesPulses(t *testing.T) {
	h := openLoop(t)
	d := dispatch.New(h)
	r := reactor.New()

	hb := heartbeat.Start(h, d, r, 0, 10*time.Millisecond)
	defer hb.Stop()

	var seen int
	r.AddPrepare(func(*reactor.Reactor) {
		for {
			msg, err := h.Recv(handle.Match{Types: handle.MatchEvent, Topic: "heartbeat.pulse"}, handle.RecvNonblock)
			if err != nil {
				return
			}
			_ = msg
			seen++
		}
	})
	r.AddTimer(55*time.Millisecond, 0, func(rr *reactor.Reactor, _ *reactor.TimerWatcher) { rr.Stop() })
	r.Run(0)

	assert.GreaterOrEqual(t, seen, 1)
}

func TestNonZeroRankDoesNotPublish(t *testing.T) {
	h := openLoop(t)
	d := dispatch.New(h)
	r := reactor.New()

	hb := heartbeat.Start(h, d, r, 1, 10*time.Millisecond)
	defer hb.Stop()

	r.AddTimer(30*time.Millisecond, 0, func(rr *reactor.Reactor, _ *reactor.TimerWatcher) { rr.Stop() })
	r.Run(0)

	_, err := h.Recv(handle.Match{Types: handle.MatchEvent}, handle.RecvNonblock)
	assert.Error(t, err)
}

func TestStatsGetReportsConfiguredPeriod(t *testing.T) {
	h := openLoop(t)
	d := dispatch.New(h)
	r := reactor.New()

	hb := heartbeat.Start(h, d, r, 1, 3*time.Second)
	defer hb.Stop()

	req := message.New(message.TypeRequest)
	req.SetTopic("heartbeat.stats-get")
	assert.True(t, d.Dispatch(req))

	resp, err := h.Recv(handle.Match{Types: handle.MatchResponse}, handle.RecvNonblock)
	require.NoError(t, err)

	var got struct {
		Period float64 `json:"period"`
	}
	require.NoError(t, resp.UnpackJSON(&got))
	assert.Equal(t, 3.0, got.Period)
}
