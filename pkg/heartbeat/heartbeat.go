// Package heartbeat implements the rank-0 pulse clock: on rank 0, a
// repeating reactor timer publishes a heartbeat.pulse event on a
// configurable period (default 2s); every rank, including 0, can answer
// heartbeat.stats-get with the configured period.
//
// Grounded on original_source/src/modules/heartbeat/heartbeat.c: only rank
// 0 starts the timer (other ranks rely on ordinary event subscription to
// receive the pulse), and stats-get responds with {"period": <seconds>}.
package heartbeat

import (
	"time"

	"github.com/flux-framework/flux-core-sub021/pkg/dispatch"
	"github.com/flux-framework/flux-core-sub021/pkg/handle"
	"github.com/flux-framework/flux-core-sub021/pkg/message"
	"github.com/flux-framework/flux-core-sub021/pkg/metrics"
	"github.com/flux-framework/flux-core-sub021/pkg/reactor"
)

// DefaultPeriod matches the source's default_period of 2 seconds.
const DefaultPeriod = 2 * time.Second

// statsPayload is the heartbeat.stats-get response body.
type statsPayload struct {
	Period float64 `json:"period"`
}

// Heartbeat owns the rank-0 publish timer (if any) and the stats-get
// handler installed on every rank.
type Heartbeat struct {
	h       *handle.Handle
	d       *dispatch.Dispatcher
	rank    uint32
	period  time.Duration
	timer   *reactor.TimerWatcher
	handler *dispatch.Handler
	seq     uint32
}

// Start installs the heartbeat.stats-get handler on every rank and, if
// rank == 0, registers a repeating timer on r that publishes
// heartbeat.pulse every period.
func Start(h *handle.Handle, d *dispatch.Dispatcher, r *reactor.Reactor, rank uint32, period time.Duration) *Heartbeat {
	if period <= 0 {
		period = DefaultPeriod
	}
	hb := &Heartbeat{h: h, d: d, rank: rank, period: period}

	hb.handler = d.RegisterRequest("heartbeat.stats-get", "heartbeat", func(req *message.Message) {
		resp := message.DeriveResponse(req, 0)
		if err := resp.SetPayloadJSON(statsPayload{Period: period.Seconds()}); err != nil {
			resp = message.DeriveResponse(req, int32(1))
		}
		_ = h.Send(resp, 0)
	})

	if rank == 0 {
		hb.timer = r.AddTimer(0, period, func(*reactor.Reactor, *reactor.TimerWatcher) {
			hb.publish()
		})
	}
	return hb
}

func (hb *Heartbeat) publish() {
	ev := message.New(message.TypeEvent)
	ev.SetTopic("heartbeat.pulse")
	ev.SetSeq(hb.seq)
	hb.seq++
	if err := hb.h.Send(ev, 0); err != nil {
		return
	}
	metrics.HeartbeatPulsesTotal.Inc()
}

// Stop stops the publish timer (if this rank owns one) and deactivates the
// stats-get handler.
func (hb *Heartbeat) Stop() {
	if hb.timer != nil {
		hb.timer.Stop()
	}
	if hb.handler != nil {
		hb.handler.Stop()
	}
}
