// Package metrics exposes the Prometheus collectors for the core: reactor
// watcher activity, dispatcher matching, and future/RPC latency.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reactor metrics
	WatcherStartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flux_reactor_watcher_starts_total",
			Help: "Total number of watchers started, by type",
		},
		[]string{"type"},
	)

	WatcherFiresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flux_reactor_watcher_fires_total",
			Help: "Total number of watcher callback invocations, by type",
		},
		[]string{"type"},
	)

	ReactorLoopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flux_reactor_loop_duration_seconds",
			Help:    "Time spent in a single reactor loop iteration",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Msglist / handle metrics
	MsglistDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flux_msglist_depth",
			Help: "Current number of messages queued in a msglist, by owner",
		},
		[]string{"owner"},
	)

	HandleSendTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flux_handle_send_total",
			Help: "Total number of messages sent through a handle, by connector and type",
		},
		[]string{"connector", "msgtype"},
	)

	HandleRecvTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flux_handle_recv_total",
			Help: "Total number of messages received through a handle, by connector and type",
		},
		[]string{"connector", "msgtype"},
	)

	// Dispatch metrics
	DispatchMatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flux_dispatch_matched_total",
			Help: "Total number of messages matched to a handler, by topic",
		},
		[]string{"topic"},
	)

	DispatchUnmatchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flux_dispatch_unmatched_total",
			Help: "Total number of messages that matched no handler",
		},
	)

	// Future / RPC metrics
	RPCDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flux_rpc_duration_seconds",
			Help:    "Time from RPC send to future fulfillment, by topic",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)

	RPCInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flux_rpc_inflight",
			Help: "Number of RPC futures awaiting a response",
		},
	)

	FutureFulfillTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flux_future_fulfill_total",
			Help: "Total number of futures fulfilled, by outcome",
		},
		[]string{"outcome"},
	)

	// Heartbeat metrics
	HeartbeatPulsesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flux_heartbeat_pulses_total",
			Help: "Total number of heartbeat.pulse events published",
		},
	)
)

func init() {
	prometheus.MustRegister(
		WatcherStartsTotal,
		WatcherFiresTotal,
		ReactorLoopDuration,
		MsglistDepth,
		HandleSendTotal,
		HandleRecvTotal,
		DispatchMatchedTotal,
		DispatchUnmatchedTotal,
		RPCDuration,
		RPCInflight,
		FutureFulfillTotal,
		HeartbeatPulsesTotal,
	)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed wall time for a single operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
