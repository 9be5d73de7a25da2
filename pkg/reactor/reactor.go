// Package reactor implements the single-threaded cooperative event loop
// that drives the broker core: fd, timer, periodic, signal, prepare,
// check, idle, message, child, buffered-I/O, and stat watchers, all
// multiplexed onto one goroutine per Reactor so callbacks never run
// concurrently with each other.
//
// Grounded on original_source/src/common/libflux/reactor.c for watcher
// semantics and loop ordering (prepare → poll → fire → check → idle-or-
// block); the actual multiplexing mechanism is necessarily Go-idiomatic
// rather than a port of the source's libev wrapper: fd-backed watchers
// each run a small poller goroutine (via golang.org/x/sys/unix.Poll) that
// posts a single pending readiness event onto one shared channel the loop
// goroutine selects on, so the loop itself never blocks in more than one
// place at a time.
package reactor

import (
	"sync"
	"time"

	"github.com/flux-framework/flux-core-sub021/pkg/metrics"
)

// RunFlags controls reactor_run's termination behavior.
type RunFlags uint8

const (
	// RunOnce processes ready watchers for a single iteration and returns,
	// rather than looping until no active watcher remains.
	RunOnce RunFlags = 1 << iota
	// RunNowait polls without blocking even if no watcher is ready.
	RunNowait
)

type runState uint8

const (
	stateStopped runState = iota
	stateRunning
	stateStopping
)

// readyEvent is posted by any fd-backed watcher onto the reactor's shared
// channel when its fd becomes ready.
type readyEvent struct {
	watcher watcherImpl
	revents uint8
}

// watcherImpl is the internal contract every concrete watcher type
// satisfies so the loop can account for it generically (active-watcher
// counting, metrics labeling, firing).
type watcherImpl interface {
	kind() string
	isActive() bool
	// fire is called by the loop goroutine only, never concurrently.
	fire(r *Reactor, revents uint8)
}

// Watcher is the handle callers hold to a registered watcher of any kind.
type Watcher interface {
	// Stop deactivates the watcher without releasing its resources; Start
	// reactivates it. Safe to call from within the watcher's own callback.
	Stop()
	Start()
	// Destroy stops and releases any goroutine/fd resources the watcher
	// owns. Idempotent.
	Destroy()
	Active() bool
}

// Reactor is a single-threaded cooperative event loop. The zero value is
// not usable; use New.
type Reactor struct {
	mu        sync.Mutex
	watchers  []watcherImpl
	timers    []*TimerWatcher
	periodics []*PeriodicWatcher
	events    chan readyEvent

	state   runState
	runcode int

	now time.Time

	prepareFns []func(*Reactor)
	checkFns   []func(*Reactor)
	idleFns    []func(*Reactor)
}

// New creates an idle reactor.
func New() *Reactor {
	return &Reactor{
		events: make(chan readyEvent, 64),
		now:    time.Now(),
	}
}

// Now returns the loop's cached timestamp, refreshed at the top of every
// iteration. Call NowUpdate to force a refresh between iterations.
func (r *Reactor) Now() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now
}

// NowUpdate forces an immediate refresh of the cached timestamp.
func (r *Reactor) NowUpdate() {
	r.mu.Lock()
	r.now = time.Now()
	r.mu.Unlock()
}

func (r *Reactor) register(w watcherImpl) {
	r.mu.Lock()
	r.watchers = append(r.watchers, w)
	r.mu.Unlock()
	metrics.WatcherStartsTotal.WithLabelValues(w.kind()).Inc()
}

// activeCount reports the number of active watchers that can plausibly
// still fire — used to decide whether Run should keep looping.
func (r *Reactor) activeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, w := range r.watchers {
		if w.isActive() {
			n++
		}
	}
	return n
}

// Stop requests the loop to exit after the current iteration. Any watcher
// callback, or the caller of Run itself via another goroutine, may call
// this.
func (r *Reactor) Stop() {
	r.mu.Lock()
	if r.state == stateRunning {
		r.state = stateStopping
	}
	r.mu.Unlock()
}

// StopError requests the loop to exit after the current iteration and
// records code as Run's return value.
func (r *Reactor) StopError(code int) {
	r.mu.Lock()
	if r.state == stateRunning {
		r.state = stateStopping
	}
	r.runcode = code
	r.mu.Unlock()
}

// AddPrepare registers a function invoked at the top of every iteration,
// before polling.
func (r *Reactor) AddPrepare(fn func(*Reactor)) {
	r.mu.Lock()
	r.prepareFns = append(r.prepareFns, fn)
	r.mu.Unlock()
}

// AddCheck registers a function invoked at the bottom of every iteration,
// after watcher callbacks fire.
func (r *Reactor) AddCheck(fn func(*Reactor)) {
	r.mu.Lock()
	r.checkFns = append(r.checkFns, fn)
	r.mu.Unlock()
}

// AddIdle registers a function invoked whenever no other watcher is
// pending; an active idle function prevents the loop from blocking.
func (r *Reactor) AddIdle(fn func(*Reactor)) {
	r.mu.Lock()
	r.idleFns = append(r.idleFns, fn)
	r.mu.Unlock()
}

// Run drives the loop until no active watcher remains, Stop is called, or
// (with RunOnce) a single iteration completes.
func (r *Reactor) Run(flags RunFlags) int {
	r.mu.Lock()
	r.state = stateRunning
	r.runcode = 0
	r.mu.Unlock()

	for {
		r.mu.Lock()
		stopping := r.state == stateStopping
		r.mu.Unlock()
		if stopping {
			break
		}
		if r.activeCount() == 0 && len(r.idleFnsSnapshot()) == 0 {
			break
		}

		r.iterate(flags)

		if flags&RunOnce != 0 {
			break
		}
	}

	r.mu.Lock()
	r.state = stateStopped
	code := r.runcode
	r.mu.Unlock()
	return code
}

func (r *Reactor) idleFnsSnapshot() []func(*Reactor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]func(*Reactor), len(r.idleFns))
	copy(out, r.idleFns)
	return out
}

func (r *Reactor) iterate(flags RunFlags) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReactorLoopDuration)

	r.NowUpdate()
	for _, fn := range r.prepareFnsSnapshot() {
		fn(r)
	}

	timeout := r.computeTimeout(flags)
	select {
	case ev := <-r.events:
		r.dispatchEvent(ev)
	case <-time.After(timeout):
		r.fireDueTimers()
	}

	for _, fn := range r.checkFnsSnapshot() {
		fn(r)
	}

	if timeout == 0 {
		for _, fn := range r.idleFnsSnapshot() {
			fn(r)
		}
	}
}

func (r *Reactor) prepareFnsSnapshot() []func(*Reactor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]func(*Reactor), len(r.prepareFns))
	copy(out, r.prepareFns)
	return out
}

func (r *Reactor) checkFnsSnapshot() []func(*Reactor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]func(*Reactor), len(r.checkFns))
	copy(out, r.checkFns)
	return out
}

func (r *Reactor) dispatchEvent(ev readyEvent) {
	if !ev.watcher.isActive() {
		return
	}
	metrics.WatcherFiresTotal.WithLabelValues(ev.watcher.kind()).Inc()
	ev.watcher.fire(r, ev.revents)
}

// computeTimeout picks how long the loop may wait for the next event: 0 if
// an idle watcher is active or RunNowait is set (never block), otherwise
// the time until the nearest due timer/periodic watcher, capped so the
// loop still periodically reconsiders idle/stop state.
func (r *Reactor) computeTimeout(flags RunFlags) time.Duration {
	if flags&RunNowait != 0 || len(r.idleFnsSnapshot()) > 0 {
		return 0
	}
	d := r.nearestDeadline()
	const maxWait = 5 * time.Second
	if d < 0 || d > maxWait {
		return maxWait
	}
	return d
}
