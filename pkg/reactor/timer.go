package reactor

import (
	"sync"
	"time"

	"github.com/flux-framework/flux-core-sub021/pkg/metrics"
)

// TimerWatcher fires once after `after` elapses, then repeats every
// `repeat` if repeat > 0.
type TimerWatcher struct {
	r      *Reactor
	mu     sync.Mutex
	after  time.Duration
	repeat time.Duration
	next   time.Time
	active bool
	cb     func(*Reactor, *TimerWatcher)
}

// AddTimer registers a timer watcher firing after `after`, repeating every
// `repeat` thereafter if repeat > 0.
func (r *Reactor) AddTimer(after, repeat time.Duration, cb func(*Reactor, *TimerWatcher)) *TimerWatcher {
	w := &TimerWatcher{r: r, after: after, repeat: repeat, next: time.Now().Add(after), active: true, cb: cb}
	r.mu.Lock()
	r.timers = append(r.timers, w)
	r.watchers = append(r.watchers, w)
	r.mu.Unlock()
	return w
}

// Reset reschedules the timer to fire after `after`, repeating every
// `repeat` thereafter.
func (w *TimerWatcher) Reset(after, repeat time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.after = after
	w.repeat = repeat
	w.next = time.Now().Add(after)
	w.active = true
}

func (w *TimerWatcher) kind() string  { return "timer" }
func (w *TimerWatcher) isActive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}
func (w *TimerWatcher) Stop() {
	w.mu.Lock()
	w.active = false
	w.mu.Unlock()
}
func (w *TimerWatcher) Start() {
	w.mu.Lock()
	w.active = true
	w.next = time.Now().Add(w.after)
	w.mu.Unlock()
}
func (w *TimerWatcher) Destroy() { w.Stop() }
func (w *TimerWatcher) Active() bool { return w.isActive() }

func (w *TimerWatcher) due(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active && !w.next.After(now)
}

func (w *TimerWatcher) deadline() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.active {
		return time.Time{}, false
	}
	return w.next, true
}

func (w *TimerWatcher) fireLocked(r *Reactor) {
	w.mu.Lock()
	repeat := w.repeat
	if repeat > 0 {
		w.next = time.Now().Add(repeat)
	} else {
		w.active = false
	}
	cb := w.cb
	w.mu.Unlock()
	cb(r, w)
}

func (w *TimerWatcher) fire(r *Reactor, _ uint8) { w.fireLocked(r) }

// PeriodicWatcher fires at wall-clock times chosen by a predicate that,
// given the previous fire time (or the zero Time on first call), returns
// the next time to fire.
type PeriodicWatcher struct {
	r         *Reactor
	mu        sync.Mutex
	next      time.Time
	active    bool
	scheduler func(last time.Time) time.Time
	cb        func(*Reactor, *PeriodicWatcher)
}

// AddPeriodic registers a periodic watcher whose next fire time is chosen
// by scheduler each time it fires (and once up front, called with the zero
// Time).
func (r *Reactor) AddPeriodic(scheduler func(last time.Time) time.Time, cb func(*Reactor, *PeriodicWatcher)) *PeriodicWatcher {
	w := &PeriodicWatcher{r: r, scheduler: scheduler, cb: cb, active: true}
	w.next = scheduler(time.Time{})
	r.mu.Lock()
	r.periodics = append(r.periodics, w)
	r.watchers = append(r.watchers, w)
	r.mu.Unlock()
	return w
}

func (w *PeriodicWatcher) kind() string { return "periodic" }
func (w *PeriodicWatcher) isActive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}
func (w *PeriodicWatcher) Stop() {
	w.mu.Lock()
	w.active = false
	w.mu.Unlock()
}
func (w *PeriodicWatcher) Start() {
	w.mu.Lock()
	w.active = true
	w.mu.Unlock()
}
func (w *PeriodicWatcher) Destroy() { w.Stop() }
func (w *PeriodicWatcher) Active() bool { return w.isActive() }

func (w *PeriodicWatcher) due(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active && !w.next.After(now)
}

func (w *PeriodicWatcher) deadline() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.active {
		return time.Time{}, false
	}
	return w.next, true
}

func (w *PeriodicWatcher) fire(r *Reactor, _ uint8) {
	w.mu.Lock()
	last := w.next
	w.next = w.scheduler(last)
	cb := w.cb
	w.mu.Unlock()
	cb(r, w)
}

// nearestDeadline returns the time until the soonest due timer/periodic
// watcher, or -1 if none are active.
func (r *Reactor) nearestDeadline() time.Duration {
	r.mu.Lock()
	timers := append([]*TimerWatcher(nil), r.timers...)
	periodics := append([]*PeriodicWatcher(nil), r.periodics...)
	r.mu.Unlock()

	now := time.Now()
	best := time.Duration(-1)
	consider := func(t time.Time, ok bool) {
		if !ok {
			return
		}
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		if best < 0 || d < best {
			best = d
		}
	}
	for _, w := range timers {
		consider(w.deadline())
	}
	for _, w := range periodics {
		consider(w.deadline())
	}
	return best
}

// fireDueTimers fires every timer/periodic watcher whose deadline has
// passed. Several may be due in the same iteration (e.g. after a long
// blocking select); all fire before the loop proceeds to check watchers.
func (r *Reactor) fireDueTimers() {
	r.mu.Lock()
	timers := append([]*TimerWatcher(nil), r.timers...)
	periodics := append([]*PeriodicWatcher(nil), r.periodics...)
	r.mu.Unlock()

	now := time.Now()
	for _, w := range timers {
		if w.due(now) {
			metrics.WatcherFiresTotal.WithLabelValues(w.kind()).Inc()
			w.fireLocked(r)
		}
	}
	for _, w := range periodics {
		if w.due(now) {
			metrics.WatcherFiresTotal.WithLabelValues(w.kind()).Inc()
			w.fire(r, 0)
		}
	}
}
