package reactor

import (
	"os"
	"os/signal"
	"sync"
)

// SignalWatcher fires on delivery of any of its registered signals. Each
// delivery the pump goroutine receives is posted as its own event, so it
// gets its own callback; deliveries coalesce only when os/signal drops
// them because the watcher's 4-slot channel is full.
type SignalWatcher struct {
	r      *Reactor
	sigs   []os.Signal
	ch     chan os.Signal
	done   chan struct{}
	mu        sync.Mutex
	active    bool
	pending   os.Signal
	closeOnce sync.Once
	cb        func(*Reactor, *SignalWatcher, os.Signal)
}

// AddSignal registers a watcher for the given signals.
func (r *Reactor) AddSignal(cb func(*Reactor, *SignalWatcher, os.Signal), sigs ...os.Signal) *SignalWatcher {
	w := &SignalWatcher{
		r:      r,
		sigs:   sigs,
		ch:     make(chan os.Signal, 4),
		done:   make(chan struct{}),
		active: true,
		cb:     cb,
	}
	signal.Notify(w.ch, sigs...)
	r.register(w)
	go w.pump()
	return w
}

func (w *SignalWatcher) pump() {
	for {
		select {
		case sig := <-w.ch:
			if !w.isActive() {
				continue
			}
			w.mu.Lock()
			w.pending = sig
			w.mu.Unlock()
			select {
			case w.r.events <- readyEvent{watcher: w, revents: 0}:
			case <-w.done:
				return
			}
		case <-w.done:
			return
		}
	}
}

func (w *SignalWatcher) kind() string { return "signal" }

func (w *SignalWatcher) isActive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}
func (w *SignalWatcher) Active() bool { return w.isActive() }
func (w *SignalWatcher) Stop() {
	w.mu.Lock()
	w.active = false
	w.mu.Unlock()
}
func (w *SignalWatcher) Start() {
	w.mu.Lock()
	w.active = true
	w.mu.Unlock()
}
func (w *SignalWatcher) Destroy() {
	w.Stop()
	signal.Stop(w.ch)
	w.closeOnce.Do(func() { close(w.done) })
}

func (w *SignalWatcher) fire(r *Reactor, _ uint8) {
	w.mu.Lock()
	sig := w.pending
	w.mu.Unlock()
	w.cb(r, w, sig)
}
