package reactor

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// ChildWatcher fires when the given pid exits, reporting its wait status.
// Backed by SIGCHLD plus a reap loop, since Go's os.Process has no
// portable "notify on exit" primitive of its own.
type ChildWatcher struct {
	r      *Reactor
	pid    int
	mu        sync.Mutex
	active    bool
	status    syscall.WaitStatus
	done      chan struct{}
	closeOnce sync.Once
	cb        func(r *Reactor, w *ChildWatcher, status syscall.WaitStatus)
}

// AddChild registers a watcher that fires once when pid exits.
func (r *Reactor) AddChild(pid int, cb func(r *Reactor, w *ChildWatcher, status syscall.WaitStatus)) *ChildWatcher {
	w := &ChildWatcher{r: r, pid: pid, active: true, done: make(chan struct{}), cb: cb}
	r.register(w)
	go w.wait()
	return w
}

func (w *ChildWatcher) wait() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGCHLD)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-w.done:
			return
		case <-sigCh:
		}

		var status syscall.WaitStatus
		wpid, err := syscall.Wait4(w.pid, &status, syscall.WNOHANG, nil)
		if err != nil || wpid != w.pid {
			continue
		}
		if !w.isActive() {
			return
		}
		w.status = status
		select {
		case w.r.events <- readyEvent{watcher: w, revents: 0}:
		case <-w.done:
		}
		return
	}
}

func (w *ChildWatcher) kind() string { return "child" }

func (w *ChildWatcher) isActive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}
func (w *ChildWatcher) Active() bool { return w.isActive() }
func (w *ChildWatcher) Stop() {
	w.mu.Lock()
	w.active = false
	w.mu.Unlock()
}
func (w *ChildWatcher) Start() {
	w.mu.Lock()
	w.active = true
	w.mu.Unlock()
}
func (w *ChildWatcher) Destroy() {
	w.Stop()
	w.closeOnce.Do(func() { close(w.done) })
}

func (w *ChildWatcher) fire(r *Reactor, _ uint8) {
	w.mu.Lock()
	status := w.status
	w.active = false
	w.mu.Unlock()
	w.cb(r, w, status)
}
