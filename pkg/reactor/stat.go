package reactor

import (
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/flux-framework/flux-core-sub021/pkg/log"
)

// StatWatcher fires when the watched path changes, backed by fsnotify
// (inotify on Linux) rather than the source's stat-polling implementation
// — an adoption from the rest of the example pack (zjrosen-perles's
// watcher.Watcher) rather than a port of the source's poll loop, since Go
// has a perfectly good inotify binding already in the dependency set.
type StatWatcher struct {
	r      *Reactor
	path   string
	fsw    *fsnotify.Watcher
	mu     sync.Mutex
	active bool
	done   chan struct{}
	closeOnce sync.Once
	pending fsnotify.Event
	cb      func(r *Reactor, w *StatWatcher, ev fsnotify.Event)
}

// AddStat registers a watcher that fires on any fsnotify event for path
// (create, write, remove, rename, chmod).
func (r *Reactor) AddStat(path string, cb func(r *Reactor, w *StatWatcher, ev fsnotify.Event)) (*StatWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &StatWatcher{r: r, path: path, fsw: fsw, active: true, done: make(chan struct{}), cb: cb}
	r.register(w)
	go w.pump()
	return w, nil
}

func (w *StatWatcher) pump() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.isActive() {
				continue
			}
			w.mu.Lock()
			w.pending = ev
			w.mu.Unlock()
			select {
			case w.r.events <- readyEvent{watcher: w, revents: 0}:
			case <-w.done:
				return
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.WithComponent("reactor").Warn().Err(err).Str("path", w.path).Msg("stat watcher error")
		case <-w.done:
			return
		}
	}
}

func (w *StatWatcher) kind() string { return "stat" }

func (w *StatWatcher) isActive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}
func (w *StatWatcher) Active() bool { return w.isActive() }
func (w *StatWatcher) Stop() {
	w.mu.Lock()
	w.active = false
	w.mu.Unlock()
}
func (w *StatWatcher) Start() {
	w.mu.Lock()
	w.active = true
	w.mu.Unlock()
}
func (w *StatWatcher) Destroy() {
	w.Stop()
	w.closeOnce.Do(func() { close(w.done) })
	w.fsw.Close()
}

func (w *StatWatcher) fire(r *Reactor, _ uint8) {
	w.mu.Lock()
	ev := w.pending
	w.mu.Unlock()
	w.cb(r, w, ev)
}
