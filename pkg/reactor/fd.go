package reactor

import (
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Pollevents bits, shared with msglist/handle's readiness bitset.
const (
	PollOut uint8 = 1 << iota
	PollIn
	PollErr
)

// FDWatcher fires when fd becomes ready for any of the requested events.
// Each FDWatcher owns a dedicated poller goroutine (via unix.Poll) that
// posts at most one pending readiness event to the reactor at a time,
// resuming only after the loop has fired the previous one — this is what
// bounds a message watcher to "exactly one message per iteration" per
// §4.4, since a message watcher is an FDWatcher underneath.
type FDWatcher struct {
	r      *Reactor
	f      *os.File
	events uint8

	mu        sync.Mutex
	active    bool
	resume    chan struct{}
	closing   chan struct{}
	closeOnce sync.Once

	cb func(r *Reactor, w *FDWatcher, revents uint8)
}

// AddFD registers an fd watcher polling f for the requested events
// (PollIn | PollOut).
func (r *Reactor) AddFD(f *os.File, events uint8, cb func(r *Reactor, w *FDWatcher, revents uint8)) *FDWatcher {
	w := &FDWatcher{
		r:       r,
		f:       f,
		events:  events,
		active:  true,
		resume:  make(chan struct{}, 1),
		closing: make(chan struct{}),
		cb:      cb,
	}
	r.register(w)
	go w.poll()
	return w
}

func (w *FDWatcher) kind() string { return "fd" }

func (w *FDWatcher) isActive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

func (w *FDWatcher) Active() bool { return w.isActive() }

// Stop pauses delivery; the poller goroutine keeps running but its next
// readiness post is held until Start resumes it.
func (w *FDWatcher) Stop() {
	w.mu.Lock()
	w.active = false
	w.mu.Unlock()
}

func (w *FDWatcher) Start() {
	w.mu.Lock()
	wasActive := w.active
	w.active = true
	w.mu.Unlock()
	if !wasActive {
		select {
		case w.resume <- struct{}{}:
		default:
		}
	}
}

// Destroy stops the poller goroutine permanently. Safe to call more than
// once.
func (w *FDWatcher) Destroy() {
	w.mu.Lock()
	w.active = false
	w.mu.Unlock()
	w.closeOnce.Do(func() { close(w.closing) })
}

func (w *FDWatcher) fire(r *Reactor, revents uint8) {
	w.cb(r, w, revents)
	select {
	case w.resume <- struct{}{}:
	default:
	}
}

// poll runs on its own goroutine for the watcher's lifetime, translating
// blocking unix.Poll wakeups into readyEvent posts on the reactor's shared
// channel.
func (w *FDWatcher) poll() {
	rawFd := int(w.f.Fd())
	var pollEvents int16
	if w.events&PollIn != 0 {
		pollEvents |= unix.POLLIN
	}
	if w.events&PollOut != 0 {
		pollEvents |= unix.POLLOUT
	}

	for {
		select {
		case <-w.closing:
			return
		default:
		}

		fds := []unix.PollFd{{Fd: int32(rawFd), Events: pollEvents}}
		n, err := unix.Poll(fds, 1000)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		if n == 0 {
			continue
		}

		var revents uint8
		if fds[0].Revents&unix.POLLIN != 0 {
			revents |= PollIn
		}
		if fds[0].Revents&unix.POLLOUT != 0 {
			revents |= PollOut
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			revents |= PollErr
		}
		if revents == 0 {
			continue
		}

		if !w.isActive() {
			select {
			case <-w.resume:
			case <-w.closing:
				return
			}
			continue
		}

		select {
		case w.r.events <- readyEvent{watcher: w, revents: revents}:
		case <-w.closing:
			return
		}

		select {
		case <-w.resume:
		case <-w.closing:
			return
		}
	}
}
