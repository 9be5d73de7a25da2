// Package msglist implements an fd-pollable FIFO of reference-counted
// messages. It is the queueing primitive behind the loop connector and
// every handler-side backpressure point.
//
// Readiness is signalled through a self-pipe rather than a Linux eventfd:
// a single byte is written on the 0→1 transition of "queue is non-empty"
// and drained on the 1→0 transition, exactly mirroring the source's
// raise_event/clear_event bookkeeping (only toggle on edges, never on
// every push/pop) so high-throughput producers do not thrash a syscall per
// message.
package msglist

import (
	"container/list"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/flux-framework/flux-core-sub021/pkg/fluxerr"
	"github.com/flux-framework/flux-core-sub021/pkg/message"
	"github.com/flux-framework/flux-core-sub021/pkg/metrics"
)

// Pollevents bits, matching the handle/reactor pollevents bitset.
const (
	PollOut uint8 = 1 << iota
	PollIn
	PollErr
)

// Msglist is an ordered queue of message references with edge-triggered
// POLLIN readiness. The zero value is not usable; use New.
type Msglist struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    *list.List // of *message.Message
	owner    string     // metrics label only
	notified bool       // mirrors raise_event/clear_event edge state
	errored  bool

	pollOnce sync.Once
	rf, wf   *os.File
	pollErr  error
}

// New creates an empty msglist. owner is used only to label the
// flux_msglist_depth gauge; pass "" if metrics granularity is not needed.
func New(owner string) *Msglist {
	l := &Msglist{
		items: list.New(),
		owner: owner,
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// WaitNonEmpty blocks until the queue holds at least one message. It is
// the blocking-recv primitive for connectors (like loop) that don't have a
// separate socket to block on.
func (l *Msglist) WaitNonEmpty() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.items.Len() == 0 {
		l.cond.Wait()
	}
}

// Append adds msg to the tail of the queue (FIFO order for Pop).
func (l *Msglist) Append(msg *message.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items.PushBack(msg)
	l.observeDepthLocked()
	l.raiseLocked()
	l.cond.Broadcast()
}

// Push prepends msg to the head of the queue — used to requeue a message a
// recv() call read but whose match predicate rejected.
func (l *Msglist) Push(msg *message.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items.PushFront(msg)
	l.observeDepthLocked()
	l.raiseLocked()
	l.cond.Broadcast()
}

// Pop removes and returns the message at the head of the queue.
func (l *Msglist) Pop() (*message.Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	front := l.items.Front()
	if front == nil {
		return nil, false
	}
	l.items.Remove(front)
	l.observeDepthLocked()
	if l.items.Len() == 0 {
		l.clearLocked()
	}
	return front.Value.(*message.Message), true
}

// Count reports the number of queued messages.
func (l *Msglist) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.items.Len()
}

// Cursor walks the queue head to tail without removing entries.
type Cursor struct {
	l  *Msglist
	el *list.Element
}

// First returns a cursor positioned at the head of the queue.
func (l *Msglist) First() (*message.Message, *Cursor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	el := l.items.Front()
	if el == nil {
		return nil, nil
	}
	return el.Value.(*message.Message), &Cursor{l: l, el: el}
}

// Last returns a cursor positioned at the tail of the queue.
func (l *Msglist) Last() (*message.Message, *Cursor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	el := l.items.Back()
	if el == nil {
		return nil, nil
	}
	return el.Value.(*message.Message), &Cursor{l: l, el: el}
}

// Next advances the cursor toward the tail, returning (nil, nil) at the end.
func (c *Cursor) Next() (*message.Message, *Cursor) {
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	el := c.el.Next()
	if el == nil {
		return nil, nil
	}
	return el.Value.(*message.Message), &Cursor{l: c.l, el: el}
}

// Delete removes the message at the cursor's position.
func (c *Cursor) Delete() {
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	c.l.items.Remove(c.el)
	c.l.observeDepthLocked()
	if c.l.items.Len() == 0 {
		c.l.clearLocked()
	}
}

// RaiseError marks the list as having hit an internal error (e.g. the
// producer side ran out of memory), surfacing PollErr from then on; nothing
// clears the error state once it is raised.
func (l *Msglist) RaiseError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errored = true
	l.pollErr = err
	l.raiseLocked()
}

// Pollevents reports the current readiness bitset: PollOut is always set
// (the queue can always accept more), PollIn iff non-empty, PollErr iff an
// internal error was raised.
func (l *Msglist) Pollevents() uint8 {
	l.mu.Lock()
	defer l.mu.Unlock()
	ev := PollOut
	if l.items.Len() > 0 {
		ev |= PollIn
	}
	if l.errored {
		ev |= PollErr
	}
	return ev
}

// Pollfd lazily allocates the self-pipe and returns its read end. The
// reactor's fd watcher should poll this file for readability; Drain must
// be called after the fd wakes the reactor to re-arm level-triggering.
func (l *Msglist) Pollfd() (*os.File, error) {
	l.pollOnce.Do(func() {
		r, w, err := os.Pipe()
		if err != nil {
			l.pollErr = err
			return
		}
		l.rf, l.wf = r, w
		l.mu.Lock()
		if l.items.Len() > 0 || l.errored {
			l.notified = true
			_, _ = l.wf.Write([]byte{1})
		}
		l.mu.Unlock()
	})
	if l.pollErr != nil {
		return nil, l.pollErr
	}
	return l.rf, nil
}

// Drain consumes the readiness byte after the reactor observes the pollfd
// as readable. If the queue is still non-empty (or an error was raised)
// the byte is written again at once, so the fd stays readable (level
// triggered).
func (l *Msglist) Drain() {
	if l.rf == nil {
		return
	}
	// The deadline bounds the read so a caller that observed readiness
	// through some other means (or raced with a concurrent Drain) never
	// blocks here waiting for a byte that isn't coming.
	_ = l.rf.SetReadDeadline(time.Now().Add(time.Millisecond))
	buf := make([]byte, 1)
	_, _ = l.rf.Read(buf)
	_ = l.rf.SetReadDeadline(time.Time{})
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notified = false
	if l.items.Len() > 0 || l.errored {
		l.raiseLocked()
	}
}

// Close releases the self-pipe. Safe to call on a list whose pollfd was
// never requested.
func (l *Msglist) Close() error {
	if l.rf == nil {
		return nil
	}
	err1 := l.rf.Close()
	err2 := l.wf.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func (l *Msglist) raiseLocked() {
	if l.notified || l.wf == nil {
		return
	}
	l.notified = true
	_, _ = l.wf.Write([]byte{1})
}

func (l *Msglist) clearLocked() {
	// On the 1→0 transition, consume the pending readiness byte so the
	// pollfd stops reading as ready, and let the next raise fire again.
	// The read is a single non-blocking attempt: if a reader (Drain)
	// already took the byte, there is nothing to wait for.
	if l.errored {
		return
	}
	if l.notified && l.rf != nil {
		if rc, err := l.rf.SyscallConn(); err == nil {
			_ = rc.Read(func(fd uintptr) bool {
				_, _ = syscall.Read(int(fd), make([]byte, 1))
				return true
			})
		}
	}
	l.notified = false
}

func (l *Msglist) observeDepthLocked() {
	metrics.MsglistDepth.WithLabelValues(l.owner).Set(float64(l.items.Len()))
}

// ErrEmpty is returned by operations that require a non-empty list when it
// is empty, matching the source's "operations on a NULL/empty list return
// sensible defaults" contract where a sentinel error fits Go better.
var ErrEmpty = fluxerr.ErrNoEnt
