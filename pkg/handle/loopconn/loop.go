// Package loopconn implements the loop:// connector: a single msglist
// shared by Send and Recv on the same handle, with no external socket.
// Grounded on _examples/original_source/src/connectors/loop/loop.c: a
// single queue used for both directions, fake rank=0/size=1 attributes,
// and credentials defaulted from the calling process's uid with the OWNER
// role.
package loopconn

import (
	"os"
	"strconv"

	"github.com/flux-framework/flux-core-sub021/pkg/fluxerr"
	"github.com/flux-framework/flux-core-sub021/pkg/handle"
	"github.com/flux-framework/flux-core-sub021/pkg/message"
	"github.com/flux-framework/flux-core-sub021/pkg/msglist"
)

func init() {
	handle.Register("loop", func(opts handle.OpenOptions) (handle.Connector, error) {
		return New(), nil
	})
}

// Conn is the loop connector: messages sent on it are queued for the same
// handle to receive, used for testing and single-process harnesses.
type Conn struct {
	queue *msglist.Msglist
	attrs map[string]string
}

// New creates a loop connector with its queue ready to use.
func New() *Conn {
	return &Conn{
		queue: msglist.New("loop"),
		attrs: map[string]string{
			"rank": "0",
			"size": "1",
		},
	}
}

func (c *Conn) Name() string { return "loop" }

func (c *Conn) Send(msg *message.Message, _ handle.SendFlags) error {
	c.queue.Append(msg)
	return nil
}

// Recv pops the first message matching match, requeuing any it skips past
// in order so a later, unrestricted Recv still sees them.
func (c *Conn) Recv(match handle.Match, flags handle.RecvFlags) (*message.Message, error) {
	var skipped []*message.Message
	defer func() {
		for i := len(skipped) - 1; i >= 0; i-- {
			c.queue.Push(skipped[i])
		}
	}()

	for {
		msg, ok := c.queue.Pop()
		if !ok {
			if flags&handle.RecvNonblock != 0 {
				return nil, fluxerr.ErrWouldBlock
			}
			c.queue.WaitNonEmpty()
			continue
		}
		if match.Matches(msg) {
			return msg, nil
		}
		skipped = append(skipped, msg)
	}
}

func (c *Conn) Pollfd() (*os.File, error) { return c.queue.Pollfd() }

func (c *Conn) Pollevents() uint8 {
	ev := c.queue.Pollevents()
	return ev
}

func (c *Conn) Drain() { c.queue.Drain() }

func (c *Conn) Getopt(name string) (string, bool) {
	v, ok := c.attrs[name]
	return v, ok
}

func (c *Conn) Setopt(name, value string) error {
	switch name {
	case "rank", "size":
		return fluxerr.ErrInval // immutable fake attrs, like flux_attr_set_cacheonly-only fields
	}
	c.attrs[name] = value
	return nil
}

func (c *Conn) Close() error { return c.queue.Close() }

// Rank returns the connector's fake rank, exposed for tests that don't want
// to go through the attribute cache.
func (c *Conn) Rank() int {
	r, _ := strconv.Atoi(c.attrs["rank"])
	return r
}
