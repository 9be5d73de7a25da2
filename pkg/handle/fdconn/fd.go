// Package fdconn implements the fd:// connector: a pre-connected,
// bidirectional stream wrapped with a one-byte handshake and then
// length-prefixed framing of the encoded wire message, per §4.3. local://
// and tcp:// build on top of this framing over their respective socket
// types.
//
// A background goroutine pumps decoded frames off the stream into an
// inbound msglist, which is what Pollfd/Pollevents actually expose — the
// same fd-pollable-queue contract every connector presents to the reactor,
// rather than reactor-driven partial reads directly on the raw socket fd.
package fdconn

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"sync"

	"github.com/flux-framework/flux-core-sub021/pkg/fluxerr"
	"github.com/flux-framework/flux-core-sub021/pkg/handle"
	"github.com/flux-framework/flux-core-sub021/pkg/log"
	"github.com/flux-framework/flux-core-sub021/pkg/message"
	"github.com/flux-framework/flux-core-sub021/pkg/msglist"
)

const handshakeByte byte = 0x01

func init() {
	handle.Register("fd", func(opts handle.OpenOptions) (handle.Connector, error) {
		u, err := url.Parse(opts.URI)
		if err != nil {
			return nil, fmt.Errorf("fdconn: parse %q: %w", opts.URI, fluxerr.ErrInval)
		}
		n, err := strconv.Atoi(u.Host)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("fdconn: fd://N requires a non-negative descriptor, got %q: %w", u.Host, fluxerr.ErrInval)
		}
		f := os.NewFile(uintptr(n), fmt.Sprintf("fd%d", n))
		if f == nil {
			return nil, fmt.Errorf("fdconn: descriptor %d unusable: %w", n, fluxerr.ErrInval)
		}
		return NewWithHandshake(fmt.Sprintf("fd:%d", n), f)
	})
}

// Conn is the fd connector: a framed stream plus an inbound msglist fed by
// a background reader.
type Conn struct {
	name   string
	rwc    io.ReadWriteCloser
	w      *bufio.Writer
	sendMu sync.Mutex
	inbox  *msglist.Msglist

	closeOnce sync.Once
	closeErr  error
	attrs     map[string]string
}

// New wraps an already-connected, already-handshaken stream. Handshake, if
// needed, should be performed by the caller (or via NewWithHandshake)
// before constructing Conn so both local and tcp connectors can share one
// handshake policy.
func New(name string, rwc io.ReadWriteCloser) *Conn {
	c := &Conn{
		name:  name,
		rwc:   rwc,
		w:     bufio.NewWriter(rwc),
		inbox: msglist.New(name),
		attrs: make(map[string]string),
	}
	go c.pump()
	return c
}

// NewWithHandshake performs the one-byte handshake (write then read, to
// avoid a head-of-line deadlock between two simultaneous connectors) and
// then wraps the stream.
func NewWithHandshake(name string, rwc io.ReadWriteCloser) (*Conn, error) {
	if _, err := rwc.Write([]byte{handshakeByte}); err != nil {
		return nil, fmt.Errorf("fdconn: handshake write: %w", err)
	}
	var ack [1]byte
	if _, err := io.ReadFull(rwc, ack[:]); err != nil {
		return nil, fmt.Errorf("fdconn: handshake read: %w", err)
	}
	if ack[0] != handshakeByte {
		return nil, fmt.Errorf("fdconn: bad handshake byte %x: %w", ack[0], fluxerr.ErrProto)
	}
	return New(name, rwc), nil
}

func (c *Conn) Name() string { return c.name }

func (c *Conn) Send(msg *message.Message, _ handle.SendFlags) error {
	wire, err := msg.Encode()
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(wire)))
	if _, err := c.w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("fdconn: write length: %w", err)
	}
	if _, err := c.w.Write(wire); err != nil {
		return fmt.Errorf("fdconn: write body: %w", err)
	}
	return c.w.Flush()
}

func (c *Conn) Recv(match handle.Match, flags handle.RecvFlags) (*message.Message, error) {
	var skipped []*message.Message
	defer func() {
		for i := len(skipped) - 1; i >= 0; i-- {
			c.inbox.Push(skipped[i])
		}
	}()
	for {
		msg, ok := c.inbox.Pop()
		if !ok {
			if flags&handle.RecvNonblock != 0 {
				return nil, fluxerr.ErrWouldBlock
			}
			c.inbox.WaitNonEmpty()
			continue
		}
		if match.Matches(msg) {
			return msg, nil
		}
		skipped = append(skipped, msg)
	}
}

func (c *Conn) Pollfd() (*os.File, error) { return c.inbox.Pollfd() }
func (c *Conn) Pollevents() uint8         { return c.inbox.Pollevents() }
func (c *Conn) Drain()                    { c.inbox.Drain() }
func (c *Conn) Getopt(name string) (string, bool) {
	v, ok := c.attrs[name]
	return v, ok
}
func (c *Conn) Setopt(name, value string) error {
	c.attrs[name] = value
	return nil
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.rwc.Close()
		_ = c.inbox.Close()
	})
	return c.closeErr
}

// pump reads length-prefixed frames off the stream until it closes or a
// protocol error occurs, at which point it raises POLLERR on the inbox so
// a blocked Recv wakes with a decodable failure instead of hanging.
func (c *Conn) pump() {
	r := bufio.NewReader(c.rwc)
	logger := log.WithHandle(c.name)
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if err != io.EOF {
				logger.Warn().Err(err).Msg("fd connector: reading frame length")
			}
			c.inbox.RaiseError(err)
			return
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		body := make([]byte, n)
		if _, err := io.ReadFull(r, body); err != nil {
			logger.Warn().Err(err).Msg("fd connector: reading frame body")
			c.inbox.RaiseError(err)
			return
		}
		msg, err := message.Decode(body)
		if err != nil {
			// A malformed message is dropped and the connector keeps
			// running, per the EPROTO recovery policy in §7.
			logger.Warn().Err(err).Msg("fd connector: dropping malformed message")
			continue
		}
		c.inbox.Append(msg)
	}
}
