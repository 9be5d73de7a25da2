package handle

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/flux-framework/flux-core-sub021/pkg/fluxerr"
	"github.com/flux-framework/flux-core-sub021/pkg/log"
	"github.com/flux-framework/flux-core-sub021/pkg/message"
	"github.com/flux-framework/flux-core-sub021/pkg/metrics"
)

// OpenFlags mirror flux_open's flag family.
type OpenFlags uint16

const (
	OpenTrace OpenFlags = 1 << iota
	OpenNonblock
)

// Cred holds the default sender credentials a handle stamps onto outgoing
// messages that don't already carry one.
type Cred struct {
	Userid   uint32
	Rolemask uint32
}

// FatalFunc is the strategy invoked when a connector reports an
// unrecoverable error. Per design note "fatal-error callback", this is a
// pluggable strategy rather than a baked-in process exit, and it is never
// invoked from a destructor — only from Handle.Fatal, called by connector
// code on its own goroutine/call stack.
type FatalFunc func(h *Handle, err error)

// ExitFatal is the default FatalFunc: log and exit(1), matching the
// source's default behavior.
func ExitFatal(h *Handle, err error) {
	log.WithHandle(h.connectorName).Error().Err(err).Msg("fatal handle error, exiting")
	os.Exit(1)
}

// Handle is a concrete connection to a broker or peer: a connector plus
// credential defaulting, attribute cache, aux storage, and a fatal-error
// strategy.
type Handle struct {
	id            string
	conn          Connector
	connectorName string
	cred          Cred
	attrs         *attrCache
	auxMu         sync.Mutex
	aux           map[string]any
	trace         bool
	fatal         FatalFunc
	matchtags     *matchtagPool
}

func newHandle(conn Connector) *Handle {
	h := &Handle{
		id:            uuid.NewString(),
		conn:          conn,
		connectorName: conn.Name(),
		cred:          Cred{Userid: uint32(os.Getuid()), Rolemask: message.RoleOwner},
		attrs:         newAttrCache(),
		aux:           make(map[string]any),
		fatal:         ExitFatal,
		matchtags:     newMatchtagPool(),
	}
	return h
}

// New wraps an already-constructed Connector in a Handle, bypassing the
// scheme registry in Open. This is how a broker's accept loop turns each
// inbound fdconn.Conn into a Handle of its own, one per peer connection,
// without round-tripping through a URI.
func New(conn Connector) *Handle {
	return newHandle(conn)
}

// ID returns an opaque, process-unique identifier for this handle, used as
// a route-stack frame by connectors that need one.
func (h *Handle) ID() string { return h.id }

// ConnectorName reports which connector backs this handle ("loop", "fd",
// "local", "tcp").
func (h *Handle) ConnectorName() string { return h.connectorName }

// SetTrace toggles FLUX_HANDLE_TRACE-style logging/tracing of every
// message sent and received.
func (h *Handle) SetTrace(on bool) { h.trace = on }

// Trace reports whether tracing is enabled.
func (h *Handle) Trace() bool { return h.trace }

// FatalSet installs fn as the callback invoked by Fatal.
func (h *Handle) FatalSet(fn FatalFunc) {
	if fn == nil {
		fn = ExitFatal
	}
	h.fatal = fn
}

// Fatal reports an unrecoverable connector error to the installed strategy.
func (h *Handle) Fatal(err error) {
	h.fatal(h, err)
}

// Matchtags exposes the handle's matchtag pool for the future/RPC layer.
func (h *Handle) Matchtags() interface {
	Alloc(streaming bool) (uint32, error)
	Free(tag uint32)
} {
	return h.matchtags
}

// Send transmits msg, filling default credentials when the message still
// carries UNKNOWN/NONE, mirroring the loop connector's defaulting (and, by
// extension, every connector's) documented in §4.3.
func (h *Handle) Send(msg *message.Message, flags SendFlags) error {
	if msg.Userid() == message.UseridUnknown || msg.Rolemask() == message.RoleNone {
		userid := msg.Userid()
		if userid == message.UseridUnknown {
			userid = h.cred.Userid
		}
		rolemask := msg.Rolemask()
		if rolemask == message.RoleNone {
			rolemask = h.cred.Rolemask
		}
		msg.SetCred(userid, rolemask)
	}
	if h.trace {
		log.WithHandle(h.connectorName).Debug().
			Str("dir", "send").
			Str("type", msg.Type().String()).
			Str("topic", msg.Topic()).
			Msg("handle trace")
	}
	metrics.HandleSendTotal.WithLabelValues(h.connectorName, msg.Type().String()).Inc()
	return h.conn.Send(msg, flags)
}

// Recv receives one message matching match, requeuing non-matching
// messages in order as §4.3 requires.
func (h *Handle) Recv(match Match, flags RecvFlags) (*message.Message, error) {
	msg, err := h.conn.Recv(match, flags)
	if err != nil {
		return nil, err
	}
	if h.trace {
		log.WithHandle(h.connectorName).Debug().
			Str("dir", "recv").
			Str("type", msg.Type().String()).
			Str("topic", msg.Topic()).
			Msg("handle trace")
	}
	metrics.HandleRecvTotal.WithLabelValues(h.connectorName, msg.Type().String()).Inc()
	return msg, nil
}

// Pollfd returns the connector's readiness fd.
func (h *Handle) Pollfd() (*os.File, error) { return h.conn.Pollfd() }

// Pollevents returns the connector's current readiness bitset.
func (h *Handle) Pollevents() uint8 { return h.conn.Pollevents() }

// Drain re-arms level-triggered pollfd readiness; a message watcher calls
// this after each wakeup, once it has consumed the one message the
// wakeup entitles it to.
func (h *Handle) Drain() { h.conn.Drain() }

// Close releases the underlying connector.
func (h *Handle) Close() error { return h.conn.Close() }

// AttrGet reads a broker attribute, consulting the per-handle cache first.
// kind controls cache lifetime for entries not yet cached; repeated reads
// of an already-cached attribute always hit cache regardless of kind.
func (h *Handle) AttrGet(name string, kind AttrKind) (string, error) {
	if v, ok := h.attrs.get(name); ok {
		return v, nil
	}
	v, ok := h.conn.Getopt(name)
	if !ok {
		return "", fmt.Errorf("handle: attribute %q: %w", name, fluxerr.ErrNoEnt)
	}
	h.attrs.set(name, v, kind)
	return v, nil
}

// AttrSet writes a broker attribute through the connector and invalidates
// (rather than updates) the local cache entry, so the next AttrGet
// re-fetches the authoritative value.
func (h *Handle) AttrSet(name, value string) error {
	if err := h.conn.Setopt(name, value); err != nil {
		return err
	}
	h.attrs.invalidate(name)
	return nil
}

// AttrSetCacheonly writes only the local cache, bypassing the connector —
// the test hook called out in §4.3.
func (h *Handle) AttrSetCacheonly(name, value string, kind AttrKind) {
	h.attrs.set(name, value, kind)
}

// AttrCacheFirst begins an iteration over currently cached attributes.
func (h *Handle) AttrCacheFirst() (name, value string, it *attrIterator, ok bool) {
	return h.attrs.first()
}

// AttrCacheNext advances an iteration started by AttrCacheFirst.
func (h *Handle) AttrCacheNext(it *attrIterator) (name, value string, next *attrIterator, ok bool) {
	return it.next(h.attrs)
}

// AuxGet returns the scratch value stored under key.
func (h *Handle) AuxGet(key string) (any, bool) {
	h.auxMu.Lock()
	defer h.auxMu.Unlock()
	v, ok := h.aux[key]
	return v, ok
}

// AuxSet stores a scratch value under key, overwriting any previous value.
func (h *Handle) AuxSet(key string, value any) {
	h.auxMu.Lock()
	defer h.auxMu.Unlock()
	h.aux[key] = value
}

// EventSubscribe registers interest in topics matching glob; the connector
// is responsible for ensuring subsequently published matching events are
// delivered to this handle.
func (h *Handle) EventSubscribe(glob string) error {
	return h.conn.Setopt("subscribe", glob)
}

// EventUnsubscribe removes a prior subscription.
func (h *Handle) EventUnsubscribe(glob string) error {
	return h.conn.Setopt("unsubscribe", glob)
}
