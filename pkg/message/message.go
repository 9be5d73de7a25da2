// Package message implements the core's on-wire message: a typed,
// reference-counted record shared by every connector, the dispatcher, and
// the future/RPC layer.
//
// A Message is an Arc-like shared handle over an immutable state block.
// Cloning (IncRef) hands out a new handle pointing at the same state;
// mutating methods copy-on-write whenever the state is shared by more than
// one handle, so a caller that never shares a message pays no copy cost.
package message

import (
	"fmt"
	"sync/atomic"
)

// Type is the message's wire discriminant.
type Type uint8

const (
	TypeRequest Type = iota
	TypeResponse
	TypeEvent
	TypeKeepalive
	TypeControl
)

func (t Type) String() string {
	switch t {
	case TypeRequest:
		return "request"
	case TypeResponse:
		return "response"
	case TypeEvent:
		return "event"
	case TypeKeepalive:
		return "keepalive"
	case TypeControl:
		return "control"
	default:
		return fmt.Sprintf("type(%d)", t)
	}
}

// Flags is the bitset carried in the fixed header.
type Flags uint16

const (
	FlagTopic Flags = 1 << iota
	FlagPayload
	FlagPayloadJSON
	FlagRouteStack
	FlagRouteAway // route away from sender (toward UPSTREAM)
	FlagPrivate
	FlagStreaming
	FlagNoResponse
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Special nodeid values.
const (
	NodeidAny      uint32 = ^uint32(0)
	NodeidUpstream uint32 = ^uint32(0) - 1
)

// MatchtagNone means "no tag" — a request carrying it does not want a response.
const MatchtagNone uint32 = 0

// Role bits carried in rolemask.
const (
	RoleNone  uint32 = 0
	RoleOwner uint32 = 1 << 0
	RoleUser  uint32 = 1 << 1
)

// UseridUnknown is the sentinel credential value a handle must fill in on send.
const UseridUnknown uint32 = ^uint32(0)

// state is the shared, copy-on-write payload of a Message.
type state struct {
	refs int32 // atomic

	typ           Type
	flags         Flags
	topic         string
	payload       []byte
	matchtag      uint32
	nodeid        uint32
	errnum        int32
	userid        uint32
	rolemask      uint32
	seq           uint32
	controlType   int32
	controlStatus int32
	route         [][]byte // route stack, push appends, pop removes the tail
	aux           map[string]any
}

func (s *state) clone() *state {
	c := *s
	c.refs = 1
	if s.payload != nil {
		c.payload = append([]byte(nil), s.payload...)
	}
	if s.route != nil {
		c.route = make([][]byte, len(s.route))
		for i, r := range s.route {
			c.route[i] = append([]byte(nil), r...)
		}
	}
	if s.aux != nil {
		c.aux = make(map[string]any, len(s.aux))
		for k, v := range s.aux {
			c.aux[k] = v
		}
	}
	return &c
}

// Message is a shared handle to an immutable message state.
type Message struct {
	s *state
}

// New creates a message of the given type with refcount 1.
//
// Setting type to Request initializes nodeid to NodeidAny, matching the
// invariant that a fresh request is unrouted until the caller sets a
// destination.
func New(typ Type) *Message {
	s := &state{refs: 1, typ: typ}
	if typ == TypeRequest {
		s.nodeid = NodeidAny
	}
	s.userid = UseridUnknown
	s.rolemask = RoleNone
	return &Message{s: s}
}

// IncRef returns a new handle sharing this message's state, bumping the
// refcount. The returned handle must be released with DecRef.
func (m *Message) IncRef() *Message {
	atomic.AddInt32(&m.s.refs, 1)
	return &Message{s: m.s}
}

// DecRef releases this handle. It is safe to call on a handle that is the
// sole owner; further use of m after DecRef is a use-after-free in spirit
// (Go's GC still reclaims the memory, but the API contract matches the
// source's incref/decref pairing).
func (m *Message) DecRef() {
	if atomic.AddInt32(&m.s.refs, -1) < 0 {
		panic("message: DecRef below zero")
	}
}

// RefCount reports the current number of live handles sharing this state.
// Intended for tests and diagnostics only.
func (m *Message) RefCount() int32 {
	return atomic.LoadInt32(&m.s.refs)
}

// cow ensures this handle is the sole owner of its state before a mutating
// call proceeds, cloning first if another handle shares it.
func (m *Message) cow() {
	if atomic.LoadInt32(&m.s.refs) > 1 {
		clone := m.s.clone()
		atomic.AddInt32(&m.s.refs, -1)
		m.s = clone
	}
}

// Copy returns an independent, deep copy of m with its own refcount of 1.
func (m *Message) Copy() *Message {
	return &Message{s: m.s.clone()}
}

func (m *Message) Type() Type   { return m.s.typ }
func (m *Message) Flags() Flags { return m.s.flags }

// SetType changes the message type, applying the per-type initialization
// invariants from the data model (§3): switching to Request resets nodeid
// to ANY; switching to Response zeros errnum.
func (m *Message) SetType(typ Type) {
	m.cow()
	m.s.typ = typ
	switch typ {
	case TypeRequest:
		m.s.nodeid = NodeidAny
	case TypeResponse:
		m.s.errnum = 0
	}
}

func (m *Message) Topic() string { return m.s.topic }

func (m *Message) SetTopic(topic string) {
	m.cow()
	m.s.topic = topic
	if topic != "" {
		m.s.flags |= FlagTopic
	} else {
		m.s.flags &^= FlagTopic
	}
}

// Payload returns the raw payload bytes and whether a payload is present.
func (m *Message) Payload() ([]byte, bool) {
	if !m.s.flags.Has(FlagPayload) {
		return nil, false
	}
	return m.s.payload, true
}

// SetPayload sets the opaque payload. Passing nil clears the payload flag,
// toggling FlagPayload as the invariant in §4.1 requires.
func (m *Message) SetPayload(data []byte) {
	m.cow()
	if data == nil {
		m.s.payload = nil
		m.s.flags &^= FlagPayload | FlagPayloadJSON
		return
	}
	m.s.payload = append([]byte(nil), data...)
	m.s.flags |= FlagPayload
	m.s.flags &^= FlagPayloadJSON
}

func (m *Message) Matchtag() uint32     { return m.s.matchtag }
func (m *Message) SetMatchtag(tag uint32) {
	m.cow()
	m.s.matchtag = tag
}

func (m *Message) Nodeid() uint32 { return m.s.nodeid }
func (m *Message) SetNodeid(nodeid uint32) {
	m.cow()
	m.s.nodeid = nodeid
}

func (m *Message) Errnum() int32 { return m.s.errnum }
func (m *Message) SetErrnum(errnum int32) {
	m.cow()
	m.s.errnum = errnum
}

func (m *Message) Userid() uint32     { return m.s.userid }
func (m *Message) Rolemask() uint32   { return m.s.rolemask }

// SetCred sets both credential fields together, mirroring how a handle
// fills in defaults on send.
func (m *Message) SetCred(userid, rolemask uint32) {
	m.cow()
	m.s.userid = userid
	m.s.rolemask = rolemask
}

func (m *Message) Seq() uint32 { return m.s.seq }
func (m *Message) SetSeq(seq uint32) {
	m.cow()
	m.s.seq = seq
}

func (m *Message) ControlType() int32 { return m.s.controlType }
func (m *Message) ControlStatus() int32 { return m.s.controlStatus }

func (m *Message) SetControl(ctrlType, ctrlStatus int32) {
	m.cow()
	m.s.controlType = ctrlType
	m.s.controlStatus = ctrlStatus
}

// Authorize reports whether the message's credentials permit an operation
// requested by uid: either the sender is OWNER-rolled, or the sender's
// userid matches uid exactly.
func (m *Message) Authorize(uid uint32) bool {
	return m.s.rolemask&RoleOwner != 0 || m.s.userid == uid
}

// Aux returns the in-process scratch value stored under key, or nil.
// Aux is never serialized and travels only with this particular handle's
// shared state (it is copied, not re-created, across IncRef).
func (m *Message) Aux(key string) (any, bool) {
	if m.s.aux == nil {
		return nil, false
	}
	v, ok := m.s.aux[key]
	return v, ok
}

// SetAux stores a scratch value under key, overwriting any previous value.
func (m *Message) SetAux(key string, value any) {
	m.cow()
	if m.s.aux == nil {
		m.s.aux = make(map[string]any)
	}
	m.s.aux[key] = value
}

// DeriveResponse builds a response shell from a request: it copies the
// route stack and topic verbatim, flips the type to Response, clears the
// sender credentials, and sets errnum. Matchtag is preserved so the
// response correlates with any RPC future awaiting it.
func DeriveResponse(req *Message, errnum int32) *Message {
	resp := req.Copy()
	resp.s.refs = 1
	resp.s.typ = TypeResponse
	resp.s.userid = 0
	resp.s.rolemask = 0
	resp.s.errnum = errnum
	resp.s.payload = nil
	resp.s.flags &^= FlagPayload | FlagPayloadJSON
	return resp
}
