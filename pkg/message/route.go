package message

// EnableRoute turns on route-stack tracking for this message, per §4.1:
// "enable_route() pushes a nil delimiter and sets has-route-stack". The nil
// delimiter itself has no representation here — an empty route slice with
// FlagRouteStack set already marks "stack present, currently empty".
func (m *Message) EnableRoute() {
	m.cow()
	m.s.flags |= FlagRouteStack
	if m.s.route == nil {
		m.s.route = [][]byte{}
	}
}

// ClearRoute removes all route frames and the has-route-stack flag.
func (m *Message) ClearRoute() {
	m.cow()
	m.s.flags &^= FlagRouteStack
	m.s.route = nil
}

// HasRoute reports whether route-stack tracking is enabled.
func (m *Message) HasRoute() bool {
	return m.s.flags.Has(FlagRouteStack)
}

// PushRoute appends a sender identity to the top of the route stack. The
// stack grows on dealer-to-router hops and shrinks on router-to-dealer
// hops as the message travels toward, then back from, its destination.
func (m *Message) PushRoute(id []byte) {
	m.cow()
	m.s.flags |= FlagRouteStack
	m.s.route = append(m.s.route, append([]byte(nil), id...))
}

// PopRoute removes and returns the most recently pushed route frame (LIFO),
// or (nil, false) if the stack is empty.
func (m *Message) PopRoute() ([]byte, bool) {
	m.cow()
	n := len(m.s.route)
	if n == 0 {
		return nil, false
	}
	top := m.s.route[n-1]
	m.s.route = m.s.route[:n-1]
	return top, true
}

// FirstRoute returns the bottom of the route stack — the original sender —
// or (nil, false) if empty.
func (m *Message) FirstRoute() ([]byte, bool) {
	if len(m.s.route) == 0 {
		return nil, false
	}
	return m.s.route[0], true
}

// LastRoute returns the top of the route stack — the most recent hop — or
// (nil, false) if empty.
func (m *Message) LastRoute() ([]byte, bool) {
	n := len(m.s.route)
	if n == 0 {
		return nil, false
	}
	return m.s.route[n-1], true
}

// RouteCount reports the number of frames on the route stack.
func (m *Message) RouteCount() int {
	return len(m.s.route)
}

// Route returns a defensive copy of the route stack, bottom first.
func (m *Message) Route() [][]byte {
	out := make([][]byte, len(m.s.route))
	for i, r := range m.s.route {
		out[i] = append([]byte(nil), r...)
	}
	return out
}
