package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  func() *Message
	}{
		{
			name: "plain request with topic",
			msg: func() *Message {
				m := New(TypeRequest)
				m.SetTopic("foo.bar")
				m.SetMatchtag(42)
				return m
			},
		},
		{
			name: "request with JSON payload",
			msg: func() *Message {
				m := New(TypeRequest)
				m.SetTopic("foo.bar")
				require.NoError(t, m.SetPayloadJSON(map[string]any{"a": float64(1)}))
				return m
			},
		},
		{
			name: "response with route stack and credentials",
			msg: func() *Message {
				m := New(TypeResponse)
				m.SetCred(1000, RoleOwner)
				m.EnableRoute()
				m.PushRoute([]byte("a"))
				m.PushRoute([]byte("b"))
				m.SetErrnum(5)
				return m
			},
		},
		{
			name: "event with seq",
			msg: func() *Message {
				m := New(TypeEvent)
				m.SetTopic("heartbeat.pulse")
				m.SetSeq(7)
				return m
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			orig := tc.msg()
			wire, err := orig.Encode()
			require.NoError(t, err)

			got, err := Decode(wire)
			require.NoError(t, err)

			assert.Equal(t, orig.Type(), got.Type())
			assert.Equal(t, orig.Flags(), got.Flags())
			assert.Equal(t, orig.Topic(), got.Topic())
			assert.Equal(t, orig.Matchtag(), got.Matchtag())
			assert.Equal(t, orig.Nodeid(), got.Nodeid())
			assert.Equal(t, orig.Errnum(), got.Errnum())
			assert.Equal(t, orig.Seq(), got.Seq())
			assert.Equal(t, orig.Userid(), got.Userid())
			assert.Equal(t, orig.Rolemask(), got.Rolemask())
			assert.Equal(t, orig.Route(), got.Route())

			origPayload, origHas := orig.Payload()
			gotPayload, gotHas := got.Payload()
			assert.Equal(t, origHas, gotHas)
			assert.Equal(t, origPayload, gotPayload)
		})
	}
}

func TestEnableClearRouteIsIdentity(t *testing.T) {
	m := New(TypeRequest)
	m.SetTopic("a.b")
	before, err := m.Encode()
	require.NoError(t, err)

	m.EnableRoute()
	m.ClearRoute()

	after, err := m.Encode()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestDeriveResponsePreservesRouteAndMatchtag(t *testing.T) {
	req := New(TypeRequest)
	req.SetTopic("foo.bar")
	req.SetMatchtag(99)
	req.EnableRoute()
	req.PushRoute([]byte("a"))
	req.PushRoute([]byte("b"))

	resp := DeriveResponse(req, 0)

	assert.Equal(t, TypeResponse, resp.Type())
	assert.Equal(t, req.Route(), resp.Route())
	assert.Equal(t, req.Matchtag(), resp.Matchtag())

	top, ok := resp.PopRoute()
	require.True(t, ok)
	assert.Equal(t, []byte("b"), top)

	bottom, ok := resp.PopRoute()
	require.True(t, ok)
	assert.Equal(t, []byte("a"), bottom)

	assert.Equal(t, 0, resp.RouteCount())
}

func TestAuthorize(t *testing.T) {
	m := New(TypeRequest)
	m.SetCred(1000, RoleUser)
	assert.True(t, m.Authorize(1000))
	assert.False(t, m.Authorize(1001))

	m.SetCred(1000, RoleOwner)
	assert.True(t, m.Authorize(1001))
}

func TestCopyOnWriteIsolatesSharedHandles(t *testing.T) {
	m := New(TypeRequest)
	m.SetTopic("a.b")

	shared := m.IncRef()
	assert.EqualValues(t, 2, m.RefCount())

	shared.SetTopic("c.d")

	assert.Equal(t, "a.b", m.Topic())
	assert.Equal(t, "c.d", shared.Topic())
	assert.EqualValues(t, 1, m.RefCount())
	assert.EqualValues(t, 1, shared.RefCount())
}

func TestPackerUnpacker(t *testing.T) {
	m := New(TypeRequest)
	err := NewPacker().Str("name", "widget").Int("count", 3).Apply(m)
	require.NoError(t, err)

	u, err := NewUnpacker(m)
	require.NoError(t, err)

	name, err := u.Str("name")
	require.NoError(t, err)
	assert.Equal(t, "widget", name)

	count, err := u.Int("count")
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	_, err = u.Str("missing")
	assert.Error(t, err)
}
