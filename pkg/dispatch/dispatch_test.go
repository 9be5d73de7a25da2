package dispatch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flux-framework/flux-core-sub021/pkg/dispatch"
	"github.com/flux-framework/flux-core-sub021/pkg/handle"
	_ "github.com/flux-framework/flux-core-sub021/pkg/handle/loopconn"
	"github.com/flux-framework/flux-core-sub021/pkg/message"
	"github.com/flux-framework/flux-core-sub021/pkg/msglist"
)

func openLoop(t *testing.T) *handle.Handle {
	t.Helper()
	h, err := handle.Open("loop://", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestClaimedResponseBypassesHandlers(t *testing.T) {
	h := openLoop(t)
	d := dispatch.New(h)

	var handlerSeen bool
	d.RegisterResponse("foo.bar", func(*message.Message) { handlerSeen = true })

	var claimed *message.Message
	d.ClaimResponse(7, func(msg *message.Message) { claimed = msg })

	resp := message.New(message.TypeResponse)
	resp.SetTopic("foo.bar")
	resp.SetMatchtag(7)

	assert.True(t, d.Dispatch(resp))
	assert.NotNil(t, claimed)
	assert.False(t, handlerSeen)
}

func TestExclusiveResponseHandlerStopsAtFirstMatch(t *testing.T) {
	h := openLoop(t)
	d := dispatch.New(h)

	var first, second bool
	d.RegisterResponse("foo.*", func(*message.Message) { first = true })
	d.RegisterResponse("foo.*", func(*message.Message) { second = true })

	resp := message.New(message.TypeResponse)
	resp.SetTopic("foo.bar")

	assert.True(t, d.Dispatch(resp))
	assert.True(t, first)
	assert.False(t, second)
}

func TestBroadcastEventReachesAllHandlers(t *testing.T) {
	h := openLoop(t)
	d := dispatch.New(h)

	var count int
	d.RegisterEvent("heartbeat.*", func(*message.Message) { count++ })
	d.RegisterEvent("heartbeat.*", func(*message.Message) { count++ })

	ev := message.New(message.TypeEvent)
	ev.SetTopic("heartbeat.pulse")

	assert.True(t, d.Dispatch(ev))
	assert.Equal(t, 2, count)
}

func TestUnmatchedMessageReportsNotHandled(t *testing.T) {
	h := openLoop(t)
	d := dispatch.New(h)

	ev := message.New(message.TypeEvent)
	ev.SetTopic("nobody.listens")
	assert.False(t, d.Dispatch(ev))
}

func TestStoppedHandlerIsSkipped(t *testing.T) {
	h := openLoop(t)
	d := dispatch.New(h)

	var called bool
	handler := d.RegisterEvent("x.*", func(*message.Message) { called = true })
	handler.Stop()

	ev := message.New(message.TypeEvent)
	ev.SetTopic("x.y")
	assert.False(t, d.Dispatch(ev))
	assert.False(t, called)
}

func newStoredRequest(sender []byte, userid uint32, matchtag uint32) *message.Message {
	req := message.New(message.TypeRequest)
	req.SetTopic("job-manager.submit")
	req.SetCred(userid, message.RoleUser)
	req.SetMatchtag(matchtag)
	req.PushRoute(sender)
	return req
}

func TestDisconnectRemovesOnlyMatchingAuthorizedSender(t *testing.T) {
	list := msglist.New("pending")
	list.Append(newStoredRequest([]byte("peerA"), 100, 1))
	list.Append(newStoredRequest([]byte("peerB"), 200, 2))
	list.Append(newStoredRequest([]byte("peerA"), 100, 3))

	disc := message.New(message.TypeControl)
	disc.SetCred(100, message.RoleUser)
	disc.PushRoute([]byte("peerA"))

	removed := dispatch.Disconnect(list, disc)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, list.Count())
}

func TestDisconnectOwnerRemovesRegardlessOfUserid(t *testing.T) {
	list := msglist.New("pending")
	list.Append(newStoredRequest([]byte("peerA"), 100, 1))

	disc := message.New(message.TypeControl)
	disc.SetCred(999, message.RoleOwner)
	disc.PushRoute([]byte("peerA"))

	removed := dispatch.Disconnect(list, disc)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, list.Count())
}

func TestCancelSendsENODATAAndRemovesOneEntry(t *testing.T) {
	h := openLoop(t)
	list := msglist.New("pending")
	stored := newStoredRequest([]byte("peerA"), 100, 42)
	list.Append(stored)

	cancel := message.New(message.TypeControl)
	cancel.SetCred(100, message.RoleUser)
	cancel.PushRoute([]byte("peerA"))
	require.NoError(t, cancel.SetPayloadJSON(struct {
		Matchtag uint32 `json:"matchtag"`
	}{Matchtag: 42}))

	ok := dispatch.Cancel(h, list, cancel)
	require.True(t, ok)
	assert.Equal(t, 0, list.Count())

	resp, err := h.Recv(handle.Match{Types: handle.MatchResponse}, handle.RecvNonblock)
	require.NoError(t, err)
	assert.Equal(t, "job-manager.submit", resp.Topic())
}

func TestCancelIgnoresCancelMessagesOwnWireMatchtag(t *testing.T) {
	h := openLoop(t)
	list := msglist.New("pending")
	stored := newStoredRequest([]byte("peerA"), 100, 42)
	list.Append(stored)

	cancel := message.New(message.TypeControl)
	cancel.SetCred(100, message.RoleUser)
	cancel.PushRoute([]byte("peerA"))
	// The cancel message's own wire matchtag is unrelated to the target
	// RPC's matchtag, which only ever travels as a JSON body field.
	cancel.SetMatchtag(42)
	require.NoError(t, cancel.SetPayloadJSON(struct {
		Matchtag uint32 `json:"matchtag"`
	}{Matchtag: 7}))

	ok := dispatch.Cancel(h, list, cancel)
	assert.False(t, ok)
	assert.Equal(t, 1, list.Count())
}
