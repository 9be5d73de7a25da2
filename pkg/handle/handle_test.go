package handle_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flux-framework/flux-core-sub021/pkg/handle"
	_ "github.com/flux-framework/flux-core-sub021/pkg/handle/loopconn"
	"github.com/flux-framework/flux-core-sub021/pkg/message"
)

func openLoop(t *testing.T) *handle.Handle {
	t.Helper()
	h, err := handle.Open("loop://", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestOpenUnknownSchemeFails(t *testing.T) {
	_, err := handle.Open("nonesuch://", 0)
	assert.Error(t, err)
}

func TestSendFillsDefaultCredentials(t *testing.T) {
	h := openLoop(t)

	req := message.New(message.TypeRequest)
	req.SetTopic("foo.bar")
	require.NoError(t, h.Send(req, 0))

	got, err := h.Recv(handle.Match{Types: handle.MatchAny}, handle.RecvNonblock)
	require.NoError(t, err)
	assert.NotEqual(t, message.UseridUnknown, got.Userid())
	assert.Equal(t, message.RoleOwner, got.Rolemask())
}

func TestSendPreservesExplicitCredentials(t *testing.T) {
	h := openLoop(t)

	req := message.New(message.TypeRequest)
	req.SetTopic("foo.bar")
	req.SetCred(42, message.RoleUser)
	require.NoError(t, h.Send(req, 0))

	got, err := h.Recv(handle.Match{Types: handle.MatchAny}, handle.RecvNonblock)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), got.Userid())
	assert.Equal(t, message.RoleUser, got.Rolemask())
}

func TestAttrGetCachesImmutableValue(t *testing.T) {
	h := openLoop(t)

	v, err := h.AttrGet("rank", handle.AttrImmutable)
	require.NoError(t, err)
	assert.Equal(t, "0", v)

	// Cache-only override must win on the next read without touching the
	// connector, proving the cache (not the connector) served it.
	h.AttrSetCacheonly("rank", "7", handle.AttrImmutable)
	v, err = h.AttrGet("rank", handle.AttrImmutable)
	require.NoError(t, err)
	assert.Equal(t, "7", v)
}

func TestAttrSetInvalidatesCache(t *testing.T) {
	h := openLoop(t)

	require.NoError(t, h.AttrSet("custom", "one"))
	v, err := h.AttrGet("custom", handle.AttrMutable)
	require.NoError(t, err)
	assert.Equal(t, "one", v)

	require.NoError(t, h.AttrSet("custom", "two"))
	v, err = h.AttrGet("custom", handle.AttrMutable)
	require.NoError(t, err)
	assert.Equal(t, "two", v)
}

func TestAttrGetMissingIsNoEnt(t *testing.T) {
	h := openLoop(t)
	_, err := h.AttrGet("does-not-exist", handle.AttrMutable)
	assert.Error(t, err)
}

func TestAuxRoundTrip(t *testing.T) {
	h := openLoop(t)
	_, ok := h.AuxGet("k")
	assert.False(t, ok)

	h.AuxSet("k", 42)
	v, ok := h.AuxGet("k")
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestFatalInvokesInstalledStrategy(t *testing.T) {
	h := openLoop(t)

	var gotErr error
	h.FatalSet(func(_ *handle.Handle, err error) { gotErr = err })

	sentinel := assert.AnError
	h.Fatal(sentinel)
	assert.Equal(t, sentinel, gotErr)
}
