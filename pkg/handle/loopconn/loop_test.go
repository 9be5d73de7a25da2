package loopconn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flux-framework/flux-core-sub021/pkg/handle"
	"github.com/flux-framework/flux-core-sub021/pkg/message"
)

func TestSendRecvRoundTrip(t *testing.T) {
	c := New()
	defer c.Close()

	req := message.New(message.TypeRequest)
	req.SetTopic("foo.bar")
	req.SetPayload([]byte("hi"))

	require.NoError(t, c.Send(req, 0))

	got, err := c.Recv(handle.Match{Types: handle.MatchAny}, 0)
	require.NoError(t, err)
	assert.Equal(t, "foo.bar", got.Topic())
	payload, ok := got.Payload()
	require.True(t, ok)
	assert.Equal(t, "hi", string(payload))
}

func TestRecvNonblockOnEmptyQueue(t *testing.T) {
	c := New()
	defer c.Close()

	_, err := c.Recv(handle.Match{Types: handle.MatchAny}, handle.RecvNonblock)
	assert.Error(t, err)
}

func TestRecvSkipsNonMatchingThenRequeuesInOrder(t *testing.T) {
	c := New()
	defer c.Close()

	event := message.New(message.TypeEvent)
	event.SetTopic("heartbeat.pulse")
	req := message.New(message.TypeRequest)
	req.SetTopic("foo.bar")

	require.NoError(t, c.Send(event, 0))
	require.NoError(t, c.Send(req, 0))

	got, err := c.Recv(handle.Match{Types: handle.MatchRequest}, handle.RecvNonblock)
	require.NoError(t, err)
	assert.Equal(t, "foo.bar", got.Topic())

	// The skipped event must still be there, in its original position.
	got2, err := c.Recv(handle.Match{Types: handle.MatchAny}, handle.RecvNonblock)
	require.NoError(t, err)
	assert.Equal(t, "heartbeat.pulse", got2.Topic())
}

func TestRecvBlocksUntilMessageArrives(t *testing.T) {
	c := New()
	defer c.Close()

	done := make(chan *message.Message, 1)
	go func() {
		msg, err := c.Recv(handle.Match{Types: handle.MatchAny}, 0)
		require.NoError(t, err)
		done <- msg
	}()

	select {
	case <-done:
		t.Fatal("recv returned before any message was sent")
	case <-time.After(20 * time.Millisecond):
	}

	ev := message.New(message.TypeEvent)
	ev.SetTopic("heartbeat.pulse")
	require.NoError(t, c.Send(ev, 0))

	select {
	case msg := <-done:
		assert.Equal(t, "heartbeat.pulse", msg.Topic())
	case <-time.After(time.Second):
		t.Fatal("blocked recv never woke after send")
	}
}

func TestRankSizeAttrsAreImmutable(t *testing.T) {
	c := New()
	defer c.Close()

	v, ok := c.Getopt("rank")
	require.True(t, ok)
	assert.Equal(t, "0", v)

	assert.Error(t, c.Setopt("rank", "1"))
	assert.NoError(t, c.Setopt("custom", "value"))
	v, ok = c.Getopt("custom")
	require.True(t, ok)
	assert.Equal(t, "value", v)
}
