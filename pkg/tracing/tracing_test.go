package tracing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flux-framework/flux-core-sub021/pkg/handle"
	_ "github.com/flux-framework/flux-core-sub021/pkg/handle/loopconn"
	"github.com/flux-framework/flux-core-sub021/pkg/message"
	"github.com/flux-framework/flux-core-sub021/pkg/tracing"
)

func openLoop(t *testing.T) *handle.Handle {
	t.Helper()
	h, err := handle.Open("loop://", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestSpanForMessageIsNoopWhenHandleTraceIsOff(t *testing.T) {
	h := openLoop(t)
	p, err := tracing.NewProvider(tracing.DefaultConfig())
	require.NoError(t, err)

	msg := message.New(message.TypeRequest)
	msg.SetTopic("foo.bar")

	ctx, span := p.SpanForMessage(context.Background(), h, msg)
	defer span.End()
	require.NotNil(t, ctx)
	require.False(t, span.SpanContext().IsValid())
}

func TestSpanForMessageStartsRealSpanWhenHandleTraceIsOn(t *testing.T) {
	h := openLoop(t)
	h.SetTrace(true)
	p, err := tracing.NewProvider(tracing.Config{Enabled: true, ServiceName: "test"})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	msg := message.New(message.TypeRequest)
	msg.SetTopic("foo.bar")

	ctx, span := p.SpanForMessage(context.Background(), h, msg)
	defer span.End()
	require.NotNil(t, ctx)
	require.True(t, span.SpanContext().IsValid())
}
