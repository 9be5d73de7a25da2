package eventlog_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flux-framework/flux-core-sub021/pkg/eventlog"
)

func TestAppendThenDecodeRoundTrip(t *testing.T) {
	var buf []byte
	var err error
	buf, err = eventlog.Append(buf, eventlog.Event{Timestamp: 1.5, Name: "submit"})
	require.NoError(t, err)
	buf, err = eventlog.Append(buf, eventlog.Event{Timestamp: 2.5, Name: "start", Context: map[string]any{"rank": float64(0)}})
	require.NoError(t, err)

	events, err := eventlog.Decode(buf)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "submit", events[0].Name)
	assert.Equal(t, "start", events[1].Name)
	assert.Equal(t, float64(0), events[1].Context["rank"])
}

func TestAppendIsOneRecordPerLine(t *testing.T) {
	var buf []byte
	buf, _ = eventlog.Append(buf, eventlog.Event{Timestamp: 1, Name: "a"})
	buf, _ = eventlog.Append(buf, eventlog.Event{Timestamp: 2, Name: "b"})
	lines := strings.Split(strings.TrimRight(string(buf), "\n"), "\n")
	assert.Len(t, lines, 2)
}

func TestRejectsOverlongName(t *testing.T) {
	_, err := eventlog.Encode(eventlog.Event{Timestamp: 1, Name: strings.Repeat("x", eventlog.MaxNameLen+1)})
	assert.Error(t, err)
}

func TestRejectsNameWithSpace(t *testing.T) {
	_, err := eventlog.Encode(eventlog.Event{Timestamp: 1, Name: "has space"})
	assert.Error(t, err)
}

func TestRejectsOverlongContext(t *testing.T) {
	ctx := map[string]any{"blob": strings.Repeat("x", eventlog.MaxContextLen)}
	_, err := eventlog.Encode(eventlog.Event{Timestamp: 1, Name: "ev", Context: ctx})
	assert.Error(t, err)
}

func TestRejectsEmptyName(t *testing.T) {
	_, err := eventlog.Encode(eventlog.Event{Timestamp: 1})
	assert.Error(t, err)
}

func TestIteratorWalksInOrder(t *testing.T) {
	var buf []byte
	buf, _ = eventlog.Append(buf, eventlog.Event{Timestamp: 1, Name: "a"})
	buf, _ = eventlog.Append(buf, eventlog.Event{Timestamp: 2, Name: "b"})
	buf, _ = eventlog.Append(buf, eventlog.Event{Timestamp: 3, Name: "c"})

	it := eventlog.NewIterator(buf)
	var names []string
	for it.Scan() {
		names = append(names, it.Event().Name)
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestDecodeEmptyBufferYieldsNoEvents(t *testing.T) {
	events, err := eventlog.Decode(nil)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDecodeRejectsMalformedRecord(t *testing.T) {
	_, err := eventlog.Decode([]byte("not json\n"))
	assert.Error(t, err)
}

func TestUnknownContextKeysSurviveRoundTrip(t *testing.T) {
	var buf []byte
	buf, err := eventlog.Append(buf, eventlog.Event{
		Timestamp: 1,
		Name:      "ev",
		Context:   map[string]any{"future_field": "unrecognized", "rank": float64(3)},
	})
	require.NoError(t, err)

	events, err := eventlog.Decode(buf)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "unrecognized", events[0].Context["future_field"])
}
