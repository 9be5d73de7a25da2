// Package eventlog implements the append-only, newline-delimited JSON event
// log used by services layered on the broker core (job eventlogs, KVS
// eventlogs). It operates purely on byte buffers — no file or KVS I/O —
// matching §4.5's "append/decode/iterate helpers operate purely on byte
// buffers; no I/O".
//
// Grounded on original_source/src/common/libkvs/kvs_eventlog.c: events are
// accumulated in order, encoded as one newline-terminated record per
// event, and decoded back by splitting on '\n'. Records carry {timestamp,
// name, context} per §3/§4.6; unlike the source's free-form string event,
// this port always JSON-encodes the record.
package eventlog

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// MaxNameLen is the longest a valid event name may be.
	MaxNameLen = 64
	// MaxContextLen is the longest a valid context string may be.
	MaxContextLen = 256
)

// Event is one eventlog record.
type Event struct {
	Timestamp float64        `json:"timestamp"`
	Name      string         `json:"name"`
	Context   map[string]any `json:"context,omitempty"`
}

// Validate checks an event against §3's name/context constraints: a name
// no longer than MaxNameLen with no spaces or newlines, and a context
// whose encoded form is no longer than MaxContextLen with no newlines.
func (e Event) Validate() error {
	if len(e.Name) == 0 {
		return fmt.Errorf("eventlog: event name must not be empty")
	}
	if len(e.Name) > MaxNameLen {
		return fmt.Errorf("eventlog: event name %q exceeds %d chars", e.Name, MaxNameLen)
	}
	if strings.ContainsAny(e.Name, " \n") {
		return fmt.Errorf("eventlog: event name %q contains a space or newline", e.Name)
	}
	if e.Context != nil {
		ctx, err := json.Marshal(e.Context)
		if err != nil {
			return fmt.Errorf("eventlog: encoding context: %w", err)
		}
		if len(ctx) > MaxContextLen {
			return fmt.Errorf("eventlog: event context exceeds %d bytes", MaxContextLen)
		}
		if strings.Contains(string(ctx), "\n") {
			return fmt.Errorf("eventlog: event context contains a newline")
		}
	}
	return nil
}

// Encode renders a single event as one newline-terminated JSON record.
func Encode(e Event) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	line, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append(line, '\n'), nil
}

// Append validates e and appends its encoded record to buf, returning the
// extended buffer. It never mutates an eventlog in place elsewhere — the
// caller owns buf's storage the way the source's KVS layer owns the blob
// it stores the eventlog in.
func Append(buf []byte, e Event) ([]byte, error) {
	record, err := Encode(e)
	if err != nil {
		return nil, err
	}
	return append(buf, record...), nil
}

// Decode splits buf into its constituent events, in append order.
// Consumers must be forward-compatible about unknown context keys (§REDESIGN
// FLAGS), so unrecognized context fields are preserved as-is in the
// returned map rather than rejected.
func Decode(buf []byte) ([]Event, error) {
	var events []Event
	for _, line := range splitLines(buf) {
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("eventlog: decoding record: %w", err)
		}
		events = append(events, e)
	}
	return events, nil
}

func splitLines(buf []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, b := range buf {
		if b == '\n' {
			out = append(out, buf[start:i])
			start = i + 1
		}
	}
	if start < len(buf) {
		out = append(out, buf[start:])
	}
	return out
}

// Iterator walks an encoded eventlog one record at a time without decoding
// the whole buffer up front, bufio.Scanner-style: call Scan in a loop,
// reading Event after each true return, then check Err once Scan returns
// false.
type Iterator struct {
	rest []byte
	cur  Event
	err  error
}

// NewIterator begins an iteration over buf.
func NewIterator(buf []byte) *Iterator {
	return &Iterator{rest: buf}
}

// Scan advances to the next event, reporting whether one was found.
func (it *Iterator) Scan() bool {
	for len(it.rest) > 0 {
		idx := indexByte(it.rest, '\n')
		var line []byte
		if idx < 0 {
			line = it.rest
			it.rest = nil
		} else {
			line = it.rest[:idx]
			it.rest = it.rest[idx+1:]
		}
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			it.err = fmt.Errorf("eventlog: decoding record: %w", err)
			return false
		}
		it.cur = e
		return true
	}
	return false
}

// Event returns the event most recently found by Scan.
func (it *Iterator) Event() Event { return it.cur }

// Err returns the first decoding error encountered, if any.
func (it *Iterator) Err() error { return it.err }

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}
