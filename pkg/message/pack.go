package message

import (
	"encoding/json"
	"fmt"

	"github.com/flux-framework/flux-core-sub021/pkg/fluxerr"
)

// SetPayloadJSON marshals v and stores it as the message's JSON payload,
// setting both FlagPayload and FlagPayloadJSON.
func (m *Message) SetPayloadJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("message: marshal payload: %w", err)
	}
	m.cow()
	m.s.payload = data
	m.s.flags |= FlagPayload | FlagPayloadJSON
	return nil
}

// UnpackJSON decodes the message's JSON payload into v. It fails with
// ErrProto if the message carries no JSON payload.
func (m *Message) UnpackJSON(v any) error {
	if !m.s.flags.Has(FlagPayloadJSON) {
		return fmt.Errorf("message: no JSON payload: %w", fluxerr.ErrProto)
	}
	if err := json.Unmarshal(m.s.payload, v); err != nil {
		return fmt.Errorf("message: unmarshal payload: %w", err)
	}
	return nil
}

// Packer is a typed, fluent JSON-object builder. It replaces the source's
// variadic pack-format strings ("{s:i, s:s}") called out as deprecated in
// the design notes: field order is preserved for readability but has no
// semantic meaning since the result is a JSON object.
type Packer struct {
	fields map[string]any
	order  []string
	err    error
}

// NewPacker starts a new payload builder.
func NewPacker() *Packer {
	return &Packer{fields: make(map[string]any)}
}

func (p *Packer) set(name string, v any) *Packer {
	if _, exists := p.fields[name]; !exists {
		p.order = append(p.order, name)
	}
	p.fields[name] = v
	return p
}

func (p *Packer) Str(name, v string) *Packer   { return p.set(name, v) }
func (p *Packer) Int(name string, v int64) *Packer { return p.set(name, v) }
func (p *Packer) Float(name string, v float64) *Packer { return p.set(name, v) }
func (p *Packer) Bool(name string, v bool) *Packer { return p.set(name, v) }
func (p *Packer) Raw(name string, v any) *Packer   { return p.set(name, v) }

// Build renders the accumulated fields to a JSON object with its keys in
// sorted order.
func (p *Packer) Build() ([]byte, error) {
	if p.err != nil {
		return nil, p.err
	}
	// encoding/json sorts map keys alphabetically; insertion order is
	// preserved only for human inspection via the `order` slice, not on
	// the wire — callers that need a stable byte layout should unpack by
	// field name, never by position.
	return json.Marshal(p.fields)
}

// Apply builds the packer and sets it as m's JSON payload.
func (p *Packer) Apply(m *Message) error {
	data, err := p.Build()
	if err != nil {
		return err
	}
	m.cow()
	m.s.payload = data
	m.s.flags |= FlagPayload | FlagPayloadJSON
	return nil
}

// Unpacker reads named fields out of a message's JSON payload without
// requiring the caller to declare a destination struct up front.
type Unpacker struct {
	fields map[string]json.RawMessage
}

// NewUnpacker parses m's JSON payload for field-by-field access.
func NewUnpacker(m *Message) (*Unpacker, error) {
	if !m.s.flags.Has(FlagPayloadJSON) {
		return nil, fmt.Errorf("message: no JSON payload: %w", fluxerr.ErrProto)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(m.s.payload, &fields); err != nil {
		return nil, fmt.Errorf("message: unmarshal payload: %w", err)
	}
	return &Unpacker{fields: fields}, nil
}

func (u *Unpacker) Str(name string) (string, error) {
	var v string
	if err := u.field(name, &v); err != nil {
		return "", err
	}
	return v, nil
}

func (u *Unpacker) Int(name string) (int64, error) {
	var v int64
	if err := u.field(name, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func (u *Unpacker) Float(name string) (float64, error) {
	var v float64
	if err := u.field(name, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func (u *Unpacker) Bool(name string) (bool, error) {
	var v bool
	if err := u.field(name, &v); err != nil {
		return false, err
	}
	return v, nil
}

func (u *Unpacker) field(name string, dst any) error {
	raw, ok := u.fields[name]
	if !ok {
		return fmt.Errorf("message: field %q: %w", name, fluxerr.ErrNoEnt)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("message: field %q: %w", name, err)
	}
	return nil
}
