package message

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/flux-framework/flux-core-sub021/pkg/fluxerr"
)

// Encode serializes m to its wire form: a fixed header followed by
// tag-length-value frames for the route stack, topic, and payload, in
// that order, each present only when its flag bit is set. All integers are
// written network byte order (big endian), independent of host endianness.
func (m *Message) Encode() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(byte(m.s.typ))
	writeU16(&buf, uint16(m.s.flags))
	writeU32(&buf, m.s.matchtag)
	writeU32(&buf, m.s.nodeid)
	writeU32(&buf, uint32(m.s.errnum))
	writeU32(&buf, m.s.seq)
	writeU32(&buf, m.s.userid)
	writeU32(&buf, m.s.rolemask)
	writeU32(&buf, uint32(m.s.controlType))
	writeU32(&buf, uint32(m.s.controlStatus))

	if m.s.flags.Has(FlagRouteStack) {
		writeU32(&buf, uint32(len(m.s.route)))
		for _, frame := range m.s.route {
			writeU32(&buf, uint32(len(frame)))
			buf.Write(frame)
		}
	}
	if m.s.flags.Has(FlagTopic) {
		topic := []byte(m.s.topic)
		writeU32(&buf, uint32(len(topic)))
		buf.Write(topic)
	}
	if m.s.flags.Has(FlagPayload) {
		writeU32(&buf, uint32(len(m.s.payload)))
		buf.Write(m.s.payload)
	}

	return buf.Bytes(), nil
}

// Decode parses the wire form produced by Encode into a new Message.
func Decode(data []byte) (*Message, error) {
	r := bytes.NewReader(data)

	typByte, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("message: read type: %w", fluxerr.ErrProto)
	}
	typ := Type(typByte)
	if typ > TypeControl {
		return nil, fmt.Errorf("message: unknown type %d: %w", typ, fluxerr.ErrProto)
	}

	flagsU16, err := readU16(r)
	if err != nil {
		return nil, fmt.Errorf("message: read flags: %w", fluxerr.ErrProto)
	}
	flags := Flags(flagsU16)

	matchtag, err := readU32(r)
	if err != nil {
		return nil, fmt.Errorf("message: read matchtag: %w", fluxerr.ErrProto)
	}
	nodeid, err := readU32(r)
	if err != nil {
		return nil, fmt.Errorf("message: read nodeid: %w", fluxerr.ErrProto)
	}
	errnum, err := readU32(r)
	if err != nil {
		return nil, fmt.Errorf("message: read errnum: %w", fluxerr.ErrProto)
	}
	seq, err := readU32(r)
	if err != nil {
		return nil, fmt.Errorf("message: read seq: %w", fluxerr.ErrProto)
	}
	userid, err := readU32(r)
	if err != nil {
		return nil, fmt.Errorf("message: read userid: %w", fluxerr.ErrProto)
	}
	rolemask, err := readU32(r)
	if err != nil {
		return nil, fmt.Errorf("message: read rolemask: %w", fluxerr.ErrProto)
	}
	controlType, err := readU32(r)
	if err != nil {
		return nil, fmt.Errorf("message: read control_type: %w", fluxerr.ErrProto)
	}
	controlStatus, err := readU32(r)
	if err != nil {
		return nil, fmt.Errorf("message: read control_status: %w", fluxerr.ErrProto)
	}

	s := &state{
		refs:          1,
		typ:           typ,
		flags:         flags,
		matchtag:      matchtag,
		nodeid:        nodeid,
		errnum:        int32(errnum),
		seq:           seq,
		userid:        userid,
		rolemask:      rolemask,
		controlType:   int32(controlType),
		controlStatus: int32(controlStatus),
	}

	if flags.Has(FlagRouteStack) {
		count, err := readU32(r)
		if err != nil {
			return nil, fmt.Errorf("message: read route count: %w", fluxerr.ErrProto)
		}
		s.route = make([][]byte, 0, count)
		for i := uint32(0); i < count; i++ {
			frame, err := readFrame(r)
			if err != nil {
				return nil, fmt.Errorf("message: read route frame %d: %w", i, fluxerr.ErrProto)
			}
			s.route = append(s.route, frame)
		}
	}
	if flags.Has(FlagTopic) {
		topic, err := readFrame(r)
		if err != nil {
			return nil, fmt.Errorf("message: read topic: %w", fluxerr.ErrProto)
		}
		s.topic = string(topic)
	}
	if flags.Has(FlagPayload) {
		payload, err := readFrame(r)
		if err != nil {
			return nil, fmt.Errorf("message: read payload: %w", fluxerr.ErrProto)
		}
		s.payload = payload
	}

	return &Message{s: s}, nil
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readU16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if n, err := r.Read(b[:]); err != nil || n != 4 {
		if err == nil {
			err = fmt.Errorf("short read")
		}
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readFrame(r *bytes.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, n)
	if _, err := readFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, fmt.Errorf("short read")
		}
	}
	return total, nil
}
