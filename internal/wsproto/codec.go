// Package wsproto is a sans-IO WebSocket frame codec: feed it raw bytes (or an
// end-of-stream marker) and it produces protocol events; hand it an event and
// it produces wire bytes. It performs no network IO itself, which keeps the
// relay layer above it independent of any particular connection library.
package wsproto

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// Role selects which side of the WebSocket conversation the codec speaks for.
// The role decides masking: frames sent by the client side are masked.
type Role int

const (
	// RoleServer answers a connected client (the proxy's client-facing leg).
	RoleServer Role = iota
	// RoleClient talks to an upstream server (the proxy's server-facing leg).
	RoleClient
)

// ConnState is the close-handshake state of one codec. The opening handshake
// happens before a Codec is constructed, so codecs start in StateOpen.
type ConnState int

const (
	StateOpen ConnState = iota
	StateRemoteClosing
	StateLocalClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateRemoteClosing:
		return "REMOTE_CLOSING"
	case StateLocalClosing:
		return "LOCAL_CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// Extension hooks per-message transforms into the codec. Only
// permessage-deflate is implemented; the interface exists so the codec does
// not depend on a concrete transform.
type Extension interface {
	Name() string
	// Bind tells the extension which role its codec plays, so it can apply
	// the direction-specific negotiated parameters.
	Bind(role Role)
	// CompressFragment compresses one outbound message part. first and final
	// mark the part's position within its message.
	CompressFragment(data []byte, first, final bool) ([]byte, error)
	// Decompress inflates one complete compressed message payload.
	Decompress(data []byte) ([]byte, error)
}

// Codec decodes inbound wire bytes into events and encodes events into
// outbound wire bytes for one connection leg. It is not safe for concurrent
// use; the relay drives each codec from a single goroutine.
type Codec struct {
	role  Role
	state ConnState
	ext   Extension // nil when no extension was negotiated

	buf []byte // unparsed inbound bytes carried across Receive calls

	// Inbound message assembly.
	inKind       Opcode
	inCompressed bool
	inParts      [][]byte // compressed fragments awaiting the final one

	// Outbound continuation: true after a non-final part was encoded.
	outContinued  bool
	outCompressed bool
}

// NewCodec builds a codec for one leg. At most one extension is honored;
// extras are ignored (only permessage-deflate is ever negotiated upstream).
func NewCodec(role Role, extensions []Extension) *Codec {
	c := &Codec{role: role, state: StateOpen}
	if len(extensions) > 0 {
		c.ext = extensions[0]
		c.ext.Bind(role)
	}
	return c
}

// State returns the codec's close-handshake state.
func (c *Codec) State() ConnState {
	return c.state
}

// Receive consumes inbound wire bytes and returns the protocol events they
// complete. A nil data slice is the end-of-stream marker: if the peer vanished
// without a close handshake this yields a synthetic CloseReceived with code
// 1006. Any returned error is a protocol fault and poisons the codec; the
// caller must not feed it further data.
func (c *Codec) Receive(data []byte) ([]Event, error) {
	if data == nil {
		if c.state == StateOpen || c.state == StateLocalClosing {
			c.state = StateClosed
			return []Event{&CloseReceived{Code: CloseAbnormalClosure}}, nil
		}
		return nil, nil
	}
	c.buf = append(c.buf, data...)

	var events []Event
	for {
		f, n, err := parseFrame(c.buf)
		if err != nil {
			return events, err
		}
		if n == 0 {
			break
		}
		c.buf = c.buf[n:]
		evs, err := c.handleFrame(f)
		events = append(events, evs...)
		if err != nil {
			return events, err
		}
	}
	return events, nil
}

func (c *Codec) handleFrame(f frame) ([]Event, error) {
	if c.state == StateRemoteClosing || c.state == StateClosed {
		// The peer already closed; late frames are drained without effect.
		return nil, nil
	}
	if f.rsv1 && (c.ext == nil || !f.opcode.IsData() || f.opcode == OpContinuation) {
		return nil, ErrReservedBits
	}

	switch f.opcode {
	case OpPing:
		return []Event{&PingReceived{Payload: f.payload}}, nil
	case OpPong:
		return []Event{&PongReceived{Payload: f.payload}}, nil
	case OpClose:
		return c.handleClose(f)
	case OpText, OpBinary:
		if c.inKind != 0 {
			return nil, ErrExpectedContinue
		}
		c.inKind = f.opcode
		c.inCompressed = f.rsv1
		return c.dataFragment(f)
	case OpContinuation:
		if c.inKind == 0 {
			return nil, ErrUnexpectedContinue
		}
		return c.dataFragment(f)
	default:
		return nil, fmt.Errorf("%w: 0x%X", ErrInvalidOpcode, byte(f.opcode))
	}
}

// dataFragment turns one data frame into events. Uncompressed fragments are
// surfaced one by one; compressed fragments are held back and delivered as a
// single finished event once the whole message can be inflated.
func (c *Codec) dataFragment(f frame) ([]Event, error) {
	kind := c.inKind
	if !c.inCompressed {
		ev := &MessageFrame{Kind: kind, Data: f.payload, Finished: f.fin}
		if f.fin {
			c.inKind = 0
		}
		return []Event{ev}, nil
	}

	c.inParts = append(c.inParts, f.payload)
	if !f.fin {
		return nil, nil
	}
	var total int
	for _, p := range c.inParts {
		total += len(p)
	}
	compressed := make([]byte, 0, total)
	for _, p := range c.inParts {
		compressed = append(compressed, p...)
	}
	c.inParts = nil
	c.inKind = 0
	c.inCompressed = false

	plain, err := c.ext.Decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("wsproto: inflate message: %w", err)
	}
	return []Event{&MessageFrame{Kind: kind, Data: plain, Finished: true}}, nil
}

func (c *Codec) handleClose(f frame) ([]Event, error) {
	code := CloseNoStatusRcvd
	reason := ""
	switch {
	case len(f.payload) == 0:
	case len(f.payload) == 1:
		return nil, ErrInvalidClosePayload
	default:
		code = int(binary.BigEndian.Uint16(f.payload))
		if !utf8.Valid(f.payload[2:]) {
			return nil, ErrInvalidClosePayload
		}
		reason = string(f.payload[2:])
	}
	if c.state == StateLocalClosing {
		c.state = StateClosed
	} else {
		c.state = StateRemoteClosing
	}
	return []Event{&CloseReceived{Code: code, Reason: reason}}, nil
}

// Encode serializes an event into wire bytes for this leg. For MessageFrame
// events the codec tracks continuation across calls: the first part of a
// message carries its data opcode, later parts the continuation opcode, and
// the finished part closes the sequence.
func (c *Codec) Encode(ev Event) ([]byte, error) {
	switch ev := ev.(type) {
	case *MessageFrame:
		return c.encodeMessage(ev)
	case *PingReceived:
		return encodeFrame(frame{fin: true, opcode: OpPing, payload: ev.Payload}, c.masks()), nil
	case *PongReceived:
		return encodeFrame(frame{fin: true, opcode: OpPong, payload: ev.Payload}, c.masks()), nil
	case *CloseReceived:
		return c.encodeClose(ev)
	default:
		return nil, fmt.Errorf("wsproto: cannot encode event %T", ev)
	}
}

func (c *Codec) encodeMessage(ev *MessageFrame) ([]byte, error) {
	if c.state != StateOpen && c.state != StateRemoteClosing {
		return nil, fmt.Errorf("%w: state %s", ErrClosed, c.state)
	}
	first := !c.outContinued
	opcode := ev.Kind
	if !first {
		opcode = OpContinuation
	}

	payload := ev.Data
	rsv1 := false
	if first {
		c.outCompressed = c.ext != nil
	}
	if c.outCompressed {
		var err error
		payload, err = c.ext.CompressFragment(ev.Data, first, ev.Finished)
		if err != nil {
			return nil, fmt.Errorf("wsproto: deflate message: %w", err)
		}
		rsv1 = first
	}

	c.outContinued = !ev.Finished
	return encodeFrame(frame{fin: ev.Finished, rsv1: rsv1, opcode: opcode, payload: payload}, c.masks()), nil
}

func (c *Codec) encodeClose(ev *CloseReceived) ([]byte, error) {
	var payload []byte
	if ev.Code != CloseNoStatusRcvd {
		payload = binary.BigEndian.AppendUint16(nil, uint16(ev.Code))
		payload = append(payload, ev.Reason...)
	}
	if c.state == StateRemoteClosing {
		c.state = StateClosed
	} else {
		c.state = StateLocalClosing
	}
	return encodeFrame(frame{fin: true, opcode: OpClose, payload: payload}, c.masks()), nil
}

func (c *Codec) masks() bool {
	return c.role == RoleClient
}
