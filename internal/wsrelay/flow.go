// Package wsrelay is the core of the intercepting proxy: a per-flow state
// machine that relays WebSocket traffic between the client-facing and
// server-facing legs of one session, reassembles fragmented messages, exposes
// each complete message to interception hooks, and re-fragments the possibly
// modified content for forwarding.
package wsrelay

import (
	"net/http"
	"time"
)

// Endpoint identifies one of the two transport connections of a flow. The
// relay compares endpoints by pointer identity; the surrounding proxy owns
// the actual sockets.
type Endpoint struct {
	ID   string
	Addr string
}

func (e *Endpoint) String() string {
	if e == nil {
		return "<nil>"
	}
	return e.ID
}

// MessageKind is the application message type.
type MessageKind int

const (
	KindText MessageKind = iota
	KindBinary
)

func (k MessageKind) String() string {
	if k == KindText {
		return "text"
	}
	return "binary"
}

// Message is one complete application message observed on a flow. Content and
// Killed may be modified by the message hook before the relay forwards the
// message; everything else is immutable after construction.
type Message struct {
	Kind       MessageKind
	FromClient bool
	Content    []byte
	Killed     bool
	Time       time.Time
}

// Kill marks the message as dropped: the relay will not forward it.
func (m *Message) Kill() {
	m.Killed = true
}

// Flow is the proxy's record of one intercepted WebSocket session. It is
// owned by a single Layer for the session's lifetime; hooks receive it by
// reference and may mutate only the latest message.
type Flow struct {
	ID     string
	Client *Endpoint
	Server *Endpoint

	// Target is the upstream URL the session was proxied to.
	Target string
	// ResponseHeader is the upstream's 101 response header set; the relay
	// reads the negotiated Sec-WebSocket-Extensions value from it.
	ResponseHeader http.Header

	Messages []*Message

	ClosedByClient bool
	CloseCode      int
	CloseReason    string
	Err            error

	// Started is set by the owner before the flow is shared; the relay only
	// reads it.
	Started time.Time
	Ended   time.Time
}

// LastMessage returns the most recently appended message, or nil.
func (f *Flow) LastMessage() *Message {
	if len(f.Messages) == 0 {
		return nil
	}
	return f.Messages[len(f.Messages)-1]
}
