package wsproto

// Event is a protocol-level event produced by decoding inbound wire data or
// accepted by Encode to produce outbound wire data. The set of implementations
// is closed; a decoded frame that maps to none of them is a protocol fault.
type Event interface {
	wsEvent()
}

// MessageFrame carries one fragment of an application message. Kind is the
// message kind taken from the first fragment, even on continuation frames.
// Finished marks the final fragment of the message.
type MessageFrame struct {
	Kind     Opcode // OpText or OpBinary
	Data     []byte
	Finished bool
}

// PingReceived carries a ping control frame payload.
type PingReceived struct {
	Payload []byte
}

// PongReceived carries a pong control frame payload.
type PongReceived struct {
	Payload []byte
}

// CloseReceived carries a close frame. Code is CloseNoStatusRcvd when the
// frame had an empty payload.
type CloseReceived struct {
	Code   int
	Reason string
}

func (*MessageFrame) wsEvent()  {}
func (*PingReceived) wsEvent()  {}
func (*PongReceived) wsEvent()  {}
func (*CloseReceived) wsEvent() {}
