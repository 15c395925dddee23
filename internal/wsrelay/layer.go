package wsrelay

import (
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/wsmitm/internal/wsproto"
)

// normalCloseCodes are the close codes classified as a clean shutdown; any
// other code surfaces through the error hook instead of the end hook.
var normalCloseCodes = map[int]bool{
	wsproto.CloseNormalClosure: true,
	wsproto.CloseGoingAway:     true,
	wsproto.CloseNoStatusRcvd:  true,
}

// Layer relays WebSocket traffic for one flow. It is a pure state machine:
// HandleEvent consumes one event and returns the ordered commands the caller
// must execute. A layer handles one event at a time; the surrounding
// dispatcher provides that serialization.
//
// The layer starts in a state that expects the Start event, relays until a
// close frame (or protocol fault) is observed on either leg, then drains:
// further events are accepted and discarded, because both legs close
// asynchronously and extra events may still be in flight.
type Layer struct {
	flow  *Flow
	hooks Hooks

	clientWS *peerCodec
	serverWS *peerCodec

	handle func(Event) []Command
}

// NewLayer builds the relay layer for one established session. Both
// handshakes must have completed; flow carries the endpoints and the
// negotiated response headers.
func NewLayer(flow *Flow, hooks Hooks) *Layer {
	l := &Layer{flow: flow, hooks: hooks}
	l.handle = l.start
	return l
}

// HandleEvent feeds one event through the layer's current state.
func (l *Layer) HandleEvent(ev Event) []Command {
	return l.handle(ev)
}

func (l *Layer) start(ev Event) []Command {
	if _, ok := ev.(Start); !ok {
		return l.fatal(fmt.Errorf("unexpected event before start: %T", ev))
	}

	extHeader := strings.Join(l.flow.ResponseHeader.Values("Sec-WebSocket-Extensions"), ", ")
	clientExt, serverExt := negotiateExtensions(extHeader)

	// Both legs are hosted by the proxy, so the roles invert: we answer the
	// real client as a server and speak to the real server as a client.
	l.clientWS = newPeerCodec(l.flow.Client, wsproto.RoleServer, clientExt)
	l.serverWS = newPeerCodec(l.flow.Server, wsproto.RoleClient, serverExt)

	l.hooks.start(l.flow)

	l.handle = l.relay
	return nil
}

func (l *Layer) relay(ev Event) []Command {
	var (
		endpoint *Endpoint
		data     []byte
		eof      bool
	)
	switch ev := ev.(type) {
	case *DataReceived:
		endpoint, data = ev.Endpoint, ev.Data
	case *ConnectionClosed:
		endpoint, eof = ev.Endpoint, true
	default:
		return l.fatal(fmt.Errorf("unexpected event: %T", ev))
	}

	fromClient := endpoint == l.flow.Client
	src, dst := l.serverWS, l.clientWS
	if fromClient {
		src, dst = l.clientWS, l.serverWS
	}

	var events []wsproto.Event
	var err error
	if eof {
		events, err = src.codec.Receive(nil)
	} else {
		events, err = src.codec.Receive(data)
	}

	var cmds []Command
	for _, wsEvent := range events {
		switch wsEvent := wsEvent.(type) {
		case *wsproto.MessageFrame:
			more, ferr := l.relayMessage(wsEvent, src, dst, fromClient)
			if ferr != nil {
				return append(cmds, l.fatal(ferr)...)
			}
			cmds = append(cmds, more...)
		case *wsproto.PingReceived, *wsproto.PongReceived:
			more, ferr := l.relayControl(wsEvent, dst, fromClient)
			if ferr != nil {
				return append(cmds, l.fatal(ferr)...)
			}
			cmds = append(cmds, more...)
		case *wsproto.CloseReceived:
			return append(cmds, l.closeSession(wsEvent, fromClient)...)
		default:
			return append(cmds, l.fatal(fmt.Errorf("unexpected WebSocket event: %T", wsEvent))...)
		}
	}
	if err != nil {
		return append(cmds, l.fatal(err)...)
	}
	return cmds
}

// relayMessage buffers one message fragment and, when the fragment completes
// its message, runs the interception hook and re-fragments the result for the
// destination leg.
func (l *Layer) relayMessage(frame *wsproto.MessageFrame, src, dst *peerCodec, fromClient bool) ([]Command, error) {
	src.buffer(frame.Data)
	if !frame.Finished {
		return nil, nil
	}

	content, profile := src.take()
	isText := frame.Kind == wsproto.OpText
	fragmentizer := newFragmentizer(profile, isText)

	kind := KindBinary
	if isText {
		kind = KindText
	}
	message := &Message{Kind: kind, FromClient: fromClient, Content: content, Time: time.Now()}
	l.flow.Messages = append(l.flow.Messages, message)
	l.hooks.message(l.flow)

	if message.Killed {
		return nil, nil
	}
	var cmds []Command
	for _, part := range fragmentizer.split(message.Content) {
		send, err := dst.send(part)
		if err != nil {
			return cmds, err
		}
		cmds = append(cmds, send)
	}
	return cmds, nil
}

// relayControl logs and forwards a ping or pong unmodified. Control frames
// are never buffered, edited, or offered to the message hook.
func (l *Layer) relayControl(ev wsproto.Event, dst *peerCodec, fromClient bool) ([]Command, error) {
	var name string
	var payload []byte
	switch ev := ev.(type) {
	case *wsproto.PingReceived:
		name, payload = "ping", ev.Payload
	case *wsproto.PongReceived:
		name, payload = "pong", ev.Payload
	}
	log.Debugf("Received WebSocket %s from %s (payload: %q)", name, legName(fromClient), payload)

	send, err := dst.send(ev)
	if err != nil {
		return nil, err
	}
	return []Command{send}, nil
}

// closeSession records the close metadata, mirrors a symmetric shutdown to
// both legs, classifies the close code, and transitions the layer to its
// terminal state. The two legs are always processed in the same fixed order;
// the per-codec state check alone decides whether the close frame is still
// owed to that leg.
func (l *Layer) closeSession(closeEvent *wsproto.CloseReceived, fromClient bool) []Command {
	l.flow.ClosedByClient = fromClient
	l.flow.CloseCode = closeEvent.Code
	l.flow.CloseReason = closeEvent.Reason

	var cmds []Command
	for _, ws := range []*peerCodec{l.serverWS, l.clientWS} {
		state := ws.codec.State()
		if state == wsproto.StateOpen || state == wsproto.StateRemoteClosing {
			// The response close frame carries the same code and reason as
			// the observed one, so both directions see an identical close.
			if send, err := ws.send(closeEvent); err == nil {
				cmds = append(cmds, send)
			} else {
				log.Warnf("Failed to encode close frame for %s: %v", ws.endpoint, err)
			}
		}
		cmds = append(cmds, &CloseConnection{Endpoint: ws.endpoint})
	}

	l.flow.Ended = time.Now()
	if normalCloseCodes[closeEvent.Code] {
		l.hooks.end(l.flow)
	} else {
		l.flow.Err = fmt.Errorf("websocket error: %s", formatCloseEvent(closeEvent))
		l.hooks.error(l.flow)
	}
	l.handle = l.done
	return cmds
}

// fatal handles protocol faults: malformed wire data or an event the relay
// has no branch for. The fault is not retried; both legs are torn down and
// the error is raised through the same path as an abnormal close.
func (l *Layer) fatal(err error) []Command {
	l.flow.Err = fmt.Errorf("websocket error: %w", err)
	l.flow.Ended = time.Now()
	l.hooks.error(l.flow)
	l.handle = l.done

	var cmds []Command
	for _, endpoint := range []*Endpoint{l.flow.Server, l.flow.Client} {
		cmds = append(cmds, &CloseConnection{Endpoint: endpoint})
	}
	return cmds
}

// done drains: once the session ended, any further inbound event is accepted
// and discarded.
func (l *Layer) done(Event) []Command {
	return nil
}

// formatCloseEvent renders a close event for the flow's error record: the
// registry name of the code, or UNKNOWN_ERROR with the raw code, plus the
// textual reason when present.
func formatCloseEvent(ev *wsproto.CloseReceived) string {
	name, ok := wsproto.CloseCodeName(ev.Code)
	if !ok {
		name = fmt.Sprintf("UNKNOWN_ERROR=%d", ev.Code)
	}
	if ev.Reason != "" {
		name += fmt.Sprintf(" (reason: %s)", ev.Reason)
	}
	return name
}

func legName(fromClient bool) string {
	if fromClient {
		return "client"
	}
	return "server"
}
