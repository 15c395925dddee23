package wsproto

import (
	"bytes"
	"strings"
	"testing"
)

func newDeflate(t *testing.T, token string) *PerMessageDeflate {
	t.Helper()
	d, err := NewPerMessageDeflate(token)
	if err != nil {
		t.Fatalf("NewPerMessageDeflate(%q) error = %v", token, err)
	}
	return d
}

// deflatePair builds a sender/receiver codec pair negotiated with the same
// extension token, the way the relay builds one leg.
func deflatePair(t *testing.T, token string) (sender, receiver *Codec) {
	t.Helper()
	sender = NewCodec(RoleClient, []Extension{newDeflate(t, token)})
	receiver = NewCodec(RoleServer, []Extension{newDeflate(t, token)})
	return sender, receiver
}

func relayMessage(t *testing.T, sender, receiver *Codec, parts []*MessageFrame) []byte {
	t.Helper()
	var got []byte
	var finished bool
	for _, part := range parts {
		wire, err := sender.Encode(part)
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		events, err := receiver.Receive(wire)
		if err != nil {
			t.Fatalf("Receive() error = %v", err)
		}
		for _, ev := range events {
			frame, ok := ev.(*MessageFrame)
			if !ok {
				t.Fatalf("unexpected event %T", ev)
			}
			got = append(got, frame.Data...)
			finished = frame.Finished
		}
	}
	if !finished {
		t.Fatalf("message never finished")
	}
	return got
}

func TestDeflateRoundTrip(t *testing.T) {
	t.Parallel()

	sender, receiver := deflatePair(t, "permessage-deflate")
	payload := bytes.Repeat([]byte("compressible payload "), 100)

	got := relayMessage(t, sender, receiver, []*MessageFrame{
		{Kind: OpText, Data: payload, Finished: true},
	})
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestDeflateRoundTripFragmented(t *testing.T) {
	t.Parallel()

	sender, receiver := deflatePair(t, "permessage-deflate")
	got := relayMessage(t, sender, receiver, []*MessageFrame{
		{Kind: OpText, Data: []byte("hello ")},
		{Kind: OpText, Data: []byte("fragmented ")},
		{Kind: OpText, Data: []byte("world"), Finished: true},
	})
	if string(got) != "hello fragmented world" {
		t.Fatalf("round trip = %q", got)
	}
}

func TestDeflateContextTakeoverAcrossMessages(t *testing.T) {
	t.Parallel()

	sender, receiver := deflatePair(t, "permessage-deflate")
	for i := 0; i < 5; i++ {
		payload := bytes.Repeat([]byte("the same recurring content "), 20)
		got := relayMessage(t, sender, receiver, []*MessageFrame{
			{Kind: OpText, Data: payload, Finished: true},
		})
		if !bytes.Equal(got, payload) {
			t.Fatalf("message %d round trip mismatch", i)
		}
	}
}

func TestDeflateNoContextTakeover(t *testing.T) {
	t.Parallel()

	token := "permessage-deflate; client_no_context_takeover; server_no_context_takeover"
	sender, receiver := deflatePair(t, token)
	for i := 0; i < 3; i++ {
		payload := []byte("independent message")
		got := relayMessage(t, sender, receiver, []*MessageFrame{
			{Kind: OpText, Data: payload, Finished: true},
		})
		if !bytes.Equal(got, payload) {
			t.Fatalf("message %d round trip mismatch", i)
		}
	}
}

// Two independently negotiated legs must not share compression state:
// interleaving traffic across the pairs keeps every stream intact.
func TestDeflateInstancesAreIsolated(t *testing.T) {
	t.Parallel()

	senderA, receiverA := deflatePair(t, "permessage-deflate")
	senderB, receiverB := deflatePair(t, "permessage-deflate")

	for i := 0; i < 4; i++ {
		payloadA := bytes.Repeat([]byte("stream A traffic "), 10+i)
		payloadB := bytes.Repeat([]byte("stream B traffic "), 20-i)

		gotA := relayMessage(t, senderA, receiverA, []*MessageFrame{{Kind: OpBinary, Data: payloadA, Finished: true}})
		gotB := relayMessage(t, senderB, receiverB, []*MessageFrame{{Kind: OpBinary, Data: payloadB, Finished: true}})

		if !bytes.Equal(gotA, payloadA) {
			t.Fatalf("round %d: stream A corrupted", i)
		}
		if !bytes.Equal(gotB, payloadB) {
			t.Fatalf("round %d: stream B corrupted", i)
		}
	}
}

func TestDeflateRSV1OnFirstFrameOnly(t *testing.T) {
	t.Parallel()

	sender, _ := deflatePair(t, "permessage-deflate")
	first, err := sender.Encode(&MessageFrame{Kind: OpText, Data: []byte("part one ")})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	second, err := sender.Encode(&MessageFrame{Kind: OpText, Data: []byte("part two"), Finished: true})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if first[0]&0x40 == 0 {
		t.Fatalf("first frame missing RSV1")
	}
	if second[0]&0x40 != 0 {
		t.Fatalf("continuation frame has RSV1 set")
	}
}

func TestDeflateParamParsing(t *testing.T) {
	t.Parallel()

	d := newDeflate(t, `permessage-deflate; server_max_window_bits=12; client_max_window_bits; client_no_context_takeover`)
	if d.serverMaxWindowBits != 12 {
		t.Fatalf("serverMaxWindowBits = %d, want 12", d.serverMaxWindowBits)
	}
	if d.clientMaxWindowBits != 15 {
		t.Fatalf("clientMaxWindowBits = %d, want 15 (bare parameter)", d.clientMaxWindowBits)
	}
	if !d.clientNoContextTakeover || d.serverNoContextTakeover {
		t.Fatalf("takeover flags = client:%v server:%v", d.clientNoContextTakeover, d.serverNoContextTakeover)
	}
}

// Negotiated window bits are validated but do not alter the codec's output;
// Go's flate window is fixed, so reduced-window tokens must still round-trip
// identically to the default.
func TestDeflateWindowBitsDoNotAffectOutput(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("window-bits payload "), 200)
	parts := []*MessageFrame{{Kind: OpText, Data: payload, Finished: true}}

	sender, receiver := deflatePair(t, "permessage-deflate; server_max_window_bits=9; client_max_window_bits=9")
	if got := relayMessage(t, sender, receiver, parts); !bytes.Equal(got, payload) {
		t.Fatalf("round trip with reduced window bits lost data: got %d bytes, want %d", len(got), len(payload))
	}

	small := newDeflate(t, "permessage-deflate; client_max_window_bits=9")
	small.Bind(RoleClient)
	wide := newDeflate(t, "permessage-deflate")
	wide.Bind(RoleClient)
	smallOut, err := small.CompressFragment(payload, true, true)
	if err != nil {
		t.Fatalf("CompressFragment() error = %v", err)
	}
	wideOut, err := wide.CompressFragment(payload, true, true)
	if err != nil {
		t.Fatalf("CompressFragment() error = %v", err)
	}
	if !bytes.Equal(smallOut, wideOut) {
		t.Fatalf("compressed output differs by window bits: %d vs %d bytes", len(smallOut), len(wideOut))
	}
}

func TestDeflateRejectsInvalidWindowBits(t *testing.T) {
	t.Parallel()

	for _, token := range []string{
		"permessage-deflate; server_max_window_bits=7",
		"permessage-deflate; server_max_window_bits=16",
		"permessage-deflate; client_max_window_bits=banana",
	} {
		if _, err := NewPerMessageDeflate(token); err == nil {
			t.Fatalf("NewPerMessageDeflate(%q) error = nil, want error", token)
		} else if !strings.Contains(err.Error(), "window_bits") {
			t.Fatalf("NewPerMessageDeflate(%q) error = %v", token, err)
		}
	}
}
