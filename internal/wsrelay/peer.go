package wsrelay

import (
	"fmt"

	"github.com/router-for-me/wsmitm/internal/wsproto"
)

// peerCodec binds one leg's transport endpoint to its protocol codec and the
// frame buffer for the message currently being assembled from that peer.
type peerCodec struct {
	endpoint *Endpoint
	codec    *wsproto.Codec

	// frameBuf holds the fragments of the in-flight message. It is read only
	// through take, which also clears it, so buffered content can never leak
	// into a later message.
	frameBuf [][]byte
}

func newPeerCodec(endpoint *Endpoint, role wsproto.Role, extensions []wsproto.Extension) *peerCodec {
	return &peerCodec{
		endpoint: endpoint,
		codec:    wsproto.NewCodec(role, extensions),
	}
}

func (p *peerCodec) buffer(fragment []byte) {
	p.frameBuf = append(p.frameBuf, fragment)
}

// take concatenates the buffered fragments into the complete message content,
// records the fragment-length profile, and clears the buffer.
func (p *peerCodec) take() (content []byte, profile []int) {
	var total int
	profile = make([]int, len(p.frameBuf))
	for i, fragment := range p.frameBuf {
		profile[i] = len(fragment)
		total += len(fragment)
	}
	content = make([]byte, 0, total)
	for _, fragment := range p.frameBuf {
		content = append(content, fragment...)
	}
	p.frameBuf = nil
	return content, profile
}

// send encodes an event for this leg and wraps it in a SendData command.
func (p *peerCodec) send(ev wsproto.Event) (*SendData, error) {
	data, err := p.codec.Encode(ev)
	if err != nil {
		return nil, fmt.Errorf("encode for %s: %w", p.endpoint, err)
	}
	return &SendData{Endpoint: p.endpoint, Data: data}, nil
}
