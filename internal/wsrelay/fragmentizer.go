package wsrelay

import (
	"strings"
	"unicode/utf8"

	"github.com/router-for-me/wsmitm/internal/wsproto"
)

// fragmentSize is the re-chunking bound for modified messages: a bit less
// than 4 KiB to leave room for frame headers. RFC 6455 treats frame
// boundaries as meaningless, but some servers reject payload sizes they did
// not expect, so unmodified content keeps its original chunking instead.
const fragmentSize = 4000

// fragmentizer replans the outbound wire fragmentation of one message from
// the incoming message's fragment-length profile and its (possibly edited)
// content.
type fragmentizer struct {
	lengths []int
	isText  bool
}

// newFragmentizer captures a non-empty fragment-length profile and the
// original message kind.
func newFragmentizer(lengths []int, isText bool) *fragmentizer {
	return &fragmentizer{lengths: lengths, isText: isText}
}

// split produces the outbound message parts for content. Empty content yields
// no parts at all. When the content length still matches the recorded profile
// the original boundaries are replayed verbatim; otherwise the content is
// re-chunked into fragmentSize parts. Exactly the last part is finished.
func (fr *fragmentizer) split(content []byte) []*wsproto.MessageFrame {
	if len(content) == 0 {
		return nil
	}
	var total int
	for _, l := range fr.lengths {
		total += l
	}

	var parts []*wsproto.MessageFrame
	if len(content) == total {
		offset := 0
		for _, l := range fr.lengths[:len(fr.lengths)-1] {
			parts = append(parts, fr.part(content[offset:offset+l], false))
			offset += l
		}
		parts = append(parts, fr.part(content[offset:], true))
		return parts
	}

	offset := 0
	for len(content)-offset > fragmentSize {
		parts = append(parts, fr.part(content[offset:offset+fragmentSize], false))
		offset += fragmentSize
	}
	return append(parts, fr.part(content[offset:], true))
}

// part builds one message part. Text content is re-validated with lossy
// replacement of invalid sequences, matching how the message was surfaced to
// the hook.
func (fr *fragmentizer) part(data []byte, finished bool) *wsproto.MessageFrame {
	kind := wsproto.OpBinary
	if fr.isText {
		kind = wsproto.OpText
		data = []byte(strings.ToValidUTF8(string(data), string(utf8.RuneError)))
	}
	return &wsproto.MessageFrame{Kind: kind, Data: data, Finished: finished}
}
