package wsproto

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"
)

// ExtensionPerMessageDeflate is the only extension name the proxy recognizes.
const ExtensionPerMessageDeflate = "permessage-deflate"

// deflateTail is the empty stored block a sync flush appends; RFC 7692
// section 7.2.1 strips it from the wire and restores it before inflating.
var deflateTail = []byte{0x00, 0x00, 0xFF, 0xFF}

// maxWindow is the DEFLATE sliding window; the decompression dictionary kept
// for context takeover never needs to be larger.
const maxWindow = 32 << 10

// PerMessageDeflate implements RFC 7692 permessage-deflate. Each instance
// owns its own compressor and decompressor state, so two instances built from
// the same parameter string are fully independent codec contexts.
type PerMessageDeflate struct {
	clientNoContextTakeover bool
	serverNoContextTakeover bool
	clientMaxWindowBits     int
	serverMaxWindowBits     int

	// Resolved from the codec role by Bind.
	compressNoContext   bool
	decompressNoContext bool

	w    *flate.Writer
	wbuf bytes.Buffer
	dict []byte // trailing window of inflated output, for context takeover
}

// NewPerMessageDeflate builds an extension instance from one negotiated
// extension token, e.g. "permessage-deflate; server_max_window_bits=12".
// Unknown parameters are ignored; malformed window bits fail negotiation.
func NewPerMessageDeflate(token string) (*PerMessageDeflate, error) {
	d := &PerMessageDeflate{
		clientMaxWindowBits: 15,
		serverMaxWindowBits: 15,
	}
	for key, val := range parseExtensionParams(token) {
		switch key {
		case "client_no_context_takeover":
			d.clientNoContextTakeover = true
		case "server_no_context_takeover":
			d.serverNoContextTakeover = true
		case "client_max_window_bits":
			if val == "" {
				continue
			}
			bits, err := strconv.Atoi(val)
			if err != nil || bits < 8 || bits > 15 {
				return nil, fmt.Errorf("wsproto: invalid client_max_window_bits %q", val)
			}
			d.clientMaxWindowBits = bits
		case "server_max_window_bits":
			bits, err := strconv.Atoi(val)
			if err != nil || bits < 8 || bits > 15 {
				return nil, fmt.Errorf("wsproto: invalid server_max_window_bits %q", val)
			}
			d.serverMaxWindowBits = bits
		}
	}
	return d, nil
}

func (d *PerMessageDeflate) Name() string {
	return ExtensionPerMessageDeflate
}

// Bind resolves the direction-specific parameters. A server-role codec emits
// server-to-client data, so its compressor follows the server_* parameters
// and its decompressor the client_* parameters; a client-role codec is the
// mirror image. The negotiated max_window_bits are validated but not
// enforced on the compressor: Go's flate window size is fixed at 32KiB.
// Nearly all inflaters keep a full window regardless of what they offered,
// but a peer that strictly enforces a reduced window would need the offer
// stripped at the handshake instead.
func (d *PerMessageDeflate) Bind(role Role) {
	if role == RoleServer {
		d.compressNoContext = d.serverNoContextTakeover
		d.decompressNoContext = d.clientNoContextTakeover
	} else {
		d.compressNoContext = d.clientNoContextTakeover
		d.decompressNoContext = d.serverNoContextTakeover
	}
}

// CompressFragment deflates one outbound message part. The compressor window
// is kept across messages unless no-context-takeover was negotiated for this
// direction. The final part has the trailing empty block stripped per
// RFC 7692.
func (d *PerMessageDeflate) CompressFragment(data []byte, first, final bool) ([]byte, error) {
	if first && (d.w == nil || d.compressNoContext) {
		w, err := flate.NewWriter(&d.wbuf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		d.w = w
	}
	d.wbuf.Reset()
	if d.w == nil {
		return nil, fmt.Errorf("wsproto: continuation part before message start")
	}
	if _, err := d.w.Write(data); err != nil {
		return nil, err
	}
	if err := d.w.Flush(); err != nil {
		return nil, err
	}
	out := append([]byte(nil), d.wbuf.Bytes()...)
	if final && len(out) >= len(deflateTail) && bytes.HasSuffix(out, deflateTail) {
		out = out[:len(out)-len(deflateTail)]
	}
	return out, nil
}

// Decompress inflates one complete compressed message payload, restoring the
// stripped tail first. With context takeover the trailing window of previous
// messages primes the inflater dictionary.
func (d *PerMessageDeflate) Decompress(data []byte) ([]byte, error) {
	payload := make([]byte, 0, len(data)+len(deflateTail))
	payload = append(payload, data...)
	payload = append(payload, deflateTail...)

	var dict []byte
	if !d.decompressNoContext {
		dict = d.dict
	}
	r := flate.NewReaderDict(bytes.NewReader(payload), dict)
	plain, err := io.ReadAll(r)
	if cerr := r.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	if !d.decompressNoContext {
		d.dict = appendWindow(d.dict, plain)
	}
	return plain, nil
}

// appendWindow appends plain to the dictionary and keeps only the last
// maxWindow bytes.
func appendWindow(dict, plain []byte) []byte {
	dict = append(dict, plain...)
	if len(dict) > maxWindow {
		dict = append([]byte(nil), dict[len(dict)-maxWindow:]...)
	}
	return dict
}

// parseExtensionParams splits one extension token's parameters into a map.
// The extension name before the first ";" is skipped; bare parameters map to
// an empty string.
func parseExtensionParams(token string) map[string]string {
	params := make(map[string]string)
	parts := strings.Split(token, ";")
	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if key, val, ok := strings.Cut(part, "="); ok {
			params[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(val), `"`)
		} else {
			params[part] = ""
		}
	}
	return params
}
