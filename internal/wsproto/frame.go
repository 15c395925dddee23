package wsproto

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// maxFramePayload bounds a single frame so a hostile peer cannot make the
// decoder allocate without limit.
const maxFramePayload = 64 << 20 // 64 MiB

const maxControlPayload = 125

// frame is one RFC 6455 wire frame after header decoding and unmasking.
type frame struct {
	fin     bool
	rsv1    bool
	opcode  Opcode
	payload []byte
}

// parseFrame decodes the first complete frame from buf. It returns the frame
// and the number of bytes consumed, or n == 0 when buf does not yet hold a
// complete frame. The returned payload is unmasked and aliases buf.
func parseFrame(buf []byte) (f frame, n int, err error) {
	if len(buf) < 2 {
		return frame{}, 0, nil
	}
	f.fin = buf[0]&0x80 != 0
	f.rsv1 = buf[0]&0x40 != 0
	rsv23 := buf[0]&0x30 != 0
	f.opcode = Opcode(buf[0] & 0x0F)
	masked := buf[1]&0x80 != 0
	length := uint64(buf[1] & 0x7F)

	if !f.opcode.valid() {
		return frame{}, 0, fmt.Errorf("%w: 0x%X", ErrInvalidOpcode, byte(f.opcode))
	}
	// RSV2 and RSV3 have no negotiable meaning here; RSV1 is validated by the
	// codec, which knows whether an extension was negotiated.
	if rsv23 {
		return frame{}, 0, ErrReservedBits
	}
	if f.opcode.IsControl() {
		if !f.fin {
			return frame{}, 0, ErrControlFragmented
		}
		if length > maxControlPayload {
			return frame{}, 0, ErrControlTooLarge
		}
	}

	off := 2
	switch length {
	case 126:
		if len(buf) < off+2 {
			return frame{}, 0, nil
		}
		length = uint64(binary.BigEndian.Uint16(buf[off:]))
		off += 2
	case 127:
		if len(buf) < off+8 {
			return frame{}, 0, nil
		}
		length = binary.BigEndian.Uint64(buf[off:])
		if length&(1<<63) != 0 {
			return frame{}, 0, fmt.Errorf("%w: 64-bit length has MSB set", ErrFrameTooLarge)
		}
		off += 8
	}
	if length > maxFramePayload {
		return frame{}, 0, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	var mask [4]byte
	if masked {
		if len(buf) < off+4 {
			return frame{}, 0, nil
		}
		copy(mask[:], buf[off:])
		off += 4
	}
	if uint64(len(buf)-off) < length {
		return frame{}, 0, nil
	}
	f.payload = buf[off : off+int(length)]
	if masked {
		applyMask(f.payload, mask)
	}
	return f, off + int(length), nil
}

// encodeFrame serializes a frame, masking the payload when masked is set. The
// payload slice is not modified.
func encodeFrame(f frame, masked bool) []byte {
	length := len(f.payload)
	out := make([]byte, 0, length+14)

	var b0 byte
	if f.fin {
		b0 |= 0x80
	}
	if f.rsv1 {
		b0 |= 0x40
	}
	b0 |= byte(f.opcode) & 0x0F
	out = append(out, b0)

	var b1 byte
	if masked {
		b1 |= 0x80
	}
	switch {
	case length <= 125:
		out = append(out, b1|byte(length))
	case length <= 0xFFFF:
		out = append(out, b1|126)
		out = binary.BigEndian.AppendUint16(out, uint16(length))
	default:
		out = append(out, b1|127)
		out = binary.BigEndian.AppendUint64(out, uint64(length))
	}

	if masked {
		var mask [4]byte
		_, _ = rand.Read(mask[:])
		out = append(out, mask[:]...)
		start := len(out)
		out = append(out, f.payload...)
		applyMask(out[start:], mask)
		return out
	}
	return append(out, f.payload...)
}

// applyMask XORs data in place with the 4-byte masking key (RFC 6455
// section 5.3). XOR is its own inverse, so the same call unmasks.
func applyMask(data []byte, mask [4]byte) {
	for i := range data {
		data[i] ^= mask[i%4]
	}
}
