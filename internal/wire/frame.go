// Package wire defines the bit-exact framed-message format shared by the
// IN, OUT, and DEBUG rings, plus the OSC bundle timetag extraction needed
// to classify and schedule bundles. It owns no buffers and touches no
// atomics; it only interprets and produces byte layouts.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-oscring/oscring/internal/constants"
)

// Header is the fixed 16-byte frame header:
//
//	bytes 0-3:   magic (LE u32)
//	bytes 4-7:   length, aligned total frame length (LE u32)
//	bytes 8-11:  sequence (LE u32)
//	bytes 12-15: reserved (zero)
type Header struct {
	Magic    uint32
	Length   uint32
	Sequence uint32
	Reserved uint32
}

// PaddingKind distinguishes the marker a ring uses at end-of-buffer wrap,
// per the layout descriptor. IN and OUT use a full 4-byte magic-shaped
// marker; DEBUG (raw text) uses a single byte. Mixing them is the latent
// bug spec.md's Open Question calls out, so callers must say which one
// they mean instead of a reader inferring it from the ring's identity.
type PaddingKind int

const (
	// PadFrame is the 4-byte, frame-shaped padding marker used by IN/OUT.
	PadFrame PaddingKind = iota
	// PadByte is the single-byte padding marker used by DEBUG.
	PadByte
)

// ErrShortHeader is returned by DecodeHeader when fewer than HeaderSize
// bytes are available.
var ErrShortHeader = errors.New("wire: fewer than 16 bytes available for header")

// EncodeHeader writes h into dst[0:16] in little-endian order.
func EncodeHeader(dst []byte, h Header) {
	binary.LittleEndian.PutUint32(dst[0:4], h.Magic)
	binary.LittleEndian.PutUint32(dst[4:8], h.Length)
	binary.LittleEndian.PutUint32(dst[8:12], h.Sequence)
	binary.LittleEndian.PutUint32(dst[12:16], h.Reserved)
}

// DecodeHeader reads a Header from src[0:16].
func DecodeHeader(src []byte) (Header, error) {
	if len(src) < constants.HeaderSize {
		return Header{}, ErrShortHeader
	}
	return Header{
		Magic:    binary.LittleEndian.Uint32(src[0:4]),
		Length:   binary.LittleEndian.Uint32(src[4:8]),
		Sequence: binary.LittleEndian.Uint32(src[8:12]),
		Reserved: binary.LittleEndian.Uint32(src[12:16]),
	}, nil
}

// AlignedLength rounds header+payload up to a multiple of FrameAlign.
func AlignedLength(payloadLen int) uint32 {
	total := constants.HeaderSize + payloadLen
	rem := total % constants.FrameAlign
	if rem == 0 {
		return uint32(total)
	}
	return uint32(total + constants.FrameAlign - rem)
}

// WritePadFrame writes a 4-byte padding marker at dst[0:4]. Used by IN/OUT
// at the would-be start of a frame that doesn't fit before ring-end.
func WritePadFrame(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], constants.PadMagic)
}

// IsPadFrame reports whether the 4 bytes at src[0:4] are the frame-shaped
// padding marker.
func IsPadFrame(src []byte) bool {
	return len(src) >= 4 && binary.LittleEndian.Uint32(src[0:4]) == constants.PadMagic
}

// DebugPadByte is the single-byte marker DEBUG writes at its current head
// when a frame would not fit before ring-end. It is deliberately not a
// valid leading byte of FrameMagic or PadMagic in little-endian form.
const DebugPadByte byte = 0xFF

// IsDebugPad reports whether src[0] is the DEBUG single-byte pad marker.
func IsDebugPad(src []byte) bool {
	return len(src) >= 1 && src[0] == DebugPadByte
}

// bundleTag is the 8-byte ASCII prefix identifying an OSC bundle.
var bundleTag = [8]byte{'#', 'b', 'u', 'n', 'd', 'l', 'e', 0}

// IsBundle reports whether payload begins with the OSC bundle tag and is
// at least 16 bytes long (tag plus timetag).
func IsBundle(payload []byte) bool {
	if len(payload) < 16 {
		return false
	}
	for i, b := range bundleTag {
		if payload[i] != b {
			return false
		}
	}
	return true
}

// BundleTimetag extracts the NTP time (seconds.fraction as a float64)
// from bytes 8-15 of a bundle payload: big-endian 32-bit seconds followed
// by big-endian 32-bit fraction.
func BundleTimetag(payload []byte) (float64, error) {
	if !IsBundle(payload) {
		return 0, fmt.Errorf("wire: payload is not an OSC bundle")
	}
	seconds := binary.BigEndian.Uint32(payload[8:12])
	fraction := binary.BigEndian.Uint32(payload[12:16])
	return float64(seconds) + float64(fraction)/4294967296.0, nil
}

// BundleElements splits the inner, size-prefixed messages out of a bundle
// payload's tail (bytes 16 onward): each element is a big-endian u32 size
// followed by that many bytes.
func BundleElements(payload []byte) ([][]byte, error) {
	if !IsBundle(payload) {
		return nil, fmt.Errorf("wire: payload is not an OSC bundle")
	}
	var out [][]byte
	rest := payload[16:]
	for len(rest) > 0 {
		if len(rest) < 4 {
			return nil, fmt.Errorf("wire: truncated bundle element size")
		}
		size := binary.BigEndian.Uint32(rest[0:4])
		rest = rest[4:]
		if uint64(size) > uint64(len(rest)) {
			return nil, fmt.Errorf("wire: bundle element size %d exceeds remaining %d bytes", size, len(rest))
		}
		out = append(out, rest[:size])
		rest = rest[size:]
	}
	return out, nil
}
