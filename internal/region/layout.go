// Package region computes and (de)serializes the shared-region layout
// descriptor of spec.md §3 ¶2: the small table of sub-region offsets and
// sizes the consumer publishes once, that every producer reads after
// attach and caches rather than re-deriving.
package region

import (
	"encoding/binary"
	"errors"

	"github.com/go-oscring/oscring/internal/constants"
)

// SubRegion is one named span of the shared byte region.
type SubRegion struct {
	Offset uint32
	Size   uint32
}

// Layout is the full published descriptor table. Only In, Out, Debug,
// Control, Metrics, and NodeTree are load-bearing for the core;
// AudioCapture is reserved so offsets match a full implementation that
// does own audio capture, per spec.md §3 ¶1.
type Layout struct {
	In           SubRegion
	Out          SubRegion
	Debug        SubRegion
	Control      SubRegion
	Metrics      SubRegion
	NodeTree     SubRegion
	AudioCapture SubRegion
}

// Sizes configures the three ring sizes a Layout is computed from;
// everything downstream (control, metrics, node-tree, audio-capture) is
// fixed width.
type Sizes struct {
	InRingSize    uint32
	OutRingSize   uint32
	DebugRingSize uint32
}

// DefaultSizes returns the layout sizes matching spec.md's documented
// constants.
func DefaultSizes() Sizes {
	return Sizes{
		InRingSize:    constants.DefaultInRingSize,
		OutRingSize:   constants.DefaultOutRingSize,
		DebugRingSize: constants.DefaultDebugRingSize,
	}
}

// Compute lays out every sub-region contiguously in the fixed order
// IN, OUT, DEBUG, CONTROL, METRICS, NODE_TREE, AUDIO_CAPTURE.
func Compute(s Sizes) Layout {
	var l Layout
	offset := uint32(0)

	l.In = SubRegion{Offset: offset, Size: s.InRingSize}
	offset += s.InRingSize

	l.Out = SubRegion{Offset: offset, Size: s.OutRingSize}
	offset += s.OutRingSize

	l.Debug = SubRegion{Offset: offset, Size: s.DebugRingSize}
	offset += s.DebugRingSize

	l.Control = SubRegion{Offset: offset, Size: constants.ControlBlockSize}
	offset += constants.ControlBlockSize

	l.Metrics = SubRegion{Offset: offset, Size: constants.MetricsRegionSize}
	offset += constants.MetricsRegionSize

	l.NodeTree = SubRegion{Offset: offset, Size: constants.NodeTreeRegionSize}
	offset += constants.NodeTreeRegionSize

	l.AudioCapture = SubRegion{Offset: offset, Size: constants.AudioCaptureRegionSize}
	offset += constants.AudioCaptureRegionSize

	return l
}

// TotalSize is the byte size of the whole shared region this Layout
// describes.
func (l Layout) TotalSize() uint32 {
	return l.AudioCapture.Offset + l.AudioCapture.Size
}

// encodedSize is 7 sub-regions x 2 uint32 fields x 4 bytes.
const encodedSize = 7 * 2 * 4

// ErrShortLayout is returned by Decode when src is too small to hold an
// encoded Layout.
var ErrShortLayout = errors.New("region: fewer than 56 bytes available for layout")

// Encode serializes l the same way the teacher's internal/uapi marshals
// fixed C-compatible structs: each field as a little-endian u32, in a
// fixed field order, so a producer attaching from a separate process
// image can decode it without sharing Go type information.
func (l Layout) Encode() []byte {
	buf := make([]byte, encodedSize)
	subs := []SubRegion{l.In, l.Out, l.Debug, l.Control, l.Metrics, l.NodeTree, l.AudioCapture}
	for i, s := range subs {
		binary.LittleEndian.PutUint32(buf[i*8:i*8+4], s.Offset)
		binary.LittleEndian.PutUint32(buf[i*8+4:i*8+8], s.Size)
	}
	return buf
}

// Decode is Encode's inverse.
func Decode(src []byte) (Layout, error) {
	if len(src) < encodedSize {
		return Layout{}, ErrShortLayout
	}
	read := func(i int) SubRegion {
		return SubRegion{
			Offset: binary.LittleEndian.Uint32(src[i*8 : i*8+4]),
			Size:   binary.LittleEndian.Uint32(src[i*8+4 : i*8+8]),
		}
	}
	return Layout{
		In:           read(0),
		Out:          read(1),
		Debug:        read(2),
		Control:      read(3),
		Metrics:      read(4),
		NodeTree:     read(5),
		AudioCapture: read(6),
	}, nil
}

// Slice returns the byte span of sub s within base.
func (s SubRegion) Slice(base []byte) []byte {
	return base[s.Offset : s.Offset+s.Size]
}
