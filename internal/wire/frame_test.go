package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-oscring/oscring/internal/constants"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Magic: constants.FrameMagic, Length: 32, Sequence: 7}
	buf := make([]byte, 16)
	EncodeHeader(buf, h)

	got, err := DecodeHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestDecodeHeaderShort(t *testing.T) {
	_, err := DecodeHeader(make([]byte, 8))
	assert.ErrorIs(t, err, ErrShortHeader)
}

func TestAlignedLength(t *testing.T) {
	assert.Equal(t, uint32(16), AlignedLength(0))
	assert.Equal(t, uint32(20), AlignedLength(1))
	assert.Equal(t, uint32(20), AlignedLength(4))
	assert.Equal(t, uint32(24), AlignedLength(5))
}

func TestPadFrameRoundTrip(t *testing.T) {
	buf := make([]byte, 4)
	WritePadFrame(buf)
	assert.True(t, IsPadFrame(buf))
	assert.False(t, IsDebugPad(buf))
}

func TestDebugPadDoesNotLookLikeFrameMagic(t *testing.T) {
	buf := []byte{DebugPadByte, 0, 0, 0}
	assert.True(t, IsDebugPad(buf))
	assert.False(t, IsPadFrame(buf), "DEBUG's single-byte marker must never collide with the 4-byte frame pad")
}

func TestIsBundle(t *testing.T) {
	msg := append([]byte("/status\x00"), make([]byte, 8)...)
	assert.False(t, IsBundle(msg))

	bundle := make([]byte, 24)
	copy(bundle, "#bundle\x00")
	assert.True(t, IsBundle(bundle))
}

func TestBundleTimetagImmediate(t *testing.T) {
	bundle := make([]byte, 16)
	copy(bundle, "#bundle\x00")
	// seconds=0, fraction=1 => NTP time of 1/2^32, still "immediate" per
	// the spec's <=1 rule which callers apply on top of this extraction.
	bundle[15] = 1
	tt, err := BundleTimetag(bundle)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/4294967296.0, tt, 1e-12)
}

func TestBundleTimetagRejectsNonBundle(t *testing.T) {
	_, err := BundleTimetag([]byte("/status\x00,\x00\x00\x00"))
	assert.Error(t, err)
}

func TestBundleElements(t *testing.T) {
	bundle := make([]byte, 16)
	copy(bundle, "#bundle\x00")

	elem1 := []byte("/a\x00\x00,i\x00\x00")
	elem2 := []byte("/b\x00\x00,i\x00\x00")

	body := appendSizedElement(nil, elem1)
	body = appendSizedElement(body, elem2)
	bundle = append(bundle, body...)

	elems, err := BundleElements(bundle)
	require.NoError(t, err)
	require.Len(t, elems, 2)
	assert.Equal(t, elem1, elems[0])
	assert.Equal(t, elem2, elems[1])
}

func TestBundleElementsTruncated(t *testing.T) {
	bundle := make([]byte, 16)
	copy(bundle, "#bundle\x00")
	bundle = append(bundle, 0, 0, 0, 8) // declares 8 bytes, provides 0
	_, err := BundleElements(bundle)
	assert.Error(t, err)
}

func appendSizedElement(dst []byte, elem []byte) []byte {
	size := make([]byte, 4)
	size[0] = byte(len(elem) >> 24)
	size[1] = byte(len(elem) >> 16)
	size[2] = byte(len(elem) >> 8)
	size[3] = byte(len(elem))
	dst = append(dst, size...)
	dst = append(dst, elem...)
	return dst
}
