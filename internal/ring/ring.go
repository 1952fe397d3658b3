// Package ring implements the pure positional ring-buffer primitives
// shared by every writer and reader of IN, OUT, and DEBUG: ReadMessages
// and WriteMessage. Neither function touches an atomic or a lock; they
// only compute byte positions and move bytes. This is deliberate — the
// same body of code backs the audio-thread IN drain, the OUT/DEBUG
// drain, the pre-scheduler's dispatch, and the producer front-end's
// bypass path, so a bug fixed once is fixed everywhere.
package ring

import (
	"github.com/go-oscring/oscring/internal/constants"
	"github.com/go-oscring/oscring/internal/wire"
)

// OnFrame is invoked once per well-formed frame read, with a copy of the
// payload bytes (never an alias into the ring).
type OnFrame func(payload []byte, sequence uint32, length uint32)

// OnCorruption is invoked once per byte-level resync step, with the ring
// offset where the bad magic was found.
type OnCorruption func(offset uint32)

// ReadResult reports the outcome of a ReadMessages call.
type ReadResult struct {
	NewTail    uint32
	FrameCount int
}

// ReadMessages walks frames forward from tail until tail==head,
// maxFrames is reached, or the ring is exhausted, per spec §4.1. It never
// writes to base and never mutates shared atomics — the caller stores the
// returned tail.
func ReadMessages(base []byte, head, tail uint32, padding wire.PaddingKind, onFrame OnFrame, onCorruption OnCorruption, maxFrames int) ReadResult {
	size := uint32(len(base))
	frames := 0

	for tail != head {
		if maxFrames > 0 && frames >= maxFrames {
			break
		}

		// Not enough room left before ring-end for even a header: wrap.
		if size-tail < constants.HeaderSize {
			tail = 0
			if tail == head {
				break
			}
			continue
		}

		if isPadding(base[tail:], padding) {
			tail = 0
			continue
		}

		h, err := wire.DecodeHeader(base[tail:])
		if err != nil || h.Magic != constants.FrameMagic {
			if onCorruption != nil {
				onCorruption(tail)
			}
			tail = (tail + 1) % size
			frames++
			continue
		}

		if h.Length < constants.HeaderSize || h.Length > size {
			if onCorruption != nil {
				onCorruption(tail)
			}
			tail = (tail + 1) % size
			frames++
			continue
		}

		payloadLen := h.Length - constants.HeaderSize
		payload := make([]byte, payloadLen)
		copy(payload, base[tail+constants.HeaderSize:tail+h.Length])

		if onFrame != nil {
			onFrame(payload, h.Sequence, h.Length)
		}

		tail = (tail + h.Length) % size
		frames++
	}

	return ReadResult{NewTail: tail, FrameCount: frames}
}

func isPadding(at []byte, kind wire.PaddingKind) bool {
	switch kind {
	case wire.PadByte:
		return wire.IsDebugPad(at)
	default:
		return wire.IsPadFrame(at)
	}
}

// WriteMessage writes payload as a framed message at head, per spec
// §4.1: fast path when the aligned frame fits contiguously to ring-end;
// otherwise it marks padding at head (when the marker fits) and writes the
// whole frame starting at offset 0. It returns the new head. Purely
// positional: no atomics, no locks.
func WriteMessage(base []byte, head uint32, payload []byte, sequence uint32, padding wire.PaddingKind) uint32 {
	size := uint32(len(base))
	aligned := wire.AlignedLength(len(payload))

	h := wire.Header{Magic: constants.FrameMagic, Length: aligned, Sequence: sequence}

	if aligned <= size-head {
		// Fast path: the whole frame fits before ring-end.
		wire.EncodeHeader(base[head:], h)
		copy(base[head+constants.HeaderSize:], payload)
		return (head + aligned) % size
	}

	// Split path: mark padding at the old head (space permitting) and
	// place the entire frame starting at offset 0.
	writePadding(base, head, size, padding)

	wire.EncodeHeader(base[0:], h)
	copy(base[constants.HeaderSize:], payload)
	return aligned % size
}

func writePadding(base []byte, head, size uint32, kind wire.PaddingKind) {
	switch kind {
	case wire.PadByte:
		if head < size {
			base[head] = wire.DebugPadByte
		}
	default:
		if size-head >= 4 {
			wire.WritePadFrame(base[head:])
		}
	}
}
