// Package control implements the shared control block: the fixed-size
// region of atomically-accessed u32 words (head/tail/sequence/lock per
// ring, plus the node-ID allocator's NEXT_BASE) and the IN write
// protocol of spec §4.2. OUT and DEBUG reuse the same word accessors but
// skip the lock step, since the consumer is their sole writer.
package control

import (
	"sync/atomic"
	"unsafe"

	"github.com/go-oscring/oscring/internal/constants"
	"github.com/go-oscring/oscring/internal/ring"
	"github.com/go-oscring/oscring/internal/wire"
)

// Block views a constants.ControlBlockSize-byte region as the set of
// atomic words every ring and the node-ID allocator share. It is safe
// for concurrent use by any number of producers and the consumer, since
// every exported accessor goes through sync/atomic.
type Block struct {
	base []byte
}

// New wraps base, which must be at least constants.ControlBlockSize bytes.
func New(base []byte) *Block {
	if len(base) < constants.ControlBlockSize {
		panic("control: base region smaller than ControlBlockSize")
	}
	return &Block{base: base[:constants.ControlBlockSize]}
}

func (b *Block) word(offset int) *uint32 {
	return (*uint32)(unsafe.Pointer(&b.base[offset]))
}

func (b *Block) load(offset int) uint32            { return atomic.LoadUint32(b.word(offset)) }
func (b *Block) store(offset int, v uint32)         { atomic.StoreUint32(b.word(offset), v) }
func (b *Block) add(offset int, delta uint32) uint32 {
	return atomic.AddUint32(b.word(offset), delta) - delta // returns the pre-add value, i.e. the assigned sequence/ID
}
func (b *Block) cas(offset int, old, new uint32) bool {
	return atomic.CompareAndSwapUint32(b.word(offset), old, new)
}

// Named accessors, one pair per control-block word.
func (b *Block) InHead() uint32           { return b.load(constants.OffInHead) }
func (b *Block) SetInHead(v uint32)       { b.store(constants.OffInHead, v) }
func (b *Block) InTail() uint32           { return b.load(constants.OffInTail) }
func (b *Block) SetInTail(v uint32)       { b.store(constants.OffInTail, v) }
func (b *Block) InLogTail() uint32        { return b.load(constants.OffInLogTail) }
func (b *Block) SetInLogTail(v uint32)    { b.store(constants.OffInLogTail, v) }
func (b *Block) OutHead() uint32          { return b.load(constants.OffOutHead) }
func (b *Block) SetOutHead(v uint32)      { b.store(constants.OffOutHead, v) }
func (b *Block) OutTail() uint32          { return b.load(constants.OffOutTail) }
func (b *Block) SetOutTail(v uint32)      { b.store(constants.OffOutTail, v) }
func (b *Block) DebugHead() uint32        { return b.load(constants.OffDebugHead) }
func (b *Block) SetDebugHead(v uint32)    { b.store(constants.OffDebugHead, v) }
func (b *Block) DebugTail() uint32        { return b.load(constants.OffDebugTail) }
func (b *Block) SetDebugTail(v uint32)    { b.store(constants.OffDebugTail, v) }
func (b *Block) StatusFlags() uint32      { return b.load(constants.OffStatusFlags) }
func (b *Block) SetStatusFlags(v uint32)  { b.store(constants.OffStatusFlags, v) }

// OutHeadPtr and DebugHeadPtr expose the raw word address backing
// OUT_HEAD/DEBUG_HEAD, for internal/futex.Wait to park on: the consumer's
// drain loop blocks until the consumer's writer path (Consumer.WriteOut or
// Consumer.WriteDebug) advances head and wakes it, instead of spinning.
func (b *Block) OutHeadPtr() *uint32   { return b.word(constants.OffOutHead) }
func (b *Block) DebugHeadPtr() *uint32 { return b.word(constants.OffDebugHead) }

// nextSequence returns offset's current value and atomically advances it
// by one, per the fetch-add step of spec §4.2/§4.3.
func (b *Block) nextSequence(offset int) uint32 { return b.add(offset, 1) }

func (b *Block) NextInSequence() uint32    { return b.nextSequence(constants.OffInSequence) }
func (b *Block) NextOutSequence() uint32   { return b.nextSequence(constants.OffOutSequence) }
func (b *Block) NextDebugSequence() uint32 { return b.nextSequence(constants.OffDebugSeq) }

// NextNodeIDBase claims a range of width starting at the current
// NEXT_BASE value via fetch-add, for internal/nodeid.
func (b *Block) NextNodeIDBase(width uint32) uint32 { return b.add(constants.OffNodeIDAtomic, width) }

// InitNodeIDBase seeds NEXT_BASE once at region initialization, via CAS
// from 0 so concurrent initializers can't clobber an already-seeded base.
func (b *Block) InitNodeIDBase(base uint32) {
	b.cas(constants.OffNodeIDAtomic, 0, base)
}

// Reset zeroes every control-block word, as required by shutdown (spec
// §5's "reset head/tail/sequence counters to zero").
func (b *Block) Reset() {
	for off := 0; off < constants.ControlBlockSize; off += 4 {
		b.store(off, 0)
	}
}

// tryAcquireWriteLock spins up to MaxWriteLockSpins attempting
// compareExchange(0 -> 1) on IN_WRITE_LOCK.
func (b *Block) tryAcquireWriteLock() bool {
	for i := 0; i < constants.MaxWriteLockSpins; i++ {
		if b.cas(constants.OffInWriteLock, 0, 1) {
			return true
		}
	}
	return false
}

func (b *Block) releaseWriteLock() {
	b.store(constants.OffInWriteLock, 0)
}

// WriteResult reports what WriteIn actually did, for callers (the
// producer front-end, the scheduler's dispatch cycle) that need the
// assigned sequence number or the specific failure kind.
type WriteResult struct {
	Sequence uint32
	NewHead  uint32
}

// WriteOutcome is the kind of result the Write* methods return alongside
// WriteResult: WriteOK, or one of the failure kinds WriteBusy (lock spin
// budget exhausted), WriteFull (not enough free space) and WriteOversize
// (the frame could never fit). Callers switch on the value.
type WriteOutcome int

const (
	WriteOK WriteOutcome = iota
	WriteBusy
	WriteFull
	WriteOversize
)

// WriteIn implements spec §4.2's full protocol: bounded CAS spin on
// IN_WRITE_LOCK, acquire-load head/tail, free-capacity check, fetch-add
// IN_SEQUENCE, ring.WriteMessage, release-store of head, lock release.
func (b *Block) WriteIn(inRing []byte, payload []byte) (WriteResult, WriteOutcome) {
	size := uint32(len(inRing))
	aligned := wire.AlignedLength(len(payload))
	if aligned > size-constants.HeaderSize {
		return WriteResult{}, WriteOversize
	}

	if !b.tryAcquireWriteLock() {
		return WriteResult{}, WriteBusy
	}
	defer b.releaseWriteLock()

	head := b.InHead()
	tail := b.InTail()
	used := (head - tail + size) % size
	free := size - used - 1 // reserve one slot so head==tail stays unambiguous as "empty"
	if free < aligned {
		return WriteResult{}, WriteFull
	}

	seq := b.NextInSequence()
	newHead := ring.WriteMessage(inRing, head, payload, seq, wire.PadFrame)
	b.SetInHead(newHead)

	return WriteResult{Sequence: seq, NewHead: newHead}, WriteOK
}

// WriteOut and WriteDebug are the single-writer (consumer-only)
// counterparts of WriteIn: no lock, since OUT and DEBUG have exactly one
// writer by construction (spec §4.2 ¶ "OUT and DEBUG rings ... omit
// steps 2/7").
func (b *Block) WriteOut(outRing []byte, payload []byte) (WriteResult, WriteOutcome) {
	return b.writeUnlocked(outRing, payload, b.OutHead, b.SetOutHead, b.OutTail, b.NextOutSequence, wire.PadFrame)
}

func (b *Block) WriteDebug(debugRing []byte, payload []byte) (WriteResult, WriteOutcome) {
	return b.writeUnlocked(debugRing, payload, b.DebugHead, b.SetDebugHead, b.DebugTail, b.NextDebugSequence, wire.PadByte)
}

func (b *Block) writeUnlocked(buf []byte, payload []byte, getHead func() uint32, setHead func(uint32), getTail func() uint32, nextSeq func() uint32, padding wire.PaddingKind) (WriteResult, WriteOutcome) {
	size := uint32(len(buf))
	aligned := wire.AlignedLength(len(payload))
	if aligned > size-constants.HeaderSize {
		return WriteResult{}, WriteOversize
	}

	head := getHead()
	tail := getTail()
	used := (head - tail + size) % size
	free := size - used - 1
	if free < aligned {
		return WriteResult{}, WriteFull
	}

	seq := nextSeq()
	newHead := ring.WriteMessage(buf, head, payload, seq, padding)
	setHead(newHead)

	return WriteResult{Sequence: seq, NewHead: newHead}, WriteOK
}
