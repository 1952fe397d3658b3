// Package nodeid implements the range-based node-ID allocator of spec
// §4.6: each producer holds a local [lo, hi) range and cursor, claiming
// a fresh range from the shared control-block counter only when its
// current range is exhausted. This amortizes the shared-atomic round
// trip to one claim per width allocations instead of one per call.
package nodeid

import (
	"github.com/go-oscring/oscring/internal/constants"
	"github.com/go-oscring/oscring/internal/control"
)

// Allocator hands out strictly increasing, globally unique u32 IDs to
// one producer. It is not safe for concurrent use by multiple
// goroutines — each producer owns its own Allocator, matching the
// "per-producer local cursor" design; concurrency is resolved only at
// the shared NEXT_BASE claim, via the control block's fetch-add.
type Allocator struct {
	block *control.Block
	width uint32
	lo    uint32
	hi    uint32
	next  uint32
}

// New returns an Allocator that claims ranges of the given width from
// block's shared NEXT_BASE counter. Use constants.RangeLocal for
// primary (fast-path atomic) producers and constants.RangeRemote for
// replicated/fallback-mode producers, per spec §4.6.
func New(block *control.Block, width uint32) *Allocator {
	return &Allocator{block: block, width: width}
}

// NewLocal is a convenience constructor using RangeLocal.
func NewLocal(block *control.Block) *Allocator {
	return New(block, constants.RangeLocal)
}

// NewRemote is a convenience constructor using RangeRemote.
func NewRemote(block *control.Block) *Allocator {
	return New(block, constants.RangeRemote)
}

// NextNodeID returns cursor++, claiming a fresh range from the shared
// counter when the current one is exhausted. Every returned ID is
// >= constants.NodeIDBase (guaranteed transitively: NEXT_BASE is seeded
// there and only ever increases) and, within this Allocator, strictly
// increasing across any number of range-claim boundaries.
func (a *Allocator) NextNodeID() uint32 {
	if a.next >= a.hi {
		a.lo = a.block.NextNodeIDBase(a.width)
		a.hi = a.lo + a.width
		a.next = a.lo
	}
	id := a.next
	a.next++
	return id
}
