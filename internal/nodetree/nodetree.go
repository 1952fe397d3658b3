// Package nodetree implements the node-tree snapshot region of spec
// §4.7/§9: a fixed-capacity arena of plain node entries addressed by
// integer index rather than pointer, immediately following the metrics
// region in the shared layout. The consumer is the sole writer; readers
// take a version number as a coarse change detector and accept torn
// reads across a non-atomic multi-field entry.
package nodetree

import (
	"encoding/binary"
	"errors"
	"sync/atomic"
	"unsafe"

	"github.com/go-oscring/oscring/internal/constants"
)

var errTooManyEntries = errors.New("nodetree: entries exceed MaxNodeTreeEntries")

// Entry is one node-tree arena slot: a forest of parent/prev/next/head
// indices into the same arena, never pointers, per spec §9's explicit
// "array of plain structs with integer indices" decision.
type Entry struct {
	ID      int32
	Parent  int32
	IsGroup bool
	Prev    int32
	Next    int32
	Head    int32
	DefName string
}

// Tree wraps the raw region and offers typed accessors over it. Region
// must be at least constants.NodeTreeRegionSize bytes.
type Tree struct {
	region []byte
}

// New wraps region as a node-tree snapshot; it panics if region is too
// small, mirroring control.New's contract for its own region.
func New(region []byte) *Tree {
	if len(region) < constants.NodeTreeRegionSize {
		panic("nodetree: region smaller than NodeTreeRegionSize")
	}
	return &Tree{region: region}
}

func (t *Tree) countPtr() *uint32 {
	return (*uint32)(unsafe.Pointer(&t.region[0]))
}

func (t *Tree) versionPtr() *uint32 {
	return (*uint32)(unsafe.Pointer(&t.region[4]))
}

// Count returns the number of live entries published in the last Reset.
func (t *Tree) Count() uint32 { return atomic.LoadUint32(t.countPtr()) }

// Version returns the coarse change counter, bumped by every Reset.
func (t *Tree) Version() uint32 { return atomic.LoadUint32(t.versionPtr()) }

func (t *Tree) entryOffset(i int) int {
	return constants.NodeTreeHeaderSize + i*constants.NodeEntrySize
}

// Reset overwrites the entire arena with entries and bumps version.
// Writers call this; it is not safe to interleave with concurrent Entry
// reads except insofar as readers accept torn snapshots by design.
func (t *Tree) Reset(entries []Entry) error {
	if len(entries) > constants.MaxNodeTreeEntries {
		return errTooManyEntries
	}
	for i, e := range entries {
		t.writeEntry(i, e)
	}
	for i := len(entries); i < constants.MaxNodeTreeEntries; i++ {
		t.writeEntry(i, Entry{ID: constants.NoNodeIndex, Parent: constants.NoNodeIndex,
			Prev: constants.NoNodeIndex, Next: constants.NoNodeIndex, Head: constants.NoNodeIndex})
	}
	atomic.StoreUint32(t.countPtr(), uint32(len(entries)))
	atomic.AddUint32(t.versionPtr(), 1)
	return nil
}

func (t *Tree) writeEntry(i int, e Entry) {
	off := t.entryOffset(i)
	buf := t.region[off : off+constants.NodeEntrySize]

	binary.LittleEndian.PutUint32(buf[0:4], uint32(e.ID))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(e.Parent))
	if e.IsGroup {
		binary.LittleEndian.PutUint32(buf[8:12], 1)
	} else {
		binary.LittleEndian.PutUint32(buf[8:12], 0)
	}
	binary.LittleEndian.PutUint32(buf[12:16], uint32(e.Prev))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(e.Next))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(e.Head))

	nameField := buf[24 : 24+constants.NodeDefNameSize]
	for i := range nameField {
		nameField[i] = 0
	}
	copy(nameField, e.DefName)
}

// Entry reads the i-th arena slot. Callers loop i in [0, Count()) after
// reading Version once before and once after to detect a torn snapshot.
func (t *Tree) Entry(i int) Entry {
	off := t.entryOffset(i)
	buf := t.region[off : off+constants.NodeEntrySize]

	isGroup := binary.LittleEndian.Uint32(buf[8:12]) != 0
	nameField := buf[24 : 24+constants.NodeDefNameSize]
	nameLen := 0
	for nameLen < len(nameField) && nameField[nameLen] != 0 {
		nameLen++
	}

	return Entry{
		ID:      int32(binary.LittleEndian.Uint32(buf[0:4])),
		Parent:  int32(binary.LittleEndian.Uint32(buf[4:8])),
		IsGroup: isGroup,
		Prev:    int32(binary.LittleEndian.Uint32(buf[12:16])),
		Next:    int32(binary.LittleEndian.Uint32(buf[16:20])),
		Head:    int32(binary.LittleEndian.Uint32(buf[20:24])),
		DefName: string(nameField[:nameLen]),
	}
}

// Snapshot copies every live entry (index 0..Count()) out as a plain
// slice, retrying once if Version changed mid-copy and then returning an
// unchecked third copy if it changed again — the bounded way a
// reader can get a consistent view without taking the writer's lock
// (there isn't one; spec §4.2's shared-resource policy makes the
// node-tree region writer-only with readers accepting torn reads, so
// this is a best-effort convenience, not a correctness guarantee).
func (t *Tree) Snapshot() []Entry {
	for attempt := 0; attempt < 2; attempt++ {
		before := t.Version()
		count := t.Count()
		out := make([]Entry, count)
		for i := range out {
			out[i] = t.Entry(i)
		}
		if t.Version() == before {
			return out
		}
	}
	// Third attempt wins regardless of tearing; spec explicitly accepts this.
	count := t.Count()
	out := make([]Entry, count)
	for i := range out {
		out[i] = t.Entry(i)
	}
	return out
}
