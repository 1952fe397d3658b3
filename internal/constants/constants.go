// Package constants holds the fixed numeric contract of the core: ring
// framing sizes, control-block offsets, and the scheduler/allocator
// defaults documented by the layout specification.
package constants

import "time"

// Frame header layout (see internal/wire).
const (
	// FrameMagic marks the start of a valid frame header.
	FrameMagic uint32 = 0xDEADBEEF

	// PadMagic marks the start of a would-be next frame that doesn't fit
	// before the end of the ring; readers wrap tail to 0 on seeing it.
	// It is distinct from FrameMagic so a reader never mistakes padding
	// for a real frame header.
	PadMagic uint32 = 0xFADEFADE

	// HeaderSize is the fixed 16-byte frame header: magic, length,
	// sequence, reserved.
	HeaderSize = 16

	// FrameAlign is the byte alignment every frame length is rounded up to.
	FrameAlign = 4
)

// Control block word offsets, one atomically-accessed uint32 per slot.
const (
	OffInHead       = 0
	OffInTail       = 4
	OffInLogTail    = 8
	OffOutHead      = 12
	OffOutTail      = 16
	OffDebugHead    = 20
	OffDebugTail    = 24
	OffInSequence   = 28
	OffOutSequence  = 32
	OffDebugSeq     = 36
	OffStatusFlags  = 40
	OffInWriteLock  = 44
	OffNodeIDAtomic = 48

	// ControlBlockSize is the total byte size of the control block.
	ControlBlockSize = 64
)

// Default ring and region sizes.
const (
	DefaultInRingSize    = 64 * 1024
	DefaultOutRingSize   = 16 * 1024
	DefaultDebugRingSize = 16 * 1024

	// AudioCaptureRegionSize reserves space for the non-load-bearing
	// AUDIO_CAPTURE sub-region so layout offsets match a full
	// implementation that does own audio capture.
	AudioCaptureRegionSize = 0
)

// Pre-scheduler defaults (spec §4.4).
const (
	// DefaultPollInterval is how often the scheduler runs a dispatch cycle.
	DefaultPollInterval = 25 * time.Millisecond

	// DefaultLookahead is how far into the future the scheduler dispatches
	// events on each poll cycle.
	DefaultLookahead = 200 * time.Millisecond

	// DefaultBypassLookahead is the per-producer window inside which a
	// bundle is routed directly to IN instead of through the scheduler.
	DefaultBypassLookahead = 200 * time.Millisecond

	// MaxRetriesPerMessage is the retry budget before a message is
	// dropped with SchedulerRetriesExhausted.
	MaxRetriesPerMessage = 5

	// MaxPendingMessages bounds heap-depth + retry-queue-depth combined.
	MaxPendingMessages = 65536

	// NTPEpochOffset converts a Unix monotonic-seconds value to NTP time
	// (seconds since 1 Jan 1900).
	NTPEpochOffset = 2_208_988_800.0
)

// Node-ID allocator defaults (spec §4.6).
const (
	// NodeIDBase is the first ID ever handed out; all IDs are >= this.
	NodeIDBase = 1000

	// RangeLocal is the claim width for primary (fast-path atomic) producers.
	RangeLocal = 1000

	// RangeRemote is the claim width for replicated/fallback-mode producers.
	RangeRemote = 10000
)

// IN write-lock spin budget (spec §4.2 step 2).
const (
	// MaxWriteLockSpins bounds how many times WriteIn retries the CAS
	// acquiring IN_WRITE_LOCK before giving up and returning BufferBusy.
	MaxWriteLockSpins = 1000
)

// MetricsRegionSize is the byte size of the fixed-layout metrics region
// immediately preceding the node-tree region in a region.Layout. It must
// track the root package's metricCount exactly (enforced by
// TestMetricsRegionSizeMatchesLayoutConstant in metrics_test.go) — kept
// here rather than computed from the Metrics struct so internal/region
// never needs to import the root package.
const MetricsRegionSize = 19 * 4

// Node-tree snapshot region defaults (spec §4.7/§9).
const (
	// MaxNodeTreeEntries bounds the arena's fixed entry count.
	MaxNodeTreeEntries = 4096

	// NodeDefNameSize is the fixed byte width of a node entry's defName
	// field, null-padded.
	NodeDefNameSize = 32

	// NodeEntrySize is the fixed on-wire size of one node-tree entry:
	// id, parent, isGroup, prev, next, head (6 x int32) + defName.
	NodeEntrySize = 6*4 + NodeDefNameSize

	// NodeTreeHeaderSize is the u32 count + u32 version header preceding
	// the entry array.
	NodeTreeHeaderSize = 8

	// NodeTreeRegionSize is the total byte size of the node-tree region
	// immediately following the metrics region.
	NodeTreeRegionSize = NodeTreeHeaderSize + MaxNodeTreeEntries*NodeEntrySize

	// NoNodeIndex marks an unset parent/prev/next/head arena slot.
	NoNodeIndex int32 = -1
)

// Drain defaults.
const (
	// ParkedWaitTimeout bounds how long the OUT/DEBUG drain blocks on the
	// parked-wait primitive before re-checking state.
	ParkedWaitTimeout = 100 * time.Millisecond

	// MaxSequenceGapCharged is the exclusive bound on the sequence delta the
	// drain will attribute to dropped frames (deltas below it are charged);
	// deltas at or above it are treated as an unreliable read of a reused
	// byte range and ignored for counting.
	MaxSequenceGapCharged = 1000

	// DefaultReplySequenceBatch bounds frames drained per wake for OUT.
	DefaultReplySequenceBatch = 64

	// DefaultDebugSequenceBatch bounds frames drained per wake for DEBUG.
	DefaultDebugSequenceBatch = 256
)
