package oscring

import (
	"sync/atomic"

	"github.com/go-oscring/oscring/internal/interfaces"
)

// Metrics is the fixed-layout counter region described by spec §4.7: the
// consumer and scheduler increment these with atomic ops, producers and
// the drain read them (atomically in shared-memory mode, by periodic
// copy-out in fallback mode — see internal/fallback). GetMetricsArray
// publishes them as a flat u32 slice at fixed offsets so an external
// reader never needs the Go struct layout.
type Metrics struct {
	OscOutMessagesSent atomic.Uint64
	MessagesProcessed  atomic.Uint64
	DroppedMessages    atomic.Uint64
	CorruptionEvents   atomic.Uint64

	BypassNonBundle   atomic.Uint64
	BypassImmediate   atomic.Uint64
	BypassNearFuture  atomic.Uint64
	BypassLate        atomic.Uint64
	BypassFarFuture   atomic.Uint64

	BundlesScheduled atomic.Uint64
	TotalDispatches  atomic.Uint64
	RetriesRequested atomic.Uint64
	RetriesSucceeded atomic.Uint64
	EventsCancelled  atomic.Uint64
	MessagesDropped  atomic.Uint64 // scheduler drops: retries exhausted or oversize

	PendingDepth     atomic.Uint32
	PeakPendingDepth atomic.Uint32
	RetryDepth       atomic.Uint32
	PeakRetryDepth   atomic.Uint32
}

// NewMetrics returns a zeroed metrics region.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// PreschedulerBypassed returns the sum of the four bypass_* counters,
// which must equal the aggregate bypass count at all times (spec §8.5).
func (m *Metrics) PreschedulerBypassed() uint64 {
	return m.BypassNonBundle.Load() + m.BypassImmediate.Load() +
		m.BypassNearFuture.Load() + m.BypassLate.Load()
}

// RecordBypass increments the counter matching kind ("nonBundle",
// "immediate", "nearFuture", "late"). farFuture bundles are enqueued, not
// bypassed, and have no counter here.
func (m *Metrics) RecordBypass(kind string) {
	switch kind {
	case "nonBundle":
		m.BypassNonBundle.Add(1)
	case "immediate":
		m.BypassImmediate.Add(1)
	case "nearFuture":
		m.BypassNearFuture.Add(1)
	case "late":
		m.BypassLate.Add(1)
	}
}

// SetPendingDepth records the heap depth and bumps the running peak.
func (m *Metrics) SetPendingDepth(depth uint32) {
	m.PendingDepth.Store(depth)
	bumpPeak(&m.PeakPendingDepth, depth)
}

// SetRetryDepth records the retry-queue depth and bumps the running peak.
func (m *Metrics) SetRetryDepth(depth uint32) {
	m.RetryDepth.Store(depth)
	bumpPeak(&m.PeakRetryDepth, depth)
}

func bumpPeak(peak *atomic.Uint32, v uint32) {
	for {
		cur := peak.Load()
		if v <= cur {
			return
		}
		if peak.CompareAndSwap(cur, v) {
			return
		}
	}
}

// metricOffsets fixes the word offset of every counter in the flat array
// returned by GetMetricsArray, in counter units (not bytes). This is the
// schema spec §4.7 calls load-bearing: producers consuming the array by
// index must see these offsets.
const (
	metricOffOscOutMessagesSent = iota
	metricOffMessagesProcessed
	metricOffDroppedMessages
	metricOffCorruptionEvents
	metricOffBypassNonBundle
	metricOffBypassImmediate
	metricOffBypassNearFuture
	metricOffBypassLate
	metricOffBypassFarFuture
	metricOffBundlesScheduled
	metricOffTotalDispatches
	metricOffRetriesRequested
	metricOffRetriesSucceeded
	metricOffEventsCancelled
	metricOffMessagesDropped
	metricOffPendingDepth
	metricOffPeakPendingDepth
	metricOffRetryDepth
	metricOffPeakRetryDepth

	metricCount
)

// GetMetricsArray returns a lazy, point-in-time view over the metrics
// region as a flat u32 slice, per spec §6's exposed producer API. Values
// above 2^32-1 are saturated rather than wrapped.
func (m *Metrics) GetMetricsArray() []uint32 {
	out := make([]uint32, metricCount)
	out[metricOffOscOutMessagesSent] = saturate(m.OscOutMessagesSent.Load())
	out[metricOffMessagesProcessed] = saturate(m.MessagesProcessed.Load())
	out[metricOffDroppedMessages] = saturate(m.DroppedMessages.Load())
	out[metricOffCorruptionEvents] = saturate(m.CorruptionEvents.Load())
	out[metricOffBypassNonBundle] = saturate(m.BypassNonBundle.Load())
	out[metricOffBypassImmediate] = saturate(m.BypassImmediate.Load())
	out[metricOffBypassNearFuture] = saturate(m.BypassNearFuture.Load())
	out[metricOffBypassLate] = saturate(m.BypassLate.Load())
	out[metricOffBypassFarFuture] = saturate(m.BypassFarFuture.Load())
	out[metricOffBundlesScheduled] = saturate(m.BundlesScheduled.Load())
	out[metricOffTotalDispatches] = saturate(m.TotalDispatches.Load())
	out[metricOffRetriesRequested] = saturate(m.RetriesRequested.Load())
	out[metricOffRetriesSucceeded] = saturate(m.RetriesSucceeded.Load())
	out[metricOffEventsCancelled] = saturate(m.EventsCancelled.Load())
	out[metricOffMessagesDropped] = saturate(m.MessagesDropped.Load())
	out[metricOffPendingDepth] = m.PendingDepth.Load()
	out[metricOffPeakPendingDepth] = m.PeakPendingDepth.Load()
	out[metricOffRetryDepth] = m.RetryDepth.Load()
	out[metricOffPeakRetryDepth] = m.PeakRetryDepth.Load()
	return out
}

func saturate(v uint64) uint32 {
	if v > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(v)
}

// MetricsObserver implements interfaces.Observer by recording onto a
// Metrics region, so scheduler and drain code depend only on the
// interface while production wiring routes events into real counters.
type MetricsObserver struct {
	metrics *Metrics
	onError func(kind string, err error)
}

// NewMetricsObserver builds an observer recording dispatch/cancel events
// into m. onError, if non-nil, is additionally invoked for every OnError
// call (e.g. to forward into a Logger).
func NewMetricsObserver(m *Metrics, onError func(kind string, err error)) *MetricsObserver {
	return &MetricsObserver{metrics: m, onError: onError}
}

func (o *MetricsObserver) OnError(kind string, err error) {
	if o.onError != nil {
		o.onError(kind, err)
	}
}

func (o *MetricsObserver) OnDispatch(sessionID uint32, runTag string, attempts uint32) {
	o.metrics.TotalDispatches.Add(1)
	if attempts > 1 {
		o.metrics.RetriesSucceeded.Add(1)
	}
}

func (o *MetricsObserver) OnCancel(sessionID uint32, runTag string, removed int) {
	o.metrics.EventsCancelled.Add(uint64(removed))
}

func (o *MetricsObserver) SetPendingDepth(depth uint32) { o.metrics.SetPendingDepth(depth) }
func (o *MetricsObserver) SetRetryDepth(depth uint32)   { o.metrics.SetRetryDepth(depth) }
func (o *MetricsObserver) IncBundlesScheduled()         { o.metrics.BundlesScheduled.Add(1) }
func (o *MetricsObserver) IncMessagesDropped()          { o.metrics.MessagesDropped.Add(1) }

var (
	_ interfaces.Observer      = (*MetricsObserver)(nil)
	_ interfaces.SchedulerSink = (*MetricsObserver)(nil)
)
