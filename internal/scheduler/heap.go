package scheduler

// ScheduledEvent is one entry in the pre-scheduler's min-heap, keyed by
// (NTPTime, Seq) per spec §4.4. Seq is the monotonic insertion order,
// used only to break ties between events scheduled for the identical
// NTP time, so push order survives even when many bundles target the
// same instant.
type ScheduledEvent struct {
	NTPTime   float64
	Seq       uint64
	Payload   []byte
	SessionID uint32
	RunTag    string
}

// eventHeap implements container/heap.Interface. The root is always the
// event with the smallest (NTPTime, Seq).
type eventHeap []*ScheduledEvent

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].NTPTime != h[j].NTPTime {
		return h[i].NTPTime < h[j].NTPTime
	}
	return h[i].Seq < h[j].Seq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) {
	*h = append(*h, x.(*ScheduledEvent))
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
