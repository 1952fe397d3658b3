// Package scheduler implements the pre-scheduler of spec §4.4: a
// single-threaded component owning a min-heap of ScheduledEvent keyed by
// (ntp_time, seq) and a retry queue, dispatching into IN on a fixed poll
// interval.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/go-oscring/oscring/internal/constants"
	"github.com/go-oscring/oscring/internal/control"
	"github.com/go-oscring/oscring/internal/interfaces"
)

// ErrBackpressure is returned by ScheduleEvent when heap+retry depth is
// already at maxPendingMessages.
var ErrBackpressure = errors.New("scheduler: pending and retry queues at capacity")

// WriteInFunc attempts one non-blocking IN write, returning the outcome
// so the scheduler can distinguish success from a retryable failure.
type WriteInFunc func(payload []byte) control.WriteOutcome

type retryItem struct {
	payload     []byte
	sessionID   uint32
	runTag      string
	attempts    uint32
	backoff     *backoff.ExponentialBackOff
	nextAttempt time.Time
}

// Scheduler is not safe for concurrent calls to ScheduleEvent/Cancel*
// from multiple goroutines racing the dispatch loop without its internal
// lock — but it provides that lock itself, so callers need nothing extra.
type Scheduler struct {
	mu   sync.Mutex
	heap eventHeap
	retry []*retryItem

	insertSeq uint64

	clock   interfaces.Clock
	sink    interfaces.SchedulerSink
	writeIn WriteInFunc

	pollInterval time.Duration
	lookahead    time.Duration
	maxPending   int
	maxRetries   uint32
}

// Option configures a Scheduler at construction.
type Option func(*Scheduler)

func WithPollInterval(d time.Duration) Option { return func(s *Scheduler) { s.pollInterval = d } }
func WithLookahead(d time.Duration) Option    { return func(s *Scheduler) { s.lookahead = d } }
func WithMaxPending(n int) Option             { return func(s *Scheduler) { s.maxPending = n } }
func WithMaxRetries(n uint32) Option          { return func(s *Scheduler) { s.maxRetries = n } }

// New builds a Scheduler. clock supplies now_ntp; sink receives dispatch/
// cancel/error events and depth gauges; writeIn attempts one IN write.
func New(clock interfaces.Clock, sink interfaces.SchedulerSink, writeIn WriteInFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:        clock,
		sink:         sink,
		writeIn:      writeIn,
		pollInterval: constants.DefaultPollInterval,
		lookahead:    constants.DefaultLookahead,
		maxPending:   constants.MaxPendingMessages,
		maxRetries:   constants.MaxRetriesPerMessage,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) nowNTP() float64 {
	return float64(s.clock.Now().UnixNano())/1e9 + constants.NTPEpochOffset
}

// ScheduleEvent enqueues a farFuture bundle for dispatch at ntpTime. Only
// the producer front-end's farFuture classification should call this —
// every other classification bypasses the scheduler entirely (spec §4.5).
func (s *Scheduler) ScheduleEvent(payload []byte, ntpTime float64, sessionID uint32, runTag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.heap)+len(s.retry) >= s.maxPending {
		return ErrBackpressure
	}

	seq := s.insertSeq
	s.insertSeq++

	buf := make([]byte, len(payload))
	copy(buf, payload)

	heap.Push(&s.heap, &ScheduledEvent{NTPTime: ntpTime, Seq: seq, Payload: buf, SessionID: sessionID, RunTag: runTag})
	s.sink.IncBundlesScheduled()
	s.sink.SetPendingDepth(uint32(len(s.heap)))
	return nil
}

// Run performs one dispatch cycle every poll interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.DispatchCycle()
		}
	}
}

// DispatchCycle runs one iteration of spec §4.4's steps 1-4: drain the
// retry queue, dispatch everything in the heap due within the lookahead
// window, then publish depth gauges. Exported so tests (and a caller
// wanting deterministic ticks instead of Run's ticker) can step it
// directly.
func (s *Scheduler) DispatchCycle() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.drainRetryLocked(now)

	deadline := s.nowNTP() + s.lookahead.Seconds()
	for len(s.heap) > 0 && s.heap[0].NTPTime <= deadline {
		ev := heap.Pop(&s.heap).(*ScheduledEvent)
		s.attemptDispatchLocked(ev.Payload, ev.SessionID, ev.RunTag, 1)
	}

	s.sink.SetPendingDepth(uint32(len(s.heap)))
	s.sink.SetRetryDepth(uint32(len(s.retry)))
}

func (s *Scheduler) drainRetryLocked(now time.Time) {
	remaining := s.retry[:0]
	for _, item := range s.retry {
		if now.Before(item.nextAttempt) {
			remaining = append(remaining, item)
			continue
		}
		if s.writeIn(item.payload) == control.WriteOK {
			s.sink.OnDispatch(item.sessionID, item.runTag, item.attempts+1)
			continue
		}
		item.attempts++
		if item.attempts >= s.maxRetries {
			s.sink.OnError("SchedulerRetriesExhausted", errors.New("scheduler: retries exhausted for queued message"))
			s.sink.IncMessagesDropped()
			continue
		}
		item.nextAttempt = now.Add(item.backoff.NextBackOff())
		remaining = append(remaining, item)
	}
	s.retry = remaining
}

// attemptDispatchLocked tries one IN write for a freshly-popped heap
// event; on failure it enqueues to the retry queue with startAttempts
// already recorded, per spec §4.4 step 3.
func (s *Scheduler) attemptDispatchLocked(payload []byte, sessionID uint32, runTag string, startAttempts uint32) {
	if s.writeIn(payload) == control.WriteOK {
		s.sink.OnDispatch(sessionID, runTag, startAttempts)
		return
	}
	s.enqueueRetryLocked(payload, sessionID, runTag, startAttempts)
}

func (s *Scheduler) enqueueRetryLocked(payload []byte, sessionID uint32, runTag string, attempts uint32) {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     backoff.DefaultInitialInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         constants.DefaultPollInterval * 20,
	}
	b.Reset()

	s.retry = append(s.retry, &retryItem{
		payload:     payload,
		sessionID:   sessionID,
		runTag:      runTag,
		attempts:    attempts,
		backoff:     b,
		nextAttempt: s.clock.Now().Add(b.NextBackOff()),
	})
}

// QueueRetry enqueues payload directly into the retry queue for a caller
// whose own non-blocking IN write already failed with a transient
// BufferBusy/BufferFull outcome — spec §4.2's "both are treated by the
// producer front-end as retryable via the scheduler's retry queue" and
// §4.4's "non-bundle immediate messages that fail to write are queued for
// retry identically to scheduled bundles". Unlike ScheduleEvent, this
// never attempts a heap dispatch: the caller already tried once.
func (s *Scheduler) QueueRetry(payload []byte, sessionID uint32, runTag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.heap)+len(s.retry) >= s.maxPending {
		return ErrBackpressure
	}

	buf := make([]byte, len(payload))
	copy(buf, payload)
	s.enqueueRetryLocked(buf, sessionID, runTag, 1)
	s.sink.SetRetryDepth(uint32(len(s.retry)))
	return nil
}

// cancelWhere removes every heap entry matching pred via linear filter
// and heapify, per spec §9's explicit rejection of per-element
// decrease-key maintenance for the rare, batched cancellation path.
func (s *Scheduler) cancelWhere(pred func(*ScheduledEvent) bool, sessionID uint32, runTag string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.heap[:0]
	removed := 0
	for _, ev := range s.heap {
		if pred(ev) {
			removed++
			continue
		}
		kept = append(kept, ev)
	}
	s.heap = kept
	heap.Init(&s.heap)

	if removed > 0 {
		s.sink.OnCancel(sessionID, runTag, removed)
	}
	s.sink.SetPendingDepth(uint32(len(s.heap)))
	return removed
}

// CancelSessionTag removes every pending event matching both sessionID
// and runTag.
func (s *Scheduler) CancelSessionTag(sessionID uint32, runTag string) int {
	return s.cancelWhere(func(e *ScheduledEvent) bool {
		return e.SessionID == sessionID && e.RunTag == runTag
	}, sessionID, runTag)
}

// CancelSession removes every pending event for sessionID.
func (s *Scheduler) CancelSession(sessionID uint32) int {
	return s.cancelWhere(func(e *ScheduledEvent) bool {
		return e.SessionID == sessionID
	}, sessionID, "")
}

// CancelTag removes every pending event tagged runTag, across sessions.
func (s *Scheduler) CancelTag(runTag string) int {
	return s.cancelWhere(func(e *ScheduledEvent) bool {
		return e.RunTag == runTag
	}, 0, runTag)
}

// CancelAll empties the heap.
func (s *Scheduler) CancelAll() int {
	return s.cancelWhere(func(*ScheduledEvent) bool { return true }, 0, "")
}

// PendingCount returns the current heap depth.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.heap)
}

// RetryCount returns the current retry-queue depth.
func (s *Scheduler) RetryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.retry)
}
