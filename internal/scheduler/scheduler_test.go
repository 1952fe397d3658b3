package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-oscring/oscring/internal/control"
)

// testSink is a minimal interfaces.SchedulerSink that records every call,
// standing in for the root package's MetricsObserver without importing
// it (which would cycle back into this package).
type testSink struct {
	mu sync.Mutex

	dispatches       []dispatchCall
	cancels          []cancelCall
	errors           []error
	pendingDepth     uint32
	retryDepth       uint32
	bundlesScheduled int
	messagesDropped  int
}

type dispatchCall struct {
	sessionID uint32
	runTag    string
	attempts  uint32
}

type cancelCall struct {
	sessionID uint32
	runTag    string
	removed   int
}

func (s *testSink) OnError(kind string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, err)
}

func (s *testSink) OnDispatch(sessionID uint32, runTag string, attempts uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatches = append(s.dispatches, dispatchCall{sessionID, runTag, attempts})
}

func (s *testSink) OnCancel(sessionID uint32, runTag string, removed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels = append(s.cancels, cancelCall{sessionID, runTag, removed})
}

func (s *testSink) SetPendingDepth(d uint32) { s.mu.Lock(); s.pendingDepth = d; s.mu.Unlock() }
func (s *testSink) SetRetryDepth(d uint32)   { s.mu.Lock(); s.retryDepth = d; s.mu.Unlock() }
func (s *testSink) IncBundlesScheduled()     { s.mu.Lock(); s.bundlesScheduled++; s.mu.Unlock() }
func (s *testSink) IncMessagesDropped()      { s.mu.Lock(); s.messagesDropped++; s.mu.Unlock() }

func (s *testSink) dispatchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dispatches)
}

// testClock is a settable clock, analogous to the root package's
// MockClock but defined locally to avoid importing it.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func alwaysWritesOK([]byte) control.WriteOutcome { return control.WriteOK }

func alwaysFails([]byte) control.WriteOutcome { return control.WriteFull }

func TestScheduleEventThenDispatchAtDeadline(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	sink := &testSink{}
	s := New(clock, sink, alwaysWritesOK, WithLookahead(200*time.Millisecond))

	ntpNow := float64(clock.Now().UnixNano())/1e9 + 2_208_988_800.0
	require.NoError(t, s.ScheduleEvent([]byte("payload"), ntpNow+0.05, 1000, "run-a"))
	assert.Equal(t, 1, s.PendingCount())

	s.DispatchCycle()

	assert.Equal(t, 0, s.PendingCount(), "event within lookahead must dispatch this cycle")
	assert.Equal(t, 1, sink.dispatchCount())
}

func TestScheduleEventNotYetDueStaysPending(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	sink := &testSink{}
	s := New(clock, sink, alwaysWritesOK, WithLookahead(200*time.Millisecond))

	ntpNow := float64(clock.Now().UnixNano())/1e9 + 2_208_988_800.0
	require.NoError(t, s.ScheduleEvent([]byte("payload"), ntpNow+5.0, 1000, "run-a"))

	s.DispatchCycle()

	assert.Equal(t, 1, s.PendingCount(), "event far beyond lookahead must not dispatch yet")
	assert.Equal(t, 0, sink.dispatchCount())
}

func TestDispatchPreservesNTPOrder(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	sink := &testSink{}

	var order []string
	var mu sync.Mutex
	writeIn := func(payload []byte) control.WriteOutcome {
		mu.Lock()
		order = append(order, string(payload))
		mu.Unlock()
		return control.WriteOK
	}

	s := New(clock, sink, writeIn, WithLookahead(10*time.Second))
	ntpNow := float64(clock.Now().UnixNano())/1e9 + 2_208_988_800.0

	require.NoError(t, s.ScheduleEvent([]byte("third"), ntpNow+3, 1, "r"))
	require.NoError(t, s.ScheduleEvent([]byte("first"), ntpNow+1, 1, "r"))
	require.NoError(t, s.ScheduleEvent([]byte("second"), ntpNow+2, 1, "r"))

	s.DispatchCycle()

	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestFailedDispatchGoesToRetryQueueThenSucceeds(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	sink := &testSink{}

	var shouldFail = true
	var mu sync.Mutex
	writeIn := func([]byte) control.WriteOutcome {
		mu.Lock()
		defer mu.Unlock()
		if shouldFail {
			return control.WriteFull
		}
		return control.WriteOK
	}

	s := New(clock, sink, writeIn, WithLookahead(200*time.Millisecond))
	ntpNow := float64(clock.Now().UnixNano())/1e9 + 2_208_988_800.0
	require.NoError(t, s.ScheduleEvent([]byte("payload"), ntpNow+0.01, 1000, "run-a"))

	s.DispatchCycle()
	assert.Equal(t, 1, s.RetryCount(), "failed dispatch should land in the retry queue")
	assert.Equal(t, 0, sink.dispatchCount())

	mu.Lock()
	shouldFail = false
	mu.Unlock()

	clock.advance(2 * time.Second) // well past any backoff interval
	s.DispatchCycle()

	assert.Equal(t, 0, s.RetryCount())
	assert.Equal(t, 1, sink.dispatchCount())
}

func TestRetryExhaustionDropsMessage(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	sink := &testSink{}
	s := New(clock, sink, alwaysFails, WithLookahead(200*time.Millisecond), WithMaxRetries(3))

	ntpNow := float64(clock.Now().UnixNano())/1e9 + 2_208_988_800.0
	require.NoError(t, s.ScheduleEvent([]byte("payload"), ntpNow+0.01, 1000, "run-a"))

	for i := 0; i < 10; i++ {
		clock.advance(time.Second)
		s.DispatchCycle()
	}

	assert.Equal(t, 0, s.RetryCount(), "message must eventually be dropped, not retried forever")
	assert.Equal(t, 1, sink.messagesDropped)
}

func TestBackpressureRejectsEnqueueAtCapacity(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	sink := &testSink{}
	s := New(clock, sink, alwaysWritesOK, WithMaxPending(2), WithLookahead(0))

	ntpNow := float64(clock.Now().UnixNano())/1e9 + 2_208_988_800.0
	require.NoError(t, s.ScheduleEvent([]byte("a"), ntpNow+100, 1, "r"))
	require.NoError(t, s.ScheduleEvent([]byte("b"), ntpNow+100, 1, "r"))

	err := s.ScheduleEvent([]byte("c"), ntpNow+100, 1, "r")
	assert.ErrorIs(t, err, ErrBackpressure)
}

func TestCancelSessionTagRemovesOnlyMatching(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	sink := &testSink{}
	s := New(clock, sink, alwaysWritesOK, WithLookahead(0))

	ntpNow := float64(clock.Now().UnixNano())/1e9 + 2_208_988_800.0
	require.NoError(t, s.ScheduleEvent([]byte("a"), ntpNow+100, 1, "run-a"))
	require.NoError(t, s.ScheduleEvent([]byte("b"), ntpNow+100, 1, "run-b"))
	require.NoError(t, s.ScheduleEvent([]byte("c"), ntpNow+100, 2, "run-a"))

	removed := s.CancelSessionTag(1, "run-a")

	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, s.PendingCount())
}

func TestCancelThenReenqueueCountsOnlySecondBatch(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	sink := &testSink{}
	s := New(clock, sink, alwaysWritesOK, WithLookahead(0))

	ntpNow := float64(clock.Now().UnixNano())/1e9 + 2_208_988_800.0
	require.NoError(t, s.ScheduleEvent([]byte("a"), ntpNow+100, 1, "run-a"))
	removedFirst := s.CancelTag("run-a")
	require.Equal(t, 1, removedFirst)

	require.NoError(t, s.ScheduleEvent([]byte("b"), ntpNow+100, 1, "run-a"))
	s.DispatchCycle() // lookahead 0, but won't dispatch since ntpNow+100 is far beyond deadline

	assert.Equal(t, 1, s.PendingCount())
	require.Len(t, sink.cancels, 1, "only the first cancel batch should have reported a removal")
	assert.Equal(t, 1, sink.cancels[0].removed)
}

func TestCancelAllEmptiesHeap(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	sink := &testSink{}
	s := New(clock, sink, alwaysWritesOK, WithLookahead(0))

	ntpNow := float64(clock.Now().UnixNano())/1e9 + 2_208_988_800.0
	for i := 0; i < 5; i++ {
		require.NoError(t, s.ScheduleEvent([]byte("x"), ntpNow+100, uint32(i), "r"))
	}

	removed := s.CancelAll()
	assert.Equal(t, 5, removed)
	assert.Equal(t, 0, s.PendingCount())
}

func TestQueueRetryLandsDirectlyInRetryQueue(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	sink := &testSink{}
	s := New(clock, sink, alwaysFails, WithLookahead(200*time.Millisecond))

	require.NoError(t, s.QueueRetry([]byte("payload"), 1000, "run-a"))

	assert.Equal(t, 1, s.RetryCount())
	assert.Equal(t, 0, s.PendingCount(), "QueueRetry must never touch the heap")
	assert.Equal(t, uint32(1), sink.retryDepth)
}

func TestQueueRetryThenSucceedsOnNextCycle(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	sink := &testSink{}

	var shouldFail = true
	var mu sync.Mutex
	writeIn := func([]byte) control.WriteOutcome {
		mu.Lock()
		defer mu.Unlock()
		if shouldFail {
			return control.WriteFull
		}
		return control.WriteOK
	}

	s := New(clock, sink, writeIn, WithLookahead(200*time.Millisecond))
	require.NoError(t, s.QueueRetry([]byte("payload"), 1000, "run-a"))

	mu.Lock()
	shouldFail = false
	mu.Unlock()

	clock.advance(2 * time.Second)
	s.DispatchCycle()

	assert.Equal(t, 0, s.RetryCount())
	require.Equal(t, 1, sink.dispatchCount())
	assert.Equal(t, uint32(2), sink.dispatches[0].attempts, "the caller's own failed attempt counts as attempt 1, so dispatch succeeds on attempt 2")
}

func TestQueueRetryRespectsBackpressure(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	sink := &testSink{}
	s := New(clock, sink, alwaysWritesOK, WithMaxPending(1), WithLookahead(0))

	require.NoError(t, s.QueueRetry([]byte("a"), 1, "r"))
	err := s.QueueRetry([]byte("b"), 1, "r")
	assert.ErrorIs(t, err, ErrBackpressure)
}
