package oscring

import (
	"testing"
	"time"

	"github.com/go-oscring/oscring/internal/control"
	"github.com/go-oscring/oscring/internal/fallback"
)

func TestSeqTrackerFirstFrameSeedsWithoutCharge(t *testing.T) {
	var tr seqTracker
	gap, charge := tr.check(42)
	if charge {
		t.Errorf("first-ever frame must never be charged, got gap=%d charge=%v", gap, charge)
	}
}

func TestSeqTrackerConsecutiveNoCharge(t *testing.T) {
	var tr seqTracker
	tr.check(1)
	_, charge := tr.check(2)
	if charge {
		t.Error("consecutive sequence numbers must not be charged")
	}
}

func TestSeqTrackerSmallGapCharged(t *testing.T) {
	var tr seqTracker
	tr.check(1)
	gap, charge := tr.check(5)
	if !charge {
		t.Fatal("a gap smaller than MaxSequenceGapCharged must be charged")
	}
	if gap != 3 {
		t.Errorf("gap = %d, want 3 (5 - (1+1))", gap)
	}
}

func TestSeqTrackerHugeGapIgnored(t *testing.T) {
	var tr seqTracker
	tr.check(1)
	_, charge := tr.check(1_000_000)
	if charge {
		t.Error("a gap at or beyond MaxSequenceGapCharged must be treated as unreliable and ignored")
	}
}

func TestDrainInFiresOnMessageForEachFrame(t *testing.T) {
	clock := NewMockClock(time.Unix(1_700_000_000, 0))
	c := newTestConsumer(t, clock)
	p := NewProducer(c)

	var received [][]byte
	c.OnMessage(func(payload []byte) {
		received = append(received, append([]byte(nil), payload...))
	})

	if err := p.Send(nonBundleMsg("/a")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := p.Send(nonBundleMsg("/b")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	c.DrainIn()

	if len(received) != 2 {
		t.Fatalf("received %d frames, want 2", len(received))
	}
}

func TestDrainInLogFiresOnMessageSentAfterOnMessage(t *testing.T) {
	clock := NewMockClock(time.Unix(1_700_000_000, 0))
	c := newTestConsumer(t, clock)
	p := NewProducer(c)

	var order []string
	c.OnMessage(func([]byte) { order = append(order, "onMessage") })
	c.OnMessageSent(func([]byte, uint32) { order = append(order, "onMessageSent") })

	if err := p.Send(nonBundleMsg("/a")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	c.DrainIn()

	if len(order) != 2 || order[0] != "onMessage" || order[1] != "onMessageSent" {
		t.Errorf("callback order = %v, want [onMessage onMessageSent]", order)
	}
}

func TestDrainInLogTagsSourceID(t *testing.T) {
	clock := NewMockClock(time.Unix(1_700_000_000, 0))
	c := newTestConsumer(t, clock)
	p1 := NewProducer(c)
	p2 := NewProducer(c)

	var gotIDs []uint32
	c.OnMessageSent(func(_ []byte, sourceID uint32) { gotIDs = append(gotIDs, sourceID) })

	if err := p1.Send(nonBundleMsg("/a")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := p2.Send(nonBundleMsg("/b")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	c.DrainIn()

	if len(gotIDs) != 2 {
		t.Fatalf("got %d source IDs, want 2", len(gotIDs))
	}
	if gotIDs[0] != p1.sourceID || gotIDs[1] != p2.sourceID {
		t.Errorf("source IDs = %v, want [%d %d]", gotIDs, p1.sourceID, p2.sourceID)
	}
}

func TestWriteOutAndWriteDebugSucceed(t *testing.T) {
	clock := NewMockClock(time.Unix(1_700_000_000, 0))
	c := newTestConsumer(t, clock)

	if _, outcome := c.WriteOut(nonBundleMsg("/reply")); outcome != control.WriteOK {
		t.Errorf("WriteOut outcome = %v, want OK", outcome)
	}
	if _, outcome := c.WriteDebug([]byte("debug line")); outcome != control.WriteOK {
		t.Errorf("WriteDebug outcome = %v, want OK", outcome)
	}
	if c.control.OutHead() == c.control.OutTail() {
		t.Error("OUT head must advance past tail after WriteOut")
	}
	if c.control.DebugHead() == c.control.DebugTail() {
		t.Error("DEBUG head must advance past tail after WriteDebug")
	}
}

func TestShipFallbackSnapshotAddsOnlyDeltas(t *testing.T) {
	clock := NewMockClock(time.Unix(1_700_000_000, 0))
	c, err := NewConsumer(DefaultConfig(), &Options{Clock: clock, Fallback: true})
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}

	c.shipFallbackSnapshot(fallback.Snapshot{ProducerID: 9, MessagesSent: 5, MessagesProcessed: 5, DroppedMessages: 1})
	c.shipFallbackSnapshot(fallback.Snapshot{ProducerID: 9, MessagesSent: 8, MessagesProcessed: 8, DroppedMessages: 1})

	if got := c.metrics.OscOutMessagesSent.Load(); got != 8 {
		t.Errorf("OscOutMessagesSent = %d, want 8 (5 + delta of 3, not 5+8)", got)
	}
	if got := c.metrics.DroppedMessages.Load(); got != 1 {
		t.Errorf("DroppedMessages = %d, want 1 (no delta on the second snapshot)", got)
	}
}

func TestHandleFallbackEnvelopeRoutesBypassToIn(t *testing.T) {
	clock := NewMockClock(time.Unix(1_700_000_000, 0))
	c, err := NewConsumer(DefaultConfig(), &Options{Clock: clock, Fallback: true})
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}

	c.handleFallbackEnvelope(fallback.Envelope{ProducerID: 3, Payload: nonBundleMsg("/x")})

	if got := c.metrics.OscOutMessagesSent.Load(); got != 1 {
		t.Errorf("OscOutMessagesSent = %d, want 1", got)
	}
	if c.control.InHead() == c.control.InTail() {
		t.Error("IN head must advance after a fallback-routed bypass write")
	}
}

func TestHandleFallbackEnvelopeRoutesFarFutureToScheduler(t *testing.T) {
	clock := NewMockClock(time.Unix(1_700_000_000, 0))
	c, err := NewConsumer(DefaultConfig(), &Options{Clock: clock, Fallback: true})
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}

	ntpNow := nowNTPFor(clock)
	c.handleFallbackEnvelope(fallback.Envelope{ProducerID: 3, Payload: bundleAtNTP(ntpNow + 5)})

	if got := c.sched.PendingCount(); got != 1 {
		t.Errorf("scheduler PendingCount = %d, want 1", got)
	}
}
