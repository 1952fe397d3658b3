package oscring

import (
	"context"

	"github.com/go-oscring/oscring/internal/constants"
	"github.com/go-oscring/oscring/internal/control"
	"github.com/go-oscring/oscring/internal/fallback"
	"github.com/go-oscring/oscring/internal/frontend"
	"github.com/go-oscring/oscring/internal/futex"
	"github.com/go-oscring/oscring/internal/ring"
	"github.com/go-oscring/oscring/internal/wire"
)

// seqTracker implements spec §4.3's sequence-gap accounting rule: a gap
// smaller than constants.MaxSequenceGapCharged is attributed to dropped
// frames, a larger one is treated as an unreliable read of a reused byte
// range and ignored.
type seqTracker struct {
	last  uint32
	valid bool
}

func (t *seqTracker) check(seq uint32) (gap uint32, charge bool) {
	if !t.valid {
		t.valid = true
		t.last = seq
		return 0, false
	}
	expected := t.last + 1
	t.last = seq
	if seq == expected {
		return 0, false
	}
	delta := seq - expected
	if delta < constants.MaxSequenceGapCharged {
		return delta, true
	}
	return 0, false
}

// OnMessage subscribes to every frame the OUT drain observes and to every
// IN frame DrainIn reads.
func (c *Consumer) OnMessage(cb func(payload []byte)) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.onMessage = append(c.onMessage, cb)
}

// OnDebug subscribes to every frame the DEBUG drain observes.
func (c *Consumer) OnDebug(cb func(payload []byte)) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.onDebug = append(c.onDebug, cb)
}

// OnMessageSent subscribes to the IN_LOG_TAIL observability feed: every
// frame successfully written to IN, tagged with the source_id of the
// producer that wrote it.
func (c *Consumer) OnMessageSent(cb func(payload []byte, sourceID uint32)) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.onMessageSent = append(c.onMessageSent, cb)
}

func (c *Consumer) fireOnMessage(payload []byte) {
	c.subMu.Lock()
	cbs := c.onMessage
	c.subMu.Unlock()
	for _, cb := range cbs {
		cb(payload)
	}
}

func (c *Consumer) fireOnDebug(payload []byte) {
	c.subMu.Lock()
	cbs := c.onDebug
	c.subMu.Unlock()
	for _, cb := range cbs {
		cb(payload)
	}
}

func (c *Consumer) fireOnMessageSent(payload []byte, sourceID uint32) {
	c.subMu.Lock()
	cbs := c.onMessageSent
	c.subMu.Unlock()
	for _, cb := range cbs {
		cb(payload, sourceID)
	}
}

// recordSourceID remembers which producer wrote IN sequence seq, for the
// IN_LOG_TAIL tail to attribute on_message_sent callbacks. There is no
// real cross-process shared memory here (the "shared region" is one
// process's []byte), so this side table is the natural, idiomatic way to
// carry source_id without repurposing the wire header's reserved field
// that spec.md §3 documents as always zero.
func (c *Consumer) recordSourceID(seq uint32, sourceID uint32) {
	c.srcMu.Lock()
	c.srcByIn[seq] = sourceID
	c.srcMu.Unlock()
}

func (c *Consumer) takeSourceID(seq uint32) uint32 {
	c.srcMu.Lock()
	defer c.srcMu.Unlock()
	id := c.srcByIn[seq]
	delete(c.srcByIn, seq)
	return id
}

// DrainIn reads every available IN frame without blocking, exactly the
// per-audio-block drain of spec §4.3. Call once per audio callback.
func (c *Consumer) DrainIn() {
	head := c.control.InHead()
	tail := c.control.InTail()

	result := ring.ReadMessages(c.inSlice(), head, tail, wire.PadFrame,
		func(payload []byte, sequence, _ uint32) {
			c.metrics.MessagesProcessed.Add(1)
			if gap, charge := c.inSeq.check(sequence); charge {
				c.metrics.DroppedMessages.Add(uint64(gap))
			}
			c.fireOnMessage(payload)
		},
		func(uint32) { c.metrics.CorruptionEvents.Add(1) },
		0,
	)
	c.control.SetInTail(result.NewTail)

	c.drainInLog(head)
}

// drainInLog walks IN_LOG_TAIL forward to the head observed by the most
// recent DrainIn call, firing on_message_sent for each frame only after
// its registered observer callback has run — the decoupled-from-IN_TAIL
// tail spec §4.7/§6 describes.
func (c *Consumer) drainInLog(head uint32) {
	tail := c.control.InLogTail()
	result := ring.ReadMessages(c.inSlice(), head, tail, wire.PadFrame,
		func(payload []byte, sequence, _ uint32) {
			sourceID := c.takeSourceID(sequence)
			c.fireOnMessageSent(payload, sourceID)
		},
		nil,
		0,
	)
	c.control.SetInLogTail(result.NewTail)
}

// WriteOut publishes a reply frame to the OUT ring. The consumer is OUT's
// sole writer by construction (spec §4.2); it wakes any parked drain
// waiter immediately after committing the new head.
func (c *Consumer) WriteOut(payload []byte) (control.WriteResult, control.WriteOutcome) {
	res, outcome := c.control.WriteOut(c.outSlice(), payload)
	if outcome == control.WriteOK {
		futex.Wake(c.control.OutHeadPtr(), 1)
	}
	return res, outcome
}

// WriteDebug publishes a debug-text frame to the DEBUG ring, same
// single-writer contract as WriteOut.
func (c *Consumer) WriteDebug(payload []byte) (control.WriteResult, control.WriteOutcome) {
	res, outcome := c.control.WriteDebug(c.debugSlice(), payload)
	if outcome == control.WriteOK {
		futex.Wake(c.control.DebugHeadPtr(), 1)
	}
	return res, outcome
}

// outDrainLoop is the background producer-thread drain of spec §4.3: it
// parks on OUT_HEAD via the futex-style primitive with a bounded timeout,
// and on each wake (or timeout, or spurious return) re-checks state.
func (c *Consumer) outDrainLoop(ctx context.Context) {
	c.drainLoop(ctx, c.control.OutHeadPtr(), c.outSlice, c.control.OutHead, c.control.OutTail,
		c.control.SetOutTail, wire.PadFrame, constants.DefaultReplySequenceBatch, &c.outSeq, c.fireOnMessage)
}

// debugDrainLoop is DEBUG's counterpart, using the single-byte padding
// marker and a larger per-wake frame cap (debug bursts are larger but
// lower priority than OSC replies).
func (c *Consumer) debugDrainLoop(ctx context.Context) {
	c.drainLoop(ctx, c.control.DebugHeadPtr(), c.debugSlice, c.control.DebugHead, c.control.DebugTail,
		c.control.SetDebugTail, wire.PadByte, constants.DefaultDebugSequenceBatch, &c.debugSeq, c.fireOnDebug)
}

func (c *Consumer) drainLoop(ctx context.Context, headAddr *uint32, slice func() []byte,
	getHead, getTail func() uint32, setTail func(uint32), padding wire.PaddingKind,
	maxFrames int, tracker *seqTracker, deliver func([]byte)) {

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		head := getHead()
		tail := getTail()
		if head == tail {
			futex.Wait(headAddr, head, constants.ParkedWaitTimeout)
			continue
		}

		result := ring.ReadMessages(slice(), head, tail, padding,
			func(payload []byte, sequence, _ uint32) {
				if gap, charge := tracker.check(sequence); charge {
					c.metrics.DroppedMessages.Add(uint64(gap))
				}
				deliver(payload)
			},
			func(uint32) { c.metrics.CorruptionEvents.Add(1) },
			maxFrames,
		)
		setTail(result.NewTail)
	}
}

// handleFallbackEnvelope is the fallback.Handler invoked, in the
// consumer's own goroutine, for every payload a fallback-mode producer
// sends through the pump in place of a shared-ring write (spec §5 mode
// B). It runs the same classify-then-route logic as a shared-memory
// Producer.Send, classifying against the consumer's configured
// BypassLookahead (a producer's WithBypassLookahead override is not
// carried in the envelope).
func (c *Consumer) handleFallbackEnvelope(env fallback.Envelope) {
	kind, ntp, err := frontend.Classify(env.Payload, nowNTPFor(c.clock), c.cfg.BypassLookahead.Seconds())
	if err != nil {
		c.observer.OnError("fallback.Classify", err)
		return
	}
	c.metrics.RecordBypass(kind.String())

	if kind.Bypasses() {
		res, outcome := c.control.WriteIn(c.inSlice(), env.Payload)
		switch outcome {
		case control.WriteOK:
			c.recordSourceID(res.Sequence, env.ProducerID)
			c.metrics.OscOutMessagesSent.Add(1)
		case control.WriteOversize:
			c.observer.OnError("fallback.WriteIn", NewError("fallback.WriteIn", CodeOversizePayload, "payload exceeds ring capacity"))
		default:
			if outcome == control.WriteFull {
				c.metrics.RetriesRequested.Add(1)
			}
			if err := c.sched.QueueRetry(env.Payload, env.ProducerID, ""); err != nil {
				c.observer.OnError("fallback.QueueRetry", err)
			}
		}
		return
	}

	if err := c.sched.ScheduleEvent(env.Payload, ntp, env.ProducerID, ""); err != nil {
		c.observer.OnError("fallback.ScheduleEvent", err)
	}
}

// shipFallbackSnapshot sums the delta since the last snapshot from each
// fallback producer into the shared Metrics region, per spec §9's "local
// counters ... periodically snapshot-shipped to the consumer and summed
// there" design note.
func (c *Consumer) shipFallbackSnapshot(snap fallback.Snapshot) {
	c.fbMu.Lock()
	prev, ok := c.fbLastSeen[snap.ProducerID]
	c.fbLastSeen[snap.ProducerID] = snap
	c.fbMu.Unlock()

	if !ok {
		prev = fallback.Snapshot{}
	}
	c.metrics.OscOutMessagesSent.Add(snap.MessagesSent - prev.MessagesSent)
	c.metrics.MessagesProcessed.Add(snap.MessagesProcessed - prev.MessagesProcessed)
	c.metrics.DroppedMessages.Add(snap.DroppedMessages - prev.DroppedMessages)
}
