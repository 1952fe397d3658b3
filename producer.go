package oscring

import (
	"github.com/go-oscring/oscring/internal/control"
	"github.com/go-oscring/oscring/internal/frontend"
	"github.com/go-oscring/oscring/internal/nodeid"
)

// ProducerOption configures a Producer at construction.
type ProducerOption func(*Producer)

// WithBypassLookahead overrides the consumer-wide default bypass
// lookahead for this one producer, per spec §4.5's "the bypass_lookahead
// window is configurable per producer instance".
func WithBypassLookahead(seconds float64) ProducerOption {
	return func(p *Producer) { p.bypassLookahead = seconds }
}

// WithRemoteNodeIDRange allocates node IDs from the wider remote range
// instead of the default local range, for a producer attaching from a
// replicated or fallback-mode process (spec §4.6).
func WithRemoteNodeIDRange() ProducerOption {
	return func(p *Producer) {
		p.allocator = nodeid.New(p.consumer.control, p.consumer.cfg.NodeIDRangeRemote)
	}
}

// Producer is one attach point onto a Consumer's shared region: its own
// source_id, its own node-ID allocator range, and its own bypass
// lookahead. Any number of Producers may share one Consumer.
type Producer struct {
	consumer        *Consumer
	sourceID        uint32
	bypassLookahead float64
	allocator       *nodeid.Allocator

	fbProducerID uint32

	errCb func(error)
}

// NewProducer attaches a new Producer to consumer, assigning it the next
// source_id and a local-range node-ID allocator by default.
func NewProducer(consumer *Consumer, opts ...ProducerOption) *Producer {
	p := &Producer{
		consumer:        consumer,
		sourceID:        consumer.nextSourceID.Add(1) - 1,
		bypassLookahead: consumer.cfg.BypassLookahead.Seconds(),
		allocator:       nodeid.New(consumer.control, consumer.cfg.NodeIDRangeLocal),
	}
	for _, opt := range opts {
		opt(p)
	}
	if consumer.fb != nil {
		p.fbProducerID = p.sourceID
	}
	return p
}

// classify runs the shared front-end classification against this
// producer's own bypass lookahead and the consumer's clock.
func (p *Producer) classify(payload []byte) (frontend.Kind, float64, error) {
	return frontend.Classify(payload, nowNTPFor(p.consumer.clock), p.bypassLookahead)
}

// Send implements spec §4.5's send operation: classify, then either
// write straight to IN (bypass kinds) or hand off to the scheduler
// (farFuture). A bypass write that fails with a transient outcome is
// queued for retry identically to a scheduled bundle, per §4.2/§4.4.
//
// In fallback mode there is no shared IN ring to write into directly;
// Send instead forwards through the fallback pump, which runs this same
// classify-then-route logic in the consumer's own goroutine, against the
// consumer's configured bypass lookahead rather than this producer's.
func (p *Producer) Send(payload []byte) error {
	if p.consumer.fb != nil {
		p.consumer.fb.Send(p.fbProducerID, payload)
		return nil
	}

	kind, ntp, err := p.classify(payload)
	if err != nil {
		wrapped := WrapError("Producer.Send", CodeCorruptFrame, err)
		p.reportError("Producer.Send.Classify", wrapped)
		return wrapped
	}
	p.consumer.metrics.RecordBypass(kind.String())

	if !kind.Bypasses() {
		if err := p.consumer.sched.ScheduleEvent(payload, ntp, p.sourceID, ""); err != nil {
			return WrapError("Producer.Send", CodeBackpressure, err)
		}
		return nil
	}

	return p.writeInOrQueueRetry(payload)
}

// writeInOrQueueRetry performs one non-blocking IN write and, on a
// transient BufferBusy/BufferFull outcome, pushes the payload into the
// scheduler's retry queue instead of failing the caller outright — spec
// §4.2's "both are treated by the producer front-end as retryable via
// the scheduler's retry queue".
func (p *Producer) writeInOrQueueRetry(payload []byte) error {
	res, outcome := p.consumer.control.WriteIn(p.consumer.inSlice(), payload)
	switch outcome {
	case control.WriteOK:
		p.consumer.recordSourceID(res.Sequence, p.sourceID)
		p.consumer.metrics.OscOutMessagesSent.Add(1)
		return nil
	case control.WriteOversize:
		oversizeErr := NewError("Producer.Send", CodeOversizePayload, "payload exceeds ring capacity")
		p.reportError("Producer.Send", oversizeErr)
		return oversizeErr
	default:
		code := CodeBufferBusy
		if outcome == control.WriteFull {
			code = CodeBufferFull
			p.consumer.metrics.RetriesRequested.Add(1)
		}
		if err := p.consumer.sched.QueueRetry(payload, p.sourceID, ""); err != nil {
			wrapped := WrapError("Producer.Send", CodeBackpressure, err)
			p.reportError("Producer.Send", wrapped)
			return wrapped
		}
		return NewError("Producer.Send", code, "queued for retry")
	}
}

// reportError forwards err to the shared consumer Observer and, if set,
// to this producer's own OnError callback.
func (p *Producer) reportError(kind string, err error) {
	p.consumer.observer.OnError(kind, err)
	if p.errCb != nil {
		p.errCb(err)
	}
}

// SendImmediate implements spec §4.5's send_immediate operation: a
// bundle is split into its contained messages, each written to IN as
// its own frame and never placed on the scheduler heap, even if its
// timetag would otherwise classify as farFuture. An element whose write
// fails with BufferBusy/BufferFull goes to the scheduler's retry queue,
// as in Send.
func (p *Producer) SendImmediate(payload []byte) error {
	elements, err := frontend.SplitForImmediate(payload)
	if err != nil {
		wrapped := WrapError("Producer.SendImmediate", CodeCorruptFrame, err)
		p.reportError("Producer.SendImmediate.Split", wrapped)
		return wrapped
	}

	for _, elem := range elements {
		if p.consumer.fb != nil {
			p.consumer.fb.Send(p.fbProducerID, elem)
			continue
		}
		if err := p.writeInOrQueueRetry(elem); err != nil && !IsCode(err, CodeBufferBusy) && !IsCode(err, CodeBufferFull) {
			return err
		}
	}
	return nil
}

// SendOSC encodes address/args with the consumer's configured Codec and
// sends the result exactly as Send would. It returns CodeNotAttached if
// no Codec was configured, since the core itself never interprets OSC
// addresses or arguments.
func (p *Producer) SendOSC(address string, args []any) error {
	if p.consumer.codec == nil {
		return NewError("Producer.SendOSC", CodeNotAttached, "no Codec configured on this Consumer")
	}
	payload, err := p.consumer.codec.Encode(address, args)
	if err != nil {
		return WrapError("Producer.SendOSC", CodeInvalidArgument, err)
	}
	return p.Send(payload)
}

// NextNodeID hands out the next globally unique node ID from this
// producer's allocator (spec §4.6).
func (p *Producer) NextNodeID() uint32 { return p.allocator.NextNodeID() }

// CancelSessionTag, CancelSession, CancelTag, and CancelAll delegate to
// the shared scheduler's pending-event cancellation (spec §4.4).
func (p *Producer) CancelSessionTag(runTag string) int { return p.consumer.sched.CancelSessionTag(p.sourceID, runTag) }
func (p *Producer) CancelSession() int                 { return p.consumer.sched.CancelSession(p.sourceID) }
func (p *Producer) CancelTag(runTag string) int        { return p.consumer.sched.CancelTag(runTag) }
func (p *Producer) CancelAll() int                     { return p.consumer.sched.CancelAll() }

// MetricsArray returns a point-in-time snapshot of the shared metrics
// region (spec §4.7).
func (p *Producer) MetricsArray() []uint32 { return p.consumer.metrics.GetMetricsArray() }

// OnMessage, OnDebug, and OnMessageSent subscribe to the consumer's OUT,
// DEBUG, and IN_LOG_TAIL feeds respectively. Every Producer attached to
// the same Consumer shares these feeds; there is no per-producer
// filtering, matching spec §4.3's "any number of producers observe the
// same OUT/DEBUG rings".
func (p *Producer) OnMessage(cb func(payload []byte)) { p.consumer.OnMessage(cb) }
func (p *Producer) OnDebug(cb func(payload []byte))   { p.consumer.OnDebug(cb) }

func (p *Producer) OnMessageSent(cb func(payload []byte, sourceID uint32)) {
	p.consumer.OnMessageSent(cb)
}

// OnError registers cb to run whenever this producer's own Send,
// SendImmediate, or SendOSC call reports an error. This is a
// Go-ergonomics addition: spec.md describes error codes as return
// values, but a per-producer callback spares a caller from threading
// error handling through every call site by hand. It does not affect
// errors reported by any other producer sharing the same Consumer.
func (p *Producer) OnError(cb func(error)) { p.errCb = cb }
