// Package oscring implements the shared-memory OSC transport and
// scheduling core: three framed ring buffers (IN, OUT, DEBUG), an atomic
// control block, a pre-scheduler for NTP-tagged bundles, a range-based
// node-ID allocator, and the metrics/node-tree snapshot region that ties
// them together for an external audio engine and any number of
// producers.
package oscring

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/go-oscring/oscring/internal/constants"
	"github.com/go-oscring/oscring/internal/control"
	"github.com/go-oscring/oscring/internal/fallback"
	"github.com/go-oscring/oscring/internal/interfaces"
	"github.com/go-oscring/oscring/internal/logging"
	"github.com/go-oscring/oscring/internal/nodetree"
	"github.com/go-oscring/oscring/internal/region"
	"github.com/go-oscring/oscring/internal/scheduler"
)

// systemClock is the default Clock: wall-clock time, monotonic per Go's
// own time.Time guarantees.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// nowNTPFor converts clock's current time to NTP time (seconds since 1
// Jan 1900), per spec.md §6's clock contract.
func nowNTPFor(clock interfaces.Clock) float64 {
	return float64(clock.Now().UnixNano())/1e9 + constants.NTPEpochOffset
}

// Options carries the optional collaborators a Consumer is built with.
// A nil field falls back to a sensible default, mirroring the teacher's
// own Options{Context, Logger, Observer} shape.
type Options struct {
	// Context governs the Consumer's lifetime; Stop is also always
	// available regardless of context cancellation.
	Context context.Context

	Logger   interfaces.Logger
	Observer interfaces.Observer
	Clock    interfaces.Clock
	Codec    interfaces.Codec

	// Fallback enables mode B (spec §5): producers attach via
	// NewProducer as usual, and their sends are forwarded through a message
	// pump instead of writing into the shared region directly.
	Fallback bool
}

// Consumer owns the shared byte region, the atomic control block, the
// pre-scheduler, the metrics and node-tree regions, and the OUT/DEBUG
// drain loops. Exactly one Consumer exists per attach; any number of
// Producers share it.
type Consumer struct {
	cfg    *Config
	region []byte
	layout region.Layout

	control  *control.Block
	metrics  *Metrics
	nodeTree *nodetree.Tree
	sched    *scheduler.Scheduler

	logger   interfaces.Logger
	observer interfaces.Observer
	clock    interfaces.Clock
	codec    interfaces.Codec

	nextSourceID atomic.Uint32

	subMu         sync.Mutex
	onMessage     []func(payload []byte)
	onDebug       []func(payload []byte)
	onMessageSent []func(payload []byte, sourceID uint32)

	inSeq    seqTracker
	outSeq   seqTracker
	debugSeq seqTracker

	srcMu   sync.Mutex
	srcByIn map[uint32]uint32 // IN sequence -> source_id, for IN_LOG_TAIL

	fb         *fallback.Pump
	fbMu       sync.Mutex
	fbLastSeen map[uint32]fallback.Snapshot

	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	running atomic.Bool
}

// NewConsumer allocates a fresh shared region sized by cfg, computes its
// layout, and wires every internal package into one attach point. It does
// not start any goroutine; call Start for that.
func NewConsumer(cfg *Config, options *Options) (*Consumer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if options == nil {
		options = &Options{}
	}

	layout := region.Compute(cfg.Sizes())
	buf := make([]byte, layout.TotalSize())

	block := control.New(layout.Control.Slice(buf))
	block.InitNodeIDBase(constants.NodeIDBase)

	logger := options.Logger
	if logger == nil {
		logger = logging.Default()
	}
	clock := options.Clock
	if clock == nil {
		clock = systemClock{}
	}
	metrics := NewMetrics()
	observer := options.Observer
	if observer == nil {
		observer = NewMetricsObserver(metrics, func(kind string, err error) {
			logger.Errorf("%s: %v", kind, err)
		})
	}

	c := &Consumer{
		cfg:      cfg,
		region:   buf,
		layout:   layout,
		control:  block,
		metrics:  metrics,
		nodeTree: nodetree.New(layout.NodeTree.Slice(buf)),
		logger:   logger,
		observer: observer,
		clock:    clock,
		codec:    options.Codec,
		srcByIn:  make(map[uint32]uint32),
	}

	sink, ok := observer.(interfaces.SchedulerSink)
	if !ok {
		sink = schedulerSinkAdapter{Observer: observer, metrics: metrics}
	}
	c.sched = scheduler.New(clock, sink, c.writeInForScheduler,
		scheduler.WithPollInterval(cfg.PollInterval),
		scheduler.WithLookahead(cfg.Lookahead),
		scheduler.WithMaxPending(cfg.MaxPendingMessages),
		scheduler.WithMaxRetries(cfg.MaxRetriesPerMessage),
	)

	if options.Fallback {
		c.fb = fallback.New(c.handleFallbackEnvelope, c.shipFallbackSnapshot, cfg.PollInterval)
		c.fbLastSeen = make(map[uint32]fallback.Snapshot)
	}

	ctx := options.Context
	if ctx == nil {
		ctx = context.Background()
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	return c, nil
}

// schedulerSinkAdapter lets a caller-supplied Observer that doesn't also
// implement the depth-gauge methods still drive the scheduler, by routing
// those gauges into Metrics directly.
type schedulerSinkAdapter struct {
	interfaces.Observer
	metrics *Metrics
}

func (a schedulerSinkAdapter) SetPendingDepth(depth uint32) { a.metrics.SetPendingDepth(depth) }
func (a schedulerSinkAdapter) SetRetryDepth(depth uint32)   { a.metrics.SetRetryDepth(depth) }
func (a schedulerSinkAdapter) IncBundlesScheduled()         { a.metrics.BundlesScheduled.Add(1) }
func (a schedulerSinkAdapter) IncMessagesDropped()          { a.metrics.MessagesDropped.Add(1) }

var _ interfaces.SchedulerSink = schedulerSinkAdapter{}

// Layout returns the sub-region descriptor table every Producer reads
// once after attach and caches (spec.md §3 ¶2).
func (c *Consumer) Layout() region.Layout { return c.layout }

// Metrics returns the consumer's metrics region.
func (c *Consumer) Metrics() *Metrics { return c.metrics }

// NodeTree returns the consumer's node-tree snapshot region.
func (c *Consumer) NodeTree() *nodetree.Tree { return c.nodeTree }

func (c *Consumer) inSlice() []byte    { return c.layout.In.Slice(c.region) }
func (c *Consumer) outSlice() []byte   { return c.layout.Out.Slice(c.region) }
func (c *Consumer) debugSlice() []byte { return c.layout.Debug.Slice(c.region) }

// writeInForScheduler adapts control.Block.WriteIn to the scheduler's
// WriteInFunc shape and records the source_id for the on_message_sent tail
// using sourceID 0 (the scheduler itself has no producer identity beyond
// whichever producer originally enqueued it — callers that care should
// not rely on scheduled-path attribution, matching spec.md's silence on
// the question).
func (c *Consumer) writeInForScheduler(payload []byte) control.WriteOutcome {
	res, outcome := c.control.WriteIn(c.inSlice(), payload)
	if outcome == control.WriteOK {
		c.recordSourceID(res.Sequence, 0)
		c.metrics.OscOutMessagesSent.Add(1)
	}
	return outcome
}

// Start launches the pre-scheduler's poll loop, the OUT/DEBUG background
// drains, and (if configured) the fallback pump, all under one
// errgroup.Group so the first failure cancels the rest — mirroring the
// pack's coordinator.go lifecycle pattern.
func (c *Consumer) Start() error {
	if !c.running.CompareAndSwap(false, true) {
		return NewError("Consumer.Start", CodeInvalidArgument, "already started")
	}

	g, ctx := errgroup.WithContext(c.ctx)
	c.group = g

	g.Go(func() error { return c.sched.Run(ctx) })
	g.Go(func() error { c.outDrainLoop(ctx); return nil })
	g.Go(func() error { c.debugDrainLoop(ctx); return nil })
	if c.fb != nil {
		g.Go(func() error { c.fb.Run(ctx); return nil })
	}

	return nil
}

// Stop cancels every background goroutine, waits for them to return, and
// resets the control block — a non-graceful teardown exactly per
// spec.md §5 ("this is not a graceful-flush; in-flight frames in IN are
// discarded").
func (c *Consumer) Stop() error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}
	c.cancel()

	var err error
	if c.group != nil {
		err = c.group.Wait()
	}
	if c.fb != nil {
		c.fb.Stop()
	}

	c.control.Reset()
	if err != nil && err != context.Canceled {
		return fmt.Errorf("oscring: consumer shutdown: %w", err)
	}
	return nil
}
