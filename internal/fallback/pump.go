// Package fallback implements spec §5 mode B: when the backing memory
// is not shareable across producer/consumer address spaces, the same
// ring-buffer and framing logic from §3/§4 stays in force, but the
// atomic load/store/CAS/add layer on a shared control block is replaced
// by message-pump forwarding to the single consumer context, and what
// would be one shared counter becomes per-producer local counters that
// are periodically snapshot-shipped to the consumer and summed there.
package fallback

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudwego/gopkg/concurrency/gopool"
)

// Envelope is one producer payload forwarded to the consumer's context,
// standing in for a real "ring write" when there is no shared ring to
// write into.
type Envelope struct {
	ProducerID uint32
	Payload    []byte
}

// Handler processes one forwarded envelope in the consumer's context.
type Handler func(Envelope)

// Counters are a producer's local, non-shared tallies. They mirror the
// subset of the root Metrics that must be aggregated rather than shared
// directly once there is no single shared-memory region to atomically
// increment.
type Counters struct {
	MessagesSent      atomic.Uint64
	MessagesProcessed atomic.Uint64
	DroppedMessages   atomic.Uint64
}

// Snapshot is an immutable copy of Counters shipped to the consumer.
type Snapshot struct {
	ProducerID        uint32
	MessagesSent      uint64
	MessagesProcessed uint64
	DroppedMessages   uint64
}

func (c *Counters) snapshot(producerID uint32) Snapshot {
	return Snapshot{
		ProducerID:        producerID,
		MessagesSent:      c.MessagesSent.Load(),
		MessagesProcessed: c.MessagesProcessed.Load(),
		DroppedMessages:   c.DroppedMessages.Load(),
	}
}

// SnapshotSink receives a periodic per-producer snapshot for summing
// into the consumer's aggregate metrics.
type SnapshotSink func(Snapshot)

// Pump is the fallback-mode substitute for a shared ring: producers call
// Send, which forwards payloads through a worker pool to Handler running
// in the consumer's context, and maintains per-producer local counters
// that are shipped to SnapshotSink on snapshotInterval.
type Pump struct {
	pool    *gopool.GoPool
	handler Handler
	sink    SnapshotSink

	snapshotInterval time.Duration

	mu        sync.Mutex
	producers map[uint32]*Counters

	done chan struct{}
}

// New builds a Pump. handler runs (possibly concurrently, since the pool
// may use more than one worker) in the consumer's context for every
// forwarded envelope; sink receives one Snapshot per producer per tick.
func New(handler Handler, sink SnapshotSink, snapshotInterval time.Duration) *Pump {
	return &Pump{
		pool:             gopool.NewGoPool("oscring-fallback-pump", nil),
		handler:          handler,
		sink:             sink,
		snapshotInterval: snapshotInterval,
		producers:        make(map[uint32]*Counters),
		done:             make(chan struct{}),
	}
}

func (p *Pump) countersFor(producerID uint32) *Counters {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.producers[producerID]
	if !ok {
		c = &Counters{}
		p.producers[producerID] = c
	}
	return c
}

// Send forwards payload to the consumer's handler, standing in for a
// ring write in fallback mode. It never blocks the caller: the pool
// falls back to an unbounded goroutine if its task queue is full, per
// spec §5's "all semantic contracts still hold end-to-end from the
// producer's viewpoint" — a producer never sees backpressure here that
// a real shared ring wouldn't also eventually apply upstream.
func (p *Pump) Send(producerID uint32, payload []byte) {
	counters := p.countersFor(producerID)
	counters.MessagesSent.Add(1)

	buf := make([]byte, len(payload))
	copy(buf, payload)

	p.pool.Go(func() {
		p.handler(Envelope{ProducerID: producerID, Payload: buf})
		counters.MessagesProcessed.Add(1)
	})
}

// RecordDropped charges a dropped message to producerID's local tally,
// for a caller that decided not to call Send at all (e.g. backpressure
// applied before reaching the pump).
func (p *Pump) RecordDropped(producerID uint32) {
	p.countersFor(producerID).DroppedMessages.Add(1)
}

// Run starts the periodic snapshot-shipping loop; it blocks until ctx
// is cancelled. Call Run after construction, before any Stop.
func (p *Pump) Run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.shipAll()
			return
		case <-ticker.C:
			p.shipAll()
		}
	}
}

// Stop waits for Run to observe its context's cancellation and flush a
// final snapshot. Callers cancel the context passed to Run, then call
// Stop to block until that flush completes.
func (p *Pump) Stop() {
	<-p.done
}

func (p *Pump) shipAll() {
	p.mu.Lock()
	snapshots := make([]Snapshot, 0, len(p.producers))
	for id, c := range p.producers {
		snapshots = append(snapshots, c.snapshot(id))
	}
	p.mu.Unlock()

	for _, s := range snapshots {
		p.sink(s)
	}
}
