package fallback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendDeliversPayloadToHandler(t *testing.T) {
	var mu sync.Mutex
	var received []Envelope

	handler := func(e Envelope) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e)
	}

	p := New(handler, func(Snapshot) {}, time.Hour)
	p.Send(7, []byte("hello"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, uint32(7), received[0].ProducerID)
	assert.Equal(t, []byte("hello"), received[0].Payload)
}

func TestSendCopiesPayloadDefensively(t *testing.T) {
	done := make(chan []byte, 1)
	handler := func(e Envelope) { done <- e.Payload }

	p := New(handler, func(Snapshot) {}, time.Hour)
	buf := []byte("mutate-me")
	p.Send(1, buf)
	buf[0] = 'X'

	got := <-done
	assert.Equal(t, []byte("mutate-me"), got, "Send must copy, not alias, the caller's buffer")
}

func TestRunShipsPerProducerSnapshots(t *testing.T) {
	var mu sync.Mutex
	var snapshots []Snapshot

	handler := func(Envelope) {}
	sink := func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		snapshots = append(snapshots, s)
	}

	p := New(handler, sink, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)

	p.Send(1, []byte("a"))
	p.Send(2, []byte("b"))
	p.Send(1, []byte("c"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snapshots) >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	byProducer := map[uint32]Snapshot{}
	for _, s := range snapshots {
		if s.MessagesSent > byProducer[s.ProducerID].MessagesSent {
			byProducer[s.ProducerID] = s
		}
	}
	assert.Equal(t, uint64(2), byProducer[1].MessagesSent)
	assert.Equal(t, uint64(1), byProducer[2].MessagesSent)
}

func TestRecordDroppedChargesProducerLocalTally(t *testing.T) {
	var mu sync.Mutex
	var snapshots []Snapshot
	sink := func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		snapshots = append(snapshots, s)
	}

	p := New(func(Envelope) {}, sink, time.Hour)
	p.RecordDropped(5)
	p.RecordDropped(5)
	p.shipAll()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, snapshots, 1)
	assert.Equal(t, uint64(2), snapshots[0].DroppedMessages)
}
