package nodeid

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-oscring/oscring/internal/constants"
	"github.com/go-oscring/oscring/internal/control"
)

func newInitializedBlock() *control.Block {
	b := control.New(make([]byte, constants.ControlBlockSize))
	b.InitNodeIDBase(constants.NodeIDBase)
	return b
}

func TestNextNodeIDAlwaysAtLeastBase(t *testing.T) {
	b := newInitializedBlock()
	a := NewLocal(b)

	for i := 0; i < 10; i++ {
		assert.GreaterOrEqual(t, a.NextNodeID(), uint32(constants.NodeIDBase))
	}
}

func TestNextNodeIDStrictlyIncreasingAcrossRangeBoundary(t *testing.T) {
	b := newInitializedBlock()
	a := New(b, 4) // tiny width to force a claim boundary quickly

	var prev uint32
	for i := 0; i < 20; i++ {
		id := a.NextNodeID()
		if i > 0 {
			assert.Greater(t, id, prev)
		}
		prev = id
	}
}

func TestTwoAllocatorsClaimDisjointRanges(t *testing.T) {
	b := newInitializedBlock()
	a1 := New(b, 10)
	a2 := New(b, 10)

	first1 := a1.NextNodeID()
	first2 := a2.NextNodeID()

	assert.NotEqual(t, first1, first2)
	assert.Equal(t, uint32(constants.NodeIDBase), first1)
	assert.Equal(t, uint32(constants.NodeIDBase+10), first2)
}

func TestConcurrentAllocatorsProduceGloballyDistinctIDs(t *testing.T) {
	b := newInitializedBlock()

	const producers = 5
	const perProducer = 10000

	var wg sync.WaitGroup
	results := make([][]uint32, producers)

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			a := NewLocal(b)
			ids := make([]uint32, perProducer)
			for i := range ids {
				ids[i] = a.NextNodeID()
			}
			results[idx] = ids
		}(p)
	}
	wg.Wait()

	seen := make(map[uint32]bool, producers*perProducer)
	minID := uint32(1 << 31)
	for _, ids := range results {
		var prev uint32
		for i, id := range ids {
			if id < minID {
				minID = id
			}
			require.False(t, seen[id], "id %d produced by more than one producer", id)
			seen[id] = true
			if i > 0 {
				require.Greater(t, id, prev, "producer's own stream must be strictly increasing")
			}
			prev = id
		}
	}

	assert.Equal(t, producers*perProducer, len(seen))
	assert.GreaterOrEqual(t, minID, uint32(constants.NodeIDBase))
}
