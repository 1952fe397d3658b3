package nodetree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-oscring/oscring/internal/constants"
)

func newTestTree() *Tree {
	return New(make([]byte, constants.NodeTreeRegionSize))
}

func TestResetThenCountAndVersion(t *testing.T) {
	tr := newTestTree()
	assert.Equal(t, uint32(0), tr.Version())

	entries := []Entry{
		{ID: 1000, Parent: constants.NoNodeIndex, Prev: constants.NoNodeIndex, Next: 1001, Head: constants.NoNodeIndex, IsGroup: true, DefName: "root"},
		{ID: 1001, Parent: 1000, Prev: constants.NoNodeIndex, Next: constants.NoNodeIndex, Head: constants.NoNodeIndex, DefName: "leaf"},
	}
	require.NoError(t, tr.Reset(entries))

	assert.Equal(t, uint32(2), tr.Count())
	assert.Equal(t, uint32(1), tr.Version(), "first Reset must bump version from 0 to 1")
}

func TestEntryRoundTrip(t *testing.T) {
	tr := newTestTree()
	entries := []Entry{
		{ID: 42, Parent: 7, IsGroup: true, Prev: 1, Next: 2, Head: 3, DefName: "synth/voice"},
	}
	require.NoError(t, tr.Reset(entries))

	got := tr.Entry(0)
	assert.Equal(t, entries[0], got)
}

func TestEntryDefNameTruncatesAtFixedWidth(t *testing.T) {
	tr := newTestTree()
	longName := make([]byte, constants.NodeDefNameSize+10)
	for i := range longName {
		longName[i] = 'x'
	}
	require.NoError(t, tr.Reset([]Entry{{ID: 1, DefName: string(longName)}}))

	got := tr.Entry(0)
	assert.Len(t, got.DefName, constants.NodeDefNameSize)
}

func TestResetRejectsTooManyEntries(t *testing.T) {
	tr := newTestTree()
	entries := make([]Entry, constants.MaxNodeTreeEntries+1)
	err := tr.Reset(entries)
	assert.Error(t, err)
}

func TestResetBumpsVersionOnEveryCall(t *testing.T) {
	tr := newTestTree()
	require.NoError(t, tr.Reset(nil))
	require.NoError(t, tr.Reset(nil))
	require.NoError(t, tr.Reset(nil))
	assert.Equal(t, uint32(3), tr.Version())
}

func TestSnapshotReturnsExactlyCountEntries(t *testing.T) {
	tr := newTestTree()
	entries := []Entry{
		{ID: 1, Parent: constants.NoNodeIndex, Prev: constants.NoNodeIndex, Next: constants.NoNodeIndex, Head: constants.NoNodeIndex, DefName: "a"},
		{ID: 2, Parent: constants.NoNodeIndex, Prev: constants.NoNodeIndex, Next: constants.NoNodeIndex, Head: constants.NoNodeIndex, DefName: "b"},
		{ID: 3, Parent: constants.NoNodeIndex, Prev: constants.NoNodeIndex, Next: constants.NoNodeIndex, Head: constants.NoNodeIndex, DefName: "c"},
	}
	require.NoError(t, tr.Reset(entries))

	snap := tr.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, entries, snap)
}

func TestNewPanicsOnUndersizedRegion(t *testing.T) {
	assert.Panics(t, func() {
		New(make([]byte, 4))
	})
}
