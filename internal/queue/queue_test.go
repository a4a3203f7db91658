package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestGetBufAllocatesAscendingIDs(t *testing.T) {
	q := New()
	a := q.GetBuf(-1)
	b := q.GetBuf(-1)
	c := q.GetBuf(-1)

	assert.Equal(t, 0, a.BufID)
	assert.Equal(t, 1, b.BufID)
	assert.Equal(t, 2, c.BufID)
}

func TestGetBufReusesClearedSlotBeforeGrowing(t *testing.T) {
	q := New()
	a := q.GetBuf(-1)
	b := q.GetBuf(-1)
	require.True(t, q.Clear(a.BufID))

	c := q.GetBuf(-1)
	assert.Equal(t, a.BufID, c.BufID, "cleared buffer should be reused before currentMinID advances past it")
	assert.NotEqual(t, b.BufID, c.BufID)
}

func TestGetBufUnknownIDReturnsNil(t *testing.T) {
	q := New()
	assert.Nil(t, q.GetBuf(42))
}

func TestFinalizeRequiresInflight(t *testing.T) {
	q := New()
	assert.False(t, q.Finalize(0))

	b := q.GetBuf(-1)
	assert.True(t, q.Finalize(b.BufID))
}

func TestDequeueFinalReturnsLowestIDFirst(t *testing.T) {
	q := New()
	a := q.GetBuf(-1)
	b := q.GetBuf(-1)
	c := q.GetBuf(-1)

	require.True(t, q.Finalize(c.BufID))
	require.True(t, q.Finalize(a.BufID))

	first := q.DequeueFinal()
	require.NotNil(t, first)
	assert.Equal(t, a.BufID, first.BufID)
	require.True(t, q.Clear(first.BufID))

	second := q.DequeueFinal()
	require.NotNil(t, second)
	assert.Equal(t, c.BufID, second.BufID)
	require.True(t, q.Clear(second.BufID))

	assert.Nil(t, q.DequeueFinal(), "b was never finalized")
	assert.Equal(t, 1, q.Len(), "only b remains inflight")
}

func TestClearLowersCurrentMinID(t *testing.T) {
	q := New()
	a := q.GetBuf(-1)
	_ = q.GetBuf(-1)
	_ = q.GetBuf(-1)

	require.True(t, q.Clear(a.BufID))

	reused := q.GetBuf(-1)
	assert.Equal(t, a.BufID, reused.BufID)
}

func TestClearUnknownIDFails(t *testing.T) {
	q := New()
	assert.False(t, q.Clear(99))
}

// TestQueueRoundTrip checks that every buffer allocated is eventually
// reachable by its own id until cleared, and that ids handed out by
// GetBuf(-1) are always distinct from every other currently-inflight id.
func TestQueueRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		q := New()
		live := map[int]bool{}

		steps := rapid.IntRange(1, 50).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			op := rapid.IntRange(0, 2).Draw(t, "op")
			switch op {
			case 0:
				b := q.GetBuf(-1)
				require.NotNil(t, b)
				require.False(t, live[b.BufID], "GetBuf(-1) must never hand out an id already inflight")
				live[b.BufID] = true
			case 1:
				if len(live) == 0 {
					continue
				}
				id := anyKey(live)
				require.True(t, q.Finalize(id))
				fb := q.DequeueFinal()
				require.NotNil(t, fb)
				require.Equal(t, id, fb.BufID)
				delete(live, id)
				require.True(t, q.Clear(id))
			case 2:
				if len(live) == 0 {
					continue
				}
				id := anyKey(live)
				require.True(t, q.Clear(id))
				delete(live, id)
			}
		}

		for id := range live {
			assert.NotNil(t, q.GetBuf(id), "id %d should still resolve", id)
		}
	})
}

func anyKey(m map[int]bool) int {
	for k := range m {
		return k
	}
	panic("anyKey called on empty map")
}
