package book

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookreplay/internal/schema"
)

func delta(t int64, side schema.Side, price, amount int64) schema.DeltaRecord {
	return schema.DeltaRecord{
		EventTime: t,
		Side:      side,
		Price:     schema.Price(price),
		Amount:    schema.Quantity(amount),
	}
}

func TestApplyDeltaInsertRemove(t *testing.T) {
	b := New(1)

	require.NoError(t, b.ApplyDelta(delta(1, schema.SideBid, 10000, 5)))
	require.NoError(t, b.ApplyDelta(delta(2, schema.SideBid, 10000, 0)))
	require.NoError(t, b.ApplyDelta(delta(3, schema.SideAsk, 10010, 3)))

	snap := b.Snapshot(50, 3)
	assert.Empty(t, snap.Bids)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, schema.PriceLevel{Price: 10010, Qty: 3}, snap.Asks[0])
}

func TestZeroAmountOnAbsentLevelIsNoop(t *testing.T) {
	b := New(1)
	require.NoError(t, b.ApplyDelta(delta(1, schema.SideBid, 10000, 5)))

	before := b.Snapshot(50, 1)
	require.NoError(t, b.ApplyDelta(delta(2, schema.SideBid, 9999, 0)))
	after := b.Snapshot(50, 1)

	assert.Equal(t, before.Bids, after.Bids)
	assert.Equal(t, before.Asks, after.Asks)
}

func TestUpdateOverwritesLevel(t *testing.T) {
	b := New(1)
	require.NoError(t, b.ApplyDelta(delta(1, schema.SideAsk, 10010, 3)))
	require.NoError(t, b.ApplyDelta(delta(2, schema.SideAsk, 10010, 7)))

	_, asks := b.Depth()
	assert.Equal(t, 1, asks)
	best, ok := b.BestAsk()
	require.True(t, ok)
	assert.Equal(t, schema.Quantity(7), best.Qty)
}

func TestMalformedRecordRejected(t *testing.T) {
	b := New(1)
	require.NoError(t, b.ApplyDelta(delta(1, schema.SideBid, 10000, 5)))

	cases := []schema.DeltaRecord{
		delta(2, schema.SideUnknown, 10000, 5),
		delta(2, schema.SideBid, 0, 5),
		delta(2, schema.SideBid, -100, 5),
		delta(2, schema.SideBid, 10000, -1),
	}
	for _, rec := range cases {
		err := b.ApplyDelta(rec)
		assert.ErrorIs(t, err, ErrMalformedRecord, "%+v", rec)
	}

	// rejected records must not advance state
	assert.Equal(t, uint64(1), b.Stats().Applied)
	assert.Equal(t, int64(1), b.LastEventTime())
}

func TestSideOrderingAndUniqueness(t *testing.T) {
	b := New(1)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 5000; i++ {
		price := int64(9000 + rng.Intn(2000))
		amount := int64(rng.Intn(10)) // zero removes
		side := schema.SideBid
		if price >= 10000 {
			side = schema.SideAsk
		}
		require.NoError(t, b.ApplyDelta(delta(int64(i), side, price, amount)))
	}

	snap := b.Snapshot(1<<30, 5000)
	seen := make(map[schema.Price]bool)
	for i, lvl := range snap.Bids {
		assert.False(t, seen[lvl.Price], "duplicate bid price %d", lvl.Price)
		seen[lvl.Price] = true
		assert.Greater(t, lvl.Qty, schema.Quantity(0))
		if i > 0 {
			assert.Less(t, lvl.Price, snap.Bids[i-1].Price, "bids must be descending")
		}
	}
	seen = make(map[schema.Price]bool)
	for i, lvl := range snap.Asks {
		assert.False(t, seen[lvl.Price], "duplicate ask price %d", lvl.Price)
		seen[lvl.Price] = true
		assert.Greater(t, lvl.Qty, schema.Quantity(0))
		if i > 0 {
			assert.Greater(t, lvl.Price, snap.Asks[i-1].Price, "asks must be ascending")
		}
	}
}

func TestSnapshotDepthBound(t *testing.T) {
	b := New(1)
	for i := int64(0); i < 200; i++ {
		require.NoError(t, b.ApplyDelta(delta(i, schema.SideBid, 10000-i, 1)))
		require.NoError(t, b.ApplyDelta(delta(i, schema.SideAsk, 10001+i, 1)))
	}

	snap := b.Snapshot(50, 200)
	assert.Len(t, snap.Bids, 50)
	assert.Len(t, snap.Asks, 50)
	assert.Equal(t, schema.Price(10000), snap.Bids[0].Price)
	assert.Equal(t, schema.Price(10001), snap.Asks[0].Price)

	empty := b.Snapshot(0, 200)
	assert.Empty(t, empty.Bids)
	assert.Empty(t, empty.Asks)
}

func TestCrossedBookCountedNotRejected(t *testing.T) {
	b := New(1)
	require.NoError(t, b.ApplyDelta(delta(1, schema.SideAsk, 10010, 3)))
	require.NoError(t, b.ApplyDelta(delta(2, schema.SideBid, 10020, 5)))

	assert.True(t, b.Crossed())
	assert.Equal(t, uint64(1), b.Stats().CrossedBook)

	bestBid, ok := b.BestBid()
	require.True(t, ok)
	bestAsk, ok := b.BestAsk()
	require.True(t, ok)
	assert.GreaterOrEqual(t, bestBid.Price, bestAsk.Price)

	// an uncrossed bid below the ask while the book is crossed elsewhere
	// does not count again
	require.NoError(t, b.ApplyDelta(delta(3, schema.SideBid, 10000, 1)))
	assert.Equal(t, uint64(1), b.Stats().CrossedBook)
}

func TestOutOfOrderCountedAndApplied(t *testing.T) {
	b := New(1)
	require.NoError(t, b.ApplyDelta(delta(100, schema.SideBid, 10000, 5)))
	require.NoError(t, b.ApplyDelta(delta(90, schema.SideBid, 9999, 4)))

	assert.Equal(t, uint64(1), b.Stats().OutOfOrder)
	assert.Equal(t, int64(100), b.LastEventTime(), "last event time must not go backwards")

	bids, _ := b.Depth()
	assert.Equal(t, 2, bids, "out-of-order delta is still applied")
}

func TestResetClearsBothSides(t *testing.T) {
	b := New(1)
	require.NoError(t, b.ApplyDelta(delta(1, schema.SideBid, 10000, 5)))
	require.NoError(t, b.ApplyDelta(delta(1, schema.SideAsk, 10010, 3)))

	b.Reset()
	bids, asks := b.Depth()
	assert.Zero(t, bids)
	assert.Zero(t, asks)
}

func TestRestoreRoundTrip(t *testing.T) {
	b := New(1)
	require.NoError(t, b.ApplyDelta(delta(1, schema.SideBid, 10000, 5)))
	require.NoError(t, b.ApplyDelta(delta(2, schema.SideBid, 9990, 2)))
	require.NoError(t, b.ApplyDelta(delta(3, schema.SideAsk, 10010, 3)))

	bids, asks := b.Levels()
	stats := b.Stats()

	restored := New(1)
	require.NoError(t, restored.Restore(bids, asks, b.LastEventTime(), stats))

	assert.Equal(t, b.Snapshot(50, 3), restored.Snapshot(50, 3))
	assert.Equal(t, b.LastEventTime(), restored.LastEventTime())
	assert.Equal(t, stats, restored.Stats())
}

func TestRestoreRejectsEmptyLevels(t *testing.T) {
	b := New(1)
	err := b.Restore([]schema.PriceLevel{{Price: 100, Qty: 0}}, nil, 0, Stats{})
	assert.ErrorIs(t, err, ErrMalformedRecord)
}
