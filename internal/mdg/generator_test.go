package mdg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookreplay/internal/schema"
)

func TestGeneratorDeterministic(t *testing.T) {
	cfg := Config{Seed: 42, BasePrice: 100_000, Tick: 5, BaseAmount: 100, Levels: 10, DeleteRatio: 0.1}
	g1, err := NewGenerator(cfg)
	require.NoError(t, err)
	g2, err := NewGenerator(cfg)
	require.NoError(t, err)

	assert.Equal(t, g1.NextBatch(500), g2.NextBatch(500))
}

func TestGeneratorStreamShape(t *testing.T) {
	g, err := NewGenerator(Config{Seed: 7, BasePrice: 100_000, Tick: 5, BaseAmount: 100, Levels: 10, StartTime: 1000, DeleteRatio: 0.2})
	require.NoError(t, err)

	records := g.NextBatch(2000)
	deletes := 0
	last := int64(1000)
	for _, rec := range records {
		require.Greater(t, rec.EventTime, last, "event times must be strictly increasing")
		last = rec.EventTime
		require.True(t, rec.Side.Valid())
		require.Greater(t, int64(rec.Price), int64(0))
		require.GreaterOrEqual(t, int64(rec.Amount), int64(0))
		if rec.Amount == 0 {
			deletes++
		}
	}
	assert.Greater(t, deletes, 0, "delete ratio should produce some removals")
	assert.Less(t, deletes, len(records)/2)
}

func TestGeneratorConfigValidate(t *testing.T) {
	_, err := NewGenerator(Config{BasePrice: 0})
	assert.Error(t, err)
	_, err = NewGenerator(Config{BasePrice: 100_000, DeleteRatio: 1.0})
	assert.Error(t, err)
	_, err = NewGenerator(Config{BasePrice: 5, Tick: 1, Levels: 10})
	assert.Error(t, err)
}
