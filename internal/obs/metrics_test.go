package obs

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsAggregation(t *testing.T) {
	m := NewMetrics()
	m.ObserveBatch(10, 2*time.Millisecond)
	m.ObserveBatch(5, 4*time.Millisecond)
	m.IncSnapshot()
	m.IncSnapshot()
	m.IncResync()

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.Batches)
	assert.Equal(t, uint64(15), snap.Records)
	assert.Equal(t, uint64(2), snap.Snapshots)
	assert.Equal(t, uint64(1), snap.Resyncs)
	assert.Equal(t, uint64(2), snap.BatchLatency.Count)
	assert.Equal(t, 2*time.Millisecond, snap.BatchLatency.Min)
	assert.Equal(t, 4*time.Millisecond, snap.BatchLatency.Max)
	assert.Equal(t, 3*time.Millisecond, snap.BatchLatency.Avg)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveBatch(1, time.Millisecond)
	m.IncSnapshot()
	m.IncResync()
	assert.Equal(t, Snapshot{}, m.Snapshot())
}

func TestMetricsConcurrentObservers(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.ObserveBatch(1, time.Microsecond)
				m.IncSnapshot()
			}
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	assert.Equal(t, uint64(8000), snap.Batches)
	assert.Equal(t, uint64(8000), snap.Records)
	assert.Equal(t, uint64(8000), snap.Snapshots)
	assert.Equal(t, uint64(8000), snap.BatchLatency.Count)
}
