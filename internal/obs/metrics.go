// Package obs collects lightweight run metrics. All methods are safe
// for concurrent shards and tolerate a nil receiver, so callers never
// branch on whether metrics are enabled.
package obs

import (
	"sync/atomic"
	"time"
)

// Metrics aggregates counters and latency stats across shards.
type Metrics struct {
	batches   uint64
	records   uint64
	snapshots uint64
	resyncs   uint64

	batchLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	Batches      uint64
	Records      uint64
	Snapshots    uint64
	Resyncs      uint64
	BatchLatency LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveBatch records one consumed batch: its record count and how
// long it took to apply.
func (m *Metrics) ObserveBatch(records int, d time.Duration) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.batches, 1)
	atomic.AddUint64(&m.records, uint64(records))
	m.batchLatency.Observe(d)
}

// IncSnapshot records one emitted snapshot.
func (m *Metrics) IncSnapshot() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.snapshots, 1)
}

// IncResync records one resync batch.
func (m *Metrics) IncResync() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.resyncs, 1)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		Batches:      atomic.LoadUint64(&m.batches),
		Records:      atomic.LoadUint64(&m.records),
		Snapshots:    atomic.LoadUint64(&m.snapshots),
		Resyncs:      atomic.LoadUint64(&m.resyncs),
		BatchLatency: m.batchLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
