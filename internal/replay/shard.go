// Package replay drives delta streams through per-symbol order books
// and emits sampled snapshots.
package replay

import (
	"context"
	"io"
	"time"

	"github.com/gammazero/deque"

	"bookreplay/internal/book"
	"bookreplay/internal/checkpoint"
	"bookreplay/internal/deltastream"
	"bookreplay/internal/errors"
	"bookreplay/internal/obs"
	"bookreplay/internal/ops"
	"bookreplay/internal/sampler"
	"bookreplay/internal/schema"
)

// Status classifies how a shard run ended.
type Status uint8

const (
	StatusOK Status = iota
	StatusPartial
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusPartial:
		return "partial"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result summarizes one shard run.
type Result struct {
	Symbol      string
	Status      Status
	Batches     uint64
	Snapshots   uint64
	Applied     uint64
	CrossedBook uint64
	OutOfOrder  uint64
	Malformed   uint64
	LastSeq     uint64
	Err         error
}

// ShardConfig describes one symbol's replay pipeline.
type ShardConfig struct {
	Symbol schema.Symbol
	// Dir holds the symbol's delta segments.
	Dir  string
	Spec ops.ReplaySpec
	// Store is optional. When set together with CheckpointEvery > 0,
	// progress is persisted every CheckpointEvery batches and once more
	// on clean completion.
	Store           checkpoint.Store
	CheckpointEvery int
	ReaderOptions   deltastream.ReaderOptions
	// Metrics is optional and may be shared across shards.
	Metrics *obs.Metrics
}

const (
	recentCap     = 4
	prefetchDepth = 2
)

type fetched struct {
	batch deltastream.Batch
	err   error
}

// Shard replays one symbol's delta stream as a lazy snapshot iterator:
// batches are pulled and applied only when Next needs more output.
// Each shard owns its book, sampler and stream; shards never share
// mutable state.
type Shard struct {
	cfg    ShardConfig
	stream *deltastream.Stream
	book   *book.Book
	smp    *sampler.Sampler
	sink   Sink

	// pending buffers snapshots a single batch produced ahead of the
	// caller draining them.
	pending    *deque.Deque[schema.BookSnapshot]
	recent     *deque.Deque[schema.BookSnapshot]
	prefetchCh chan fetched

	done      bool
	snapshots uint64
	malformed uint64
	batches   uint64
	lastSeq   uint64
}

// NewShard opens the delta stream and wires the pipeline. The shard
// takes ownership of the sink and closes it when Run returns.
func NewShard(cfg ShardConfig, sink Sink) (*Shard, error) {
	stream, err := deltastream.OpenStream(cfg.Dir, "", cfg.ReaderOptions)
	if err != nil {
		return nil, err
	}
	s := &Shard{
		cfg:     cfg,
		stream:  stream,
		book:    book.New(cfg.Symbol.ID),
		sink:    sink,
		pending: deque.New[schema.BookSnapshot](),
		recent:  deque.New[schema.BookSnapshot](recentCap),
	}
	smp, err := sampler.New(s.book, sampler.Config{
		Interval: cfg.Spec.Interval,
		Depth:    cfg.Spec.Depth,
	}, s.buffer)
	if err != nil {
		stream.Close()
		return nil, err
	}
	s.smp = smp
	if cfg.Spec.StartTime > 0 {
		smp.Prime(cfg.Spec.StartTime)
	}
	return s, nil
}

func (s *Shard) buffer(snap schema.BookSnapshot) error {
	s.pending.PushBack(snap)
	return nil
}

// Recent returns the most recently yielded snapshots, oldest first.
func (s *Shard) Recent() []schema.BookSnapshot {
	out := make([]schema.BookSnapshot, 0, s.recent.Len())
	for i := 0; i < s.recent.Len(); i++ {
		out = append(out, s.recent.At(i))
	}
	return out
}

// ResumeFrom restores book state and sampler cursor from a checkpoint
// and advances the stream past the checkpointed batch.
func (s *Shard) ResumeFrom(cp checkpoint.Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	bids := make([]schema.PriceLevel, len(cp.Bids))
	for i, entry := range cp.Bids {
		bids[i] = schema.PriceLevel{Price: entry.Price, Qty: entry.Qty}
	}
	asks := make([]schema.PriceLevel, len(cp.Asks))
	for i, entry := range cp.Asks {
		asks[i] = schema.PriceLevel{Price: entry.Price, Qty: entry.Qty}
	}
	stats := book.Stats{
		Applied:     cp.Applied,
		CrossedBook: cp.CrossedBook,
		OutOfOrder:  cp.OutOfOrder,
	}
	if err := s.book.Restore(bids, asks, cp.LastEventTime, stats); err != nil {
		return err
	}
	if cp.NextBoundary > 0 {
		s.smp.RestoreBoundary(cp.NextBoundary)
	}
	if err := s.stream.SkipTo(cp.BatchSeq); err != nil {
		return err
	}
	s.lastSeq = cp.BatchSeq
	return nil
}

// Checkpoint captures the shard's current progress. Only meaningful at
// a batch boundary with no pending snapshots, which is when Run takes
// them.
func (s *Shard) Checkpoint() checkpoint.Checkpoint {
	bids, asks := s.book.Levels()
	stats := s.book.Stats()
	cp := checkpoint.Checkpoint{
		Symbol:        s.cfg.Symbol.Name,
		SymbolID:      s.cfg.Symbol.ID,
		BatchSeq:      s.lastSeq,
		LastEventTime: s.book.LastEventTime(),
		Applied:       stats.Applied,
		CrossedBook:   stats.CrossedBook,
		OutOfOrder:    stats.OutOfOrder,
		Bids:          toEntries(bids),
		Asks:          toEntries(asks),
	}
	if next, primed := s.smp.NextBoundary(); primed {
		cp.NextBoundary = next
	}
	cp.Stamp()
	return cp
}

func toEntries(levels []schema.PriceLevel) []checkpoint.LevelEntry {
	out := make([]checkpoint.LevelEntry, len(levels))
	for i, level := range levels {
		out[i] = checkpoint.LevelEntry{Price: level.Price, Qty: level.Qty}
	}
	return out
}

// Next yields the next snapshot in sample-time order, pulling and
// applying batches as needed. Returns io.EOF once the stream and the
// trailing forward fill are exhausted. The context is only checked
// between batches.
func (s *Shard) Next(ctx context.Context) (schema.BookSnapshot, error) {
	for {
		if s.pending.Len() > 0 {
			snap := s.pending.PopFront()
			if s.recent.Len() == recentCap {
				s.recent.PopFront()
			}
			s.recent.PushBack(snap)
			return snap, nil
		}
		if s.done {
			return schema.BookSnapshot{}, io.EOF
		}

		batch, err := s.nextBatch(ctx)
		if err == io.EOF {
			s.finish()
			continue
		}
		if err != nil {
			return schema.BookSnapshot{}, err
		}
		if err := s.applyBatch(batch); err != nil {
			return schema.BookSnapshot{}, err
		}
	}
}

func (s *Shard) nextBatch(ctx context.Context) (deltastream.Batch, error) {
	select {
	case <-ctx.Done():
		return deltastream.Batch{}, ctx.Err()
	default:
	}
	if s.prefetchCh == nil {
		return s.stream.NextBatch()
	}
	select {
	case <-ctx.Done():
		return deltastream.Batch{}, ctx.Err()
	case f, ok := <-s.prefetchCh:
		if !ok {
			return deltastream.Batch{}, io.EOF
		}
		return f.batch, f.err
	}
}

func (s *Shard) applyBatch(batch deltastream.Batch) error {
	start := time.Now()
	s.lastSeq = batch.Seq

	if batch.Resync() {
		s.cfg.Metrics.IncResync()
		// Boundaries covered by the pre-resync book are emitted
		// before the state is discarded. A resync landing past the
		// window end never catches up beyond it: the run finishes on
		// the pre-resync book instead.
		if len(batch.Records) > 0 {
			first := batch.Records[0].EventTime
			if s.cfg.Spec.EndTime > 0 && first > s.cfg.Spec.EndTime {
				s.finish()
				return nil
			}
			if err := s.smp.CatchUp(first); err != nil {
				return err
			}
		}
		s.book.Reset()
	}

	for _, rec := range batch.Records {
		if s.cfg.Spec.EndTime > 0 && rec.EventTime > s.cfg.Spec.EndTime {
			s.finish()
			return nil
		}
		if err := s.smp.Observe(rec); err != nil {
			if errors.Is(err, book.ErrMalformedRecord) {
				if s.cfg.Spec.Strict {
					return err
				}
				s.malformed++
				continue
			}
			return err
		}
	}
	s.batches++
	s.cfg.Metrics.ObserveBatch(len(batch.Records), time.Since(start))
	return nil
}

// finish forward-fills trailing silent intervals into the pending
// buffer. Without a configured window end the fill stops at the last
// observed event time.
func (s *Shard) finish() {
	end := s.cfg.Spec.EndTime
	if end == 0 {
		end = s.book.LastEventTime()
	}
	// buffer never fails
	_ = s.smp.Flush(end)
	s.done = true
}

// startPrefetch reads batches ahead of the consumer on a bounded
// channel. Decompression overlaps with applying the current batch.
func (s *Shard) startPrefetch(ctx context.Context) {
	ch := make(chan fetched, prefetchDepth)
	s.prefetchCh = ch
	go func() {
		defer close(ch)
		for {
			batch, err := s.stream.NextBatch()
			select {
			case ch <- fetched{batch: batch, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
}

// Run drains the iterator into the sink until exhaustion, the end of
// the configured window, a failure, or context cancellation.
func (s *Shard) Run(ctx context.Context) Result {
	defer s.sink.Close()

	prefetchCtx, cancel := context.WithCancel(ctx)
	s.startPrefetch(prefetchCtx)
	defer func() {
		cancel()
		for range s.prefetchCh {
		}
		s.stream.Close()
	}()

	checkpointed := uint64(0)
	for {
		snap, err := s.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return s.result(statusFor(err), err)
		}
		if err := s.sink.Write(snap); err != nil {
			return s.result(StatusFailed, err)
		}
		s.snapshots++
		s.cfg.Metrics.IncSnapshot()

		// checkpoints only land on drained batch boundaries, so the
		// sink is never behind a stored checkpoint
		if s.pending.Len() == 0 && s.checkpointDue(checkpointed) {
			if err := s.cfg.Store.Save(s.Checkpoint()); err != nil {
				return s.result(StatusFailed, errors.Wrap(err, "save checkpoint"))
			}
			checkpointed = s.batches
		}
	}

	if s.cfg.Store != nil && s.batches > 0 {
		if err := s.cfg.Store.Save(s.Checkpoint()); err != nil {
			return s.result(StatusFailed, errors.Wrap(err, "save checkpoint"))
		}
	}
	return s.result(StatusOK, nil)
}

func (s *Shard) checkpointDue(checkpointed uint64) bool {
	return s.cfg.Store != nil && s.cfg.CheckpointEvery > 0 &&
		s.batches >= checkpointed+uint64(s.cfg.CheckpointEvery)
}

func statusFor(err error) Status {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return StatusPartial
	}
	return StatusFailed
}

func (s *Shard) result(status Status, err error) Result {
	stats := s.book.Stats()
	return Result{
		Symbol:      s.cfg.Symbol.Name,
		Status:      status,
		Batches:     s.batches,
		Snapshots:   s.snapshots,
		Applied:     stats.Applied,
		CrossedBook: stats.CrossedBook,
		OutOfOrder:  stats.OutOfOrder,
		Malformed:   s.malformed,
		LastSeq:     s.lastSeq,
		Err:         err,
	}
}
