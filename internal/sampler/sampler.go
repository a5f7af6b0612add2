// Package sampler drives an order book through a time-ordered delta
// sequence and emits bounded-depth snapshots on a fixed cadence.
//
// Boundaries are multiples of the interval measured from the Unix
// epoch, never from the first observed delta. A snapshot at boundary b
// reflects every delta with event_time <= b and nothing after it: the
// sampler never looks ahead. Intervals with no deltas still emit a
// snapshot from the unchanged prior state (forward fill).
package sampler

import (
	"bookreplay/internal/book"
	"bookreplay/internal/errors"
	"bookreplay/internal/schema"
)

var ErrBadConfig = errors.New("invalid sampler config")

// EmitFunc receives each snapshot in sample-time order.
type EmitFunc func(schema.BookSnapshot) error

// Config controls cadence and snapshot depth.
type Config struct {
	// Interval between boundaries in event-time units (nanoseconds).
	Interval int64
	// Depth is the maximum number of levels per snapshot side.
	Depth int
}

// Validate checks if the config is usable.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return errors.Wrap(ErrBadConfig, "Interval must be > 0")
	}
	if c.Depth <= 0 {
		return errors.Wrap(ErrBadConfig, "Depth must be > 0")
	}
	return nil
}

// Sampler owns the boundary cursor for one book. Not safe for
// concurrent use; each shard drives exactly one sampler sequentially.
type Sampler struct {
	book   *book.Book
	emit   EmitFunc
	cfg    Config
	next   int64
	primed bool
}

// New creates a sampler over the given book.
func New(b *book.Book, cfg Config, emit EmitFunc) (*Sampler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if emit == nil {
		return nil, errors.Wrap(ErrBadConfig, "emit is nil")
	}
	return &Sampler{book: b, emit: emit, cfg: cfg}, nil
}

// Prime positions the boundary cursor for a replay window starting at
// startTime: the first emitted boundary is the first grid point
// strictly after it. Without priming, the cursor is set by the first
// observed delta instead.
func (s *Sampler) Prime(startTime int64) {
	s.next = ceilBoundary(startTime, s.cfg.Interval)
	if s.next == startTime {
		s.next += s.cfg.Interval
	}
	s.primed = true
}

// Observe emits any boundaries strictly before the delta's event time,
// then applies the delta. Deltas sharing a boundary timestamp are all
// applied before that boundary's snapshot is emitted.
func (s *Sampler) Observe(rec schema.DeltaRecord) error {
	if err := s.book.Check(rec); err != nil {
		return err
	}
	if !s.primed {
		s.next = ceilBoundary(rec.EventTime, s.cfg.Interval)
		s.primed = true
	}
	for s.next < rec.EventTime {
		if err := s.emit(s.book.Snapshot(s.cfg.Depth, s.next)); err != nil {
			return err
		}
		s.next += s.cfg.Interval
	}
	return s.book.ApplyDelta(rec)
}

// CatchUp emits any boundaries strictly before eventTime without
// applying a delta. Used before discarding book state on a resync, so
// boundaries covered by the pre-resync book are not lost. A no-op until
// the first delta or Prime sets the cursor.
func (s *Sampler) CatchUp(eventTime int64) error {
	if !s.primed {
		return nil
	}
	for s.next < eventTime {
		if err := s.emit(s.book.Snapshot(s.cfg.Depth, s.next)); err != nil {
			return err
		}
		s.next += s.cfg.Interval
	}
	return nil
}

// Flush forward-fills snapshots through endTime after the stream is
// exhausted, so feed silence at the end of the window still produces
// the fixed-cadence signal.
func (s *Sampler) Flush(endTime int64) error {
	if !s.primed {
		return nil
	}
	for s.next <= endTime {
		if err := s.emit(s.book.Snapshot(s.cfg.Depth, s.next)); err != nil {
			return err
		}
		s.next += s.cfg.Interval
	}
	return nil
}

// NextBoundary returns the boundary cursor, for checkpointing.
func (s *Sampler) NextBoundary() (int64, bool) {
	return s.next, s.primed
}

// RestoreBoundary repositions the cursor from a checkpoint.
func (s *Sampler) RestoreBoundary(next int64) {
	s.next = next
	s.primed = true
}

// ceilBoundary returns the smallest multiple of interval >= t.
func ceilBoundary(t, interval int64) int64 {
	q := t / interval
	if t%interval > 0 {
		q++
	}
	return q * interval
}
