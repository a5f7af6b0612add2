// Package book maintains per-symbol bid/ask price-level tables and
// applies incremental updates. State is integer-valued throughout; the
// book never sees a float.
package book

import (
	"github.com/tidwall/btree"

	"bookreplay/internal/errors"
	"bookreplay/internal/schema"
)

var ErrMalformedRecord = errors.New("malformed delta record")

// Stats are the per-book anomaly counters surfaced to the orchestrator.
// None of them stop the replay.
type Stats struct {
	Applied     uint64
	CrossedBook uint64
	OutOfOrder  uint64
}

// Book is one symbol's L2 order book. It is exclusively owned by the
// shard replaying that symbol and is not safe for concurrent use.
type Book struct {
	symbolID      schema.SymbolID
	bids          *btree.Map[int64, int64]
	asks          *btree.Map[int64, int64]
	lastEventTime int64
	stats         Stats
}

// New creates an empty book for the given symbol.
func New(symbolID schema.SymbolID) *Book {
	return &Book{
		symbolID: symbolID,
		bids:     btree.NewMap[int64, int64](32),
		asks:     btree.NewMap[int64, int64](32),
	}
}

// SymbolID returns the symbol this book belongs to.
func (b *Book) SymbolID() schema.SymbolID { return b.symbolID }

// LastEventTime returns the newest event time applied so far.
func (b *Book) LastEventTime() int64 { return b.lastEventTime }

// Stats returns the anomaly counters.
func (b *Book) Stats() Stats { return b.stats }

// Depth returns the number of resident levels per side.
func (b *Book) Depth() (bids, asks int) {
	return b.bids.Len(), b.asks.Len()
}

// Check validates a delta without touching book state. ApplyDelta
// performs the same validation; callers that need to know a record is
// well-formed before advancing other state use Check directly.
func (b *Book) Check(rec schema.DeltaRecord) error {
	if !rec.Side.Valid() {
		return errors.Wrapf(ErrMalformedRecord, "side %d", rec.Side)
	}
	if rec.Price <= 0 {
		return errors.Wrapf(ErrMalformedRecord, "price %d", rec.Price)
	}
	if rec.Amount < 0 {
		return errors.Wrapf(ErrMalformedRecord, "amount %d", rec.Amount)
	}
	return nil
}

// ApplyDelta applies one incremental update. Amount > 0 inserts or
// updates the level, amount == 0 removes it (no-op when absent).
// Malformed records are rejected without mutating state. Crossed-book
// and out-of-order conditions are counted, never rejected.
func (b *Book) ApplyDelta(rec schema.DeltaRecord) error {
	if err := b.Check(rec); err != nil {
		return err
	}

	if rec.EventTime < b.lastEventTime {
		b.stats.OutOfOrder++
	} else {
		b.lastEventTime = rec.EventTime
	}

	side := b.asks
	if rec.Side == schema.SideBid {
		side = b.bids
	}
	if rec.Amount == 0 {
		side.Delete(int64(rec.Price))
	} else {
		side.Set(int64(rec.Price), int64(rec.Amount))
	}
	b.stats.Applied++

	if rec.Amount > 0 && b.crossedBy(rec.Side, int64(rec.Price)) {
		b.stats.CrossedBook++
	}
	return nil
}

// crossedBy reports whether the level at price participates in a
// best-bid >= best-ask crossing after the update.
func (b *Book) crossedBy(side schema.Side, price int64) bool {
	bestBid, _, okBid := b.bids.Max()
	bestAsk, _, okAsk := b.asks.Min()
	if !okBid || !okAsk || bestBid < bestAsk {
		return false
	}
	if side == schema.SideBid {
		return price >= bestAsk
	}
	return price <= bestBid
}

// Crossed reports whether best-bid >= best-ask right now. A transient
// crossing is expected in raw feeds and must stay observable.
func (b *Book) Crossed() bool {
	bestBid, _, okBid := b.bids.Max()
	bestAsk, _, okAsk := b.asks.Min()
	return okBid && okAsk && bestBid >= bestAsk
}

// BestBid returns the highest bid level.
func (b *Book) BestBid() (schema.PriceLevel, bool) {
	price, qty, ok := b.bids.Max()
	if !ok {
		return schema.PriceLevel{}, false
	}
	return schema.PriceLevel{Price: schema.Price(price), Qty: schema.Quantity(qty)}, true
}

// BestAsk returns the lowest ask level.
func (b *Book) BestAsk() (schema.PriceLevel, bool) {
	price, qty, ok := b.asks.Min()
	if !ok {
		return schema.PriceLevel{}, false
	}
	return schema.PriceLevel{Price: schema.Price(price), Qty: schema.Quantity(qty)}, true
}

// Snapshot copies up to depth best levels per side, best-first: bids
// descending, asks ascending. The book is not mutated.
func (b *Book) Snapshot(depth int, sampleTime int64) schema.BookSnapshot {
	snap := schema.BookSnapshot{
		SymbolID:   b.symbolID,
		SampleTime: sampleTime,
	}
	if depth <= 0 {
		return snap
	}
	snap.Bids = make([]schema.PriceLevel, 0, min(depth, b.bids.Len()))
	snap.Asks = make([]schema.PriceLevel, 0, min(depth, b.asks.Len()))
	b.bids.Reverse(func(price, qty int64) bool {
		snap.Bids = append(snap.Bids, schema.PriceLevel{
			Price: schema.Price(price),
			Qty:   schema.Quantity(qty),
		})
		return len(snap.Bids) < depth
	})
	b.asks.Scan(func(price, qty int64) bool {
		snap.Asks = append(snap.Asks, schema.PriceLevel{
			Price: schema.Price(price),
			Qty:   schema.Quantity(qty),
		})
		return len(snap.Asks) < depth
	})
	return snap
}

// Levels returns every resident level on both sides, bids descending
// and asks ascending. Used for checkpointing the full book state.
func (b *Book) Levels() (bids, asks []schema.PriceLevel) {
	bids = make([]schema.PriceLevel, 0, b.bids.Len())
	asks = make([]schema.PriceLevel, 0, b.asks.Len())
	b.bids.Reverse(func(price, qty int64) bool {
		bids = append(bids, schema.PriceLevel{Price: schema.Price(price), Qty: schema.Quantity(qty)})
		return true
	})
	b.asks.Scan(func(price, qty int64) bool {
		asks = append(asks, schema.PriceLevel{Price: schema.Price(price), Qty: schema.Quantity(qty)})
		return true
	})
	return bids, asks
}

// Reset clears both sides. Only an explicit upstream resync signal may
// trigger it, never a pattern inferred from the data.
func (b *Book) Reset() {
	b.bids = btree.NewMap[int64, int64](32)
	b.asks = btree.NewMap[int64, int64](32)
}

// Restore loads a previously checkpointed book state. Levels with
// qty <= 0 are rejected because the book never stores empty levels.
func (b *Book) Restore(bids, asks []schema.PriceLevel, lastEventTime int64, stats Stats) error {
	restored := New(b.symbolID)
	for _, lvl := range bids {
		if lvl.Price <= 0 || lvl.Qty <= 0 {
			return errors.Wrapf(ErrMalformedRecord, "restore bid level %d/%d", lvl.Price, lvl.Qty)
		}
		restored.bids.Set(int64(lvl.Price), int64(lvl.Qty))
	}
	for _, lvl := range asks {
		if lvl.Price <= 0 || lvl.Qty <= 0 {
			return errors.Wrapf(ErrMalformedRecord, "restore ask level %d/%d", lvl.Price, lvl.Qty)
		}
		restored.asks.Set(int64(lvl.Price), int64(lvl.Qty))
	}
	b.bids = restored.bids
	b.asks = restored.asks
	b.lastEventTime = lastEventTime
	b.stats = stats
	return nil
}
