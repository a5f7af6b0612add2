// Package mdg creates synthetic delta streams for fixtures and load
// testing.
package mdg

import (
	"fmt"
	"math/rand"

	"bookreplay/internal/schema"
)

// Config controls the shape of the generated stream.
type Config struct {
	Seed int64
	// BasePrice is the scaled starting mid price.
	BasePrice int64
	// Tick is the scaled distance between adjacent price levels.
	Tick int64
	// BaseAmount is the scaled quantity hint; actual amounts vary
	// around it.
	BaseAmount int64
	// Levels bounds how far from the mid generated prices may land,
	// per side.
	Levels int
	// StartTime is the event time of the first delta in nanoseconds.
	StartTime int64
	// Step is the mean event-time gap between deltas in nanoseconds.
	Step int64
	// DeleteRatio in [0,1) is the share of zero-amount deltas.
	DeleteRatio float64
}

func (c Config) withDefaults() Config {
	if c.Tick == 0 {
		c.Tick = 1
	}
	if c.BaseAmount == 0 {
		c.BaseAmount = 100
	}
	if c.Levels == 0 {
		c.Levels = 10
	}
	if c.Step == 0 {
		c.Step = 1_000_000
	}
	return c
}

// Validate checks if the config is usable.
func (c Config) Validate() error {
	if c.BasePrice <= 0 {
		return fmt.Errorf("invalid generator config: BasePrice must be > 0")
	}
	if c.Tick <= 0 || c.BaseAmount <= 0 || c.Levels <= 0 || c.Step <= 0 {
		return fmt.Errorf("invalid generator config: Tick, BaseAmount, Levels and Step must be > 0")
	}
	if c.DeleteRatio < 0 || c.DeleteRatio >= 1 {
		return fmt.Errorf("invalid generator config: DeleteRatio must be in [0,1)")
	}
	if c.BasePrice <= int64(c.Levels)*c.Tick {
		return fmt.Errorf("invalid generator config: BasePrice too small for Levels*Tick")
	}
	return nil
}

// Generator produces a deterministic pseudo-random delta stream: a mid
// price random walk with per-side level updates and deletes. The same
// seed always yields the same stream.
type Generator struct {
	cfg  Config
	rng  *rand.Rand
	mid  int64
	now  int64
	live []liveLevel
}

type liveLevel struct {
	price schema.Price
	side  schema.Side
}

// NewGenerator creates a generator from the config.
func NewGenerator(cfg Config) (*Generator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Generator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
		mid: cfg.BasePrice,
		now: cfg.StartTime,
	}, nil
}

// Next produces the next delta. Event times are strictly increasing.
func (g *Generator) Next() schema.DeltaRecord {
	g.now += 1 + g.rng.Int63n(2*g.cfg.Step)

	// drift the mid one tick at a time
	switch g.rng.Intn(3) {
	case 0:
		g.mid += g.cfg.Tick
	case 1:
		g.mid -= g.cfg.Tick
	}
	if g.mid <= int64(g.cfg.Levels)*g.cfg.Tick {
		g.mid = g.cfg.BasePrice
	}

	if g.cfg.DeleteRatio > 0 && g.rng.Float64() < g.cfg.DeleteRatio {
		if rec, ok := g.deleteLive(); ok {
			return rec
		}
	}

	side := schema.SideBid
	if g.rng.Intn(2) == 1 {
		side = schema.SideAsk
	}
	offset := (1 + g.rng.Int63n(int64(g.cfg.Levels))) * g.cfg.Tick
	price := g.mid - offset
	if side == schema.SideAsk {
		price = g.mid + offset
	}
	amount := g.cfg.BaseAmount + g.rng.Int63n(g.cfg.BaseAmount)

	g.live = append(g.live, liveLevel{price: schema.Price(price), side: side})
	return schema.DeltaRecord{
		EventTime: g.now,
		Side:      side,
		Price:     schema.Price(price),
		Amount:    schema.Quantity(amount),
	}
}

// NextBatch produces n deltas sorted by event time.
func (g *Generator) NextBatch(n int) []schema.DeltaRecord {
	out := make([]schema.DeltaRecord, n)
	for i := range out {
		out[i] = g.Next()
	}
	return out
}

func (g *Generator) deleteLive() (schema.DeltaRecord, bool) {
	if len(g.live) == 0 {
		return schema.DeltaRecord{}, false
	}
	i := g.rng.Intn(len(g.live))
	level := g.live[i]
	g.live[i] = g.live[len(g.live)-1]
	g.live = g.live[:len(g.live)-1]
	return schema.DeltaRecord{
		EventTime: g.now,
		Side:      level.side,
		Price:     level.price,
		Amount:    0,
	}, true
}
