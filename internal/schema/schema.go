package schema

// SnapshotSchemaVersion is the version of the snapshot column contract.
// Adding or removing snapshot columns is a breaking change for downstream
// consumers and must bump this value.
const SnapshotSchemaVersion uint16 = 1

// Price is a scaled integer. The multiplier is defined by configuration.
type Price int64

// Quantity is a scaled integer. The multiplier is defined by configuration.
type Quantity int64

// Side identifies an order-book side.
type Side uint8

const (
	SideUnknown Side = iota
	SideBid
	SideAsk
)

func (s Side) String() string {
	switch s {
	case SideBid:
		return "bid"
	case SideAsk:
		return "ask"
	default:
		return "unknown"
	}
}

// Valid reports whether the side is bid or ask.
func (s Side) Valid() bool {
	return s == SideBid || s == SideAsk
}

// DeltaRecord is one incremental price-level update parsed from the
// delta stream. Amount semantics: > 0 sets the level quantity, == 0
// removes the level. Timestamps are Unix nanoseconds.
type DeltaRecord struct {
	EventTime int64
	Side      Side
	Price     Price
	Amount    Quantity
}

// PriceLevel is one aggregated level of an order-book side.
// Qty is never zero for a stored level.
type PriceLevel struct {
	Price Price
	Qty   Quantity
}

// BookSnapshot is a bounded-depth, integer-valued view of both book
// sides at a sampling boundary. Bids and Asks are best-first and never
// exceed the configured depth. Immutable once produced.
type BookSnapshot struct {
	SymbolID   SymbolID
	SampleTime int64
	Bids       []PriceLevel
	Asks       []PriceLevel
}
