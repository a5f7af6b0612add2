package schema

import "fmt"

// SymbolID is the numeric identifier for a symbol.
type SymbolID uint32

// Multipliers defines the fixed-point scaling for one symbol.
// Example: Price=100 stores prices in cents. Multipliers are chosen
// statically per symbol and never inferred from data.
type Multipliers struct {
	Price  int64 `json:"price"`
	Amount int64 `json:"amount"`
}

// Validate checks that both multipliers are usable.
func (m Multipliers) Validate() error {
	if m.Price <= 0 {
		return fmt.Errorf("price multiplier must be > 0, got %d", m.Price)
	}
	if m.Amount <= 0 {
		return fmt.Errorf("amount multiplier must be > 0, got %d", m.Amount)
	}
	return nil
}

// Symbol describes a replayable instrument.
type Symbol struct {
	ID    SymbolID
	Name  string
	Scale Multipliers
}

// Registry stores symbol mappings in a compact form. It is built once
// from configuration and read-only afterwards; shards share it without
// synchronization.
type Registry struct {
	symbols      []Symbol
	symbolByName map[string]SymbolID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		symbolByName: make(map[string]SymbolID),
	}
}

// AddSymbol registers a new symbol and returns its ID.
func (r *Registry) AddSymbol(name string, scale Multipliers) (SymbolID, error) {
	if name == "" {
		return 0, fmt.Errorf("symbol name is empty")
	}
	if err := scale.Validate(); err != nil {
		return 0, fmt.Errorf("symbol %s: %w", name, err)
	}
	if id, ok := r.symbolByName[name]; ok {
		return id, fmt.Errorf("symbol already exists: %s", name)
	}
	id := SymbolID(len(r.symbols) + 1)
	r.symbols = append(r.symbols, Symbol{
		ID:    id,
		Name:  name,
		Scale: scale,
	})
	r.symbolByName[name] = id
	return id, nil
}

// Symbol returns the symbol by ID.
func (r *Registry) Symbol(id SymbolID) (Symbol, bool) {
	if id == 0 || int(id) > len(r.symbols) {
		return Symbol{}, false
	}
	return r.symbols[id-1], true
}

// SymbolByName returns the symbol by name.
func (r *Registry) SymbolByName(name string) (Symbol, bool) {
	id, ok := r.symbolByName[name]
	if !ok {
		return Symbol{}, false
	}
	return r.Symbol(id)
}

// SymbolCount returns the number of symbols in the registry.
func (r *Registry) SymbolCount() int {
	return len(r.symbols)
}

// SymbolAt returns the symbol by zero-based index.
func (r *Registry) SymbolAt(index int) (Symbol, bool) {
	if index < 0 || index >= len(r.symbols) {
		return Symbol{}, false
	}
	return r.symbols[index], true
}
