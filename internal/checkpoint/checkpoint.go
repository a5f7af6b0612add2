// Package checkpoint persists replay progress so a shard can resume
// without re-reading its delta stream from the start.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"

	"bookreplay/internal/schema"
)

// LevelEntry is one persisted price level.
type LevelEntry struct {
	Price schema.Price    `json:"price"`
	Qty   schema.Quantity `json:"qty"`
}

// Checkpoint captures everything a shard needs to resume: the last
// consumed batch, the full book state and the sampler cursor.
type Checkpoint struct {
	Symbol        string          `json:"symbol"`
	SymbolID      schema.SymbolID `json:"symbolId"`
	TakenAt       int64           `json:"takenAt"`
	BatchSeq      uint64          `json:"batchSeq"`
	LastEventTime int64           `json:"lastEventTs"`
	NextBoundary  int64           `json:"nextBoundary"`
	Applied       uint64          `json:"applied"`
	CrossedBook   uint64          `json:"crossedBook"`
	OutOfOrder    uint64          `json:"outOfOrder"`
	Bids          []LevelEntry    `json:"bids"`
	Asks          []LevelEntry    `json:"asks"`
}

// Stamp sets TakenAt to the current wall clock.
func (c *Checkpoint) Stamp() {
	c.TakenAt = time.Now().UTC().UnixNano()
}

// Validate checks that the checkpoint is internally usable.
func (c Checkpoint) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("invalid checkpoint: Symbol is empty")
	}
	if c.BatchSeq == 0 {
		return fmt.Errorf("invalid checkpoint: BatchSeq is zero")
	}
	return nil
}

// Store persists checkpoints keyed by symbol.
type Store interface {
	Save(cp Checkpoint) error
	Load(symbol string) (Checkpoint, bool, error)
}

// FileStore keeps one JSON checkpoint file per symbol under a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("invalid file store: dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

// Save writes the checkpoint atomically via a temp file rename.
func (s *FileStore) Save(cp Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	data, err := sonic.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	path := s.path(cp.Symbol)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads the checkpoint for a symbol. The second return value is
// false when no checkpoint exists.
func (s *FileStore) Load(symbol string) (Checkpoint, bool, error) {
	data, err := os.ReadFile(s.path(symbol))
	if err != nil {
		if os.IsNotExist(err) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, err
	}
	var cp Checkpoint
	if err := sonic.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, err
	}
	return cp, true, nil
}

func (s *FileStore) path(symbol string) string {
	return filepath.Join(s.dir, symbol+".checkpoint.json")
}
