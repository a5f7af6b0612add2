package replay

import (
	"bufio"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"

	"bookreplay/internal/fixedpoint"
	"bookreplay/internal/schema"
)

// Sink receives sampled snapshots in sample-time order.
type Sink interface {
	Write(snap schema.BookSnapshot) error
	Close() error
}

type snapshotRow struct {
	Version    uint16       `json:"v"`
	Symbol     string       `json:"symbol"`
	SampleTime int64        `json:"time"`
	Bids       [][2]float64 `json:"bids"`
	Asks       [][2]float64 `json:"asks"`
}

// NDJSONSink writes one JSON object per snapshot to a per-symbol file.
// Scaled integer levels are decoded back to floats on the way out.
type NDJSONSink struct {
	symbol schema.Symbol
	file   *os.File
	buf    *bufio.Writer
}

// NewNDJSONSink opens <dir>/<symbol>.snapshots.ndjson. A fresh run
// truncates previous output; resumed runs append to it.
func NewNDJSONSink(dir string, symbol schema.Symbol, appendMode bool) (*NDJSONSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, symbol.Name+".snapshots.ndjson")
	flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendMode {
		flag = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	file, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, err
	}
	return &NDJSONSink{
		symbol: symbol,
		file:   file,
		buf:    bufio.NewWriterSize(file, 256*1024),
	}, nil
}

func (s *NDJSONSink) Write(snap schema.BookSnapshot) error {
	row := snapshotRow{
		Version:    schema.SnapshotSchemaVersion,
		Symbol:     s.symbol.Name,
		SampleTime: snap.SampleTime,
		Bids:       decodeLevels(snap.Bids, s.symbol.Scale),
		Asks:       decodeLevels(snap.Asks, s.symbol.Scale),
	}
	data, err := sonic.Marshal(row)
	if err != nil {
		return err
	}
	if _, err := s.buf.Write(data); err != nil {
		return err
	}
	return s.buf.WriteByte('\n')
}

func (s *NDJSONSink) Close() error {
	if err := s.buf.Flush(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

func decodeLevels(levels []schema.PriceLevel, scale schema.Multipliers) [][2]float64 {
	out := make([][2]float64, len(levels))
	for i, level := range levels {
		out[i] = [2]float64{
			fixedpoint.Decode(int64(level.Price), scale.Price),
			fixedpoint.Decode(int64(level.Qty), scale.Amount),
		}
	}
	return out
}
