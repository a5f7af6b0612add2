// Package ingest converts exchange-style depth dumps into delta
// records for the segment writer.
package ingest

import (
	"bufio"
	"io"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/decimal"

	"bookreplay/internal/errors"
	"bookreplay/internal/fixedpoint"
	"bookreplay/internal/schema"
)

var ErrBadRow = errors.New("malformed depth row")

// DepthRow is one diff-depth update as exchanges publish it: prices
// and quantities as decimal strings, the event time in milliseconds.
type DepthRow struct {
	EventTime int64               `json:"E"`
	Symbol    string              `json:"s"`
	Bids      [][]decimal.Decimal `json:"b"` // [0]price [1]quantity
	Asks      [][]decimal.Decimal `json:"a"` // [0]price [1]quantity
}

// Converter turns depth rows into scaled delta records for one symbol.
type Converter struct {
	scale schema.Multipliers
}

// NewConverter creates a converter with the symbol's multipliers.
func NewConverter(scale schema.Multipliers) (*Converter, error) {
	if err := scale.Validate(); err != nil {
		return nil, err
	}
	return &Converter{scale: scale}, nil
}

// Convert expands one row into delta records, bids before asks. The
// conversion is exact: decimal strings never pass through floats.
func (c *Converter) Convert(row DepthRow) ([]schema.DeltaRecord, error) {
	if row.EventTime <= 0 {
		return nil, errors.Wrap(ErrBadRow, "event time must be > 0")
	}
	eventTime := row.EventTime * 1_000_000 // ms to ns

	out := make([]schema.DeltaRecord, 0, len(row.Bids)+len(row.Asks))
	var err error
	if out, err = c.appendSide(out, eventTime, schema.SideBid, row.Bids); err != nil {
		return nil, err
	}
	if out, err = c.appendSide(out, eventTime, schema.SideAsk, row.Asks); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Converter) appendSide(out []schema.DeltaRecord, eventTime int64, side schema.Side, levels [][]decimal.Decimal) ([]schema.DeltaRecord, error) {
	for _, level := range levels {
		if len(level) != 2 {
			return nil, errors.Wrapf(ErrBadRow, "%s level must have 2 fields, got %d", side, len(level))
		}
		price, err := fixedpoint.EncodeString(level[0].String(), c.scale.Price)
		if err != nil {
			return nil, errors.Wrapf(err, "encode %s price %s", side, level[0].String())
		}
		if price <= 0 {
			return nil, errors.Wrapf(ErrBadRow, "%s price must be > 0, got %s", side, level[0].String())
		}
		amount, err := fixedpoint.EncodeString(level[1].String(), c.scale.Amount)
		if err != nil {
			return nil, errors.Wrapf(err, "encode %s amount %s", side, level[1].String())
		}
		if amount < 0 {
			return nil, errors.Wrapf(ErrBadRow, "%s amount must be >= 0, got %s", side, level[1].String())
		}
		out = append(out, schema.DeltaRecord{
			EventTime: eventTime,
			Side:      side,
			Price:     schema.Price(price),
			Amount:    schema.Quantity(amount),
		})
	}
	return out, nil
}

// ReadRows parses newline-delimited JSON depth rows. Blank lines are
// skipped.
func ReadRows(r io.Reader, handle func(DepthRow) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var row DepthRow
		if err := sonic.Unmarshal(raw, &row); err != nil {
			return errors.Wrapf(err, "parse line %d", line)
		}
		if err := handle(row); err != nil {
			return errors.Wrapf(err, "line %d", line)
		}
	}
	return scanner.Err()
}
