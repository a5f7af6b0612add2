package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookreplay/internal/fixedpoint"
	"bookreplay/internal/schema"
)

var testScale = schema.Multipliers{Price: 100, Amount: 100_000_000}

func TestConvertRow(t *testing.T) {
	conv, err := NewConverter(testScale)
	require.NoError(t, err)

	var rows []DepthRow
	input := `{"E":1700000000000,"s":"btcusdt","b":[["65000.25","0.5"],["64999.00","0"]],"a":[["65001.00","0.25"]]}`
	require.NoError(t, ReadRows(strings.NewReader(input), func(row DepthRow) error {
		rows = append(rows, row)
		return nil
	}))
	require.Len(t, rows, 1)

	records, err := conv.Convert(rows[0])
	require.NoError(t, err)
	require.Len(t, records, 3)

	for _, rec := range records {
		assert.Equal(t, int64(1_700_000_000_000_000_000), rec.EventTime)
	}
	assert.Equal(t, schema.SideBid, records[0].Side)
	assert.Equal(t, schema.Price(6_500_025), records[0].Price)
	assert.Equal(t, schema.Quantity(50_000_000), records[0].Amount)

	// zero quantity is a level removal, not an error
	assert.Equal(t, schema.Quantity(0), records[1].Amount)

	assert.Equal(t, schema.SideAsk, records[2].Side)
	assert.Equal(t, schema.Price(6_500_100), records[2].Price)
}

func TestConvertRejectsBadRows(t *testing.T) {
	conv, err := NewConverter(testScale)
	require.NoError(t, err)

	var rows []DepthRow
	input := strings.Join([]string{
		`{"E":0,"b":[["100.00","1"]]}`,
		`{"E":1700000000000,"b":[["-5.00","1"]]}`,
		`{"E":1700000000000,"a":[["100.00"]]}`,
	}, "\n")
	require.NoError(t, ReadRows(strings.NewReader(input), func(row DepthRow) error {
		rows = append(rows, row)
		return nil
	}))
	require.Len(t, rows, 3)

	for _, row := range rows {
		_, err := conv.Convert(row)
		assert.ErrorIs(t, err, ErrBadRow)
	}
}

func TestConvertOverflowSurfaces(t *testing.T) {
	conv, err := NewConverter(schema.Multipliers{Price: 100_000_000, Amount: 1})
	require.NoError(t, err)

	var rows []DepthRow
	input := `{"E":1700000000000,"b":[["99999999999999999999","1"]]}`
	require.NoError(t, ReadRows(strings.NewReader(input), func(row DepthRow) error {
		rows = append(rows, row)
		return nil
	}))
	_, err = conv.Convert(rows[0])
	assert.ErrorIs(t, err, fixedpoint.ErrOutOfRange)
}

func TestReadRowsSkipsBlankLines(t *testing.T) {
	input := "\n" + `{"E":1700000000000,"b":[],"a":[]}` + "\n\n"
	count := 0
	require.NoError(t, ReadRows(strings.NewReader(input), func(DepthRow) error {
		count++
		return nil
	}))
	assert.Equal(t, 1, count)
}

func TestReadRowsStopsOnHandlerError(t *testing.T) {
	input := `{"E":1700000000000}` + "\n" + `{"E":1700000000001}`
	err := ReadRows(strings.NewReader(input), func(DepthRow) error {
		return ErrBadRow
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadRow)
}
