package deltastream

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookreplay/internal/schema"
)

func rec(t int64, side schema.Side, price, amount int64) schema.DeltaRecord {
	return schema.DeltaRecord{EventTime: t, Side: side, Price: schema.Price(price), Amount: schema.Quantity(amount)}
}

func writeStream(t *testing.T, dir string, cfg WriterConfig, batches ...[]schema.DeltaRecord) {
	t.Helper()
	cfg.Dir = dir
	w, err := NewWriter(cfg)
	require.NoError(t, err)
	for _, records := range batches {
		require.NoError(t, w.WriteBatch(records, 0))
	}
	require.NoError(t, w.Close())
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	batch1 := []schema.DeltaRecord{
		rec(100, schema.SideBid, 10000, 5),
		rec(150, schema.SideAsk, 10010, 3),
	}
	batch2 := []schema.DeltaRecord{
		rec(220, schema.SideBid, 10000, 0),
	}
	writeStream(t, dir, WriterConfig{}, batch1, batch2)

	s, err := OpenStream(dir, "", ReaderOptions{})
	require.NoError(t, err)
	defer s.Close()

	got1, err := s.NextBatch()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got1.Seq)
	assert.Equal(t, batch1, got1.Records)
	assert.False(t, got1.Resync())

	got2, err := s.NextBatch()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got2.Seq)
	assert.Equal(t, batch2, got2.Records)

	_, err = s.NextBatch()
	assert.Equal(t, io.EOF, err)
}

func TestSegmentRotationPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	// tiny segment cap: every batch lands in its own file
	cfg := WriterConfig{SegmentMaxBytes: frameHeaderSize + frameChecksumSize + 16}
	var batches [][]schema.DeltaRecord
	for i := int64(0); i < 5; i++ {
		batches = append(batches, []schema.DeltaRecord{rec(100*i+1, schema.SideBid, 10000+i, 1)})
	}
	writeStream(t, dir, cfg, batches...)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Greater(t, len(entries), 1, "expected multiple segments")

	s, err := OpenStream(dir, "", ReaderOptions{})
	require.NoError(t, err)
	defer s.Close()

	for seq := uint64(1); seq <= 5; seq++ {
		batch, err := s.NextBatch()
		require.NoError(t, err)
		assert.Equal(t, seq, batch.Seq)
	}
	_, err = s.NextBatch()
	assert.Equal(t, io.EOF, err)
}

func TestResyncBatch(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(WriterConfig{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, w.WriteBatch([]schema.DeltaRecord{rec(100, schema.SideBid, 10000, 5)}, 0))
	require.NoError(t, w.WriteBatch([]schema.DeltaRecord{rec(200, schema.SideAsk, 10010, 3)}, FlagResync))
	require.NoError(t, w.Close())

	s, err := OpenStream(dir, "", ReaderOptions{})
	require.NoError(t, err)
	defer s.Close()

	first, err := s.NextBatch()
	require.NoError(t, err)
	assert.False(t, first.Resync())

	second, err := s.NextBatch()
	require.NoError(t, err)
	assert.True(t, second.Resync())
	assert.Len(t, second.Records, 1)
}

func TestWriterRejectsUnsortedBatch(t *testing.T) {
	w, err := NewWriter(WriterConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	defer w.Close()

	err = w.WriteBatch([]schema.DeltaRecord{
		rec(200, schema.SideBid, 10000, 5),
		rec(100, schema.SideBid, 10001, 5),
	}, 0)
	assert.ErrorIs(t, err, ErrUnsortedBatch)

	err = w.WriteBatch(nil, 0)
	assert.ErrorIs(t, err, ErrEmptyBatch)

	// a bare resync marker is a legal empty batch
	assert.NoError(t, w.WriteBatch(nil, FlagResync))
}

func TestCorruptPayloadDetected(t *testing.T) {
	dir := t.TempDir()
	writeStream(t, dir, WriterConfig{}, []schema.DeltaRecord{rec(100, schema.SideBid, 10000, 5)})

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	path := filepath.Join(dir, entries[0].Name())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[frameHeaderSize] ^= 0xFF // flip a payload byte
	require.NoError(t, os.WriteFile(path, data, 0o644))

	s, err := OpenStream(dir, "", ReaderOptions{})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.NextBatch()
	assert.ErrorIs(t, err, ErrStream)
}

func TestTruncatedSegmentDetected(t *testing.T) {
	dir := t.TempDir()
	writeStream(t, dir, WriterConfig{}, []schema.DeltaRecord{
		rec(100, schema.SideBid, 10000, 5),
		rec(150, schema.SideAsk, 10010, 3),
	})

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	path := filepath.Join(dir, entries[0].Name())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-3], 0o644))

	s, err := OpenStream(dir, "", ReaderOptions{})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.NextBatch()
	assert.ErrorIs(t, err, ErrStream)
}

func TestSkipToResumesAfterSeq(t *testing.T) {
	dir := t.TempDir()
	var batches [][]schema.DeltaRecord
	for i := int64(0); i < 4; i++ {
		batches = append(batches, []schema.DeltaRecord{rec(100*i+1, schema.SideBid, 10000+i, 1)})
	}
	writeStream(t, dir, WriterConfig{}, batches...)

	s, err := OpenStream(dir, "", ReaderOptions{})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SkipTo(2))
	batch, err := s.NextBatch()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), batch.Seq)
}

func TestOpenStreamIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	writeStream(t, dir, WriterConfig{}, []schema.DeltaRecord{rec(100, schema.SideBid, 10000, 5)})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other-000001.dlt"), []byte("x"), 0o644))

	s, err := OpenStream(dir, "deltas", ReaderOptions{})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.NextBatch()
	require.NoError(t, err)
	_, err = s.NextBatch()
	assert.Equal(t, io.EOF, err)
}
