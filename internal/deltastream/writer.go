package deltastream

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"bookreplay/internal/errors"
	"bookreplay/internal/schema"
)

var (
	ErrWriterClosed  = errors.New("delta writer closed")
	ErrEmptyBatch    = errors.New("delta batch is empty")
	ErrUnsortedBatch = errors.New("delta batch not sorted by event time")
)

const (
	defaultSegmentMaxBytes int64 = 256 << 20
	defaultBufferSize            = 256 * 1024
	defaultFilePrefix            = "deltas"
)

// WriterConfig controls segment writing.
type WriterConfig struct {
	Dir             string
	FilePrefix      string
	SegmentMaxBytes int64
	BufferSize      int
}

func (c WriterConfig) withDefaults() WriterConfig {
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	if c.SegmentMaxBytes == 0 {
		c.SegmentMaxBytes = defaultSegmentMaxBytes
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	return c
}

// Validate checks if the config is usable.
func (c WriterConfig) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("invalid writer config: Dir is empty")
	}
	if c.SegmentMaxBytes <= 0 {
		return fmt.Errorf("invalid writer config: SegmentMaxBytes must be > 0")
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("invalid writer config: BufferSize must be > 0")
	}
	return nil
}

// Writer appends compressed delta batches to rotating segment files.
// It is used by the converter and by tests to build streams; replay
// itself only reads.
type Writer struct {
	cfg     WriterConfig
	enc     *zstd.Encoder
	seg     *segmentWriter
	segID   uint64
	nextSeq uint64
	scratch []byte
	closed  bool
}

type segmentWriter struct {
	file *os.File
	buf  *bufio.Writer
	size int64
}

// NewWriter creates a writer and ensures the target directory exists.
func NewWriter(cfg WriterConfig) (*Writer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, errors.Wrap(err, "init zstd encoder")
	}
	return &Writer{cfg: cfg, enc: enc, nextSeq: 1}, nil
}

// WriteBatch encodes, compresses and frames one batch. Records must be
// sorted ascending by event time; resync batches may be empty (a bare
// reset), ordinary batches may not.
func (w *Writer) WriteBatch(records []schema.DeltaRecord, flags uint16) error {
	if w.closed {
		return ErrWriterClosed
	}
	if len(records) == 0 && flags&FlagResync == 0 {
		return ErrEmptyBatch
	}
	for i := 1; i < len(records); i++ {
		if records[i].EventTime < records[i-1].EventTime {
			return errors.Wrapf(ErrUnsortedBatch, "index %d", i)
		}
	}

	w.scratch = w.scratch[:0]
	for _, rec := range records {
		w.scratch = encodeDelta(w.scratch, rec)
	}
	compressed := w.enc.EncodeAll(w.scratch, nil)

	h := frameHeader{
		Flags:         flags,
		RecordCount:   uint32(len(records)),
		CompressedLen: uint32(len(compressed)),
		BatchSeq:      w.nextSeq,
	}
	if len(records) > 0 {
		h.FirstEventTime = records[0].EventTime
		h.LastEventTime = records[len(records)-1].EventTime
	}

	var headerBuf [frameHeaderSize]byte
	encodeFrameHeader(headerBuf[:], h)
	var checksumBuf [frameChecksumSize]byte
	binary.LittleEndian.PutUint32(checksumBuf[:], checksum(headerBuf[:], compressed))

	frameSize := int64(frameHeaderSize + len(compressed) + frameChecksumSize)
	if w.seg == nil || w.seg.size+frameSize > w.cfg.SegmentMaxBytes {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	if _, err := w.seg.buf.Write(headerBuf[:]); err != nil {
		return err
	}
	if _, err := w.seg.buf.Write(compressed); err != nil {
		return err
	}
	if _, err := w.seg.buf.Write(checksumBuf[:]); err != nil {
		return err
	}
	w.seg.size += frameSize
	w.nextSeq++
	return nil
}

// Close flushes and closes the current segment.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.enc.Close()
	return w.closeSegment()
}

func (w *Writer) rotate() error {
	if err := w.closeSegment(); err != nil {
		return err
	}
	for {
		w.segID++
		name := fmt.Sprintf("%s-%06d.dlt", w.cfg.FilePrefix, w.segID)
		path := filepath.Join(w.cfg.Dir, name)
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return err
		}
		w.seg = &segmentWriter{
			file: file,
			buf:  bufio.NewWriterSize(file, w.cfg.BufferSize),
		}
		return nil
	}
}

func (w *Writer) closeSegment() error {
	if w.seg == nil {
		return nil
	}
	seg := w.seg
	w.seg = nil
	if err := seg.buf.Flush(); err != nil {
		_ = seg.file.Close()
		return err
	}
	if err := seg.file.Sync(); err != nil {
		_ = seg.file.Close()
		return err
	}
	return seg.file.Close()
}
