package deltastream

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zstd"

	"bookreplay/internal/errors"
	"bookreplay/internal/schema"
)

// ReaderOptions controls batch decoding.
type ReaderOptions struct {
	DisableChecksum bool
	// MaxBatchBytes caps the compressed payload size; 0 means unlimited.
	MaxBatchBytes int
}

// Reader decodes framed batches sequentially from one io.Reader.
type Reader struct {
	r          *bufio.Reader
	dec        *zstd.Decoder
	opts       ReaderOptions
	headerBuf  []byte
	compressed []byte
}

// NewReader wraps an io.Reader with batch decoding.
func NewReader(r io.Reader, opts ReaderOptions) (*Reader, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, "init zstd decoder")
	}
	return &Reader{
		r:         bufio.NewReader(r),
		dec:       dec,
		opts:      opts,
		headerBuf: make([]byte, frameHeaderSize),
	}, nil
}

// Close releases the decoder.
func (r *Reader) Close() {
	r.dec.Close()
}

// Next returns the next batch, or io.EOF at a clean end of input.
// Any other failure is wrapped in ErrStream and is terminal.
func (r *Reader) Next() (Batch, error) {
	n, err := io.ReadFull(r.r, r.headerBuf)
	if err != nil {
		if err == io.EOF && n == 0 {
			return Batch{}, io.EOF
		}
		return Batch{}, errors.Wrap(ErrStream, "truncated frame header")
	}

	h, err := decodeFrameHeader(r.headerBuf)
	if err != nil {
		return Batch{}, err
	}
	if r.opts.MaxBatchBytes > 0 && h.CompressedLen > uint32(r.opts.MaxBatchBytes) {
		return Batch{}, errors.Wrapf(ErrStream, "batch %d exceeds max size: %d bytes", h.BatchSeq, h.CompressedLen)
	}

	if cap(r.compressed) < int(h.CompressedLen) {
		r.compressed = make([]byte, h.CompressedLen)
	}
	r.compressed = r.compressed[:h.CompressedLen]
	if _, err := io.ReadFull(r.r, r.compressed); err != nil {
		return Batch{}, errors.Wrapf(ErrStream, "truncated batch %d payload", h.BatchSeq)
	}

	var checksumBuf [frameChecksumSize]byte
	if _, err := io.ReadFull(r.r, checksumBuf[:]); err != nil {
		return Batch{}, errors.Wrapf(ErrStream, "truncated batch %d checksum", h.BatchSeq)
	}
	if !r.opts.DisableChecksum {
		expected := binary.LittleEndian.Uint32(checksumBuf[:])
		if sum := checksum(r.headerBuf, r.compressed); sum != expected {
			return Batch{}, errors.Wrapf(ErrStream, "batch %d checksum mismatch", h.BatchSeq)
		}
	}

	raw, err := r.dec.DecodeAll(r.compressed, nil)
	if err != nil {
		return Batch{}, errors.Wrapf(ErrStream, "batch %d decompress failed", h.BatchSeq)
	}
	if len(raw) != int(h.RecordCount)*DeltaRecordSize {
		return Batch{}, errors.Wrapf(ErrStream, "batch %d payload size %d does not match %d records",
			h.BatchSeq, len(raw), h.RecordCount)
	}

	records := make([]schema.DeltaRecord, 0, h.RecordCount)
	for off := 0; off < len(raw); off += DeltaRecordSize {
		rec, ok := decodeDelta(raw[off:])
		if !ok {
			return Batch{}, errors.Wrapf(ErrStream, "batch %d record at offset %d truncated", h.BatchSeq, off)
		}
		records = append(records, rec)
	}

	return Batch{Seq: h.BatchSeq, Flags: h.Flags, Records: records}, nil
}
