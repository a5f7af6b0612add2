// Package deltastream stores and reads time-ordered incremental book
// updates as compressed, checksummed batches inside rotating segment
// files. It is the storage boundary of the replay pipeline: everything
// past the reader is pure computation.
package deltastream

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"bookreplay/internal/errors"
	"bookreplay/internal/schema"
)

const (
	frameVersion      uint16 = 1
	frameHeaderSize          = 44
	frameChecksumSize        = 4

	// DeltaRecordSize is the fixed wire size of one encoded delta.
	DeltaRecordSize = 25
)

// FlagResync marks a batch that replaces the book: the consumer must
// reset book state before applying the batch contents, which reseed it.
const FlagResync uint16 = 1 << 0

var (
	frameMagic = [4]byte{'D', 'L', 'T', '1'}
	crcTable   = crc32.MakeTable(crc32.Castagnoli)
)

// ErrStream covers unreadable or corrupt storage. It is terminal for
// the shard being replayed.
var ErrStream = errors.New("delta stream corrupt")

// frameHeader is the fixed metadata in front of every batch payload.
type frameHeader struct {
	Flags          uint16
	RecordCount    uint32
	CompressedLen  uint32
	BatchSeq       uint64
	FirstEventTime int64
	LastEventTime  int64
}

// Batch is one decoded unit pulled from the stream. Records are
// pre-sorted ascending by event time by the writer.
type Batch struct {
	Seq     uint64
	Flags   uint16
	Records []schema.DeltaRecord
}

// Resync reports whether the batch carries the resync marker.
func (b Batch) Resync() bool {
	return b.Flags&FlagResync != 0
}

func encodeFrameHeader(dst []byte, h frameHeader) {
	_ = dst[frameHeaderSize-1]
	copy(dst[0:4], frameMagic[:])
	binary.LittleEndian.PutUint16(dst[4:6], frameVersion)
	binary.LittleEndian.PutUint16(dst[6:8], uint16(frameHeaderSize))
	binary.LittleEndian.PutUint16(dst[8:10], h.Flags)
	binary.LittleEndian.PutUint16(dst[10:12], 0)
	binary.LittleEndian.PutUint32(dst[12:16], h.RecordCount)
	binary.LittleEndian.PutUint32(dst[16:20], h.CompressedLen)
	binary.LittleEndian.PutUint64(dst[20:28], h.BatchSeq)
	binary.LittleEndian.PutUint64(dst[28:36], uint64(h.FirstEventTime))
	binary.LittleEndian.PutUint64(dst[36:44], uint64(h.LastEventTime))
}

func decodeFrameHeader(src []byte) (frameHeader, error) {
	if len(src) < frameHeaderSize {
		return frameHeader{}, errors.Wrap(ErrStream, "short frame header")
	}
	if !bytes.Equal(src[0:4], frameMagic[:]) {
		return frameHeader{}, errors.Wrap(ErrStream, "invalid magic")
	}
	if ver := binary.LittleEndian.Uint16(src[4:6]); ver != frameVersion {
		return frameHeader{}, errors.Wrapf(ErrStream, "unsupported frame version %d", ver)
	}
	if size := binary.LittleEndian.Uint16(src[6:8]); size != frameHeaderSize {
		return frameHeader{}, errors.Wrapf(ErrStream, "invalid header size %d", size)
	}
	return frameHeader{
		Flags:          binary.LittleEndian.Uint16(src[8:10]),
		RecordCount:    binary.LittleEndian.Uint32(src[12:16]),
		CompressedLen:  binary.LittleEndian.Uint32(src[16:20]),
		BatchSeq:       binary.LittleEndian.Uint64(src[20:28]),
		FirstEventTime: int64(binary.LittleEndian.Uint64(src[28:36])),
		LastEventTime:  int64(binary.LittleEndian.Uint64(src[36:44])),
	}, nil
}

func checksum(header []byte, payload []byte) uint32 {
	crc := crc32.Update(0, crcTable, header)
	return crc32.Update(crc, crcTable, payload)
}

// encodeDelta appends one fixed-width delta record to dst.
func encodeDelta(dst []byte, rec schema.DeltaRecord) []byte {
	var buf [DeltaRecordSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(rec.EventTime))
	buf[8] = byte(rec.Side)
	binary.LittleEndian.PutUint64(buf[9:17], uint64(rec.Price))
	binary.LittleEndian.PutUint64(buf[17:25], uint64(rec.Amount))
	return append(dst, buf[:]...)
}

// decodeDelta parses one fixed-width delta record.
func decodeDelta(src []byte) (schema.DeltaRecord, bool) {
	if len(src) < DeltaRecordSize {
		return schema.DeltaRecord{}, false
	}
	return schema.DeltaRecord{
		EventTime: int64(binary.LittleEndian.Uint64(src[0:8])),
		Side:      schema.Side(src[8]),
		Price:     schema.Price(int64(binary.LittleEndian.Uint64(src[9:17]))),
		Amount:    schema.Quantity(int64(binary.LittleEndian.Uint64(src[17:25]))),
	}, true
}
