package deltastream

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"bookreplay/internal/errors"
)

// Stream reads batches across a directory of segment files in lexical
// file order. It is the pull interface the replay engine consumes:
// NextBatch until io.EOF.
type Stream struct {
	opts    ReaderOptions
	files   []string
	index   int
	file    *os.File
	reader  *Reader
	lastSeq uint64
}

// OpenStream collects the matching segment files under dir.
func OpenStream(dir, prefix string, opts ReaderOptions) (*Stream, error) {
	if prefix == "" {
		prefix = defaultFilePrefix
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(ErrStream, err.Error())
	}
	wantPrefix := prefix + "-"
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, wantPrefix) || !strings.HasSuffix(name, ".dlt") {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return &Stream{opts: opts, files: files}, nil
}

// NextBatch returns the next batch in stream order, or io.EOF once all
// segments are exhausted.
func (s *Stream) NextBatch() (Batch, error) {
	for {
		if s.reader == nil {
			if s.index >= len(s.files) {
				return Batch{}, io.EOF
			}
			file, err := os.Open(s.files[s.index])
			if err != nil {
				return Batch{}, errors.Wrap(ErrStream, err.Error())
			}
			reader, err := NewReader(file, s.opts)
			if err != nil {
				_ = file.Close()
				return Batch{}, err
			}
			s.file = file
			s.reader = reader
		}

		batch, err := s.reader.Next()
		if err == io.EOF {
			s.closeCurrent()
			s.index++
			continue
		}
		if err != nil {
			return Batch{}, errors.Wrapf(err, "segment %s", filepath.Base(s.files[s.index]))
		}
		s.lastSeq = batch.Seq
		return batch, nil
	}
}

// SkipTo discards batches up to and including seq. Used when resuming
// from a checkpoint: the restored book state already reflects
// everything through that batch.
func (s *Stream) SkipTo(seq uint64) error {
	for s.lastSeq < seq {
		if _, err := s.NextBatch(); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
	return nil
}

// LastSeq returns the sequence of the batch most recently returned.
func (s *Stream) LastSeq() uint64 { return s.lastSeq }

// Close releases the open segment, if any.
func (s *Stream) Close() {
	s.closeCurrent()
	s.index = len(s.files)
}

func (s *Stream) closeCurrent() {
	if s.reader != nil {
		s.reader.Close()
		s.reader = nil
	}
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
}
