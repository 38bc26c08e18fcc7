// Package corpus streams raw hadith and tafsir records from JSON Lines files.
package corpus

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dshills/hadith-search/pkg/types"
)

// Source yields raw records one at a time. Next returns io.EOF when the
// stream is exhausted. Errors matching types.ErrValidation concern a single
// record and the stream may be read further; any other error is terminal.
type Source interface {
	Next() (*types.RawRecord, error)
}

// Reader decodes one RawRecord per line. Blank lines are skipped.
type Reader struct {
	r    *bufio.Reader
	name string
	line int
}

var _ Source = (*Reader)(nil)

// NewReader reads records from r; name labels errors (usually the file path)
func NewReader(r io.Reader, name string) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 64*1024), name: name}
}

// Next returns the next record
func (rd *Reader) Next() (*types.RawRecord, error) {
	for {
		raw, err := rd.r.ReadBytes('\n')
		if len(raw) == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read %s: %w", rd.name, err)
		}
		rd.line++

		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			if err != nil {
				return nil, io.EOF
			}
			continue
		}

		var rec types.RawRecord
		if uerr := json.Unmarshal(raw, &rec); uerr != nil {
			verr := types.NewValidationError("json", uerr.Error())
			verr.RecordID = fmt.Sprintf("%s:%d", rd.name, rd.line)
			return nil, verr
		}
		return &rec, nil
	}
}

// Files chains the records of several JSON Lines files in order
type Files struct {
	paths   []string
	current *Reader
	file    *os.File
}

var _ Source = (*Files)(nil)

// OpenFiles returns a Source over paths. Files are opened lazily; call Close
// when done.
func OpenFiles(paths ...string) *Files {
	return &Files{paths: paths}
}

func (f *Files) Next() (*types.RawRecord, error) {
	for {
		if f.current == nil {
			if len(f.paths) == 0 {
				return nil, io.EOF
			}
			path := f.paths[0]
			f.paths = f.paths[1:]
			file, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("open corpus file: %w", err)
			}
			f.file = file
			f.current = NewReader(file, path)
		}

		rec, err := f.current.Next()
		if errors.Is(err, io.EOF) {
			if cerr := f.Close(); cerr != nil {
				return nil, cerr
			}
			continue
		}
		return rec, err
	}
}

// Close releases the file currently being read
func (f *Files) Close() error {
	f.current = nil
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

// Slice is an in-memory Source, handy for tests and the MCP ingest tool
type Slice struct {
	records []*types.RawRecord
	pos     int
}

// FromSlice wraps records as a Source
func FromSlice(records ...*types.RawRecord) *Slice {
	return &Slice{records: records}
}

func (s *Slice) Next() (*types.RawRecord, error) {
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	rec := s.records[s.pos]
	s.pos++
	return rec, nil
}
