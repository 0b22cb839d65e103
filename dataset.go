// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package docloader

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// Format identifies the encoding of a dataset file.
type Format string

const (
	// FormatAuto selects the format from the file extension: ".ndjson" and
	// ".jsonl" are FormatNDJSON, ".json" is FormatJSON, anything else is
	// FormatText.
	FormatAuto Format = ""
	// FormatText holds one structure identifier per line.
	FormatText Format = "text"
	// FormatNDJSON holds one JSON object per line.
	FormatNDJSON Format = "ndjson"
	// FormatJSON holds a single JSON array of objects.
	FormatJSON Format = "json"
)

// maxLineBytes bounds the length of a single dataset line.
const maxLineBytes = 16 * 1024 * 1024

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ParseFormat returns the Format named by s.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatAuto, FormatText, FormatNDJSON, FormatJSON:
		return f, nil
	case "auto":
		return FormatAuto, nil
	case "jsonl":
		return FormatNDJSON, nil
	}
	return "", fmt.Errorf("%w: unknown dataset format %q", ErrConfiguration, s)
}

// Dataset is a source of records that can be read more than once.
type Dataset interface {
	// Open returns a reader positioned at the first record.
	Open() (RecordReader, error)
}

// RecordReader returns dataset records lazily, in source order.
type RecordReader interface {
	// Next returns the next record, or io.EOF when the dataset is exhausted.
	Next() (Record, error)
	Close() error
}

// FileDataset reads records from a file on every Open.
type FileDataset struct {
	Path   string
	Format Format
}

// Open opens the file. It returns an error wrapping ErrIO if the file
// cannot be opened.
func (d FileDataset) Open() (RecordReader, error) {
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	format := d.Format
	if format == FormatAuto {
		switch strings.ToLower(filepath.Ext(d.Path)) {
		case ".ndjson", ".jsonl":
			format = FormatNDJSON
		case ".json":
			format = FormatJSON
		default:
			format = FormatText
		}
	}
	r, err := NewRecordReader(f, format)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// StaticDataset is an in-memory dataset.
type StaticDataset []Record

// Open returns a reader over the records.
func (d StaticDataset) Open() (RecordReader, error) {
	return &staticReader{records: d}, nil
}

type staticReader struct {
	records []Record
	pos     int
}

func (r *staticReader) Next() (Record, error) {
	if r.pos >= len(r.records) {
		return Record{}, io.EOF
	}
	rec := r.records[r.pos]
	r.pos++
	return rec, nil
}

func (r *staticReader) Close() error { return nil }

// NewRecordReader returns a RecordReader decoding r with the given format.
// If r implements io.Closer, it is closed by the reader's Close method.
func NewRecordReader(r io.Reader, format Format) (RecordReader, error) {
	src := &readErrRecorder{r: r}
	switch format {
	case FormatText, FormatAuto:
		return &lineReader{src: src, scanner: newScanner(src)}, nil
	case FormatNDJSON:
		return &lineReader{src: src, scanner: newScanner(src), objects: true}, nil
	case FormatJSON:
		return &arrayReader{src: src, iter: jsoniter.Parse(json, src, 64*1024)}, nil
	}
	return nil, fmt.Errorf("%w: unknown dataset format %q", ErrConfiguration, format)
}

func newScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return s
}

// readErrRecorder records the first read error other than io.EOF, so that
// decoding failures can be told apart from I/O failures.
type readErrRecorder struct {
	r   io.Reader
	err error
}

func (r *readErrRecorder) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if err != nil && err != io.EOF && r.err == nil {
		r.err = err
	}
	return n, err
}

func (r *readErrRecorder) Close() error {
	if c, ok := r.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// lineReader reads newline-delimited records. Blank lines are skipped.
type lineReader struct {
	src     *readErrRecorder
	scanner *bufio.Scanner
	objects bool
	line    int
}

func (r *lineReader) Next() (Record, error) {
	for r.scanner.Scan() {
		r.line++
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !r.objects {
			return Record{Line: r.line, Text: string(line)}, nil
		}
		var obj map[string]any
		if err := json.Unmarshal(line, &obj); err != nil {
			return Record{}, fmt.Errorf("%w: line %d: %w", ErrParse, r.line, err)
		}
		if obj == nil {
			return Record{}, fmt.Errorf("%w: line %d: expected a JSON object", ErrParse, r.line)
		}
		return Record{Line: r.line, Object: obj}, nil
	}
	if err := r.scanner.Err(); err != nil {
		if r.src.err != nil {
			return Record{}, fmt.Errorf("%w: line %d: %w", ErrIO, r.line+1, err)
		}
		return Record{}, fmt.Errorf("%w: line %d: %w", ErrParse, r.line+1, err)
	}
	return Record{}, io.EOF
}

func (r *lineReader) Close() error {
	return r.src.Close()
}

// arrayReader streams the elements of a top-level JSON array.
type arrayReader struct {
	src     *readErrRecorder
	iter    *jsoniter.Iterator
	started bool
	done    bool
	n       int
}

func (r *arrayReader) Next() (Record, error) {
	if r.done {
		return Record{}, io.EOF
	}
	if !r.started {
		r.started = true
		if next := r.iter.WhatIsNext(); next != jsoniter.ArrayValue {
			return Record{}, r.fail(errors.New("expected a JSON array"))
		}
	}
	if !r.iter.ReadArray() {
		if r.iter.Error != nil {
			return Record{}, r.fail(r.iter.Error)
		}
		// Only whitespace may follow the closing bracket.
		if next := r.iter.WhatIsNext(); r.iter.Error != io.EOF {
			if r.iter.Error != nil {
				return Record{}, r.fail(r.iter.Error)
			}
			return Record{}, r.fail(fmt.Errorf("unexpected %s after the closing bracket", valueTypeName(next)))
		}
		r.done = true
		return Record{}, io.EOF
	}
	r.n++
	v := r.iter.Read()
	if r.iter.Error != nil {
		return Record{}, r.fail(r.iter.Error)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return Record{}, r.fail(fmt.Errorf("expected a JSON object, got %T", v))
	}
	return Record{Line: r.n, Object: obj}, nil
}

func (r *arrayReader) fail(err error) error {
	r.done = true
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	if r.src.err != nil {
		return fmt.Errorf("%w: element %d: %w", ErrIO, r.n, r.src.err)
	}
	return fmt.Errorf("%w: element %d: %w", ErrParse, r.n, err)
}

func (r *arrayReader) Close() error {
	return r.src.Close()
}

func valueTypeName(t jsoniter.ValueType) string {
	switch t {
	case jsoniter.StringValue:
		return "string"
	case jsoniter.NumberValue:
		return "number"
	case jsoniter.NilValue:
		return "null"
	case jsoniter.BoolValue:
		return "boolean"
	case jsoniter.ArrayValue:
		return "array"
	case jsoniter.ObjectValue:
		return "object"
	}
	return "data"
}
