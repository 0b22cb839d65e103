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
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"go.elastic.co/fastjson"
)

// Document is a single structure submitted for indexing.
type Document struct {
	// Smiles holds the structure identifier, the primary indexed field.
	Smiles string

	// ExtraData holds arbitrary attributes stored alongside the structure.
	ExtraData map[string]any

	// Pass holds the dataset pass that produced the document. It is not
	// sent to the service.
	Pass int

	// Line holds the position of the source record in the dataset. It is
	// not sent to the service.
	Line int
}

// MarshalFastJSON encodes the document as a bulk request entry. Keys of
// ExtraData are written in sorted order.
func (d Document) MarshalFastJSON(w *fastjson.Writer) error {
	w.RawString(`{"smiles":`)
	w.String(d.Smiles)
	if d.ExtraData != nil {
		w.RawString(`,"extra_data":`)
		if err := marshalObject(w, d.ExtraData); err != nil {
			return fmt.Errorf("failed to encode extra_data of %q: %w", d.Smiles, err)
		}
	}
	w.RawByte('}')
	return nil
}

func marshalObject(w *fastjson.Writer, m map[string]any) error {
	w.RawByte('{')
	for i, k := range slices.Sorted(maps.Keys(m)) {
		if i > 0 {
			w.RawByte(',')
		}
		w.String(k)
		w.RawByte(':')
		if err := fastjson.Marshal(w, m[k]); err != nil {
			return err
		}
	}
	w.RawByte('}')
	return nil
}

// Record is a raw dataset entry. Plain text datasets produce records with
// only Text set; JSON datasets produce records with Object set.
type Record struct {
	// Line holds the one-based line (or array element) number of the record.
	Line int
	// Text holds the trimmed line of a plain text dataset.
	Text string
	// Object holds the decoded object of a JSON dataset.
	Object map[string]any
}

const (
	defaultSourceField    = "smiles"
	defaultExtraDataField = "extra_data"
	defaultCopyField      = "smile_again"
	defaultNoteField      = "notice"
	defaultNoteTemplate   = "we're on pass {pass}"

	// FieldDisabled disables a FieldMapping entry.
	FieldDisabled = "-"
)

// FieldMapping describes how a Record is turned into a Document.
//
// The structure identifier is copied into extra_data under CopyField, so
// it can be traced back after the service canonicalizes the indexed value.
// A note rendered from NoteTemplate is stored under NoteField.
type FieldMapping struct {
	// SourceField holds the JSON field containing the structure identifier.
	//
	// If SourceField is empty, "smiles" will be used.
	SourceField string

	// ExtraDataField holds the JSON field whose object value is used as the
	// base of the document's extra_data.
	//
	// If ExtraDataField is empty, "extra_data" will be used.
	ExtraDataField string

	// CopyField holds the extra_data key the structure identifier is
	// duplicated into. Set to FieldDisabled to omit it.
	//
	// If CopyField is empty, "smile_again" will be used.
	CopyField string

	// NoteField holds the extra_data key of the note. Set to FieldDisabled
	// to omit it.
	//
	// If NoteField is empty, "notice" will be used.
	NoteField string

	// NoteTemplate holds the note text. The placeholders {pass} and {line}
	// are replaced with the pass and record numbers.
	//
	// If NoteTemplate is empty, "we're on pass {pass}" will be used.
	NoteTemplate string
}

// DefaultFieldMapping returns a copy of m with empty fields set to defaults.
func DefaultFieldMapping(m FieldMapping) FieldMapping {
	if m.SourceField == "" {
		m.SourceField = defaultSourceField
	}
	if m.ExtraDataField == "" {
		m.ExtraDataField = defaultExtraDataField
	}
	if m.CopyField == "" {
		m.CopyField = defaultCopyField
	}
	if m.NoteField == "" {
		m.NoteField = defaultNoteField
	}
	if m.NoteTemplate == "" {
		m.NoteTemplate = defaultNoteTemplate
	}
	return m
}

// ToDocument maps rec to a Document for the given pass. The record is not
// modified. It returns an error wrapping ErrParse if a JSON record lacks a
// string structure identifier, or carries a non-object extra_data value.
func (m FieldMapping) ToDocument(rec Record, pass int) (Document, error) {
	m = DefaultFieldMapping(m)

	doc := Document{Pass: pass, Line: rec.Line}
	var base map[string]any
	if rec.Object != nil {
		v, ok := rec.Object[m.SourceField]
		if !ok {
			return Document{}, fmt.Errorf("%w: record %d: missing field %q", ErrParse, rec.Line, m.SourceField)
		}
		s, ok := v.(string)
		if !ok {
			return Document{}, fmt.Errorf("%w: record %d: field %q is %T, not a string", ErrParse, rec.Line, m.SourceField, v)
		}
		doc.Smiles = s
		switch extra := rec.Object[m.ExtraDataField].(type) {
		case nil:
		case map[string]any:
			base = extra
		default:
			return Document{}, fmt.Errorf("%w: record %d: field %q is %T, not an object", ErrParse, rec.Line, m.ExtraDataField, extra)
		}
	} else {
		doc.Smiles = rec.Text
	}
	if doc.Smiles == "" {
		return Document{}, fmt.Errorf("%w: record %d: empty structure identifier", ErrParse, rec.Line)
	}

	extra := make(map[string]any, len(base)+2)
	maps.Copy(extra, base)
	if m.CopyField != FieldDisabled {
		extra[m.CopyField] = doc.Smiles
	}
	if m.NoteField != FieldDisabled {
		extra[m.NoteField] = m.note(pass, rec.Line)
	}
	if len(extra) > 0 {
		doc.ExtraData = extra
	}
	return doc, nil
}

func (m FieldMapping) note(pass, line int) string {
	return strings.NewReplacer(
		"{pass}", strconv.Itoa(pass),
		"{line}", strconv.Itoa(line),
	).Replace(m.NoteTemplate)
}

// ToDocuments maps every record with m for the given pass, preserving order.
func ToDocuments(records []Record, m FieldMapping, pass int) ([]Document, error) {
	docs := make([]Document, 0, len(records))
	for _, rec := range records {
		doc, err := m.ToDocument(rec, pass)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
