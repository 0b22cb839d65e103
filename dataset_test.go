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

package docloader_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cheminee/go-docloader"
)

func readAll(t testing.TB, r docloader.RecordReader) ([]docloader.Record, error) {
	t.Helper()
	defer r.Close()
	var records []docloader.Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
}

func TestTextRecords(t *testing.T) {
	r, err := docloader.NewRecordReader(strings.NewReader("C\n\n  CC  \r\nCCC"), docloader.FormatText)
	require.NoError(t, err)
	records, err := readAll(t, r)
	require.NoError(t, err)
	assert.Equal(t, []docloader.Record{
		{Line: 1, Text: "C"},
		{Line: 3, Text: "CC"},
		{Line: 4, Text: "CCC"},
	}, records)
}

func TestNDJSONRecords(t *testing.T) {
	input := `{"smiles":"C","extra_data":{"k":"v"}}

{"smiles":"CC"}
`
	r, err := docloader.NewRecordReader(strings.NewReader(input), docloader.FormatNDJSON)
	require.NoError(t, err)
	records, err := readAll(t, r)
	require.NoError(t, err)
	assert.Equal(t, []docloader.Record{
		{Line: 1, Object: map[string]any{"smiles": "C", "extra_data": map[string]any{"k": "v"}}},
		{Line: 3, Object: map[string]any{"smiles": "CC"}},
	}, records)
}

func TestNDJSONMalformedRecord(t *testing.T) {
	r, err := docloader.NewRecordReader(strings.NewReader("{\"smiles\":\"C\"}\n{\"smiles\":\n"), docloader.FormatNDJSON)
	require.NoError(t, err)
	records, err := readAll(t, r)
	assert.Len(t, records, 1)
	assert.ErrorIs(t, err, docloader.ErrParse)
	assert.ErrorContains(t, err, "line 2")

	r, err = docloader.NewRecordReader(strings.NewReader("[1,2]\n"), docloader.FormatNDJSON)
	require.NoError(t, err)
	_, err = readAll(t, r)
	assert.ErrorIs(t, err, docloader.ErrParse)
}

func TestJSONArrayRecords(t *testing.T) {
	input := `[{"smiles":"C"}, {"smiles":"CC","extra_data":{"n":1}}]`
	r, err := docloader.NewRecordReader(strings.NewReader(input), docloader.FormatJSON)
	require.NoError(t, err)
	records, err := readAll(t, r)
	require.NoError(t, err)
	assert.Equal(t, []docloader.Record{
		{Line: 1, Object: map[string]any{"smiles": "C"}},
		{Line: 2, Object: map[string]any{"smiles": "CC", "extra_data": map[string]any{"n": float64(1)}}},
	}, records)

	r, err = docloader.NewRecordReader(strings.NewReader("[]\n\t \n"), docloader.FormatJSON)
	require.NoError(t, err)
	records, err = readAll(t, r)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestJSONArrayMalformed(t *testing.T) {
	for name, input := range map[string]string{
		"not_array":      `{"smiles":"C"}`,
		"not_object":     `["C"]`,
		"trailing_data":  `[{"smiles":"C"}] trailing`,
		"trailing_array": `[{"smiles":"C"}][{"smiles":"CC"}]`,
		"unterminated":   `[{"smiles":"C"}`,
		"truncated":      `[{"smiles":"C"},{"smil`,
	} {
		t.Run(name, func(t *testing.T) {
			r, err := docloader.NewRecordReader(strings.NewReader(input), docloader.FormatJSON)
			require.NoError(t, err)
			_, err = readAll(t, r)
			assert.ErrorIs(t, err, docloader.ErrParse)
		})
	}

	r, err := docloader.NewRecordReader(strings.NewReader(`[{"smiles":"C"}] x`), docloader.FormatJSON)
	require.NoError(t, err)
	records, err := readAll(t, r)
	assert.Len(t, records, 1)
	assert.ErrorContains(t, err, "after the closing bracket")
}

func TestRecordReaderIOError(t *testing.T) {
	src := io.MultiReader(strings.NewReader("C\n"), iotest.ErrReader(errors.New("disk on fire")))
	r, err := docloader.NewRecordReader(src, docloader.FormatText)
	require.NoError(t, err)
	records, err := readAll(t, r)
	assert.Len(t, records, 1)
	assert.ErrorIs(t, err, docloader.ErrIO)
	assert.ErrorContains(t, err, "disk on fire")
}

func TestFileDataset(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}
	for name, tc := range map[string]struct {
		path   string
		format docloader.Format
	}{
		"text":     {path: write("structures", "C\nCC\n")},
		"ndjson":   {path: write("structures.ndjson", "{\"smiles\":\"C\"}\n{\"smiles\":\"CC\"}\n")},
		"jsonl":    {path: write("structures.jsonl", "{\"smiles\":\"C\"}\n{\"smiles\":\"CC\"}\n")},
		"json":     {path: write("structures.json", `[{"smiles":"C"},{"smiles":"CC"}]`)},
		"explicit": {path: write("structures.txt", `[{"smiles":"C"},{"smiles":"CC"}]`), format: docloader.FormatJSON},
	} {
		t.Run(name, func(t *testing.T) {
			ds := docloader.FileDataset{Path: tc.path, Format: tc.format}
			// A dataset can be read more than once.
			for i := 0; i < 2; i++ {
				r, err := ds.Open()
				require.NoError(t, err)
				records, err := readAll(t, r)
				require.NoError(t, err)
				docs, err := docloader.ToDocuments(records, docloader.FieldMapping{}, 1)
				require.NoError(t, err)
				require.Len(t, docs, 2)
				assert.Equal(t, "C", docs[0].Smiles)
				assert.Equal(t, "CC", docs[1].Smiles)
			}
		})
	}
}

func TestFileDatasetMissing(t *testing.T) {
	_, err := docloader.FileDataset{Path: filepath.Join(t.TempDir(), "missing")}.Open()
	assert.ErrorIs(t, err, docloader.ErrIO)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseFormat(t *testing.T) {
	for input, want := range map[string]docloader.Format{
		"":       docloader.FormatAuto,
		"auto":   docloader.FormatAuto,
		"text":   docloader.FormatText,
		"NDJSON": docloader.FormatNDJSON,
		"jsonl":  docloader.FormatNDJSON,
		"json":   docloader.FormatJSON,
	} {
		got, err := docloader.ParseFormat(input)
		require.NoError(t, err)
		assert.Equal(t, want, got, input)
	}
	_, err := docloader.ParseFormat("csv")
	assert.ErrorIs(t, err, docloader.ErrConfiguration)
}
