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
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jsoniter "github.com/json-iterator/go"
)

func TestBulkRequestEncodeDocuments(t *testing.T) {
	r := newBulkRequest(gzip.NoCompression)
	docs := []Document{
		{Smiles: "C", ExtraData: map[string]any{"smile_again": "C"}},
		{Smiles: "CC"},
	}
	require.NoError(t, r.encodeDocuments(docs))
	want := `{"docs":[{"smiles":"C","extra_data":{"smile_again":"C"}},{"smiles":"CC"}]}`
	assert.Equal(t, want, string(r.Bytes()))
	assert.Equal(t, 2, r.Items())
	assert.Equal(t, len(want), r.Len())
	assert.Equal(t, len(want), r.UncompressedLen())

	r.Reset()
	assert.Equal(t, 0, r.Items())
	assert.Equal(t, 0, r.Len())
	require.NoError(t, r.encodeStructures([]string{"C", "CC"}))
	assert.Equal(t, `{"docs":[{"smiles":"C"},{"smiles":"CC"}]}`, string(r.Bytes()))
}

func TestBulkRequestCompressed(t *testing.T) {
	r := newBulkRequest(gzip.BestSpeed)
	docs := make([]Document, 100)
	for i := range docs {
		docs[i] = Document{Smiles: strings.Repeat("C", i+1)}
	}
	for i := 0; i < 2; i++ {
		// Encoders are reused after Reset.
		r.Reset()
		require.NoError(t, r.encodeDocuments(docs))
		assert.True(t, r.compressed)
		assert.Less(t, r.Len(), r.UncompressedLen())

		zr, err := gzip.NewReader(bytes.NewReader(r.Bytes()))
		require.NoError(t, err)
		body, err := io.ReadAll(zr)
		require.NoError(t, err)
		assert.Equal(t, r.UncompressedLen(), len(body))

		var decoded struct {
			Docs []struct {
				Smiles string `json:"smiles"`
			} `json:"docs"`
		}
		require.NoError(t, json.Unmarshal(body, &decoded))
		assert.Len(t, decoded.Docs, 100)
	}
}

func TestBulkResponseStatDecode(t *testing.T) {
	body := `{"statuses":[{"opcode":1},{"opcode":null,"error":"invalid smiles"},null,{"opcode":3,"error":null},{"error":"boom"}]}`
	var stat BulkResponseStat
	require.NoError(t, jsoniter.NewDecoder(strings.NewReader(body)).Decode(&stat))
	assert.Equal(t, int64(3), stat.Indexed)
	assert.Equal(t, []BulkResponseItem{
		{Position: 1, Error: "invalid smiles"},
		{Position: 4, Error: "boom"},
	}, stat.FailedDocs)
}

func TestRequestPool(t *testing.T) {
	p := newRequestPool(2, gzip.NoCompression)
	assert.Equal(t, 2, p.Available())

	ctx := context.Background()
	r1, err := p.Get(ctx)
	require.NoError(t, err)
	r2, err := p.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Available())

	// Get blocks until an encoder is returned or the context is done.
	ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = p.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, r1.encodeStructures([]string{"C"}))
	p.Put(r1)
	p.Put(r2)
	p.Put(nil)
	assert.Equal(t, 2, p.Available())

	r, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, r.Len(), "encoders are reset when returned")
}
