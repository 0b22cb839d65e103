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
	"fmt"
	"io"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cheminee/go-docloader"
)

func makeDocs(n int) []docloader.Document {
	docs := make([]docloader.Document, n)
	for i := range docs {
		docs[i] = docloader.Document{Smiles: "C" + strconv.Itoa(i), Line: i + 1, Pass: 1}
	}
	return docs
}

func collectBatches(t testing.TB, b *docloader.Batcher) []docloader.Batch {
	t.Helper()
	var batches []docloader.Batch
	for {
		batch, err := b.Next()
		if err == io.EOF {
			return batches
		}
		require.NoError(t, err)
		batches = append(batches, batch)
	}
}

func TestBatcher(t *testing.T) {
	for _, tc := range []struct {
		n, size int
	}{
		{0, 1}, {1, 1}, {5, 10}, {10, 10}, {11, 10}, {100, 7}, {25000, 10000},
	} {
		t.Run(fmt.Sprintf("%d/%d", tc.n, tc.size), func(t *testing.T) {
			docs := makeDocs(tc.n)
			b, err := docloader.NewBatcher(docloader.NewSliceSource(docs), tc.size)
			require.NoError(t, err)
			batches := collectBatches(t, b)

			// ceil(n/size) batches, all full except possibly the last.
			assert.Len(t, batches, (tc.n+tc.size-1)/tc.size)
			var concatenated []docloader.Document
			for i, batch := range batches {
				assert.Equal(t, i, batch.Seq)
				assert.Equal(t, int64(len(concatenated)), batch.Offset)
				assert.LessOrEqual(t, len(batch.Docs), tc.size)
				if i < len(batches)-1 {
					assert.Len(t, batch.Docs, tc.size)
				}
				assert.NotEmpty(t, batch.Docs)
				concatenated = append(concatenated, batch.Docs...)
			}
			if tc.n == 0 {
				assert.Empty(t, concatenated)
			} else {
				assert.Equal(t, docs, concatenated)
			}

			// Exhausted batchers keep returning io.EOF.
			_, err = b.Next()
			assert.Equal(t, io.EOF, err)
		})
	}
}

func TestBatcherSizes(t *testing.T) {
	b, err := docloader.NewBatcher(docloader.NewSliceSource(makeDocs(25000)), 10000)
	require.NoError(t, err)
	var sizes []int
	for _, batch := range collectBatches(t, b) {
		sizes = append(sizes, len(batch.Docs))
	}
	assert.Equal(t, []int{10000, 10000, 5000}, sizes)
}

func TestBatcherInvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		_, err := docloader.NewBatcher(docloader.NewSliceSource(nil), size)
		assert.ErrorIs(t, err, docloader.ErrConfiguration)
		_, err = docloader.Chunk(nil, size)
		assert.ErrorIs(t, err, docloader.ErrConfiguration)
	}
}

type failingSource struct {
	docs []docloader.Document
	err  error
}

func (s *failingSource) Next() (docloader.Document, error) {
	if len(s.docs) == 0 {
		return docloader.Document{}, s.err
	}
	doc := s.docs[0]
	s.docs = s.docs[1:]
	return doc, nil
}

func TestBatcherSourceError(t *testing.T) {
	srcErr := errors.New("boom")
	b, err := docloader.NewBatcher(&failingSource{docs: makeDocs(5), err: srcErr}, 3)
	require.NoError(t, err)

	batch, err := b.Next()
	require.NoError(t, err)
	assert.Len(t, batch.Docs, 3)

	_, err = b.Next()
	assert.ErrorIs(t, err, srcErr)
	_, err = b.Next()
	assert.Equal(t, io.EOF, err)
}

func TestBatchPass(t *testing.T) {
	assert.Equal(t, 0, docloader.Batch{}.Pass())
	assert.Equal(t, 2, docloader.Batch{Docs: []docloader.Document{{Pass: 2}, {Pass: 3}}}.Pass())
}

func TestChunk(t *testing.T) {
	docs := makeDocs(25)
	chunks, err := docloader.Chunk(docs, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, docs[:10], chunks[0])
	assert.Equal(t, docs[10:20], chunks[1])
	assert.Equal(t, docs[20:], chunks[2])

	chunks, err = docloader.Chunk(nil, 10)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}
