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
	"io"
)

// Batch is a group of documents submitted in a single bulk request.
type Batch struct {
	// Seq holds the zero-based position of the batch in the run.
	Seq int
	// Offset holds the run-wide position of the first document.
	Offset int64
	// Docs holds the documents, in source order.
	Docs []Document
}

// Pass returns the dataset pass of the batch's first document.
func (b Batch) Pass() int {
	if len(b.Docs) == 0 {
		return 0
	}
	return b.Docs[0].Pass
}

// DocumentSource produces documents lazily.
type DocumentSource interface {
	// Next returns the next document, or io.EOF when there are no more.
	Next() (Document, error)
}

// SliceSource is a DocumentSource over a slice.
type SliceSource struct {
	docs []Document
}

// NewSliceSource returns a DocumentSource returning docs in order.
func NewSliceSource(docs []Document) *SliceSource {
	return &SliceSource{docs: docs}
}

// Next returns the next document of the slice.
func (s *SliceSource) Next() (Document, error) {
	if len(s.docs) == 0 {
		return Document{}, io.EOF
	}
	doc := s.docs[0]
	s.docs = s.docs[1:]
	return doc, nil
}

// Batcher groups the documents of a DocumentSource into batches of at most
// size documents. Every batch but the last holds exactly size documents.
type Batcher struct {
	src    DocumentSource
	size   int
	seq    int
	offset int64
	done   bool
}

// NewBatcher returns a Batcher reading from src. It returns an error
// wrapping ErrConfiguration if size is not positive.
func NewBatcher(src DocumentSource, size int) (*Batcher, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: expected positive batch size, got %d", ErrConfiguration, size)
	}
	return &Batcher{src: src, size: size}, nil
}

// Next returns the next batch, or io.EOF once the source is exhausted.
// Errors returned by the source are returned as is; documents read before
// the error are discarded.
func (b *Batcher) Next() (Batch, error) {
	if b.done {
		return Batch{}, io.EOF
	}
	docs := make([]Document, 0, min(b.size, 1024))
	for len(docs) < b.size {
		doc, err := b.src.Next()
		if err == io.EOF {
			b.done = true
			break
		}
		if err != nil {
			b.done = true
			return Batch{}, err
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return Batch{}, io.EOF
	}
	batch := Batch{Seq: b.seq, Offset: b.offset, Docs: docs}
	b.seq++
	b.offset += int64(len(docs))
	return batch, nil
}

// Chunk splits docs into consecutive slices of at most size documents.
// The returned slices share docs' backing array.
func Chunk(docs []Document, size int) ([][]Document, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: expected positive batch size, got %d", ErrConfiguration, size)
	}
	chunks := make([][]Document, 0, (len(docs)+size-1)/size)
	for len(docs) > 0 {
		n := min(size, len(docs))
		chunks = append(chunks, docs[:n:n])
		docs = docs[n:]
	}
	return chunks, nil
}
