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
	"fmt"
	"io"
	"unsafe"

	"github.com/klauspost/compress/gzip"
	"go.elastic.co/fastjson"

	jsoniter "github.com/json-iterator/go"
)

// A bulk request body is encoded in full before it is sent, so that a batch
// is always submitted as one request and the request can be replayed by the
// transport on retry. Encoders are pooled and reused between batches, which
// also bounds the number of concurrent bulk requests.

// BulkResponseStat summarises a bulk_index or bulk_delete response.
type BulkResponseStat struct {
	// Indexed holds the number of documents the service accepted.
	Indexed int64
	// FailedDocs holds the documents the service rejected.
	FailedDocs []BulkResponseItem

	// BytesFlushed holds the size of the request body sent, after compression.
	BytesFlushed int
	// BytesUncompressed holds the size of the request body before compression.
	BytesUncompressed int
}

// BulkResponseItem represents a rejected document in a bulk response.
type BulkResponseItem struct {
	// Position holds the index of the document in the request.
	Position int
	// Smiles holds the structure identifier of the rejected document.
	Smiles string
	// Error holds the reason reported by the service.
	Error string
}

func init() {
	jsoniter.RegisterTypeDecoderFunc("docloader.BulkResponseStat", func(ptr unsafe.Pointer, iter *jsoniter.Iterator) {
		stat := (*BulkResponseStat)(ptr)
		iter.ReadObjectCB(func(i *jsoniter.Iterator, s string) bool {
			switch s {
			case "statuses":
				var idx int
				i.ReadArrayCB(func(i *jsoniter.Iterator) bool {
					item := BulkResponseItem{Position: idx}
					idx++
					if i.ReadNil() {
						stat.Indexed++
						return true
					}
					i.ReadObjectCB(func(i *jsoniter.Iterator, s string) bool {
						switch s {
						case "error":
							if !i.ReadNil() {
								item.Error = i.ReadString()
							}
						default:
							i.Skip()
						}
						return true
					})
					if item.Error != "" {
						stat.FailedDocs = append(stat.FailedDocs, item)
					} else {
						stat.Indexed++
					}
					return true
				})
				// no need to proceed further, return early
				return false
			default:
				i.Skip()
				return true
			}
		})
	})
}

// bulkRequest encodes a bulk request body, optionally gzip compressed.
type bulkRequest struct {
	compressed   bool
	docs         int
	uncompressed int
	jsonw        fastjson.Writer
	writer       io.Writer
	gzipw        *gzip.Writer
	buf          bytes.Buffer
}

func newBulkRequest(compressionLevel int) *bulkRequest {
	r := &bulkRequest{}
	if compressionLevel != gzip.NoCompression {
		// The level is validated by Config.Validate.
		r.gzipw, _ = gzip.NewWriterLevel(&r.buf, compressionLevel)
		r.writer = r.gzipw
		r.compressed = true
	} else {
		r.writer = &r.buf
	}
	return r
}

// Reset clears the encoded body, ready for a new request.
func (r *bulkRequest) Reset() {
	r.docs = 0
	r.uncompressed = 0
	r.jsonw.Reset()
	r.buf.Reset()
	if r.gzipw != nil {
		r.gzipw.Reset(&r.buf)
	}
}

// Items returns the number of encoded documents.
func (r *bulkRequest) Items() int {
	return r.docs
}

// Len returns the number of encoded, possibly compressed, bytes.
func (r *bulkRequest) Len() int {
	return r.buf.Len()
}

// UncompressedLen returns the number of bytes written before compression.
func (r *bulkRequest) UncompressedLen() int {
	return r.uncompressed
}

// encodeDocuments writes {"docs":[...]} for docs and closes the body.
func (r *bulkRequest) encodeDocuments(docs []Document) error {
	r.jsonw.RawString(`{"docs":[`)
	for i, doc := range docs {
		if i > 0 {
			r.jsonw.RawByte(',')
		}
		if err := doc.MarshalFastJSON(&r.jsonw); err != nil {
			return err
		}
		if err := r.flushJSON(); err != nil {
			return err
		}
		r.docs++
	}
	r.jsonw.RawString(`]}`)
	return r.close()
}

// encodeStructures writes {"docs":[{"smiles":...}, ...]} and closes the body.
func (r *bulkRequest) encodeStructures(smiles []string) error {
	r.jsonw.RawString(`{"docs":[`)
	for i, s := range smiles {
		if i > 0 {
			r.jsonw.RawByte(',')
		}
		r.jsonw.RawString(`{"smiles":`)
		r.jsonw.String(s)
		r.jsonw.RawByte('}')
		r.docs++
	}
	r.jsonw.RawString(`]}`)
	return r.close()
}

func (r *bulkRequest) flushJSON() error {
	n, err := r.writer.Write(r.jsonw.Bytes())
	r.uncompressed += n
	r.jsonw.Reset()
	if err != nil {
		return fmt.Errorf("failed to write bulk request body: %w", err)
	}
	return nil
}

func (r *bulkRequest) close() error {
	if err := r.flushJSON(); err != nil {
		return err
	}
	if r.gzipw != nil {
		if err := r.gzipw.Close(); err != nil {
			return fmt.Errorf("failed closing the gzip writer: %w", err)
		}
	}
	return nil
}

// Bytes returns the encoded body.
func (r *bulkRequest) Bytes() []byte {
	return r.buf.Bytes()
}

// requestPool is a fixed-size pool of bulk request encoders. The pool size
// bounds the number of bulk requests in flight.
type requestPool struct {
	available chan *bulkRequest
}

func newRequestPool(size, compressionLevel int) *requestPool {
	p := &requestPool{available: make(chan *bulkRequest, size)}
	for i := 0; i < size; i++ {
		p.available <- newBulkRequest(compressionLevel)
	}
	return p
}

// Get returns an encoder, blocking until one is available or ctx is done.
func (p *requestPool) Get(ctx context.Context) (*bulkRequest, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-p.available:
		return r, nil
	}
}

// Put resets r and returns it to the pool. No reference to r may be kept
// after calling Put.
func (p *requestPool) Put(r *bulkRequest) {
	if r == nil {
		return
	}
	r.Reset()
	p.available <- r
}

// Available returns the number of idle encoders.
func (p *requestPool) Available() int {
	return len(p.available)
}
