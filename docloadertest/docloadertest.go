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

// Package docloadertest provides an in-memory stand-in for the indexing
// service, for use in tests.
package docloadertest

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// DefaultSchema is the schema known to every Service.
const DefaultSchema = "descriptor_v1"

// Doc is a document as sent in a bulk request.
type Doc struct {
	Smiles    string         `json:"smiles"`
	ExtraData map[string]any `json:"extra_data,omitempty"`
}

// BulkRequest is the body of bulk_index and bulk_delete requests.
type BulkRequest struct {
	Docs []Doc `json:"docs"`
}

// BulkStatus is the per-document status of a bulk response.
type BulkStatus struct {
	Opcode *uint64 `json:"opcode,omitempty"`
	Error  *string `json:"error,omitempty"`
}

// BulkResponse is the body of a successful bulk response.
type BulkResponse struct {
	Statuses []BulkStatus `json:"statuses"`
}

// IndexMeta describes an index.
type IndexMeta struct {
	Name   string `json:"name"`
	Schema string `json:"schema"`
}

// DecodeBulkRequest decodes a bulk request's body, returning the decoded
// request and a response body accepting every document.
func DecodeBulkRequest(r *http.Request) (BulkRequest, BulkResponse) {
	req, result, err := decodeBulkRequest(r)
	if err != nil {
		panic(err)
	}
	return req, result
}

func decodeBulkRequest(r *http.Request) (BulkRequest, BulkResponse, error) {
	body := r.Body
	switch r.Header.Get("Content-Encoding") {
	case "gzip":
		r, err := gzip.NewReader(body)
		if err != nil {
			return BulkRequest{}, BulkResponse{}, err
		}
		defer r.Close()
		body = r
	}
	var req BulkRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return BulkRequest{}, BulkResponse{}, fmt.Errorf("invalid bulk request: %w", err)
	}
	var result BulkResponse
	for i := range req.Docs {
		opcode := uint64(i)
		result.Statuses = append(result.Statuses, BulkStatus{Opcode: &opcode})
	}
	return req, result, nil
}

// NewMockServer starts an httptest.Server sending bulk_index requests to
// bulkHandler, and returns its host. The server will be closed via t.Cleanup.
func NewMockServer(t testing.TB, bulkHandler http.HandlerFunc) string {
	mux := http.NewServeMux()
	HandleBulk(mux, bulkHandler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return u.Host
}

// HandleBulk registers bulkHandler with mux for handling bulk_index requests
// on any index.
func HandleBulk(mux *http.ServeMux, bulkHandler http.HandlerFunc) {
	mux.HandleFunc("POST /v1/indexes/{index}/bulk_index", bulkHandler)
}

// Host returns the host:port of srv.
func Host(srv *httptest.Server) string {
	u, err := url.Parse(srv.URL)
	if err != nil {
		panic(err)
	}
	return u.Host
}

type index struct {
	schema string
	sortBy string
	docs   []Doc
}

// Service is an in-memory implementation of the /v1/indexes API.
type Service struct {
	t   testing.TB
	srv *httptest.Server

	mu           sync.Mutex
	schemas      map[string]bool
	indexes      map[string]*index
	rejected     map[string]string
	bulkStatus   func(n int) int
	bulkRequests int
	opstamp      uint64
	merges       int
}

// NewService starts a Service. The server will be closed via t.Cleanup.
func NewService(t testing.TB) *Service {
	s := &Service{
		t:        t,
		schemas:  map[string]bool{DefaultSchema: true},
		indexes:  make(map[string]*index),
		rejected: make(map[string]string),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/indexes", s.listIndexes)
	mux.HandleFunc("POST /v1/indexes/{index}", s.createIndex)
	mux.HandleFunc("DELETE /v1/indexes/{index}", s.deleteIndex)
	mux.HandleFunc("POST /v1/indexes/{index}/merge", s.merge)
	mux.HandleFunc("DELETE /v1/indexes/{index}/bulk_delete", s.bulkDelete)
	HandleBulk(mux, s.bulkIndex)
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

// Host returns the host:port the service listens on.
func (s *Service) Host() string {
	return Host(s.srv)
}

// AddIndex creates an index directly, bypassing the API.
func (s *Service) AddIndex(name, schema string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexes[name] = &index{schema: schema}
}

// Docs returns the documents stored in the named index, in insertion order.
func (s *Service) Docs(name string) []Doc {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indexes[name]
	if !ok {
		return nil
	}
	return slices.Clone(idx.docs)
}

// SortBy returns the sort_by descriptor the named index was created with.
func (s *Service) SortBy(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.indexes[name]; ok {
		return idx.sortBy
	}
	return ""
}

// BulkRequests returns the number of bulk_index requests received.
func (s *Service) BulkRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bulkRequests
}

// Merges returns the number of merge requests received.
func (s *Service) Merges() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.merges
}

// Reject makes the service reject documents with the given structure
// identifier, reporting reason in the bulk response.
func (s *Service) Reject(smiles, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected[smiles] = reason
}

// SetBulkStatus sets a function returning the status code for the n-th
// (zero-based) bulk_index request. Requests answered with a non-200 status
// are not applied.
func (s *Service) SetBulkStatus(f func(n int) int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulkStatus = f
}

func (s *Service) listIndexes(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	metas := make([]IndexMeta, 0, len(s.indexes))
	for name, idx := range s.indexes {
		metas = append(metas, IndexMeta{Name: name, Schema: idx.schema})
	}
	s.mu.Unlock()
	sort.Slice(metas, func(i, j int) bool { return metas[i].Name < metas[j].Name })
	writeJSON(w, http.StatusOK, metas)
}

func (s *Service) createIndex(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("index")
	schema := r.URL.Query().Get("schema")
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.schemas[schema] {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if _, ok := s.indexes[name]; ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "index already exists and force reset option not set",
		})
		return
	}
	s.indexes[name] = &index{schema: schema, sortBy: r.URL.Query().Get("sort_by")}
	writeJSON(w, http.StatusOK, IndexMeta{Name: name, Schema: schema})
}

func (s *Service) deleteIndex(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("index")
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indexes[name]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	delete(s.indexes, name)
	writeJSON(w, http.StatusOK, IndexMeta{Name: name, Schema: idx.schema})
}

func (s *Service) merge(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("index")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[name]; !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": fmt.Sprintf("index %q does not exist", name),
		})
		return
	}
	s.merges++
	writeJSON(w, http.StatusOK, "Merge successful")
}

// decodeBulk decodes a bulk request, failing the test and answering 400 if
// the client sent a malformed one. Handlers run outside the test goroutine,
// so failures are reported with assert.
func (s *Service) decodeBulk(w http.ResponseWriter, r *http.Request) (BulkRequest, BulkResponse, bool) {
	assert.Equal(s.t, "application/json", r.Header.Get("Content-Type"))
	req, result, err := decodeBulkRequest(r)
	if !assert.NoError(s.t, err) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return BulkRequest{}, BulkResponse{}, false
	}
	return req, result, true
}

func (s *Service) bulkIndex(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("index")
	req, result, ok := s.decodeBulk(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.bulkRequests
	s.bulkRequests++
	if s.bulkStatus != nil {
		if status := s.bulkStatus(n); status != http.StatusOK {
			writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
			return
		}
	}
	idx, ok := s.indexes[name]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	for i, doc := range req.Docs {
		if reason, ok := s.rejected[doc.Smiles]; ok {
			result.Statuses[i] = BulkStatus{Error: &reason}
			continue
		}
		s.opstamp++
		opstamp := s.opstamp
		result.Statuses[i] = BulkStatus{Opcode: &opstamp}
		idx.docs = append(idx.docs, doc)
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Service) bulkDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("index")
	req, result, ok := s.decodeBulk(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indexes[name]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	for i, doc := range req.Docs {
		s.opstamp++
		opstamp := s.opstamp
		result.Statuses[i] = BulkStatus{Opcode: &opstamp}
		idx.docs = slices.DeleteFunc(idx.docs, func(d Doc) bool {
			return d.Smiles == doc.Smiles
		})
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		io.WriteString(w, err.Error())
	}
}
