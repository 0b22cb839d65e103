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
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/elastic/elastic-transport-go/v8/elastictransport"
	jsoniter "github.com/json-iterator/go"
	"go.elastic.co/apm/module/apmhttp/v2"
)

// Version is the version of the module, reported in the User-Agent header.
const Version = "0.3.0"

const userAgent = "go-docloader/" + Version

// maxErrorBody bounds the response body kept in a ServiceError.
const maxErrorBody = 4096

// IndexMeta describes an index.
type IndexMeta struct {
	Name   string `json:"name"`
	Schema string `json:"schema"`
}

// Client is a minimal typed client for the service's /v1/indexes API.
//
// Client is safe for concurrent use. At most Config.MaxRequests bulk
// requests are in flight at any time.
type Client struct {
	config    Config
	transport elastictransport.Interface
	pool      *requestPool
}

// NewClient returns a Client connecting to cfg.Connection.
func NewClient(cfg Config) (*Client, error) {
	cfg = DefaultConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var rt http.RoundTripper = http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Tracer != nil {
		// Spans are only recorded for requests whose context holds a
		// transaction, see Loader.Submit.
		rt = apmhttp.WrapRoundTripper(rt)
	}
	transport, err := elastictransport.New(elastictransport.Config{
		UserAgent:         userAgent,
		URLs:              []*url.URL{cfg.Connection.URL()},
		Transport:         rt,
		DisableRetry:      cfg.MaxRetries == 0,
		MaxRetries:        cfg.MaxRetries,
		RetryOnStatus:     cfg.RetryOnStatus,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create transport: %w", ErrConfiguration, err)
	}
	return newClient(transport, cfg), nil
}

// NewClientWithTransport returns a Client sending requests through
// transport. cfg.Connection is only validated; the transport decides
// where requests are sent.
func NewClientWithTransport(transport elastictransport.Interface, cfg Config) (*Client, error) {
	if transport == nil {
		return nil, errors.New("transport is nil")
	}
	cfg = DefaultConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newClient(transport, cfg), nil
}

func newClient(transport elastictransport.Interface, cfg Config) *Client {
	return &Client{
		config:    cfg,
		transport: transport,
		pool:      newRequestPool(cfg.MaxRequests, cfg.CompressionLevel),
	}
}

// Config returns the resolved configuration of the client.
func (c *Client) Config() Config {
	return c.config
}

// CreateIndex creates index with the given schema, optionally sorted by
// the sortBy descriptor.
//
// It returns an error matching ErrIndexExists if the index already exists,
// and ErrSchemaNotFound if the service does not know the schema. Depending on
// the service version, an existing index is reported with 400, 409, or 500
// and an "already exists" message.
func (c *Client) CreateIndex(ctx context.Context, index, schema, sortBy string) (IndexMeta, error) {
	if index == "" {
		return IndexMeta{}, errMissingIndex
	}
	query := url.Values{"schema": []string{schema}}
	if sortBy != "" {
		query.Set("sort_by", sortBy)
	}
	body, err := json.Marshal(struct {
		Descriptor string `json:"descriptor"`
		SortBy     string `json:"sort_by,omitempty"`
	}{schema, sortBy})
	if err != nil {
		return IndexMeta{}, err
	}
	res, err := c.do(ctx, request{
		op:     "create_index",
		index:  index,
		method: http.MethodPost,
		path:   indexPath(index),
		query:  query,
		body:   body,
	})
	if err != nil {
		return IndexMeta{}, err
	}
	if err := res.errorFor(map[int]error{
		http.StatusBadRequest: ErrIndexExists,
		http.StatusConflict:   ErrIndexExists,
		http.StatusNotFound:   ErrSchemaNotFound,
	}); err != nil {
		// The service reports existing indexes as a 500 with a message.
		var serr *ServiceError
		if errors.As(err, &serr) && serr.kind == nil &&
			strings.Contains(strings.ToLower(serr.Message), "already exists") {
			serr.kind = ErrIndexExists
		}
		return IndexMeta{}, err
	}
	var meta IndexMeta
	if err := res.decode(&meta); err != nil {
		return IndexMeta{}, err
	}
	return meta, nil
}

// DeleteIndex deletes index. It returns an error matching
// ErrIndexNotFound if the index does not exist.
func (c *Client) DeleteIndex(ctx context.Context, index string) (IndexMeta, error) {
	if index == "" {
		return IndexMeta{}, errMissingIndex
	}
	res, err := c.do(ctx, request{
		op:     "delete_index",
		index:  index,
		method: http.MethodDelete,
		path:   indexPath(index),
	})
	if err != nil {
		return IndexMeta{}, err
	}
	if err := res.errorFor(indexNotFound); err != nil {
		return IndexMeta{}, err
	}
	var meta IndexMeta
	if err := res.decode(&meta); err != nil {
		return IndexMeta{}, err
	}
	return meta, nil
}

// ListIndexes returns the indexes known to the service.
func (c *Client) ListIndexes(ctx context.Context) ([]IndexMeta, error) {
	res, err := c.do(ctx, request{
		op:     "list_indexes",
		method: http.MethodGet,
		path:   "/v1/indexes",
	})
	if err != nil {
		return nil, err
	}
	if err := res.errorFor(nil); err != nil {
		return nil, err
	}
	var indexes []IndexMeta
	if err := res.decode(&indexes); err != nil {
		return nil, err
	}
	return indexes, nil
}

// MergeSegments asks the service to merge the segments of index, and
// returns the service's status message.
func (c *Client) MergeSegments(ctx context.Context, index string) (string, error) {
	if index == "" {
		return "", errMissingIndex
	}
	res, err := c.do(ctx, request{
		op:     "merge",
		index:  index,
		method: http.MethodPost,
		path:   indexPath(index) + "/merge",
	})
	if err != nil {
		return "", err
	}
	if err := res.errorFor(indexNotFound); err != nil {
		return "", err
	}
	var msg string
	if err := res.decode(&msg); err != nil {
		return "", err
	}
	return msg, nil
}

// BulkIndex submits docs to index in a single bulk_index request.
//
// A non-nil error means the batch as a whole was not accepted. Documents
// rejected individually by the service are reported in the returned
// BulkResponseStat.FailedDocs.
func (c *Client) BulkIndex(ctx context.Context, index string, docs []Document) (BulkResponseStat, error) {
	if index == "" {
		return BulkResponseStat{}, errMissingIndex
	}
	if len(docs) == 0 {
		return BulkResponseStat{}, nil
	}
	stat, err := c.bulk(ctx, "bulk_index", http.MethodPost, index, func(r *bulkRequest) error {
		return r.encodeDocuments(docs)
	})
	for i, item := range stat.FailedDocs {
		if item.Position < len(docs) {
			stat.FailedDocs[i].Smiles = docs[item.Position].Smiles
		}
	}
	return stat, err
}

// BulkDelete removes the given structures from index in a single
// bulk_delete request.
func (c *Client) BulkDelete(ctx context.Context, index string, smiles []string) (BulkResponseStat, error) {
	if index == "" {
		return BulkResponseStat{}, errMissingIndex
	}
	if len(smiles) == 0 {
		return BulkResponseStat{}, nil
	}
	stat, err := c.bulk(ctx, "bulk_delete", http.MethodDelete, index, func(r *bulkRequest) error {
		return r.encodeStructures(smiles)
	})
	for i, item := range stat.FailedDocs {
		if item.Position < len(smiles) {
			stat.FailedDocs[i].Smiles = smiles[item.Position]
		}
	}
	return stat, err
}

func (c *Client) bulk(
	ctx context.Context,
	op, method, index string,
	encode func(*bulkRequest) error,
) (BulkResponseStat, error) {
	r, err := c.pool.Get(ctx)
	if err != nil {
		return BulkResponseStat{}, err
	}
	defer c.pool.Put(r)
	if err := encode(r); err != nil {
		return BulkResponseStat{}, err
	}

	header := make(http.Header)
	if r.compressed {
		header.Set("Content-Encoding", "gzip")
	}
	res, err := c.do(ctx, request{
		op:     op,
		index:  index,
		method: method,
		path:   indexPath(index) + "/" + op,
		body:   r.Bytes(),
		header: header,
	})
	if err != nil {
		return BulkResponseStat{}, err
	}
	// The body has been sent, record its size.
	stat := BulkResponseStat{
		BytesFlushed:      r.Len(),
		BytesUncompressed: r.UncompressedLen(),
	}
	if err := res.errorFor(indexNotFound); err != nil {
		return stat, err
	}
	if err := jsoniter.NewDecoder(bytes.NewReader(res.body)).Decode(&stat); err != nil {
		return stat, fmt.Errorf("error decoding %s response: %w", op, err)
	}
	return stat, nil
}

// AvailableBulkRequests returns the number of bulk requests that can be
// started without waiting.
func (c *Client) AvailableBulkRequests() int {
	return c.pool.Available()
}

type request struct {
	op     string
	index  string
	method string
	path   string
	query  url.Values
	body   []byte
	header http.Header
}

type response struct {
	op         string
	index      string
	statusCode int
	body       []byte
}

func (c *Client) do(ctx context.Context, r request) (*response, error) {
	if timeout := c.config.Connection.Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", r.op, err)
	}
	if len(r.query) > 0 {
		req.URL.RawQuery = r.query.Encode()
	}
	for k, v := range r.header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.transport.Perform(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to execute the %s request: %w", ErrNetwork, r.op, err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read the %s response: %w", ErrNetwork, r.op, err)
	}
	return &response{op: r.op, index: r.index, statusCode: res.StatusCode, body: data}, nil
}

// indexNotFound maps the status codes of operations on an existing index.
var indexNotFound = map[int]error{http.StatusNotFound: ErrIndexNotFound}

// errorFor returns a *ServiceError for non-2xx responses. kinds maps status
// codes to the sentinel error they mean for the operation.
func (r *response) errorFor(kinds map[int]error) error {
	if r.statusCode >= 200 && r.statusCode < 300 {
		return nil
	}
	err := &ServiceError{
		Op:         r.op,
		Index:      r.index,
		StatusCode: r.statusCode,
		Message:    errorMessage(r.body),
	}
	err.kind = kinds[r.statusCode]
	return err
}

func (r *response) decode(v any) error {
	if err := json.Unmarshal(r.body, v); err != nil {
		return fmt.Errorf("error decoding %s response: %w", r.op, err)
	}
	return nil
}

// errorMessage extracts {"error": "..."} from body, falling back to the
// (truncated) raw body.
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	var s string
	if err := json.Unmarshal(body, &s); err == nil && s != "" {
		return s
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody] + "..."
	}
	return msg
}

func indexPath(index string) string {
	return "/v1/indexes/" + url.PathEscape(index)
}
