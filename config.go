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
	"net/url"
	"time"

	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// DefaultHost is the service address used when ConnectionConfig.Host is empty.
	DefaultHost = "localhost"

	// DefaultScheme is the URL scheme used when ConnectionConfig.Scheme is empty.
	DefaultScheme = "http"

	// DefaultBatchSize is the number of documents per bulk request used when
	// Config.BatchSize is zero.
	DefaultBatchSize = 10000
)

// ConnectionConfig holds the parameters needed to reach the indexing service.
type ConnectionConfig struct {
	// Host holds the service address, optionally with a port,
	// e.g. "localhost:3000".
	//
	// If Host is empty, DefaultHost will be used.
	Host string

	// Scheme holds the URL scheme, either "http" or "https".
	//
	// If Scheme is empty, DefaultScheme will be used.
	Scheme string

	// Timeout holds the timeout applied to every request.
	//
	// If Timeout is zero, no client-side timeout will be used.
	Timeout time.Duration
}

// URL returns the base URL of the service.
func (c ConnectionConfig) URL() *url.URL {
	return &url.URL{Scheme: c.Scheme, Host: c.Host}
}

// Validate checks that the scheme is supported and the timeout is not negative.
func (c ConnectionConfig) Validate() error {
	switch c.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("%w: expected scheme http or https, got %q", ErrConfiguration, c.Scheme)
	}
	if c.Host == "" {
		return fmt.Errorf("%w: missing host", ErrConfiguration)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: expected non-negative timeout, got %s", ErrConfiguration, c.Timeout)
	}
	if u, err := url.Parse(c.URL().String()); err != nil || u.Host != c.Host {
		return fmt.Errorf("%w: invalid host %q", ErrConfiguration, c.Host)
	}
	return nil
}

// Config holds configuration for Client and Loader.
type Config struct {
	// Connection holds the service connection parameters.
	Connection ConnectionConfig

	// Logger holds an optional Logger to use for logging ingestion progress.
	//
	// Request failures are logged at error level, and per-document failures
	// are grouped by message to avoid flooding the log.
	//
	// If Logger is nil, logging will be disabled.
	Logger *zap.Logger

	// Tracer holds an optional apm.Tracer to use for tracing bulk requests.
	// Each bulk request is traced as a transaction, and outgoing HTTP
	// requests are traced as spans.
	//
	// If Tracer is nil, requests will not be traced by Elastic APM.
	Tracer *apm.Tracer

	// TracerProvider holds an optional OTel TracerProvider. When set, every
	// run and every bulk request is recorded as a span.
	TracerProvider trace.TracerProvider

	// MeterProvider holds the OTel MeterProvider to be used to create and
	// record loader metrics.
	//
	// If unset, the global OTel MeterProvider will be used, if that is unset,
	// no metrics will be recorded.
	MeterProvider metric.MeterProvider

	// MetricAttributes holds any extra attributes to set in the recorded
	// metrics.
	MetricAttributes attribute.Set

	// CompressionLevel holds the gzip compression level, from 0 (gzip.NoCompression)
	// to 9 (gzip.BestCompression). Higher values provide greater compression, at a
	// greater cost of CPU. The special value -1 (gzip.DefaultCompression) selects the
	// default compression level.
	//
	// Compression is disabled by default, since not every deployment of the
	// service accepts gzip-encoded request bodies.
	CompressionLevel int

	// MaxRetries holds the maximum number of times a request is retried on
	// a RetryOnStatus response or a network error.
	//
	// If MaxRetries is zero, requests are not retried.
	MaxRetries int

	// RetryOnStatus holds the HTTP statuses that trigger a retry when
	// MaxRetries is greater than zero.
	//
	// If RetryOnStatus is empty, 502, 503 and 504 are retried.
	RetryOnStatus []int

	// Index holds the name of the target index.
	Index string

	// Schema holds the descriptor (schema) used when creating the index.
	//
	// If Schema is empty, "descriptor_v1" will be used.
	Schema string

	// SortBy holds an optional descriptor the index is sorted by.
	SortBy string

	// CreateIndex makes Loader.Run create the index before submitting batches.
	CreateIndex bool

	// IgnoreEnsureIndexErrors makes EnsureIndex log and suppress every index
	// creation failure, not only "index already exists".
	IgnoreEnsureIndexErrors bool

	// BatchSize holds the maximum number of documents per bulk request.
	//
	// If BatchSize is zero, DefaultBatchSize will be used.
	BatchSize int

	// Passes holds the number of times the dataset is submitted. Every
	// document carries the number of the pass it was produced in.
	//
	// If Passes is zero, the dataset is submitted once.
	Passes int

	// SkipDocuments holds the number of leading documents of the run to
	// read and discard, counted across passes. Setting it to the Offset of
	// a failed BatchError resumes an interrupted run.
	SkipDocuments int64

	// MaxRequests holds the maximum number of bulk requests to execute
	// concurrently. Batches are always built in source order.
	//
	// If MaxRequests is zero, batches are submitted sequentially.
	MaxRequests int

	// Mapping controls how dataset records are turned into documents.
	Mapping FieldMapping

	// OnBatch, if set, is called after every bulk request completes,
	// successfully or not. It may be called concurrently when MaxRequests
	// is greater than one.
	OnBatch func(BatchResult)
}

// DefaultConfig returns a copy of cfg with zero values replaced by defaults.
func DefaultConfig(cfg Config) Config {
	if cfg.Connection.Host == "" {
		cfg.Connection.Host = DefaultHost
	}
	if cfg.Connection.Scheme == "" {
		cfg.Connection.Scheme = DefaultScheme
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Schema == "" {
		cfg.Schema = "descriptor_v1"
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Passes == 0 {
		cfg.Passes = 1
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if len(cfg.RetryOnStatus) == 0 {
		cfg.RetryOnStatus = []int{502, 503, 504}
	}
	cfg.Mapping = DefaultFieldMapping(cfg.Mapping)
	return cfg
}

// Validate reports whether cfg is usable. It should be called on the
// result of DefaultConfig.
func (cfg Config) Validate() error {
	if err := cfg.Connection.Validate(); err != nil {
		return err
	}
	if cfg.CompressionLevel < -1 || cfg.CompressionLevel > 9 {
		return fmt.Errorf(
			"%w: expected CompressionLevel in range [-1,9], got %d",
			ErrConfiguration, cfg.CompressionLevel,
		)
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("%w: expected positive batch size, got %d", ErrConfiguration, cfg.BatchSize)
	}
	if cfg.Passes < 0 {
		return fmt.Errorf("%w: expected non-negative passes, got %d", ErrConfiguration, cfg.Passes)
	}
	if cfg.SkipDocuments < 0 {
		return fmt.Errorf("%w: expected non-negative skip, got %d", ErrConfiguration, cfg.SkipDocuments)
	}
	if cfg.MaxRequests < 0 {
		return fmt.Errorf("%w: expected non-negative max requests, got %d", ErrConfiguration, cfg.MaxRequests)
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("%w: expected non-negative max retries, got %d", ErrConfiguration, cfg.MaxRetries)
	}
	return nil
}
