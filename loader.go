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
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.elastic.co/apm/module/apmzap/v2"
	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// BatchResult describes the outcome of a single bulk request. It is passed
// to Config.OnBatch.
type BatchResult struct {
	Seq    int
	Pass   int
	Offset int64
	// Docs holds the number of documents in the batch.
	Docs int
	// Indexed holds the number of documents the service accepted.
	Indexed int64
	// Failed holds the number of documents the service rejected
	// individually, or every document of the batch if Err is non-nil.
	Failed int64

	BytesFlushed      int
	BytesUncompressed int
	Duration          time.Duration

	// Err holds the request error, if the batch was not accepted.
	Err error
}

// Stats holds loader counters.
type Stats struct {
	// DocsAdded holds the number of documents read from the dataset and
	// grouped into batches.
	DocsAdded int64
	// DocsIndexed holds the number of documents accepted by the service.
	DocsIndexed int64
	// DocsFailed holds the number of documents that were rejected, either
	// individually or because their batch failed.
	DocsFailed int64

	BatchesSubmitted int64
	BatchesFailed    int64

	// BytesFlushed holds the number of request body bytes sent, after compression.
	BytesFlushed int64
	// BytesUncompressed holds the number of request body bytes before compression.
	BytesUncompressed int64

	// PassesCompleted holds the number of dataset passes fully read.
	PassesCompleted int64
}

func (s Stats) sub(o Stats) Stats {
	return Stats{
		DocsAdded:         s.DocsAdded - o.DocsAdded,
		DocsIndexed:       s.DocsIndexed - o.DocsIndexed,
		DocsFailed:        s.DocsFailed - o.DocsFailed,
		BatchesSubmitted:  s.BatchesSubmitted - o.BatchesSubmitted,
		BatchesFailed:     s.BatchesFailed - o.BatchesFailed,
		BytesFlushed:      s.BytesFlushed - o.BytesFlushed,
		BytesUncompressed: s.BytesUncompressed - o.BytesUncompressed,
		PassesCompleted:   s.PassesCompleted - o.PassesCompleted,
	}
}

// Loader ingests datasets into an index: it optionally ensures the index
// exists, then reads the dataset once per pass, maps records to documents,
// groups documents into batches and submits every batch as one bulk request.
//
// Loader methods are safe for concurrent use, but concurrent calls to Run
// interleave their batches.
type Loader struct {
	config  Config
	client  *Client
	metrics *metrics

	docsAdded         atomic.Int64
	docsIndexed       atomic.Int64
	docsFailed        atomic.Int64
	batchesSubmitted  atomic.Int64
	batchesFailed     atomic.Int64
	bytesTotal        atomic.Int64
	bytesUncompressed atomic.Int64
	passesCompleted   atomic.Int64

	// tracer is an OTel tracer, and should not be confused with `l.config.Tracer`
	// which is an Elastic APM Tracer.
	tracer trace.Tracer
}

// New returns a Loader with a Client built from cfg.
func New(cfg Config) (*Loader, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewLoader(client, cfg)
}

// NewLoader returns a Loader submitting batches through client.
//
// Connection settings in cfg are ignored, client holds its own.
func NewLoader(client *Client, cfg Config) (*Loader, error) {
	if client == nil {
		return nil, errors.New("client is nil")
	}
	cfg = DefaultConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Index == "" {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, errMissingIndex)
	}
	ms, err := newMetrics(cfg)
	if err != nil {
		return nil, err
	}
	l := &Loader{
		config:  cfg,
		client:  client,
		metrics: ms,
	}
	attrs := metric.WithAttributeSet(cfg.MetricAttributes)
	l.metrics.availableBulkRequests.Add(context.Background(), int64(cfg.MaxRequests), attrs)
	if cfg.TracerProvider != nil {
		l.tracer = cfg.TracerProvider.Tracer("github.com/cheminee/go-docloader.loader")
	}
	return l, nil
}

// Client returns the client used to submit batches.
func (l *Loader) Client() *Client {
	return l.client
}

// Stats returns the loader counters accumulated since the loader was created.
func (l *Loader) Stats() Stats {
	return Stats{
		DocsAdded:         l.docsAdded.Load(),
		DocsIndexed:       l.docsIndexed.Load(),
		DocsFailed:        l.docsFailed.Load(),
		BatchesSubmitted:  l.batchesSubmitted.Load(),
		BatchesFailed:     l.batchesFailed.Load(),
		BytesFlushed:      l.bytesTotal.Load(),
		BytesUncompressed: l.bytesUncompressed.Load(),
		PassesCompleted:   l.passesCompleted.Load(),
	}
}

// EnsureIndex creates the configured index, unless it already exists.
//
// If the index exists, EnsureIndex logs and returns nil, so it can be called
// any number of times. Other failures are returned as *EnsureIndexError,
// unless Config.IgnoreEnsureIndexErrors is set.
func (l *Loader) EnsureIndex(ctx context.Context) error {
	logger := l.config.Logger.With(zap.String("index", l.config.Index))
	meta, err := l.client.CreateIndex(ctx, l.config.Index, l.config.Schema, l.config.SortBy)
	switch {
	case err == nil:
		logger.Info("created index", zap.String("schema", meta.Schema))
		return nil
	case errors.Is(err, ErrIndexExists):
		logger.Info("index already exists")
		return nil
	case l.config.IgnoreEnsureIndexErrors && ctx.Err() == nil:
		logger.Warn("failed to create index, continuing", zap.Error(err))
		return nil
	}
	logger.Warn("failed to create index", zap.Error(err))
	return &EnsureIndexError{Index: l.config.Index, Err: err}
}

// Run ingests dataset, reading it Config.Passes times.
//
// Batches are built in source order, pass after pass, and at most
// Config.MaxRequests batches are in flight. Once a batch fails no further
// batches are built, and Run returns after in-flight batches complete. The
// returned error then holds a *BatchError for every failed batch, ordered by
// sequence number: errors.As yields the earliest. Every batch before the
// earliest failed batch has been accepted.
//
// The returned Stats hold the counters of this run only.
func (l *Loader) Run(ctx context.Context, dataset Dataset) (Stats, error) {
	start := l.Stats()
	runID := uuid.NewString()
	logger := l.config.Logger.With(
		zap.String("run_id", runID),
		zap.String("index", l.config.Index),
	)
	var span trace.Span
	if l.otelTracingEnabled() {
		ctx, span = l.tracer.Start(ctx, "docloader.run", trace.WithAttributes(
			attribute.String("run_id", runID),
			attribute.String("index", l.config.Index),
			attribute.Int("passes", l.config.Passes),
		))
		defer span.End()
	}

	err := l.run(ctx, logger, dataset)
	stats := l.Stats().sub(start)
	if err != nil {
		logger.Error("ingestion failed", zap.Error(err), zap.Int64("docs_indexed", stats.DocsIndexed))
		if l.otelTracingEnabled() && span.IsRecording() {
			span.RecordError(err)
			span.SetStatus(codes.Error, "ingestion failed")
		}
		return stats, err
	}
	logger.Info("ingestion completed",
		zap.Int64("docs_indexed", stats.DocsIndexed),
		zap.Int64("docs_failed", stats.DocsFailed),
		zap.Int64("batches", stats.BatchesSubmitted),
		zap.Int64("passes", stats.PassesCompleted),
	)
	if l.otelTracingEnabled() && span.IsRecording() {
		span.SetStatus(codes.Ok, "")
	}
	return stats, nil
}

func (l *Loader) run(ctx context.Context, logger *zap.Logger, dataset Dataset) error {
	if l.config.CreateIndex {
		if err := l.EnsureIndex(ctx); err != nil {
			return err
		}
	}

	src := &documentStream{
		dataset: dataset,
		mapping: l.config.Mapping,
		passes:  l.config.Passes,
		skip:    l.config.SkipDocuments,
		onPassDone: func(pass int) {
			l.passesCompleted.Add(1)
			l.metrics.passesCompleted.Add(context.Background(), 1,
				metric.WithAttributeSet(l.config.MetricAttributes))
			logger.Debug("dataset pass completed", zap.Int("pass", pass))
		},
	}
	defer src.Close()
	batcher, err := NewBatcher(src, l.config.BatchSize)
	if err != nil {
		return err
	}
	batcher.offset = l.config.SkipDocuments

	// A slot is acquired before a batch is built, so that no batch is built
	// once a submission has failed. errgroup.WithContext is intentionally not
	// used: a failed batch must not cancel batches already in flight.
	sem := semaphore.NewWeighted(int64(l.config.MaxRequests))
	var g errgroup.Group
	var failed atomic.Bool
	var mu sync.Mutex
	var batchErrs []*BatchError
	var produceErr error
	for {
		if err := ctx.Err(); err != nil {
			produceErr = err
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			produceErr = err
			break
		}
		if failed.Load() {
			sem.Release(1)
			break
		}
		batch, err := batcher.Next()
		if err != nil {
			sem.Release(1)
			if err != io.EOF {
				produceErr = err
			}
			break
		}
		l.docsAdded.Add(int64(len(batch.Docs)))
		l.metrics.docsAdded.Add(context.Background(), int64(len(batch.Docs)),
			metric.WithAttributeSet(l.config.MetricAttributes))
		g.Go(func() error {
			defer sem.Release(1)
			if _, err := l.Submit(ctx, batch); err != nil {
				var berr *BatchError
				if !errors.As(err, &berr) {
					berr = newBatchError(batch, err)
				}
				mu.Lock()
				batchErrs = append(batchErrs, berr)
				mu.Unlock()
				failed.Store(true)
			}
			return nil
		})
	}
	g.Wait()

	if len(batchErrs) == 0 {
		return produceErr
	}
	slices.SortFunc(batchErrs, func(a, b *BatchError) int { return a.Seq - b.Seq })
	if len(batchErrs) == 1 && produceErr == nil {
		return batchErrs[0]
	}
	errs := make([]error, 0, len(batchErrs)+1)
	for _, err := range batchErrs {
		errs = append(errs, err)
	}
	if produceErr != nil {
		errs = append(errs, produceErr)
	}
	return errors.Join(errs...)
}

// Submit sends batch as a single bulk request to the configured index.
//
// If the request fails, Submit returns a *BatchError. Documents rejected
// individually by the service are logged, counted and reported in the
// returned BulkResponseStat, but do not fail the batch.
func (l *Loader) Submit(ctx context.Context, batch Batch) (BulkResponseStat, error) {
	n := len(batch.Docs)
	if n == 0 {
		return BulkResponseStat{}, nil
	}
	attrs := metric.WithAttributeSet(l.config.MetricAttributes)
	l.metrics.availableBulkRequests.Add(context.Background(), -1, attrs)
	defer l.metrics.availableBulkRequests.Add(context.Background(), 1, attrs)

	logger := l.config.Logger.With(
		zap.Int("batch", batch.Seq),
		zap.Int("pass", batch.Pass()),
	)
	var tx *apm.Transaction
	if l.tracingEnabled() {
		tx = l.config.Tracer.StartTransaction("docloader.bulk_index", "output")
		tx.Context.SetLabel("documents", n)
		defer tx.End()
		ctx = apm.ContextWithTransaction(ctx, tx)

		// Add trace IDs to logger, to associate any per-item errors
		// below with the trace.
		logger = logger.With(apmzap.TraceContext(ctx)...)
	}
	var span trace.Span
	if l.otelTracingEnabled() {
		ctx, span = l.tracer.Start(ctx, "docloader.bulk_index", trace.WithAttributes(
			attribute.Int("documents", n),
			attribute.Int("batch", batch.Seq),
		))
		defer span.End()

		logger = logger.With(
			zap.String("traceId", span.SpanContext().TraceID().String()),
			zap.String("spanId", span.SpanContext().SpanID().String()),
		)
	}

	var stat BulkResponseStat
	var err error
	took := timeFunc(func() {
		stat, err = l.client.BulkIndex(ctx, l.config.Index, batch.Docs)
	})
	l.batchesSubmitted.Add(1)
	l.metrics.bulkRequests.Add(context.Background(), 1, attrs)
	l.metrics.flushDuration.Record(context.Background(), took.Seconds(), attrs)
	if stat.BytesFlushed > 0 {
		l.bytesTotal.Add(int64(stat.BytesFlushed))
		l.metrics.bytesTotal.Add(context.Background(), int64(stat.BytesFlushed), attrs)
	}
	if stat.BytesUncompressed > 0 {
		l.bytesUncompressed.Add(int64(stat.BytesUncompressed))
		l.metrics.bytesUncompressedTotal.Add(context.Background(), int64(stat.BytesUncompressed), attrs)
	}
	result := BatchResult{
		Seq:               batch.Seq,
		Pass:              batch.Pass(),
		Offset:            batch.Offset,
		Docs:              n,
		BytesFlushed:      stat.BytesFlushed,
		BytesUncompressed: stat.BytesUncompressed,
		Duration:          took,
	}

	if err != nil {
		l.batchesFailed.Add(1)
		l.docsFailed.Add(int64(n))
		l.recordFailedBatch(n, err)
		logger.Error("bulk indexing request failed", zap.Error(err))
		if tx != nil {
			tx.Outcome = "failure"
			apm.CaptureError(ctx, err).Send()
		}
		if l.otelTracingEnabled() && span.IsRecording() {
			span.RecordError(err)
			span.SetStatus(codes.Error, "bulk indexing request failed")
		}
		result.Failed = int64(n)
		result.Err = err
		l.onBatch(result)
		return stat, newBatchError(batch, err)
	}

	docsFailed := int64(len(stat.FailedDocs))
	if stat.Indexed > 0 {
		l.docsIndexed.Add(stat.Indexed)
		l.metrics.docsProcessed.Add(context.Background(), stat.Indexed, attrs,
			metric.WithAttributes(attribute.String("status", "Success")))
	}
	if docsFailed > 0 {
		l.docsFailed.Add(docsFailed)
		l.metrics.docsProcessed.Add(context.Background(), docsFailed, attrs,
			metric.WithAttributes(attribute.String("status", "FailedDocument")))

		failedCount := make(map[string]int)
		for _, item := range stat.FailedDocs {
			failedCount[item.Error]++
			if tx != nil {
				apm.CaptureError(ctx, errors.New(item.Error)).Send()
			}
		}
		for reason, count := range failedCount {
			logger.Error(fmt.Sprintf("failed to index documents in '%s': %s",
				l.config.Index, reason,
			), zap.Int("documents", count))
		}
	}
	logger.Debug(
		"bulk request completed",
		zap.Int64("docs_indexed", stat.Indexed),
		zap.Int64("docs_failed", docsFailed),
		zap.Int("bytes", stat.BytesFlushed),
		zap.Duration("took", took),
	)
	if tx != nil {
		tx.Outcome = "success"
	}
	if l.otelTracingEnabled() && span.IsRecording() {
		span.SetStatus(codes.Ok, "")
	}
	result.Indexed = stat.Indexed
	result.Failed = docsFailed
	l.onBatch(result)
	return stat, nil
}

// recordFailedBatch records the documents of a failed bulk request under a
// status describing the failure.
func (l *Loader) recordFailedBatch(n int, err error) {
	opts := []metric.AddOption{metric.WithAttributeSet(l.config.MetricAttributes)}
	var serr *ServiceError
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		opts = append(opts, metric.WithAttributes(attribute.String("status", "Timeout")))
	case errors.As(err, &serr):
		status := "FailedServer"
		switch {
		case serr.TooManyRequests():
			status = "TooMany"
		case serr.ClientError():
			status = "FailedClient"
		}
		opts = append(opts, metric.WithAttributes(
			attribute.String("status", status),
			semconv.HTTPResponseStatusCode(serr.StatusCode),
		))
	default:
		opts = append(opts, metric.WithAttributes(attribute.String("status", "FailedNetwork")))
	}
	l.metrics.docsProcessed.Add(context.Background(), int64(n), opts...)
}

func (l *Loader) onBatch(result BatchResult) {
	if l.config.OnBatch != nil {
		l.config.OnBatch(result)
	}
}

// tracingEnabled checks whether we should be doing tracing
// using the Elastic APM tracer.
func (l *Loader) tracingEnabled() bool {
	return l.config.Tracer != nil && l.config.Tracer.Recording()
}

// otelTracingEnabled checks whether we should be doing tracing
// using otel tracer.
func (l *Loader) otelTracingEnabled() bool {
	return l.tracer != nil
}

func newBatchError(batch Batch, err error) *BatchError {
	return &BatchError{
		Seq:    batch.Seq,
		Pass:   batch.Pass(),
		Offset: batch.Offset,
		Docs:   len(batch.Docs),
		Err:    err,
	}
}

// documentStream reads the dataset once per pass and maps each record to a
// document tagged with the pass number. The first skip records are dropped
// unmapped.
type documentStream struct {
	dataset    Dataset
	mapping    FieldMapping
	passes     int
	skip       int64
	onPassDone func(pass int)

	pass   int
	reader RecordReader
}

func (s *documentStream) Next() (Document, error) {
	for {
		if s.reader == nil {
			if s.pass >= s.passes {
				return Document{}, io.EOF
			}
			r, err := s.dataset.Open()
			if err != nil {
				return Document{}, err
			}
			s.pass++
			s.reader = r
		}
		rec, err := s.reader.Next()
		if err == io.EOF {
			if err := s.Close(); err != nil {
				return Document{}, fmt.Errorf("%w: %w", ErrIO, err)
			}
			s.onPassDone(s.pass)
			continue
		}
		if err != nil {
			return Document{}, err
		}
		if s.skip > 0 {
			s.skip--
			continue
		}
		doc, err := s.mapping.ToDocument(rec, s.pass)
		if err != nil {
			return Document{}, err
		}
		return doc, nil
	}
}

func (s *documentStream) Close() error {
	if s.reader == nil {
		return nil
	}
	err := s.reader.Close()
	s.reader = nil
	return err
}

func timeFunc(f func()) time.Duration {
	t0 := time.Now()
	if f != nil {
		f()
	}
	return time.Since(t0)
}
