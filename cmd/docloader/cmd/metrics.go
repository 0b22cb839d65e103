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

package cmd

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cheminee/go-docloader"
)

// loaderMetrics holds the Prometheus metrics of a load run.
type loaderMetrics struct {
	docsIndexed   *prometheus.CounterVec
	docsFailed    *prometheus.CounterVec
	batchesTotal  *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	bytesFlushed  *prometheus.CounterVec
	currentPass   *prometheus.GaugeVec
}

func newLoaderMetrics(reg prometheus.Registerer) *loaderMetrics {
	m := &loaderMetrics{
		docsIndexed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docloader",
			Name:      "docs_indexed_total",
			Help:      "Total documents accepted by the service",
		}, []string{"index"}),

		docsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docloader",
			Name:      "docs_failed_total",
			Help:      "Total documents rejected or lost with a failed batch",
		}, []string{"index"}),

		batchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docloader",
			Name:      "batches_total",
			Help:      "Total bulk requests sent",
		}, []string{"index", "outcome"}),

		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docloader",
			Name:      "batch_duration_seconds",
			Help:      "Bulk request duration",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"index"}),

		bytesFlushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docloader",
			Name:      "flushed_bytes_total",
			Help:      "Total request body bytes sent",
		}, []string{"index"}),

		currentPass: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "docloader",
			Name:      "pass",
			Help:      "Pass of the most recently completed batch",
		}, []string{"index"}),
	}

	reg.MustRegister(
		m.docsIndexed, m.docsFailed,
		m.batchesTotal, m.batchDuration,
		m.bytesFlushed, m.currentPass,
	)
	return m
}

// observe records the outcome of a bulk request.
func (m *loaderMetrics) observe(index string, r docloader.BatchResult) {
	outcome := "success"
	if r.Err != nil {
		outcome = "failure"
	}
	m.batchesTotal.WithLabelValues(index, outcome).Inc()
	m.batchDuration.WithLabelValues(index).Observe(r.Duration.Seconds())
	m.docsIndexed.WithLabelValues(index).Add(float64(r.Indexed))
	m.docsFailed.WithLabelValues(index).Add(float64(r.Failed))
	m.bytesFlushed.WithLabelValues(index).Add(float64(r.BytesFlushed))
	m.currentPass.WithLabelValues(index).Set(float64(r.Pass))
}

// serveMetrics starts an HTTP server exposing gatherer on /metrics.
func serveMetrics(addr string, gatherer prometheus.Gatherer, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("serving metrics", zap.String("addr", addr+"/metrics"))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return srv
}
