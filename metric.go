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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/cheminee/go-docloader"

type metrics struct {
	flushDuration          metric.Float64Histogram
	bulkRequests           metric.Int64Counter
	docsAdded              metric.Int64Counter
	docsProcessed          metric.Int64Counter
	bytesTotal             metric.Int64Counter
	bytesUncompressedTotal metric.Int64Counter
	availableBulkRequests  metric.Int64UpDownCounter
	passesCompleted        metric.Int64Counter
}

type histogramMetric struct {
	name        string
	description string
	unit        string
	p           *metric.Float64Histogram
}

type counterMetric struct {
	name        string
	description string
	unit        string
	p           *metric.Int64Counter
}

func newMetrics(cfg Config) (*metrics, error) {
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	meter := cfg.MeterProvider.Meter(meterName)
	ms := metrics{}
	histograms := []histogramMetric{
		{
			name:        "docloader.flushed.latency",
			description: "The amount of time a bulk request took, in seconds.",
			unit:        "s",
			p:           &ms.flushDuration,
		},
	}
	for _, m := range histograms {
		if err := newFloat64Histogram(meter, m); err != nil {
			return nil, err
		}
	}

	counters := []counterMetric{
		{
			name:        "docloader.bulk_requests.count",
			description: "The number of bulk requests completed.",
			p:           &ms.bulkRequests,
		},
		{
			name:        "docloader.docs.added",
			description: "The number of documents produced from the dataset.",
			p:           &ms.docsAdded,
		},
		{
			name:        "docloader.docs.processed",
			description: "The number of documents submitted. The status attribute reports success or the failure class.",
			p:           &ms.docsProcessed,
		},
		{
			name:        "docloader.flushed.bytes",
			description: "The total number of bytes written to the request body",
			unit:        "by",
			p:           &ms.bytesTotal,
		},
		{
			name:        "docloader.flushed.uncompressed.bytes",
			description: "The total number of bytes written to the request body before compression",
			unit:        "by",
			p:           &ms.bytesUncompressedTotal,
		},
		{
			name:        "docloader.passes.completed",
			description: "The number of dataset passes fully produced.",
			p:           &ms.passesCompleted,
		},
	}
	for _, m := range counters {
		if err := newInt64Counter(meter, m); err != nil {
			return nil, err
		}
	}

	available, err := meter.Int64UpDownCounter(
		"docloader.bulk_requests.available",
		metric.WithUnit("1"),
		metric.WithDescription("The number of bulk requests that can be started without waiting."),
	)
	if err != nil {
		return nil, fmt.Errorf("failed creating docloader.bulk_requests.available metric: %w", err)
	}
	ms.availableBulkRequests = available
	return &ms, nil
}

func newInt64Counter(meter metric.Meter, c counterMetric) error {
	unit := c.unit
	if unit == "" {
		unit = "1"
	}
	m, err := meter.Int64Counter(
		c.name,
		metric.WithUnit(unit),
		metric.WithDescription(c.description),
	)
	if err != nil {
		return fmt.Errorf("failed creating %s metric: %w", c.name, err)
	}
	*c.p = m
	return nil
}

func newFloat64Histogram(meter metric.Meter, h histogramMetric) error {
	m, err := meter.Float64Histogram(
		h.name,
		metric.WithUnit(h.unit),
		metric.WithDescription(h.description),
	)
	if err != nil {
		return fmt.Errorf("failed creating %s metric: %w", h.name, err)
	}
	*h.p = m
	return nil
}
