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

package docloadertest

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/metric/metricdata/metricdatatest"
)

// NewManualReader returns a ManualReader reporting delta temporality, and a
// MeterProvider reading from it.
func NewManualReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	rdr := sdkmetric.NewManualReader(sdkmetric.WithTemporalitySelector(
		func(ik sdkmetric.InstrumentKind) metricdata.Temporality {
			return metricdata.DeltaTemporality
		},
	))
	return rdr, sdkmetric.NewMeterProvider(sdkmetric.WithReader(rdr))
}

// CollectMetrics collects the metrics of the single scope recorded by rdr,
// keyed by name.
func CollectMetrics(t testing.TB, rdr sdkmetric.Reader) map[string]metricdata.Metrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, rdr.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

// AssertOTelMetrics calls assert for every metric in ms.
func AssertOTelMetrics(t testing.TB, ms []metricdata.Metrics, assert func(m metricdata.Metrics)) {
	t.Helper()
	for _, m := range ms {
		assert(m)
	}
}

// NewAssertCounter returns a function asserting that an int64 sum metric
// has a single data point with the given value and attributes. Every call
// increments asserted.
func NewAssertCounter(t testing.TB, asserted *atomic.Int64) func(metric metricdata.Metrics, count int64, attrs attribute.Set) {
	return func(metric metricdata.Metrics, count int64, attrs attribute.Set) {
		t.Helper()
		asserted.Add(1)
		counter, ok := metric.Data.(metricdata.Sum[int64])
		if !assert.True(t, ok, "%s is not an int64 sum", metric.Name) {
			return
		}
		if !assert.Len(t, counter.DataPoints, 1, metric.Name) {
			return
		}
		dp := counter.DataPoints[0]
		assert.Equal(t, count, dp.Value, metric.Name)
		metricdatatest.AssertHasAttributes[metricdata.DataPoint[int64]](t, dp, attrs.ToSlice()...)
	}
}

// SumByAttribute returns the values of an int64 sum metric keyed by the
// string value of the attribute key.
func SumByAttribute(metric metricdata.Metrics, key string) map[string]int64 {
	out := make(map[string]int64)
	counter, ok := metric.Data.(metricdata.Sum[int64])
	if !ok {
		return out
	}
	for _, dp := range counter.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key(key))
		out[v.AsString()] += dp.Value
	}
	return out
}
