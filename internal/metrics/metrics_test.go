// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/tombee/beacon/internal/pipeline"
	"github.com/tombee/beacon/internal/testing/mock"
	"github.com/tombee/beacon/pkg/telemetry"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	data, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range data.DataPoints {
		total += dp.Value
	}
	return total
}

func TestExtractor_RecordsAndMarksItems(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	ch := mock.NewChannel()
	b := pipeline.NewBuilder(telemetry.ProcessorFunc(ch.Send))
	require.NoError(t, UseExtractor(b, mp))
	chain, err := b.Build()
	require.NoError(t, err)

	chain.Process(&telemetry.Request{Success: true, ResponseCode: "200", Duration: 40 * time.Millisecond})
	chain.Process(&telemetry.Request{Success: false, ResponseCode: "500", Duration: 20 * time.Millisecond})
	chain.Process(&telemetry.Dependency{Success: true, Type: "HTTP", Target: "api", Duration: time.Millisecond})
	chain.Process(&telemetry.Exception{})
	chain.Process(&telemetry.Event{Name: "untouched"})

	require.Equal(t, 5, ch.Len())
	items := ch.Items()
	assert.Equal(t, requestsExtractor, items[0].Meta().Properties[ProcessedByMetricExtractorsProperty])
	assert.Equal(t, dependenciesExtractor, items[2].Meta().Properties[ProcessedByMetricExtractorsProperty])
	assert.Equal(t, exceptionsExtractor, items[3].Meta().Properties[ProcessedByMetricExtractorsProperty])
	_, marked := items[4].Meta().Property(ProcessedByMetricExtractorsProperty)
	assert.False(t, marked)

	metrics := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, metrics["beacon_requests_total"]))
	assert.Equal(t, int64(1), sumOf(t, metrics["beacon_dependencies_total"]))
	assert.Equal(t, int64(1), sumOf(t, metrics["beacon_exceptions_total"]))

	hist, ok := metrics["beacon_request_duration_ms"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	var sum float64
	for _, dp := range hist.DataPoints {
		count += dp.Count
		sum += dp.Sum
	}
	assert.Equal(t, uint64(2), count)
	assert.InDelta(t, 60, sum, 1e-9)
}

func TestSamplingGauge(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	cfg := pipeline.NewConfiguration(nil)
	cfg.SetLastObservedSamplingPercentage(telemetry.KindRequest, 25)

	reg, err := RegisterSamplingGauge(mp, cfg)
	require.NoError(t, err)
	defer func() { _ = reg.Unregister() }()

	gauge, ok := collect(t, reader)["beacon_sampling_percentage"].Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, 25.0, gauge.DataPoints[0].Value)
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCounters(reg)

	c.SampledOut(telemetry.KindRequest)
	c.SampledOut(telemetry.KindRequest)
	c.SampledOut(telemetry.KindEvent)
	c.ChannelDropped("memory")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.sampledOut.WithLabelValues("Request")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sampledOut.WithLabelValues("Event")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.channelDropped.WithLabelValues("memory")))
}

func TestProvider_HandlerServesRegistry(t *testing.T) {
	p, err := NewProvider("beacon-test", "0.0.0")
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(context.Background()) }()

	ch := mock.NewChannel()
	b := pipeline.NewBuilder(telemetry.ProcessorFunc(ch.Send))
	require.NoError(t, UseExtractor(b, p.MeterProvider()))
	chain, err := b.Build()
	require.NoError(t, err)
	chain.Process(&telemetry.Request{Success: true})
	p.Counters().SampledOut(telemetry.KindEvent)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "beacon_items_sampled_out_total")
	assert.Contains(t, body, "beacon_requests_total")
	assert.Contains(t, body, "go_goroutines")
}
