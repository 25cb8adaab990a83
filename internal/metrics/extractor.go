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
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tombee/beacon/internal/pipeline"
	"github.com/tombee/beacon/pkg/telemetry"
)

// ProcessedByMetricExtractorsProperty marks items whose standard metrics
// were already recorded, so the backend does not aggregate them again.
const ProcessedByMetricExtractorsProperty = "_MS.ProcessedByMetricExtractors"

const (
	requestsExtractor     = "(Name:'Requests', Ver:'1.1')"
	dependenciesExtractor = "(Name:'Dependencies', Ver:'1.1')"
	exceptionsExtractor   = "(Name:'Exceptions', Ver:'1.1')"
)

// instruments are shared by every extractor stage built from one meter.
type instruments struct {
	requests           metric.Int64Counter
	requestDuration    metric.Float64Histogram
	dependencies       metric.Int64Counter
	dependencyDuration metric.Float64Histogram
	exceptions         metric.Int64Counter
}

func newInstruments(mp metric.MeterProvider) (*instruments, error) {
	meter := mp.Meter("github.com/tombee/beacon/metrics")
	in := &instruments{}

	var err error
	in.requests, err = meter.Int64Counter(
		"beacon_requests_total",
		metric.WithDescription("Requests seen by the telemetry pipeline"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	in.requestDuration, err = meter.Float64Histogram(
		"beacon_request_duration_ms",
		metric.WithDescription("Request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	in.dependencies, err = meter.Int64Counter(
		"beacon_dependencies_total",
		metric.WithDescription("Dependency calls seen by the telemetry pipeline"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	in.dependencyDuration, err = meter.Float64Histogram(
		"beacon_dependency_duration_ms",
		metric.WithDescription("Dependency call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	in.exceptions, err = meter.Int64Counter(
		"beacon_exceptions_total",
		metric.WithDescription("Exceptions seen by the telemetry pipeline"),
		metric.WithUnit("{exception}"),
	)
	if err != nil {
		return nil, err
	}

	return in, nil
}

// Extractor is the chain stage that records standard request, dependency
// and exception metrics before sampling can discard the items.
type Extractor struct {
	next telemetry.Processor
	in   *instruments
}

// UseExtractor appends a metric extractor stage to b.
func UseExtractor(b *pipeline.Builder, mp metric.MeterProvider) error {
	in, err := newInstruments(mp)
	if err != nil {
		return err
	}
	return b.Use(func(next telemetry.Processor) telemetry.Processor {
		return &Extractor{next: next, in: in}
	})
}

// Process implements telemetry.Processor.
func (e *Extractor) Process(item telemetry.Item) {
	ctx := context.Background()
	switch v := item.(type) {
	case *telemetry.Request:
		attrs := metric.WithAttributes(
			attribute.Bool("success", v.Success),
			attribute.String("response_code", v.ResponseCode),
		)
		e.in.requests.Add(ctx, 1, attrs)
		e.in.requestDuration.Record(ctx, durationMs(v.Duration.Nanoseconds()), attrs)
		v.SetProperty(ProcessedByMetricExtractorsProperty, requestsExtractor)
	case *telemetry.Dependency:
		attrs := metric.WithAttributes(
			attribute.Bool("success", v.Success),
			attribute.String("type", v.Type),
			attribute.String("target", v.Target),
		)
		e.in.dependencies.Add(ctx, 1, attrs)
		e.in.dependencyDuration.Record(ctx, durationMs(v.Duration.Nanoseconds()), attrs)
		v.SetProperty(ProcessedByMetricExtractorsProperty, dependenciesExtractor)
	case *telemetry.Exception:
		e.in.exceptions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("severity", strconv.Itoa(int(v.Severity))),
		))
		v.SetProperty(ProcessedByMetricExtractorsProperty, exceptionsExtractor)
	}
	e.next.Process(item)
}

func durationMs(ns int64) float64 {
	return float64(ns) / 1e6
}

var _ telemetry.Processor = (*Extractor)(nil)
