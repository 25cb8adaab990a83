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

	"go.opentelemetry.io/otel/metric"

	"github.com/tombee/beacon/internal/pipeline"
	"github.com/tombee/beacon/pkg/telemetry"
)

// RegisterSamplingGauge exposes the last observed Request sampling
// percentage of cfg as beacon_sampling_percentage.
func RegisterSamplingGauge(mp metric.MeterProvider, cfg *pipeline.Configuration) (metric.Registration, error) {
	meter := mp.Meter("github.com/tombee/beacon/metrics")
	gauge, err := meter.Float64ObservableGauge(
		"beacon_sampling_percentage",
		metric.WithDescription("Last observed adaptive sampling percentage for requests"),
		metric.WithUnit("%"),
	)
	if err != nil {
		return nil, err
	}
	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveFloat64(gauge, cfg.LastObservedSamplingPercentage(telemetry.KindRequest))
		return nil
	}, gauge)
}
