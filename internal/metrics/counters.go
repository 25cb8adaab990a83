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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tombee/beacon/pkg/telemetry"
)

// Counters are the pipeline health counters.
type Counters struct {
	sampledOut     *prometheus.CounterVec
	channelDropped *prometheus.CounterVec
}

// NewCounters registers the pipeline counters with reg.
func NewCounters(reg prometheus.Registerer) *Counters {
	factory := promauto.With(reg)
	return &Counters{
		sampledOut: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_items_sampled_out_total",
				Help: "Telemetry items discarded by adaptive sampling",
			},
			[]string{"kind"},
		),
		channelDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_channel_dropped_total",
				Help: "Telemetry items a channel dropped because its buffer was full",
			},
			[]string{"channel"},
		),
	}
}

// SampledOut counts an item discarded by sampling.
func (c *Counters) SampledOut(kind telemetry.Kind) {
	c.sampledOut.WithLabelValues(string(kind)).Inc()
}

// ChannelDropped counts an item dropped by the named channel.
func (c *Counters) ChannelDropped(channel string) {
	c.channelDropped.WithLabelValues(channel).Inc()
}
