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

package collectors

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tombee/beacon/internal/log"
	"github.com/tombee/beacon/internal/modules"
	"github.com/tombee/beacon/internal/pipeline"
	"github.com/tombee/beacon/pkg/telemetry"
)

// HeartbeatMetricName is the name of the heartbeat metric item.
const HeartbeatMetricName = "HeartbeatState"

// HeartbeatConfig configures the heartbeat module.
type HeartbeatConfig struct {
	// Interval between heartbeats. Defaults to 15 minutes.
	Interval time.Duration

	Logger *slog.Logger
}

type heartbeatProperty struct {
	value   string
	healthy bool
}

// Heartbeat periodically tracks a HeartbeatState metric whose value is the
// number of unhealthy properties and whose properties describe the host.
type Heartbeat struct {
	logger  *slog.Logger
	ticker  *ticker
	enabled atomic.Bool
	cfg     atomic.Pointer[pipeline.Configuration]

	mu    sync.Mutex
	props map[string]heartbeatProperty
}

// NewHeartbeat creates an enabled heartbeat module.
func NewHeartbeat(cfg HeartbeatConfig) *Heartbeat {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	h := &Heartbeat{
		logger: log.WithModule(log.OrDefault(cfg.Logger), "app_services_heartbeat"),
		props:  make(map[string]heartbeatProperty),
	}
	h.enabled.Store(true)
	h.ticker = newTicker(cfg.Interval, func() { h.Beat(context.Background()) })
	return h
}

// SetHeartbeatEnabled implements modules.HeartbeatPropertyManager.
func (h *Heartbeat) SetHeartbeatEnabled(enabled bool) {
	h.enabled.Store(enabled)
	if !enabled {
		h.ticker.halt()
	} else if h.cfg.Load() != nil {
		h.ticker.start()
	}
}

// HeartbeatEnabled implements modules.HeartbeatPropertyManager.
func (h *Heartbeat) HeartbeatEnabled() bool {
	return h.enabled.Load()
}

// AddHeartbeatProperty implements modules.HeartbeatPropertyManager.
func (h *Heartbeat) AddHeartbeatProperty(name, value string, healthy bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.props[name]; exists {
		return false
	}
	h.props[name] = heartbeatProperty{value: value, healthy: healthy}
	return true
}

// SetHeartbeatProperty updates an existing property. It returns false when
// the property does not exist.
func (h *Heartbeat) SetHeartbeatProperty(name, value string, healthy bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.props[name]; !exists {
		return false
	}
	h.props[name] = heartbeatProperty{value: value, healthy: healthy}
	return true
}

// Properties returns a snapshot of the heartbeat properties.
func (h *Heartbeat) Properties() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]string, len(h.props))
	for k, p := range h.props {
		out[k] = p.value
	}
	return out
}

// Initialize implements pipeline.Module. The heartbeat loop only starts
// when heartbeats are enabled.
func (h *Heartbeat) Initialize(cfg *pipeline.Configuration) error {
	h.cfg.Store(cfg)
	if h.enabled.Load() {
		h.ticker.start()
	}
	return nil
}

// Beat tracks one heartbeat now. It reports false when heartbeats are
// disabled or the module is not initialized.
func (h *Heartbeat) Beat(ctx context.Context) bool {
	cfg := h.cfg.Load()
	if cfg == nil || !h.enabled.Load() {
		return false
	}

	h.mu.Lock()
	unhealthy := 0
	props := make(map[string]string, len(h.props)+1)
	for k, p := range h.props {
		props[k] = p.value
		if !p.healthy {
			unhealthy++
		}
	}
	h.mu.Unlock()
	props["unhealthy"] = strconv.Itoa(unhealthy)

	m := &telemetry.Metric{
		Envelope: telemetry.Envelope{Properties: props},
		Name:     HeartbeatMetricName,
		Value:    float64(unhealthy),
	}
	cfg.Track(ctx, m)
	h.logger.Debug("heartbeat sent", "unhealthy", unhealthy)
	return true
}

// Close stops the heartbeat loop.
func (h *Heartbeat) Close() error {
	h.ticker.halt()
	return nil
}

var (
	_ pipeline.Module                  = (*Heartbeat)(nil)
	_ modules.HeartbeatPropertyManager = (*Heartbeat)(nil)
)
