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

// Package quickpulse implements the live metrics stream: a chain stage that
// counts items as they pass and a module that rolls those counts into a
// ring of one-second samples for near-real-time dashboards.
package quickpulse

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tombee/beacon/internal/log"
	"github.com/tombee/beacon/internal/pipeline"
	"github.com/tombee/beacon/pkg/telemetry"
)

// Sample is one collection interval of live metrics.
type Sample struct {
	Time                 time.Time `json:"time"`
	Requests             int64     `json:"requests"`
	FailedRequests       int64     `json:"failed_requests"`
	RequestDurationMs    float64   `json:"request_duration_ms"`
	Dependencies         int64     `json:"dependencies"`
	FailedDependencies   int64     `json:"failed_dependencies"`
	DependencyDurationMs float64   `json:"dependency_duration_ms"`
	Exceptions           int64     `json:"exceptions"`
	Events               int64     `json:"events"`
}

func (s *Sample) add(o Sample) {
	s.Requests += o.Requests
	s.FailedRequests += o.FailedRequests
	s.RequestDurationMs += o.RequestDurationMs
	s.Dependencies += o.Dependencies
	s.FailedDependencies += o.FailedDependencies
	s.DependencyDurationMs += o.DependencyDurationMs
	s.Exceptions += o.Exceptions
	s.Events += o.Events
}

// Config configures the live metrics module.
type Config struct {
	// Interval between collections.
	// Default: 1s
	Interval time.Duration

	// Capacity is the number of samples retained.
	// Default: 60
	Capacity int

	// Now overrides the clock. Optional.
	Now func() time.Time

	// Logger for lifecycle messages. Optional.
	Logger *slog.Logger
}

// Module collects samples from registered processors.
type Module struct {
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu         sync.Mutex
	processors []*Processor
	ring       []Sample
	next       int
	full       bool

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// New creates a live metrics module.
func New(cfg Config) *Module {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 60
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Module{
		interval: cfg.Interval,
		now:      cfg.Now,
		logger:   log.WithComponent(cfg.Logger, "quickpulse"),
		ring:     make([]Sample, cfg.Capacity),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// RegisterProcessor attaches a chain stage whose counts the module collects.
func (m *Module) RegisterProcessor(p *Processor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processors = append(m.processors, p)
}

// Processors returns how many stages are registered.
func (m *Module) Processors() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.processors)
}

// Use appends a live metrics stage to b and registers it with m.
func (m *Module) Use(b *pipeline.Builder) error {
	return b.Use(func(next telemetry.Processor) telemetry.Processor {
		p := NewProcessor(next)
		m.RegisterProcessor(p)
		return p
	})
}

// Initialize starts the collection loop. It implements pipeline.Module.
func (m *Module) Initialize(*pipeline.Configuration) error {
	m.startOnce.Do(func() {
		go m.run()
		m.logger.Debug("live metrics collection started", "interval", m.interval)
	})
	return nil
}

func (m *Module) run() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Collect()
		case <-m.stop:
			return
		}
	}
}

// Close stops the collection loop. Closing a module that never started is a no-op.
func (m *Module) Close() error {
	m.stopOnce.Do(func() {
		close(m.stop)
		started := true
		m.startOnce.Do(func() { started = false })
		if started {
			<-m.done
		}
	})
	return nil
}

// Collect drains every registered processor into one new sample.
func (m *Module) Collect() Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Sample{Time: m.now()}
	for _, p := range m.processors {
		s.add(p.drain())
	}
	m.ring[m.next] = s
	m.next = (m.next + 1) % len(m.ring)
	if m.next == 0 {
		m.full = true
	}
	return s
}

// Samples returns the retained samples, oldest first.
func (m *Module) Samples() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.full {
		out := make([]Sample, m.next)
		copy(out, m.ring[:m.next])
		return out
	}
	out := make([]Sample, 0, len(m.ring))
	out = append(out, m.ring[m.next:]...)
	out = append(out, m.ring[:m.next]...)
	return out
}

// Handler serves the retained samples as JSON.
func (m *Module) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{"samples": m.Samples()}); err != nil {
			m.logger.Warn("failed to encode live metrics", log.Error(err))
		}
	})
}

var _ pipeline.Module = (*Module)(nil)
