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
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/procfs"

	"github.com/tombee/beacon/internal/log"
	"github.com/tombee/beacon/internal/pipeline"
	"github.com/tombee/beacon/pkg/telemetry"
)

// Performance counter metric names.
const (
	CounterHeapAllocBytes = "runtime.heap_alloc_bytes"
	CounterGoroutines     = "runtime.goroutines"
	CounterGCCount        = "runtime.gc_count"
	CounterGCPauseTotalMs = "runtime.gc_pause_total_ms"
	CounterProcessCPU     = "process.cpu_percent"
	CounterResidentBytes  = "process.resident_memory_bytes"
)

// PerformanceCountersConfig configures the performance counter module.
type PerformanceCountersConfig struct {
	// Interval between collections. Defaults to one minute.
	Interval time.Duration

	Logger *slog.Logger
}

// PerformanceCounters samples Go runtime statistics and, where procfs is
// available, process CPU and resident memory, tracking each as a Metric.
type PerformanceCounters struct {
	logger *slog.Logger
	ticker *ticker
	cfg    atomic.Pointer[pipeline.Configuration]

	mu       sync.Mutex
	lastCPU  float64
	lastTime time.Time
}

// NewPerformanceCounters creates the performance counter module.
func NewPerformanceCounters(cfg PerformanceCountersConfig) *PerformanceCounters {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	p := &PerformanceCounters{
		logger: log.WithModule(log.OrDefault(cfg.Logger), "performance_counters"),
	}
	p.ticker = newTicker(cfg.Interval, func() { p.Collect(context.Background()) })
	return p
}

// Initialize implements pipeline.Module and starts collection.
func (p *PerformanceCounters) Initialize(cfg *pipeline.Configuration) error {
	p.cfg.Store(cfg)
	p.ticker.start()
	return nil
}

// Sample reads the current counter values.
func (p *PerformanceCounters) Sample() map[string]float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	values := map[string]float64{
		CounterHeapAllocBytes: float64(ms.HeapAlloc),
		CounterGoroutines:     float64(runtime.NumGoroutine()),
		CounterGCCount:        float64(ms.NumGC),
		CounterGCPauseTotalMs: float64(ms.PauseTotalNs) / float64(time.Millisecond),
	}

	proc, err := procfs.Self()
	if err != nil {
		return values
	}
	stat, err := proc.Stat()
	if err != nil {
		p.logger.Debug("failed to read process stat", log.Error(err))
		return values
	}
	values[CounterResidentBytes] = float64(stat.ResidentMemory())

	p.mu.Lock()
	defer p.mu.Unlock()
	now, cpu := time.Now(), stat.CPUTime()
	if !p.lastTime.IsZero() {
		if elapsed := now.Sub(p.lastTime).Seconds(); elapsed > 0 {
			values[CounterProcessCPU] = 100 * (cpu - p.lastCPU) / elapsed / float64(runtime.NumCPU())
		}
	}
	p.lastCPU, p.lastTime = cpu, now
	return values
}

// Collect samples the counters and tracks them. It returns the number of
// metrics tracked.
func (p *PerformanceCounters) Collect(ctx context.Context) int {
	cfg := p.cfg.Load()
	if cfg == nil {
		return 0
	}
	values := p.Sample()
	for name, v := range values {
		cfg.Track(ctx, &telemetry.Metric{Name: name, Value: v})
	}
	return len(values)
}

// Close stops collection.
func (p *PerformanceCounters) Close() error {
	p.ticker.halt()
	return nil
}

var _ pipeline.Module = (*PerformanceCounters)(nil)
