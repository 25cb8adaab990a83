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

package sampling

import (
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/tombee/beacon/internal/log"
	"github.com/tombee/beacon/internal/pipeline"
	"github.com/tombee/beacon/pkg/telemetry"
)

// Observer is notified about items a sampling stage discards.
type Observer interface {
	SampledOut(kind telemetry.Kind)
}

// StageConfig configures one adaptive sampling stage.
type StageConfig struct {
	// Settings tune the estimator.
	Settings Settings

	// Callback receives every evaluation result. Optional.
	Callback EvaluationCallback

	// Included limits the stage to these kinds when non-empty.
	Included telemetry.KindSet

	// Excluded kinds pass through untouched. Ignored when Included is set.
	Excluded telemetry.KindSet

	// Observer counts discarded items. Optional.
	Observer Observer

	// Now overrides the clock. Optional.
	Now func() time.Time

	// Logger receives percentage changes. Optional.
	Logger *slog.Logger
}

// Processor is an adaptive sampling chain stage. Metric items always pass.
// Items of one operation share a keep/drop decision for a given percentage.
type Processor struct {
	next      telemetry.Processor
	estimator *Estimator
	included  telemetry.KindSet
	excluded  telemetry.KindSet
	observer  Observer
	logger    *slog.Logger
}

// NewProcessor creates a sampling stage forwarding kept items to next.
func NewProcessor(next telemetry.Processor, cfg StageConfig) *Processor {
	logger := log.WithComponent(cfg.Logger, "sampling")
	callback := cfg.Callback
	p := &Processor{
		next:     next,
		included: cfg.Included,
		excluded: cfg.Excluded,
		observer: cfg.Observer,
		logger:   logger,
	}
	p.estimator = NewEstimator(cfg.Settings, func(rate, current, nextPct float64, changed bool, s Settings) {
		if changed {
			logger.Info("sampling percentage changed",
				"rate_per_second", rate, "from", current, "to", nextPct, "kinds", p.scope())
		}
		if callback != nil {
			callback(rate, current, nextPct, changed, s)
		}
	}, cfg.Now)
	return p
}

// UseAdaptiveSampling appends an adaptive sampling stage to b.
func UseAdaptiveSampling(b *pipeline.Builder, cfg StageConfig) error {
	return b.Use(func(next telemetry.Processor) telemetry.Processor {
		return NewProcessor(next, cfg)
	})
}

// Estimator returns the stage's rate estimator.
func (p *Processor) Estimator() *Estimator {
	return p.estimator
}

// Applies reports whether the stage samples items of kind.
func (p *Processor) Applies(kind telemetry.Kind) bool {
	if kind == telemetry.KindMetric {
		return false
	}
	if p.included.Len() > 0 {
		return p.included.Has(kind)
	}
	return !p.excluded.Has(kind)
}

// Process implements telemetry.Processor.
func (p *Processor) Process(item telemetry.Item) {
	if !p.Applies(item.Kind()) {
		p.next.Process(item)
		return
	}

	p.estimator.Observe()
	percentage := p.estimator.Percentage()
	meta := item.Meta()
	if !Keep(meta.Operation.ID, percentage) {
		if p.observer != nil {
			p.observer.SampledOut(item.Kind())
		}
		return
	}
	meta.SamplingPercentage = percentage
	p.next.Process(item)
}

// Initialize starts the evaluation loop. It implements pipeline.Module.
func (p *Processor) Initialize(*pipeline.Configuration) error {
	p.estimator.Start()
	return nil
}

// Close stops the evaluation loop.
func (p *Processor) Close() error {
	p.estimator.Stop()
	return nil
}

func (p *Processor) scope() string {
	if p.included.Len() > 0 {
		return "only " + p.included.String()
	}
	if p.excluded.Len() > 0 {
		return "all but " + p.excluded.String()
	}
	return "all"
}

// Score maps an operation id onto [0, 100). An empty id scores randomly.
func Score(operationID string) float64 {
	if operationID == "" {
		return rand.Float64() * 100
	}
	h := xxhash.Sum64String(operationID)
	return float64(h>>11) / float64(uint64(1)<<53) * 100
}

// Keep reports whether an item with operationID survives percentage.
func Keep(operationID string, percentage float64) bool {
	if percentage >= 100 {
		return true
	}
	if percentage <= 0 || math.IsNaN(percentage) {
		return false
	}
	return Score(operationID) < percentage
}

var (
	_ telemetry.Processor = (*Processor)(nil)
	_ pipeline.Module     = (*Processor)(nil)
)
