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
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// epsilon is the smallest percentage difference treated as a change.
const epsilon = 1e-6

// EvaluationCallback is invoked after every evaluation with the smoothed
// rate, the percentage before the evaluation, the percentage after it and
// whether it changed.
type EvaluationCallback func(ratePerSecond, current, next float64, changed bool, settings Settings)

// Estimator tracks the incoming item rate and derives a sampling percentage.
// Observe and Percentage are lock-free; Evaluate runs on a timer.
type Estimator struct {
	settings Settings
	callback EvaluationCallback
	now      func() time.Time

	count      atomic.Int64
	percentage atomic.Uint64

	mu         sync.Mutex
	average    float64
	hasAverage bool
	lastEval   time.Time
	lastChange time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewEstimator creates an estimator. Zero settings fields take defaults. A
// nil now uses time.Now.
func NewEstimator(settings Settings, callback EvaluationCallback, now func() time.Time) *Estimator {
	if now == nil {
		now = time.Now
	}
	settings = settings.withDefaults()
	start := now()
	e := &Estimator{
		settings:   settings,
		callback:   callback,
		now:        now,
		lastEval:   start,
		lastChange: start,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	initial := clampPercentage(quantize(settings.InitialPercentage), settings)
	e.percentage.Store(math.Float64bits(initial))
	return e
}

// Settings returns the effective settings.
func (e *Estimator) Settings() Settings {
	return e.settings
}

// Observe counts one item toward the current evaluation window.
func (e *Estimator) Observe() {
	e.count.Add(1)
}

// Percentage returns the current sampling percentage.
func (e *Estimator) Percentage() float64 {
	return math.Float64frombits(e.percentage.Load())
}

// Evaluate closes the current window, updates the moving average and
// applies a new percentage when the change timeouts allow it.
func (e *Estimator) Evaluate() {
	e.mu.Lock()
	now := e.now()
	elapsed := now.Sub(e.lastEval).Seconds()
	if elapsed <= 0 {
		e.mu.Unlock()
		return
	}
	rate := float64(e.count.Swap(0)) / elapsed
	e.lastEval = now
	if e.hasAverage {
		ratio := e.settings.MovingAverageRatio
		e.average = ratio*rate + (1-ratio)*e.average
	} else {
		e.average = rate
		e.hasAverage = true
	}
	average := e.average

	current := e.Percentage()
	suggested := e.suggest(average)
	changed := math.Abs(suggested-current) > epsilon
	if changed {
		sinceChange := now.Sub(e.lastChange)
		if suggested < current && sinceChange < e.settings.DecreaseTimeout {
			changed = false
		}
		if suggested > current && sinceChange < e.settings.IncreaseTimeout {
			changed = false
		}
	}
	next := current
	if changed {
		next = suggested
		e.percentage.Store(math.Float64bits(next))
		e.lastChange = now
	}
	e.mu.Unlock()

	if e.callback != nil {
		e.callback(average, current, next, changed, e.settings)
	}
}

// suggest returns the quantized percentage that would keep rate at the target.
func (e *Estimator) suggest(rate float64) float64 {
	if rate <= 0 {
		return clampPercentage(quantize(e.settings.MaxPercentage), e.settings)
	}
	p := 100 * e.settings.MaxItemsPerSecond / rate
	return clampPercentage(quantize(math.Min(p, 100)), e.settings)
}

// quantize rounds p down to the nearest 100/N for integer N >= 1.
func quantize(p float64) float64 {
	if p >= 100 {
		return 100
	}
	if p <= 0 {
		return 0
	}
	n := math.Ceil(100/p - epsilon)
	return 100 / n
}

// clampPercentage keeps a quantized percentage within the settings bounds.
func clampPercentage(p float64, s Settings) float64 {
	if p < s.MinPercentage {
		n := math.Floor(100/s.MinPercentage + epsilon)
		return 100 / math.Max(n, 1)
	}
	if p > s.MaxPercentage {
		n := math.Ceil(100/s.MaxPercentage - epsilon)
		return 100 / math.Max(n, 1)
	}
	return p
}

// Start runs Evaluate every EvaluationInterval until Stop. Calling Start
// more than once has no effect.
func (e *Estimator) Start() {
	e.startOnce.Do(func() {
		go e.run()
	})
}

func (e *Estimator) run() {
	defer close(e.done)
	ticker := time.NewTicker(e.settings.EvaluationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.Evaluate()
		case <-e.stop:
			return
		}
	}
}

// Stop ends the evaluation loop and waits for it to exit. It is safe to
// call when Start was never called.
func (e *Estimator) Stop() {
	e.stopOnce.Do(func() {
		close(e.stop)
		started := true
		e.startOnce.Do(func() { started = false })
		if started {
			<-e.done
		}
	})
}
