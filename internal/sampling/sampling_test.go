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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"

	"github.com/tombee/beacon/internal/pipeline"
	"github.com/tombee/beacon/internal/testing/mock"
	"github.com/tombee/beacon/pkg/telemetry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type evaluation struct {
	rate, current, next float64
	changed             bool
}

func observe(e *Estimator, n int) {
	for i := 0; i < n; i++ {
		e.Observe()
	}
}

func testSettings() Settings {
	return Settings{
		MaxItemsPerSecond:  5,
		EvaluationInterval: 15 * time.Second,
		DecreaseTimeout:    time.Second,
		IncreaseTimeout:    time.Hour,
	}
}

func TestEstimator_DecreasesWhenRateExceedsTarget(t *testing.T) {
	clock := newFakeClock()
	var got []evaluation
	e := NewEstimator(testSettings(), func(rate, current, next float64, changed bool, _ Settings) {
		got = append(got, evaluation{rate, current, next, changed})
	}, clock.Now)
	assert.Equal(t, 100.0, e.Percentage())

	observe(e, 150)
	clock.Advance(15 * time.Second)
	e.Evaluate()

	require.Len(t, got, 1)
	assert.Equal(t, evaluation{rate: 10, current: 100, next: 50, changed: true}, got[0])
	assert.Equal(t, 50.0, e.Percentage())
}

func TestEstimator_QuantizesToIntegerRates(t *testing.T) {
	clock := newFakeClock()
	e := NewEstimator(testSettings(), nil, clock.Now)

	observe(e, 225)
	clock.Advance(15 * time.Second)
	e.Evaluate()

	assert.InDelta(t, 100.0/3, e.Percentage(), 1e-9)
}

func TestEstimator_DecreaseWaitsForTimeout(t *testing.T) {
	clock := newFakeClock()
	settings := testSettings()
	settings.DecreaseTimeout = 2 * time.Minute
	var got []evaluation
	e := NewEstimator(settings, func(rate, current, next float64, changed bool, _ Settings) {
		got = append(got, evaluation{rate, current, next, changed})
	}, clock.Now)

	observe(e, 150)
	clock.Advance(15 * time.Second)
	e.Evaluate()

	require.Len(t, got, 1)
	assert.False(t, got[0].changed)
	assert.Equal(t, 100.0, got[0].next)
	assert.Equal(t, 100.0, e.Percentage())

	clock.Advance(2 * time.Minute)
	observe(e, 1200)
	e.Evaluate()
	require.Len(t, got, 2)
	assert.True(t, got[1].changed)
	assert.Less(t, e.Percentage(), 100.0)
}

func TestEstimator_IncreaseWaitsForTimeout(t *testing.T) {
	clock := newFakeClock()
	e := NewEstimator(testSettings(), nil, clock.Now)

	observe(e, 150)
	clock.Advance(15 * time.Second)
	e.Evaluate()
	require.Equal(t, 50.0, e.Percentage())

	for i := 0; i < 10; i++ {
		clock.Advance(15 * time.Second)
		e.Evaluate()
	}
	assert.Equal(t, 50.0, e.Percentage(), "increase must wait for the increase timeout")

	clock.Advance(time.Hour)
	e.Evaluate()
	assert.Equal(t, 100.0, e.Percentage())
}

func TestEstimator_MovingAverage(t *testing.T) {
	clock := newFakeClock()
	var rates []float64
	settings := testSettings()
	settings.MaxItemsPerSecond = 1000
	e := NewEstimator(settings, func(rate, _, _ float64, _ bool, _ Settings) {
		rates = append(rates, rate)
	}, clock.Now)

	observe(e, 150)
	clock.Advance(15 * time.Second)
	e.Evaluate()
	observe(e, 300)
	clock.Advance(15 * time.Second)
	e.Evaluate()

	require.Len(t, rates, 2)
	assert.InDelta(t, 10, rates[0], 1e-9)
	assert.InDelta(t, 12.5, rates[1], 1e-9)
}

func TestEstimator_ClampsToMinimum(t *testing.T) {
	clock := newFakeClock()
	settings := testSettings()
	settings.MinPercentage = 10
	e := NewEstimator(settings, nil, clock.Now)

	observe(e, 15000)
	clock.Advance(15 * time.Second)
	e.Evaluate()

	assert.Equal(t, 10.0, e.Percentage())
}

func TestEstimator_StartStop(t *testing.T) {
	settings := testSettings()
	settings.EvaluationInterval = time.Millisecond
	evaluated := make(chan struct{}, 1)
	e := NewEstimator(settings, func(float64, float64, float64, bool, Settings) {
		select {
		case evaluated <- struct{}{}:
		default:
		}
	}, nil)

	e.Start()
	e.Start()
	select {
	case <-evaluated:
	case <-time.After(2 * time.Second):
		t.Fatal("estimator never evaluated")
	}
	e.Stop()
	e.Stop()

	idle := NewEstimator(settings, nil, nil)
	idle.Stop()
	idle.Start()
}

func TestQuantize(t *testing.T) {
	tests := map[float64]float64{
		150: 100,
		100: 100,
		50:  50,
		40:  100.0 / 3,
		10:  10,
		7:   100.0 / 15,
	}
	for in, want := range tests {
		assert.InDelta(t, want, quantize(in), 1e-9, "quantize(%v)", in)
	}
}

func TestSettingsValidate(t *testing.T) {
	require.NoError(t, DefaultSettings().Validate())

	bad := DefaultSettings()
	bad.MaxItemsPerSecond = 0
	assert.Error(t, bad.Validate())

	bad = DefaultSettings()
	bad.MinPercentage = 50
	bad.MaxPercentage = 10
	assert.Error(t, bad.Validate())

	bad = DefaultSettings()
	bad.MovingAverageRatio = 2
	assert.Error(t, bad.Validate())
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[telemetry.Kind]int
}

func (o *countingObserver) SampledOut(kind telemetry.Kind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = map[telemetry.Kind]int{}
	}
	o.counts[kind]++
}

func lowPercentage() Settings {
	return Settings{InitialPercentage: 0.1, MinPercentage: 0.1}
}

func TestProcessor_MetricsAreNeverSampled(t *testing.T) {
	ch := mock.NewChannel()
	p := NewProcessor(telemetry.ProcessorFunc(ch.Send), StageConfig{Settings: lowPercentage()})

	for i := 0; i < 100; i++ {
		m := &telemetry.Metric{Name: "m"}
		m.Operation.ID = fmt.Sprintf("op-%d", i)
		p.Process(m)
	}
	assert.Equal(t, 100, ch.Len())
	assert.False(t, p.Applies(telemetry.KindMetric))
}

func TestProcessor_KeptItemsCarryPercentage(t *testing.T) {
	ch := mock.NewChannel()
	obs := &countingObserver{}
	p := NewProcessor(telemetry.ProcessorFunc(ch.Send), StageConfig{
		Settings: Settings{InitialPercentage: 50},
		Observer: obs,
	})

	total := 10000
	for i := 0; i < total; i++ {
		ev := &telemetry.Event{}
		ev.Operation.ID = fmt.Sprintf("operation-%d", i)
		p.Process(ev)
	}

	kept := ch.Len()
	assert.InDelta(t, total/2, kept, float64(total)*0.05)
	assert.Equal(t, total-kept, obs.counts[telemetry.KindEvent])
	for _, item := range ch.Items() {
		assert.Equal(t, 50.0, item.Meta().SamplingPercentage)
	}
}

func TestProcessor_Scope(t *testing.T) {
	excluding := NewProcessor(nil, StageConfig{Excluded: telemetry.NewKindSet(telemetry.KindEvent)})
	assert.True(t, excluding.Applies(telemetry.KindRequest))
	assert.True(t, excluding.Applies(telemetry.KindDependency))
	assert.False(t, excluding.Applies(telemetry.KindEvent))

	including := NewProcessor(nil, StageConfig{Included: telemetry.NewKindSet(telemetry.KindEvent)})
	assert.True(t, including.Applies(telemetry.KindEvent))
	assert.False(t, including.Applies(telemetry.KindRequest))
	assert.False(t, including.Applies(telemetry.KindMetric))
}

func TestProcessor_OutOfScopeItemsPassUntouched(t *testing.T) {
	ch := mock.NewChannel()
	p := NewProcessor(telemetry.ProcessorFunc(ch.Send), StageConfig{
		Settings: lowPercentage(),
		Included: telemetry.NewKindSet(telemetry.KindEvent),
	})

	req := &telemetry.Request{}
	req.Operation.ID = "op"
	p.Process(req)

	require.Equal(t, 1, ch.Len())
	assert.Zero(t, ch.Items()[0].Meta().SamplingPercentage)
}

func TestProcessor_SameOperationSameDecision(t *testing.T) {
	percentages := []float64{100, 50, 100.0 / 3, 25, 10, 1, 0.1}
	rapid.Check(t, func(t *rapid.T) {
		opID := rapid.String().Draw(t, "operationID")
		if opID == "" {
			opID = "x"
		}
		pct := rapid.SampledFrom(percentages).Draw(t, "percentage")

		ch := mock.NewChannel()
		p := NewProcessor(telemetry.ProcessorFunc(ch.Send), StageConfig{
			Settings: Settings{InitialPercentage: pct, MinPercentage: 0.1},
		})

		req := &telemetry.Request{}
		req.Operation.ID = opID
		dep := &telemetry.Dependency{}
		dep.Operation.ID = opID
		ev := &telemetry.Event{}
		ev.Operation.ID = opID
		p.Process(req)
		p.Process(dep)
		p.Process(ev)

		if n := ch.Len(); n != 0 && n != 3 {
			t.Fatalf("items of operation %q split: %d of 3 kept at %v%%", opID, n, pct)
		}
		if Keep(opID, pct) != (ch.Len() == 3) {
			t.Fatalf("Keep disagrees with processor for %q", opID)
		}
	})
}

func TestKeepBounds(t *testing.T) {
	assert.True(t, Keep("anything", 100))
	assert.False(t, Keep("anything", 0))
	for i := 0; i < 100; i++ {
		s := Score(fmt.Sprintf("id-%d", i))
		assert.GreaterOrEqual(t, s, 0.0)
		assert.Less(t, s, 100.0)
	}
	assert.Equal(t, Score("stable"), Score("stable"))
}

func TestUseAdaptiveSampling_ModuleLifecycle(t *testing.T) {
	ch := mock.NewChannel()
	b := pipeline.NewBuilder(telemetry.ProcessorFunc(ch.Send))
	require.NoError(t, UseAdaptiveSampling(b, StageConfig{Settings: Settings{EvaluationInterval: time.Millisecond}}))
	chain, err := b.Build()
	require.NoError(t, err)

	stages := chain.Stages()
	require.Len(t, stages, 1)
	stage, ok := stages[0].(*Processor)
	require.True(t, ok)

	require.NoError(t, stage.Initialize(pipeline.NewConfiguration(nil)))
	chain.Process(&telemetry.Request{})
	require.NoError(t, stage.Close())
	assert.Equal(t, 1, ch.Len())
}
