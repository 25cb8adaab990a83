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

package quickpulse

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tombee/beacon/internal/pipeline"
	"github.com/tombee/beacon/internal/testing/mock"
	"github.com/tombee/beacon/pkg/telemetry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestProcessor_CountsAndForwards(t *testing.T) {
	m := New(Config{Capacity: 3})
	ch := mock.NewChannel()
	b := pipeline.NewBuilder(telemetry.ProcessorFunc(ch.Send))
	require.NoError(t, m.Use(b))
	chain, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, 1, m.Processors())

	chain.Process(&telemetry.Request{Success: true, Duration: 20 * time.Millisecond})
	chain.Process(&telemetry.Request{Success: false, Duration: 10 * time.Millisecond})
	chain.Process(&telemetry.Dependency{Success: false})
	chain.Process(&telemetry.Exception{})
	chain.Process(&telemetry.Event{})
	chain.Process(&telemetry.Metric{})

	assert.Equal(t, 6, ch.Len())

	s := m.Collect()
	assert.Equal(t, int64(2), s.Requests)
	assert.Equal(t, int64(1), s.FailedRequests)
	assert.InDelta(t, 30, s.RequestDurationMs, 1e-9)
	assert.Equal(t, int64(1), s.Dependencies)
	assert.Equal(t, int64(1), s.FailedDependencies)
	assert.Equal(t, int64(1), s.Exceptions)
	assert.Equal(t, int64(1), s.Events)

	empty := m.Collect()
	assert.Zero(t, empty.Requests)
}

func TestModule_RingKeepsNewestSamples(t *testing.T) {
	tick := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := New(Config{Capacity: 3, Now: func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}})

	assert.Empty(t, m.Samples())
	for i := 0; i < 5; i++ {
		m.Collect()
	}

	samples := m.Samples()
	require.Len(t, samples, 3)
	assert.Equal(t, 3, samples[0].Time.Second())
	assert.Equal(t, 5, samples[2].Time.Second())
}

func TestModule_Lifecycle(t *testing.T) {
	m := New(Config{Interval: time.Millisecond})
	require.NoError(t, m.Initialize(pipeline.NewConfiguration(nil)))
	require.NoError(t, m.Initialize(pipeline.NewConfiguration(nil)))

	assert.Eventually(t, func() bool { return len(m.Samples()) > 0 }, 2*time.Second, time.Millisecond)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	unused := New(Config{})
	require.NoError(t, unused.Close())
}

func TestModule_Handler(t *testing.T) {
	m := New(Config{})
	m.Collect()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/quickpulse", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Samples []Sample `json:"samples"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Samples, 1)
}
