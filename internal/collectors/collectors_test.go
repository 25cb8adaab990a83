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
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tombee/beacon/internal/correlation"
	"github.com/tombee/beacon/internal/modules"
	"github.com/tombee/beacon/internal/pipeline"
	"github.com/tombee/beacon/internal/testing/mock"
	"github.com/tombee/beacon/pkg/telemetry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newConfiguration(t *testing.T) (*pipeline.Configuration, *mock.Channel) {
	t.Helper()
	cfg := pipeline.NewConfiguration(nil)
	ch := mock.NewChannel()
	cfg.SetChannel(ch)
	cfg.AddInitializer(correlation.Initializer{})
	cfg.SetInstrumentationKey("ikey")
	return cfg, ch
}

func TestRequestTracking_PassThroughBeforeInitialize(t *testing.T) {
	rt := NewRequestTracking(correlation.Options{})
	called := false
	h := rt.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := correlation.FromContext(r.Context())
		assert.False(t, ok)
		called = true
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}

func TestRequestTracking_TracksCorrelatedRequest(t *testing.T) {
	cfg, ch := newConfiguration(t)
	cfg.SetApplicationIDProvider(pipeline.NewDictionaryApplicationIDProvider(map[string]string{"ikey": "own-app"}))

	rt := NewRequestTracking(correlation.Options{})
	require.NoError(t, rt.Initialize(cfg))

	var seen correlation.Context
	h := rt.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = correlation.FromContext(r.Context())
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders/1", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	req.Header.Set("Request-Context", "appId=caller-app")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "appId=own-app", rec.Header().Get("Request-Context"))
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", seen.OperationID)

	require.Equal(t, 1, ch.Len())
	tracked, ok := ch.Items()[0].(*telemetry.Request)
	require.True(t, ok)
	assert.Equal(t, "GET /orders/1", tracked.Name)
	assert.Equal(t, "404", tracked.ResponseCode)
	assert.False(t, tracked.Success)
	assert.Equal(t, "caller-app", tracked.Source)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", tracked.Operation.ID)
	assert.Equal(t, "|4bf92f3577b34da6a3ce929d0e0e4736.00f067aa0ba902b7.", tracked.Operation.ParentID)
	assert.Equal(t, "ikey", tracked.InstrumentationKey)
}

func TestRequestTracking_SameAppIsNotSource(t *testing.T) {
	cfg, ch := newConfiguration(t)
	cfg.SetApplicationIDProvider(pipeline.NewDictionaryApplicationIDProvider(map[string]string{"ikey": "own-app"}))

	rt := NewRequestTracking(correlation.Options{})
	require.NoError(t, rt.Initialize(cfg))
	h := rt.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Request-Context", "appId=own-app")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, 1, ch.Len())
	tracked := ch.Items()[0].(*telemetry.Request)
	assert.Empty(t, tracked.Source)
	assert.Equal(t, "200", tracked.ResponseCode)
	assert.True(t, tracked.Success)
}

func TestDependencyTracking_InjectsHeadersAndTracks(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Request-Context", "appId=target-app")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfg, ch := newConfiguration(t)
	dt := NewDependencyTracking(srv.Client().Transport)
	require.NoError(t, dt.Initialize(cfg))
	defer dt.Close()

	parent := correlation.Context{
		OperationID: "4bf92f3577b34da6a3ce929d0e0e4736",
		SpanID:      "00f067aa0ba902b7",
		Properties:  map[string]string{"tenant": "acme"},
	}
	ctx := correlation.NewContext(context.Background(), parent)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api", nil)
	require.NoError(t, err)

	resp, err := dt.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Empty(t, req.Header.Get("traceparent"), "caller request must not be modified")
	assert.Contains(t, got.Get("traceparent"), "4bf92f3577b34da6a3ce929d0e0e4736")
	assert.Contains(t, got.Get("Request-Id"), "|4bf92f3577b34da6a3ce929d0e0e4736.")
	assert.Equal(t, "tenant=acme", got.Get("Correlation-Context"))

	require.Equal(t, 1, ch.Len())
	dep, ok := ch.Items()[0].(*telemetry.Dependency)
	require.True(t, ok)
	assert.Equal(t, DependencyTypeHTTP, dep.Type)
	assert.Equal(t, "202", dep.ResultCode)
	assert.True(t, dep.Success)
	assert.Equal(t, parent.OperationID, dep.Operation.ID)
	assert.Equal(t, parent.RequestID(), dep.Operation.ParentID)
	assert.Contains(t, dep.Target, " | target-app")
	assert.Equal(t, "|"+parent.OperationID+"."+dep.ID+".", got.Get("Request-Id"))
	assert.Equal(t, "acme", dep.Properties["tenant"])
}

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func TestDependencyTracking_FailedCall(t *testing.T) {
	cfg, ch := newConfiguration(t)
	dt := NewDependencyTracking(failingTransport{})
	require.NoError(t, dt.Initialize(cfg))

	req := httptest.NewRequest(http.MethodPost, "http://backend.invalid/x", nil)
	_, err := dt.RoundTrip(req)
	require.Error(t, err)

	require.Equal(t, 1, ch.Len())
	dep := ch.Items()[0].(*telemetry.Dependency)
	assert.Equal(t, "Faulted", dep.ResultCode)
	assert.False(t, dep.Success)
	assert.Len(t, dep.Operation.ID, 32)
}

func TestHeartbeat_BeatReportsUnhealthyCount(t *testing.T) {
	cfg, ch := newConfiguration(t)
	hb := NewHeartbeat(HeartbeatConfig{Interval: time.Hour})
	defer hb.Close()

	assert.False(t, hb.Beat(context.Background()), "not initialized")
	require.NoError(t, hb.Initialize(cfg))

	assert.True(t, hb.AddHeartbeatProperty("db", "ok", true))
	assert.False(t, hb.AddHeartbeatProperty("db", "again", true))
	assert.True(t, hb.AddHeartbeatProperty("cache", "down", false))
	assert.True(t, hb.SetHeartbeatProperty("cache", "still down", false))
	assert.False(t, hb.SetHeartbeatProperty("missing", "", true))

	require.True(t, hb.Beat(context.Background()))
	require.Equal(t, 1, ch.Len())
	m := ch.Items()[0].(*telemetry.Metric)
	assert.Equal(t, HeartbeatMetricName, m.Name)
	assert.Equal(t, 1.0, m.Value)
	assert.Equal(t, "still down", m.Properties["cache"])
	assert.Equal(t, "1", m.Properties["unhealthy"])
}

func TestHeartbeat_Disabled(t *testing.T) {
	cfg, ch := newConfiguration(t)
	hb := NewHeartbeat(HeartbeatConfig{Interval: time.Millisecond})
	hb.SetHeartbeatEnabled(false)
	require.NoError(t, hb.Initialize(cfg))
	defer hb.Close()

	assert.False(t, hb.HeartbeatEnabled())
	assert.False(t, hb.Beat(context.Background()))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, ch.Len())
}

func TestHeartbeat_LoopEmits(t *testing.T) {
	cfg, ch := newConfiguration(t)
	hb := NewHeartbeat(HeartbeatConfig{Interval: 5 * time.Millisecond})
	require.NoError(t, hb.Initialize(cfg))

	assert.Eventually(t, func() bool { return ch.Len() > 0 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, hb.Close())
	require.NoError(t, hb.Close())
}

func TestPerformanceCounters_Collect(t *testing.T) {
	cfg, ch := newConfiguration(t)
	pc := NewPerformanceCounters(PerformanceCountersConfig{Interval: time.Hour})
	defer pc.Close()

	assert.Equal(t, 0, pc.Collect(context.Background()))
	require.NoError(t, pc.Initialize(cfg))

	n := pc.Collect(context.Background())
	assert.GreaterOrEqual(t, n, 4)
	assert.Equal(t, n, ch.Len())

	names := map[string]bool{}
	for _, item := range ch.Items() {
		names[item.(*telemetry.Metric).Name] = true
	}
	assert.True(t, names[CounterGoroutines])
	assert.True(t, names[CounterHeapAllocBytes])
}

func TestInstanceMetadata_AttachesToHeartbeat(t *testing.T) {
	reg := modules.NewRegistry(nil)
	hb := NewHeartbeat(HeartbeatConfig{Interval: time.Hour})
	defer hb.Close()
	require.NoError(t, reg.Register(modules.KindHeartbeat, hb))

	im := NewInstanceMetadata(reg.HeartbeatManagers)
	im.hostname = func() (string, error) { return "web-1", nil }
	require.NoError(t, im.Initialize(nil))

	props := hb.Properties()
	assert.Equal(t, "web-1", props[PropertyHostname])
	assert.NotEmpty(t, props[PropertyGoVersion])
	assert.Equal(t, im.Fields(), props)
}

func TestInstanceMetadata_NoHeartbeat(t *testing.T) {
	reg := modules.NewRegistry(nil)
	im := NewInstanceMetadata(reg.HeartbeatManagers)
	require.Error(t, im.Initialize(nil))
}

func TestSet_RegisterAndActivate(t *testing.T) {
	cfg, _ := newConfiguration(t)
	reg := modules.NewRegistry(nil)
	set := NewSet(SetOptions{HeartbeatInterval: time.Hour, PerformanceInterval: time.Hour})
	require.NoError(t, set.Register(reg))

	report, err := reg.Activate(cfg, modules.Flags{modules.KindPerformanceCounters: false})
	require.NoError(t, err)
	assert.Contains(t, report.Disposed, modules.KindPerformanceCounters)
	assert.Contains(t, report.Initialized, modules.KindInstanceMetadata)
	assert.NotEmpty(t, set.Heartbeat.Properties()[PropertyOS])

	require.NoError(t, cfg.Close())
}
