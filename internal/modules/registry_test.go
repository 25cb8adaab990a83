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

package modules_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/beacon/internal/modules"
	"github.com/tombee/beacon/internal/pipeline"
	beaconerrors "github.com/tombee/beacon/pkg/errors"
)

type fakeModule struct {
	initCalls  int
	initErr    error
	panicOnRun bool
}

func (m *fakeModule) Initialize(*pipeline.Configuration) error {
	m.initCalls++
	if m.panicOnRun {
		panic("exploded")
	}
	return m.initErr
}

type disposableModule struct {
	fakeModule
	closeCalls int
	closeErr   error
}

func (m *disposableModule) Close() error {
	m.closeCalls++
	return m.closeErr
}

type heartbeatModule struct {
	fakeModule
	enabled bool
}

func (m *heartbeatModule) SetHeartbeatEnabled(enabled bool) { m.enabled = enabled }
func (m *heartbeatModule) HeartbeatEnabled() bool { return m.enabled }
func (m *heartbeatModule) AddHeartbeatProperty(string, string, bool) bool { return true }

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := modules.NewRegistry(nil)
	m := &fakeModule{}
	require.NoError(t, r.Register(modules.KindQuickPulse, m))

	got, ok := r.Lookup(modules.KindQuickPulse)
	require.True(t, ok)
	assert.Same(t, m, got)

	_, ok = r.Lookup(modules.KindHeartbeat)
	assert.False(t, ok)

	err := r.Register(modules.KindQuickPulse, &fakeModule{})
	assert.ErrorIs(t, err, beaconerrors.ErrDuplicateModule)
	assert.ErrorContains(t, err, "register quickpulse: ")
	assert.Error(t, r.Register("custom", nil))
}

func TestRegistry_DisabledModulesAreNeverInitialized(t *testing.T) {
	r := modules.NewRegistry(nil)
	deps := &disposableModule{}
	perf := &fakeModule{}
	reqs := &disposableModule{}
	custom := &fakeModule{}
	require.NoError(t, r.Register(modules.KindDependencyTracking, deps))
	require.NoError(t, r.Register(modules.KindPerformanceCounters, perf))
	require.NoError(t, r.Register(modules.KindRequestTracking, reqs))
	require.NoError(t, r.Register("custom", custom))

	cfg := pipeline.NewConfiguration(nil)
	report, err := r.Activate(cfg, modules.Flags{
		modules.KindDependencyTracking:  false,
		modules.KindPerformanceCounters: false,
		modules.KindRequestTracking:     true,
		"custom":                        false,
	})
	require.NoError(t, err)

	assert.Zero(t, deps.initCalls)
	assert.Equal(t, 1, deps.closeCalls)
	assert.Zero(t, perf.initCalls)
	assert.Equal(t, 1, reqs.initCalls)
	assert.Zero(t, reqs.closeCalls)
	assert.Equal(t, 1, custom.initCalls, "unknown kinds ignore flags")

	assert.Equal(t, []modules.Kind{modules.KindRequestTracking, "custom"}, report.Initialized)
	assert.Equal(t, []modules.Kind{modules.KindDependencyTracking}, report.Disposed)
	assert.Equal(t, []modules.Kind{modules.KindPerformanceCounters}, report.Skipped)

	require.NoError(t, cfg.Close())
	assert.Equal(t, 1, reqs.closeCalls, "initialized modules are closed with the configuration")
	assert.Equal(t, 1, deps.closeCalls, "disposed modules are not closed again")
}

func TestRegistry_ActivateOnlyOnce(t *testing.T) {
	r := modules.NewRegistry(nil)
	m := &disposableModule{}
	require.NoError(t, r.Register(modules.KindHeartbeat, m))

	_, err := r.Activate(pipeline.NewConfiguration(nil), modules.Flags{modules.KindHeartbeat: false})
	require.NoError(t, err)
	_, err = r.Activate(pipeline.NewConfiguration(nil), modules.Flags{modules.KindHeartbeat: false})
	assert.ErrorIs(t, err, beaconerrors.ErrAlreadyActivated)
	assert.Equal(t, 1, m.closeCalls)

	assert.ErrorIs(t, r.Register("late", &fakeModule{}), beaconerrors.ErrAlreadyActivated)
}

func TestRegistry_InitFailuresDoNotSkipLaterModules(t *testing.T) {
	r := modules.NewRegistry(nil)
	failing := &fakeModule{initErr: errors.New("no port")}
	panicking := &fakeModule{panicOnRun: true}
	later := &fakeModule{}
	disabled := &disposableModule{}
	require.NoError(t, r.Register(modules.KindQuickPulse, failing))
	require.NoError(t, r.Register(modules.KindHeartbeat, panicking))
	require.NoError(t, r.Register(modules.KindRequestTracking, later))
	require.NoError(t, r.Register(modules.KindInstanceMetadata, disabled))

	report, err := r.Activate(pipeline.NewConfiguration(nil), modules.Flags{modules.KindInstanceMetadata: false})
	require.Error(t, err)

	var initErr *beaconerrors.ModuleInitError
	require.True(t, errors.As(err, &initErr))
	assert.Equal(t, string(modules.KindQuickPulse), initErr.Module)
	assert.Contains(t, err.Error(), "panic: exploded")

	assert.Equal(t, 1, later.initCalls)
	assert.Equal(t, 1, disabled.closeCalls)
	assert.Equal(t, []modules.Kind{modules.KindRequestTracking}, report.Initialized)
}

func TestRegistry_DisposeFailureIsReported(t *testing.T) {
	r := modules.NewRegistry(nil)
	m := &disposableModule{closeErr: errors.New("stuck")}
	require.NoError(t, r.Register(modules.KindPerformanceCounters, m))

	report, err := r.Activate(pipeline.NewConfiguration(nil), modules.Flags{modules.KindPerformanceCounters: false})
	require.NoError(t, err)
	assert.EqualError(t, report.DisposeFailures[modules.KindPerformanceCounters], "stuck")
}

func TestRegistry_Apply(t *testing.T) {
	r := modules.NewRegistry(nil)
	m := &fakeModule{}
	require.NoError(t, r.Register(modules.KindDependencyTracking, m))

	var seen pipeline.Module
	require.NoError(t, r.Apply(modules.Configurator{
		Kind:      modules.KindDependencyTracking,
		Configure: func(target pipeline.Module) error { seen = target; return nil },
	}))
	assert.Same(t, m, seen)

	err := r.Apply(modules.Configurator{Kind: modules.KindQuickPulse, Configure: func(pipeline.Module) error { return nil }})
	assert.ErrorIs(t, err, beaconerrors.ErrModuleNotFound)
	assert.ErrorContains(t, err, "configure quickpulse: ")
}

func TestRegistry_DisableHeartbeat(t *testing.T) {
	r := modules.NewRegistry(nil)
	hb := &heartbeatModule{enabled: true}
	require.NoError(t, r.Register(modules.KindHeartbeat, hb))
	require.NoError(t, r.Register(modules.KindQuickPulse, &fakeModule{}))

	assert.Equal(t, 1, r.DisableHeartbeat())
	assert.False(t, hb.HeartbeatEnabled())
}

func TestFlags_Enabled(t *testing.T) {
	var none modules.Flags
	for _, k := range modules.WellKnown {
		assert.True(t, none.Enabled(k), "%s defaults to enabled", k)
	}
	assert.False(t, modules.Flags{modules.KindQuickPulse: false}.Enabled(modules.KindQuickPulse))
	assert.True(t, modules.Flags{"custom": false}.Enabled("custom"))
}
