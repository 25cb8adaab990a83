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

package setup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel/metric"

	"github.com/tombee/beacon/internal/channel"
	"github.com/tombee/beacon/internal/config"
	"github.com/tombee/beacon/internal/correlation"
	"github.com/tombee/beacon/internal/log"
	"github.com/tombee/beacon/internal/metrics"
	"github.com/tombee/beacon/internal/modules"
	"github.com/tombee/beacon/internal/pipeline"
	"github.com/tombee/beacon/internal/quickpulse"
	"github.com/tombee/beacon/internal/sampling"
	beaconerrors "github.com/tombee/beacon/pkg/errors"
	"github.com/tombee/beacon/pkg/telemetry"
)

// State is the lifecycle state of an Orchestrator.
type State int32

// Orchestrator states. Configured and FailedSoft are terminal.
const (
	StateUnconfigured State = iota
	StateConfiguring
	StateConfigured
	StateFailedSoft
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfiguring:
		return "configuring"
	case StateConfigured:
		return "configured"
	case StateFailedSoft:
		return "failed_soft"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Configuration steps, in execution order.
const (
	StepConnection     = "instrumentation_key"
	StepConfigurators  = "configurators"
	StepProcessors     = "processor_factories"
	StepChannel        = "channel"
	StepStages         = "builtin_stages"
	StepBuild          = "build_chains"
	StepOverrides      = "channel_overrides"
	StepInitializers   = "initializers"
	StepModules        = "modules"
	StepStageModules   = "stage_modules"
	StepApplicationIDs = "application_id_provider"
)

// Input is everything the configuration pass consumes. Only Options is
// required.
type Input struct {
	Options *config.Options

	// Registry holds the modules to configure and activate. Nil means an
	// empty registry.
	Registry *modules.Registry

	// Configurators run against their module before anything else is wired.
	Configurators []modules.Configurator

	// ProcessorFactories are appended to the default sink chain ahead of
	// the built-in stages.
	ProcessorFactories []telemetry.ProcessorFactory

	// Channel is installed on the default sink. Nil keeps a channel that is
	// already installed or falls back to an in-memory channel.
	Channel telemetry.Channel

	// Initializers run after the correlation initializer.
	Initializers []telemetry.Initializer

	ApplicationIDProvider pipeline.ApplicationIDProvider

	// Metrics enables the metric extractor, the sampling gauge and the
	// pipeline counters. Optional.
	Metrics *metrics.Provider
}

// Result reports the outcome of the configuration pass.
type Result struct {
	State       State
	Diagnostics []Diagnostic

	// Modules is the activation report. Empty when the pass stopped first.
	Modules modules.Report

	// Err is the ConfigurationError that stopped the pass, or
	// ErrAlreadyConfigured for a repeated pass.
	Err error
}

// OK reports whether the configuration completed.
func (r Result) OK() bool {
	return r.State == StateConfigured && r.Err == nil
}

// Has reports whether a diagnostic with the given event was raised.
func (r Result) Has(event Event) bool {
	for _, d := range r.Diagnostics {
		if d.Event == event {
			return true
		}
	}
	return false
}

// Orchestrator configures one pipeline.Configuration exactly once.
type Orchestrator struct {
	cfg    *pipeline.Configuration
	logger *slog.Logger
	state  atomic.Int32

	in          Input
	diagnostics []Diagnostic
	report      modules.Report
}

// New creates an orchestrator for cfg.
func New(cfg *pipeline.Configuration, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		logger: log.WithComponent(logger, "setup"),
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Configure runs the configuration pass. It returns ErrAlreadyConfigured
// in the Result when called a second time.
func (o *Orchestrator) Configure(in Input) Result {
	if !o.state.CompareAndSwap(int32(StateUnconfigured), int32(StateConfiguring)) {
		return Result{State: o.State(), Err: beaconerrors.ErrAlreadyConfigured}
	}
	if in.Options == nil {
		in.Options = config.Defaults()
	}
	if in.Registry == nil {
		in.Registry = modules.NewRegistry(o.logger)
	}
	o.in = in

	steps := []struct {
		name string
		run  func() error
	}{
		{StepConnection, o.applyConnection},
		{StepConfigurators, o.applyConfigurators},
		{StepProcessors, o.appendProcessors},
		{StepChannel, o.installChannel},
		{StepStages, o.wireStages},
		{StepBuild, o.buildChains},
		{StepOverrides, o.applyOverrides},
		{StepInitializers, o.addInitializers},
		{StepModules, o.activateModules},
		{StepStageModules, o.initializeStages},
		{StepApplicationIDs, o.installApplicationIDs},
	}

	for _, step := range steps {
		if err := o.run(step.name, step.run); err != nil {
			cfgErr := &beaconerrors.ConfigurationError{Step: step.name, Err: err}
			o.diagnose(Diagnostic{
				Event:   EventSetupFailure,
				Message: "telemetry configuration failed; continuing with partial configuration",
				Step:    step.name,
				Err:     err,
			})
			o.state.Store(int32(StateFailedSoft))
			return o.result(cfgErr)
		}
	}

	o.diagnose(Diagnostic{Event: EventConfigurationSucceeded, Message: "telemetry configured"})
	o.state.Store(int32(StateConfigured))
	return o.result(nil)
}

func (o *Orchestrator) result(err error) Result {
	return Result{
		State:       o.State(),
		Diagnostics: append([]Diagnostic(nil), o.diagnostics...),
		Modules:     o.report,
		Err:         err,
	}
}

// run executes one step, converting a panic into an error.
func (o *Orchestrator) run(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	log.Trace(o.logger, "configuration step", log.String(log.StageKey, name))
	return fn()
}

func (o *Orchestrator) diagnose(d Diagnostic) {
	o.diagnostics = append(o.diagnostics, d)
	o.logger.Log(context.Background(), d.level(), d.Message, d.attrs()...)
}

// (1)
func (o *Orchestrator) applyConnection() error {
	opts := o.in.Options
	if opts.InstrumentationKey != nil {
		o.cfg.SetInstrumentationKey(*opts.InstrumentationKey)
	}
	if opts.ConnectionString != "" {
		cs, err := config.ParseConnectionString(opts.ConnectionString)
		if err != nil {
			return err
		}
		o.cfg.SetConnectionString(opts.ConnectionString, cs.InstrumentationKey, cs.EndpointAddress())
	}
	return nil
}

// (2) Misses are diagnosed and skipped.
func (o *Orchestrator) applyConfigurators() error {
	for _, c := range o.in.Configurators {
		err := o.in.Registry.Apply(c)
		switch {
		case err == nil:
		case beaconerrors.Is(err, beaconerrors.ErrModuleNotFound):
			o.diagnose(Diagnostic{
				Event:   EventUnableToFindModule,
				Message: "no module registered for configurator",
				Step:    StepConfigurators,
				Module:  c.Kind,
			})
		default:
			return err
		}
	}
	return nil
}

// (3)
func (o *Orchestrator) appendProcessors() error {
	b := o.cfg.DefaultSink().Builder()
	for _, f := range o.in.ProcessorFactories {
		if err := b.Use(f); err != nil {
			return err
		}
	}
	return nil
}

// (4)
func (o *Orchestrator) installChannel() error {
	ch := o.in.Channel
	if ch == nil {
		ch = o.cfg.Channel()
	}
	if ch == nil {
		opts := o.in.Options.Channel
		mc := channel.MemoryConfig{
			Capacity:      opts.Capacity,
			MaxBatch:      opts.MaxBatch,
			FlushInterval: opts.FlushInterval,
			Logger:        o.logger,
		}
		if o.in.Metrics != nil {
			mc.Counter = o.in.Metrics.Counters()
		}
		ch = channel.NewInMemoryChannel(mc)
		o.logger.Debug("no channel supplied, using in-memory channel")
	}
	o.cfg.SetChannel(ch)

	if m, ok := ch.(pipeline.Module); ok {
		if err := modules.Initialize(m, o.cfg); err != nil {
			return beaconerrors.Wrap(err, "channel")
		}
	}
	return nil
}

// (5) Stage order on the default sink: external factories, metric
// extractor, live metrics, general sampling, event sampling.
func (o *Orchestrator) wireStages() error {
	opts := o.in.Options
	b := o.cfg.DefaultSink().Builder()

	if opts.AddAutoCollectedMetricExtractor && o.in.Metrics != nil {
		if err := metrics.UseExtractor(b, o.in.Metrics.MeterProvider()); err != nil {
			return err
		}
	}

	if opts.Modules.QuickPulse {
		m, ok := o.in.Registry.Lookup(modules.KindQuickPulse)
		qp, isQP := m.(*quickpulse.Module)
		if ok && isQP {
			if err := qp.Use(b); err != nil {
				return err
			}
		} else {
			o.diagnose(Diagnostic{
				Event:   EventUnableToFindModule,
				Message: "live metrics module not registered, skipping live metrics stage",
				Step:    StepStages,
				Module:  modules.KindQuickPulse,
			})
		}
	}

	if opts.EnableAdaptiveSampling {
		if err := o.wireSampling(b); err != nil {
			return err
		}
	}

	if o.in.Metrics != nil {
		reg, err := metrics.RegisterSamplingGauge(o.in.Metrics.MeterProvider(), o.cfg)
		if err != nil {
			return err
		}
		o.cfg.RegisterCloser(registrationCloser{reg})
	}
	return nil
}

func (o *Orchestrator) wireSampling(b *pipeline.Builder) error {
	opts := o.in.Options.Sampling
	excluded, err := telemetry.ParseKindSet(opts.ExcludedTypes)
	if err != nil {
		return err
	}

	var observer sampling.Observer
	if o.in.Metrics != nil {
		observer = o.in.Metrics.Counters()
	}

	general := sampling.StageConfig{
		Settings: opts.Settings,
		Excluded: excluded,
		Observer: observer,
		Logger:   o.logger,
		Callback: func(_, _, next float64, _ bool, _ sampling.Settings) {
			o.cfg.SetLastObservedSamplingPercentage(telemetry.KindRequest, next)
		},
	}
	if err := sampling.UseAdaptiveSampling(b, general); err != nil {
		return err
	}

	if excluded.Len() == 0 {
		return nil
	}
	eventSettings := opts.Settings
	eventSettings.MaxItemsPerSecond = opts.EventMaxItemsPerSecond
	return sampling.UseAdaptiveSampling(b, sampling.StageConfig{
		Settings: eventSettings,
		Included: excluded,
		Observer: observer,
		Logger:   o.logger,
	})
}

// (6)
func (o *Orchestrator) buildChains() error {
	if !o.in.Options.EnableHeartbeat {
		n := o.in.Registry.DisableHeartbeat()
		o.logger.Debug("heartbeat disabled", "modules", n)
	}
	for _, s := range o.cfg.Sinks() {
		if _, err := s.Builder().Build(); err != nil {
			return beaconerrors.Wrapf(err, "sink %s", s.Name())
		}
	}
	if _, err := o.cfg.Processors().Build(); err != nil {
		return beaconerrors.Wrap(err, "legacy chain")
	}
	return nil
}

// (7) The connection string endpoint, recorded in step 1, is pushed to
// the channel here unless an explicit override replaces it.
func (o *Orchestrator) applyOverrides() error {
	opts := o.in.Options
	if opts.DeveloperMode != nil {
		o.cfg.SetDeveloperMode(*opts.DeveloperMode)
	}
	switch {
	case opts.EndpointAddress != nil:
		o.cfg.SetEndpointAddress(*opts.EndpointAddress)
	case o.cfg.EndpointAddress() != "":
		o.cfg.SetEndpointAddress(o.cfg.EndpointAddress())
	}
	return nil
}

// (8)
func (o *Orchestrator) addInitializers() error {
	o.cfg.AddInitializer(correlation.Initializer{})
	for _, init := range o.in.Initializers {
		o.cfg.AddInitializer(init)
	}
	return nil
}

// (9) Dispose failures are diagnosed; init failures stop the pass after
// every module has been visited.
func (o *Orchestrator) activateModules() error {
	report, err := o.in.Registry.Activate(o.cfg, o.in.Options.ModuleFlags())
	o.report = report
	for kind, derr := range report.DisposeFailures {
		o.diagnose(Diagnostic{
			Event:   EventModuleDisposeFailure,
			Message: "disabled module failed to dispose",
			Step:    StepModules,
			Module:  kind,
			Err:     derr,
		})
	}
	return err
}

// (10)
func (o *Orchestrator) initializeStages() error {
	for _, stage := range o.cfg.Stages() {
		m, ok := stage.(pipeline.Module)
		if !ok {
			continue
		}
		if err := modules.Initialize(m, o.cfg); err != nil {
			return beaconerrors.Wrapf(err, "stage %T", stage)
		}
	}
	return nil
}

// (11)
func (o *Orchestrator) installApplicationIDs() error {
	if o.in.ApplicationIDProvider != nil {
		o.cfg.SetApplicationIDProvider(o.in.ApplicationIDProvider)
	}
	return nil
}

type registrationCloser struct {
	reg metric.Registration
}

func (r registrationCloser) Close() error {
	return r.reg.Unregister()
}

var _ io.Closer = registrationCloser{}
