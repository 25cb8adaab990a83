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

// Package modules holds the telemetry collection modules of a process and
// decides, once per configuration pass, which are initialized and which
// are disposed.
package modules

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/tombee/beacon/internal/log"
	"github.com/tombee/beacon/internal/pipeline"
	beaconerrors "github.com/tombee/beacon/pkg/errors"
)

// Kind identifies a module. Well-known kinds are switched by configuration
// flags; any other kind is always enabled.
type Kind string

// Well-known module kinds.
const (
	KindDependencyTracking  Kind = "dependency_tracking"
	KindRequestTracking     Kind = "request_tracking"
	KindPerformanceCounters Kind = "performance_counters"
	KindHeartbeat           Kind = "app_services_heartbeat"
	KindInstanceMetadata    Kind = "instance_metadata"
	KindQuickPulse          Kind = "quickpulse"
)

// WellKnown lists the flag-controlled kinds in activation order.
var WellKnown = []Kind{
	KindDependencyTracking,
	KindRequestTracking,
	KindPerformanceCounters,
	KindHeartbeat,
	KindInstanceMetadata,
	KindQuickPulse,
}

// IsWellKnown reports whether k is controlled by a configuration flag.
func IsWellKnown(k Kind) bool {
	for _, w := range WellKnown {
		if w == k {
			return true
		}
	}
	return false
}

// Flags maps well-known kinds to their enabled state. A well-known kind
// missing from the map is enabled.
type Flags map[Kind]bool

// Enabled reports whether a module of kind k should be initialized.
func (f Flags) Enabled(k Kind) bool {
	if !IsWellKnown(k) {
		return true
	}
	enabled, ok := f[k]
	return !ok || enabled
}

// Entry is a registered module.
type Entry struct {
	Kind   Kind
	Module pipeline.Module
}

// Report describes what an activation pass did to each module.
type Report struct {
	Initialized []Kind
	Disposed    []Kind

	// Skipped holds disabled modules with nothing to dispose.
	Skipped []Kind

	// DisposeFailures maps disabled modules whose Close failed to the error.
	DisposeFailures map[Kind]error
}

// Registry is the process-wide set of telemetry modules.
type Registry struct {
	mu        sync.Mutex
	order     []Kind
	modules   map[Kind]pipeline.Module
	activated bool
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		modules: make(map[Kind]pipeline.Module),
		logger:  log.WithComponent(logger, "modules"),
	}
}

// Register adds a module under kind. Each kind holds at most one module.
func (r *Registry) Register(kind Kind, m pipeline.Module) error {
	if m == nil {
		return fmt.Errorf("register %s: nil module", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activated {
		return beaconerrors.Wrapf(beaconerrors.ErrAlreadyActivated, "register %s", kind)
	}
	if _, exists := r.modules[kind]; exists {
		return beaconerrors.Wrapf(beaconerrors.ErrDuplicateModule, "register %s", kind)
	}
	r.modules[kind] = m
	r.order = append(r.order, kind)
	return nil
}

// Lookup returns the module registered under kind.
func (r *Registry) Lookup(kind Kind) (pipeline.Module, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.modules[kind]
	return m, ok
}

// Entries returns the registered modules in registration order.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, Entry{Kind: k, Module: r.modules[k]})
	}
	return out
}

// Activate initializes every enabled module with cfg and disposes every
// disabled one that implements io.Closer. Each module is visited exactly
// once even when an earlier Initialize fails; failures are returned joined
// as ModuleInitErrors after the pass. Initialized modules that implement
// io.Closer are registered with cfg for teardown.
func (r *Registry) Activate(cfg *pipeline.Configuration, flags Flags) (Report, error) {
	r.mu.Lock()
	if r.activated {
		r.mu.Unlock()
		return Report{}, beaconerrors.ErrAlreadyActivated
	}
	r.activated = true
	r.mu.Unlock()

	var (
		report Report
		errs   []error
	)
	for _, e := range r.Entries() {
		logger := log.WithModule(r.logger, string(e.Kind))

		if !flags.Enabled(e.Kind) {
			closer, ok := e.Module.(io.Closer)
			if !ok {
				report.Skipped = append(report.Skipped, e.Kind)
				logger.Debug("module disabled")
				continue
			}
			report.Disposed = append(report.Disposed, e.Kind)
			if err := closer.Close(); err != nil {
				if report.DisposeFailures == nil {
					report.DisposeFailures = make(map[Kind]error)
				}
				report.DisposeFailures[e.Kind] = err
				logger.Warn("disabled module failed to dispose", log.Error(err))
				continue
			}
			logger.Debug("module disabled and disposed")
			continue
		}

		if err := initialize(e.Module, cfg); err != nil {
			errs = append(errs, &beaconerrors.ModuleInitError{Module: string(e.Kind), Err: err})
			logger.Error("module failed to initialize", log.Error(err))
			continue
		}
		report.Initialized = append(report.Initialized, e.Kind)
		if closer, ok := e.Module.(io.Closer); ok {
			cfg.RegisterCloser(closer)
		}
		logger.Debug("module initialized")
	}
	return report, beaconerrors.Join(errs...)
}

// initialize runs m.Initialize, converting a panic into an error.
func initialize(m pipeline.Module, cfg *pipeline.Configuration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return m.Initialize(cfg)
}

// Initialize runs m.Initialize with panic recovery. It is used for channels
// and chain stages that are modules.
func Initialize(m pipeline.Module, cfg *pipeline.Configuration) error {
	return initialize(m, cfg)
}
