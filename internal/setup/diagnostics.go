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
	"log/slog"

	"github.com/tombee/beacon/internal/log"
	"github.com/tombee/beacon/internal/modules"
	beaconerrors "github.com/tombee/beacon/pkg/errors"
)

// Event names a diagnostic raised by the configuration pass.
type Event string

// Diagnostic events.
const (
	// EventUnableToFindModule is raised when a configurator or a built-in
	// stage targets a module kind that is not registered.
	EventUnableToFindModule Event = "UnableToFindModuleToConfigure"

	// EventSetupFailure is raised once when the pass stops on an error.
	EventSetupFailure Event = "TelemetryConfigurationSetupFailure"

	// EventModuleDisposeFailure is raised for a disabled module whose Close failed.
	EventModuleDisposeFailure Event = "ModuleDisposeFailure"

	// EventConfigurationSucceeded is raised when every step completed.
	EventConfigurationSucceeded Event = "ConfigurationSucceeded"
)

// Diagnostic is one event raised during configuration.
type Diagnostic struct {
	Event   Event
	Message string

	// Step is the configuration step that raised the event.
	Step string

	// Module is set for module related events.
	Module modules.Kind

	Err error
}

func (d Diagnostic) level() slog.Level {
	switch d.Event {
	case EventSetupFailure:
		return slog.LevelError
	case EventUnableToFindModule, EventModuleDisposeFailure:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

func (d Diagnostic) attrs() []any {
	args := []any{log.EventKey, string(d.Event)}
	if d.Step != "" {
		args = append(args, log.StageKey, d.Step)
	}
	if d.Module != "" {
		args = append(args, log.ModuleKey, string(d.Module))
	}
	if d.Err != nil {
		args = append(args, log.Error(d.Err))
		if typ := beaconerrors.TypeOf(d.Err); typ != "" {
			args = append(args, log.ErrorTypeKey, typ)
		}
	}
	return args
}
