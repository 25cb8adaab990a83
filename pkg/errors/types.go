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

package errors

import (
	"fmt"
)

// Sentinel errors returned by the pipeline, module registry and orchestrator.
var (
	// ErrChainSealed is returned when a stage is appended after Build.
	ErrChainSealed = New("processor chain is sealed")

	// ErrNilProcessor is returned when a factory produces a nil stage.
	ErrNilProcessor = New("processor factory returned nil")

	// ErrDuplicateModule is returned when a module kind is registered twice.
	ErrDuplicateModule = New("module kind already registered")

	// ErrModuleNotFound is returned when a configurator targets a missing module.
	ErrModuleNotFound = New("module not found")

	// ErrAlreadyActivated is returned when a registry is activated a second time.
	ErrAlreadyActivated = New("module registry already activated")

	// ErrAlreadyConfigured is returned when a configuration pass runs twice.
	ErrAlreadyConfigured = New("telemetry configuration already applied")

	// ErrInvalidConnectionString is returned for malformed connection strings.
	ErrInvalidConnectionString = New("invalid connection string")
)

// ConfigurationError reports a failed step of the configuration pass.
type ConfigurationError struct {
	// Step names the orchestration step that failed (e.g., "channel", "modules")
	Step string

	// Err is the underlying cause
	Err error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("telemetry configuration failed at %s", e.Step)
	}
	return fmt.Sprintf("telemetry configuration failed at %s: %v", e.Step, e.Err)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ErrorType implements ErrorClassifier.
func (e *ConfigurationError) ErrorType() string { return "configuration" }

// ModuleInitError reports a module whose Initialize failed or panicked.
// It surfaces to callers wrapped in a ConfigurationError.
type ModuleInitError struct {
	// Module is the module kind
	Module string

	// Err is the underlying cause
	Err error
}

// Error implements the error interface.
func (e *ModuleInitError) Error() string {
	return fmt.Sprintf("module %s failed to initialize: %v", e.Module, e.Err)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ModuleInitError) Unwrap() error {
	return e.Err
}

// ErrorType implements ErrorClassifier.
func (e *ModuleInitError) ErrorType() string { return "module_init" }

// HeaderParseError describes a correlation header that could not be parsed.
// The resolver never returns it; it selects the legacy fallback instead.
type HeaderParseError struct {
	// Header is the header name (e.g., "traceparent")
	Header string

	// Value is the raw header value
	Value string

	// Reason explains what was malformed
	Reason string
}

// Error implements the error interface.
func (e *HeaderParseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("malformed %s header %q", e.Header, e.Value)
	}
	return fmt.Sprintf("malformed %s header %q: %s", e.Header, e.Value, e.Reason)
}

// ErrorType implements ErrorClassifier.
func (e *HeaderParseError) ErrorType() string { return "header_parse" }

// ConfigError represents problems in the options file or environment.
type ConfigError struct {
	// Key is the option that has the problem (e.g., "sampling.max_items_per_second")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *ConfigError) ErrorType() string { return "config" }

// ErrorClassifier is implemented by errors that carry a category.
type ErrorClassifier interface {
	error

	// ErrorType returns a string identifying the error category.
	ErrorType() string
}

var (
	_ ErrorClassifier = (*ConfigurationError)(nil)
	_ ErrorClassifier = (*ModuleInitError)(nil)
	_ ErrorClassifier = (*HeaderParseError)(nil)
	_ ErrorClassifier = (*ConfigError)(nil)
)

// TypeOf returns the category of the innermost ErrorClassifier in err's
// chain, or "" when there is none. A step failure caused by a module
// therefore reports "module_init" rather than "configuration".
func TypeOf(err error) string {
	var typ string
	for e := err; e != nil; e = Unwrap(e) {
		if c, ok := e.(ErrorClassifier); ok {
			typ = c.ErrorType()
		}
	}
	return typ
}
