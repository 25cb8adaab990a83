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

package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/beacon/internal/cli"
	"github.com/tombee/beacon/internal/commands/shared"
	"github.com/tombee/beacon/internal/config"
	beaconerrors "github.com/tombee/beacon/pkg/errors"
)

// ValidationResult represents the result of options validation.
type ValidationResult struct {
	shared.JSONResponse
	Path     string   `json:"path,omitempty"`
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// NewValidateCommand creates the 'config validate' subcommand.
func NewValidateCommand() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the options file",
		Long: `Validate the options file and environment overrides.

Checks performed:
  - YAML syntax and unknown keys
  - Connection string and instrumentation key format
  - Sampling, channel, server and log settings

With --strict, warnings are treated as errors.`,
		Example: `  beacon config validate
  beacon config validate --config ./beacon.yaml --strict
  beacon config validate --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			result := runValidate()
			return outputValidationResult(cmd.OutOrStdout(), result, strict)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Treat warnings as errors")
	return cmd
}

func runValidate() ValidationResult {
	result := ValidationResult{JSONResponse: shared.NewJSONResponse("config validate", true)}

	opts, path, err := cli.LoadOptions()
	result.Path = path
	if err != nil {
		result.Valid = false
		result.Errors = problems(err)
		return result
	}
	result.Valid = true
	result.Warnings = warnings(opts)
	return result
}

// problems splits a validation error into its individual messages.
func problems(err error) []string {
	const sep = "\n  - "
	prefix := config.ErrInvalidConfig.Error() + ":" + sep
	for e := err; e != nil; e = beaconerrors.Unwrap(e) {
		if msg := e.Error(); strings.HasPrefix(msg, prefix) {
			return strings.Split(strings.TrimPrefix(msg, prefix), sep)
		}
	}
	cause := err
	for next := beaconerrors.Unwrap(cause); next != nil; next = beaconerrors.Unwrap(cause) {
		cause = next
	}
	if cause != err {
		return []string{err.Error() + ": " + cause.Error()}
	}
	return []string{err.Error()}
}

func warnings(opts *config.Options) []string {
	var out []string
	if opts.ConnectionString == "" && (opts.InstrumentationKey == nil || *opts.InstrumentationKey == "") {
		out = append(out, "No connection string or instrumentation key set; items will carry an empty key.")
	}
	if !opts.EnableAdaptiveSampling {
		out = append(out, "Adaptive sampling is disabled; every item is transmitted.")
	}
	if opts.DeveloperMode != nil && *opts.DeveloperMode {
		out = append(out, "Developer mode transmits on every item and is not meant for production.")
	}
	if opts.Channel.Type == config.ChannelOTel && opts.Channel.OTel.Insecure {
		out = append(out, "OTLP exporter is configured without TLS.")
	}
	return out
}

func outputValidationResult(w io.Writer, result ValidationResult, strict bool) error {
	failed := !result.Valid || (strict && len(result.Warnings) > 0)
	result.Success = !failed

	if shared.GetJSON() {
		if err := shared.EmitJSON(w, result); err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
	} else {
		if result.Valid {
			fmt.Fprintln(w, shared.RenderOK("Options are valid"))
		} else {
			fmt.Fprintln(w, shared.RenderError("Options validation failed"))
		}
		if result.Path != "" {
			shared.PrintField(w, "file", result.Path)
		}
		if len(result.Errors) > 0 {
			fmt.Fprintln(w, shared.Header.Render("Errors:"))
			for _, e := range result.Errors {
				fmt.Fprintf(w, "  %s %s\n", shared.StatusError.Render(shared.SymbolError), e)
			}
		}
		if len(result.Warnings) > 0 {
			fmt.Fprintln(w, shared.Header.Render("Warnings:"))
			for _, warn := range result.Warnings {
				fmt.Fprintf(w, "  %s %s\n", shared.StatusWarn.Render(shared.SymbolWarn), warn)
			}
		}
	}

	switch {
	case !result.Valid:
		return &shared.ExitError{Code: shared.ExitInvalidConfig, Message: "options are invalid"}
	case failed:
		return &shared.ExitError{Code: shared.ExitInvalidConfig, Message: "validation failed (strict mode: warnings treated as errors)"}
	}
	return nil
}
