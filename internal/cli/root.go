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

package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/beacon/internal/commands/shared"
	"github.com/tombee/beacon/internal/config"
	"github.com/tombee/beacon/internal/log"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "beacon",
		Short: "Beacon - telemetry pipeline for Go services",
		Long: `Beacon correlates inbound and outbound HTTP traffic, samples it
adaptively and ships it to an ingestion endpoint, a local SQLite buffer or
an OpenTelemetry collector.

Run 'beacon config init' to write an options file.
Run 'beacon serve' to try the pipeline with a demo server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	verbose, json, cfg := shared.RegisterFlagPointers()
	cmd.PersistentFlags().BoolVarP(verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(json, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(cfg, "config", "", "Path to options file (default: ~/.config/beacon/config.yaml)")

	return cmd
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}

// LoadOptions loads the options file named by --config. Without the flag
// the XDG path is used when it exists, otherwise defaults and environment.
func LoadOptions() (*config.Options, string, error) {
	path := shared.GetConfigPath()
	if path == "" {
		if p, err := config.ConfigPath(); err == nil {
			if _, statErr := os.Stat(p); statErr == nil {
				path = p
			}
		}
	}
	opts, err := config.Load(path)
	if err != nil {
		return nil, path, shared.NewInvalidConfigError("failed to load options", err)
	}
	return opts, path, nil
}

// NewLogger creates the process logger. An unset format is text when out
// is a terminal and json otherwise.
func NewLogger(opts config.LogOptions, out io.Writer) *slog.Logger {
	cfg := log.FromEnv()
	cfg.Output = out
	if opts.Level != "" {
		cfg.Level = opts.Level
	}
	if shared.GetVerbose() {
		cfg.Level = "debug"
	}
	switch {
	case opts.Format != "":
		cfg.Format = log.Format(opts.Format)
	case isTerminal(out):
		cfg.Format = log.FormatText
	default:
		cfg.Format = log.FormatJSON
	}
	return log.New(cfg)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && shared.IsTerminal(f)
}
