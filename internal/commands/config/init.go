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
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/tombee/beacon/internal/commands/completion"
	"github.com/tombee/beacon/internal/commands/shared"
	"github.com/tombee/beacon/internal/config"
)

type initFlags struct {
	force            bool
	nonInteractive   bool
	connectionString string
	channel          string
	sqlitePath       string
	otelExporter     string
	otelEndpoint     string
	noSampling       bool
}

// NewInitCommand creates the 'config init' subcommand.
func NewInitCommand() *cobra.Command {
	var flags initFlags

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter options file",
		Long: `Write a starter options file to the --config path or the default
location. Prompts for the connection string and channel unless running
non-interactively, in which case the flags are used as given.`,
		Example: `  beacon config init
  beacon config init --non-interactive --channel sqlite --connection-string "InstrumentationKey=..."`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.force, "force", false, "Overwrite an existing file")
	cmd.Flags().BoolVar(&flags.nonInteractive, "non-interactive", false, "Do not prompt")
	cmd.Flags().StringVar(&flags.connectionString, "connection-string", "", "Connection string")
	cmd.Flags().StringVar(&flags.channel, "channel", config.ChannelMemory, "Channel type (memory, sqlite, otel)")
	cmd.Flags().StringVar(&flags.sqlitePath, "sqlite-path", "", "Buffer database for the sqlite channel")
	cmd.Flags().StringVar(&flags.otelExporter, "otel-exporter", "console", "Exporter for the otel channel (console, otlp, otlp-http)")
	cmd.Flags().StringVar(&flags.otelEndpoint, "otel-endpoint", "", "Collector endpoint for OTLP exporters")
	cmd.Flags().BoolVar(&flags.noSampling, "no-sampling", false, "Disable adaptive sampling")

	_ = cmd.RegisterFlagCompletionFunc("channel", completion.CompleteChannelTypes)
	_ = cmd.RegisterFlagCompletionFunc("otel-exporter", completion.CompleteExporters)

	return cmd
}

func runInit(cmd *cobra.Command, flags initFlags) error {
	path := shared.GetConfigPath()
	if path == "" {
		var err error
		if path, err = config.ConfigPath(); err != nil {
			return fmt.Errorf("failed to determine options path: %w", err)
		}
	}
	if _, err := os.Stat(path); err == nil && !flags.force {
		return shared.NewInvalidInputError(fmt.Sprintf("%s already exists (use --force to overwrite)", path), nil)
	}

	if !flags.nonInteractive && !shared.IsNonInteractive() {
		if err := promptInit(&flags); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return nil
			}
			return err
		}
	}

	starter := starterFrom(flags)
	if err := config.Save(path, starter); err != nil {
		if errors.Is(err, config.ErrInvalidConfig) {
			return shared.NewInvalidInputError("invalid options", err)
		}
		return err
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), struct {
			shared.JSONResponse
			Path string `json:"path"`
		}{shared.NewJSONResponse("config init", true), path})
	}
	fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("Wrote "+path))
	return nil
}

func starterFrom(flags initFlags) config.Starter {
	s := config.Starter{
		ConnectionString:       flags.connectionString,
		EnableAdaptiveSampling: !flags.noSampling,
		Channel:                config.StarterChannel{Type: flags.channel},
	}
	switch flags.channel {
	case config.ChannelSQLite:
		path := flags.sqlitePath
		if path == "" {
			path = config.Defaults().Channel.SQLite.Path
		}
		s.Channel.SQLite = &config.SQLiteOptions{Path: path}
	case config.ChannelOTel:
		s.Channel.OTel = &config.StarterOTel{Exporter: flags.otelExporter, Endpoint: flags.otelEndpoint}
	}
	return s
}

func promptInit(flags *initFlags) error {
	sampling := !flags.noSampling
	form := shared.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Connection string").
				Description("InstrumentationKey=...;IngestionEndpoint=... (optional)").
				Value(&flags.connectionString).
				Validate(func(s string) error {
					if s == "" {
						return nil
					}
					_, err := config.ParseConnectionString(s)
					return err
				}),
			huh.NewSelect[string]().
				Title("Channel").
				Options(
					huh.NewOption("In-memory buffer, posts to the ingestion endpoint", config.ChannelMemory),
					huh.NewOption("SQLite buffer that survives restarts", config.ChannelSQLite),
					huh.NewOption("OpenTelemetry spans", config.ChannelOTel),
				).
				Value(&flags.channel),
			huh.NewConfirm().
				Title("Enable adaptive sampling?").
				Value(&sampling),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Span exporter").
				Options(
					huh.NewOption("Console", "console"),
					huh.NewOption("OTLP gRPC", "otlp"),
					huh.NewOption("OTLP HTTP", "otlp-http"),
				).
				Value(&flags.otelExporter),
			huh.NewInput().
				Title("Collector endpoint").
				Description("host:port, required for OTLP").
				Value(&flags.otelEndpoint),
		).WithHideFunc(func() bool { return flags.channel != config.ChannelOTel }),
	)
	if err := form.Run(); err != nil {
		return err
	}
	flags.noSampling = !sampling
	return nil
}
