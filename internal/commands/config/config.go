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

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tombee/beacon/internal/cli"
	"github.com/tombee/beacon/internal/commands/shared"
	"github.com/tombee/beacon/internal/config"
)

// NewConfigCommand creates the config command with subcommands
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and manage the options file",
		Long: `View and manage beacon options.

Subcommands:
  show     - Display the effective options
  path     - Show the options file location
  validate - Validate the options file
  init     - Write a starter options file`,
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigPathCommand())
	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewInitCommand())

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective options",
		Long: `Display the options after defaults, the options file and environment
overrides are applied. The connection string is masked.`,
		Args: cobra.NoArgs,
		RunE: runConfigShow,
	}
}

func newConfigPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show the options file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := shared.GetConfigPath()
			if path == "" {
				var err error
				if path, err = config.ConfigPath(); err != nil {
					return fmt.Errorf("failed to determine options path: %w", err)
				}
			}
			cmd.Println(path)
			return nil
		},
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	opts, _, err := cli.LoadOptions()
	if err != nil {
		return err
	}
	masked := *opts
	masked.ConnectionString = maskConnectionString(opts.ConnectionString)

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), struct {
			shared.JSONResponse
			Options *config.Options `json:"options"`
		}{shared.NewJSONResponse("config show", true), &masked})
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(&masked)
}

// maskConnectionString keeps the endpoint and hides all but the last four
// characters of the instrumentation key.
func maskConnectionString(raw string) string {
	if raw == "" {
		return ""
	}
	cs, err := config.ParseConnectionString(raw)
	if err != nil {
		return "***"
	}
	key := cs.InstrumentationKey
	if len(key) > 4 {
		key = "****" + key[len(key)-4:]
	}
	out := "InstrumentationKey=" + key
	if cs.IngestionEndpoint != "" {
		out += ";IngestionEndpoint=" + cs.IngestionEndpoint
	}
	return out
}
