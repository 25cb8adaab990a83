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

package completion

import (
	"github.com/spf13/cobra"
)

// CompleteChannelTypes provides completion for --channel flag values.
func CompleteChannelTypes(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		return []string{
			"memory\tBuffer in memory and post to the ingestion endpoint",
			"sqlite\tPersist to a local SQLite database before sending",
			"otel\tExport as OpenTelemetry spans",
		}, cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteExporters provides completion for --otel-exporter flag values.
func CompleteExporters(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		return []string{
			"console\tPrint spans to stdout",
			"otlp\tOTLP over gRPC",
			"otlp-http\tOTLP over HTTP",
		}, cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteIDFormats provides completion for --id-format flag values.
func CompleteIDFormats(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		return []string{
			"w3c\tW3C trace context ids",
			"hierarchical\tLegacy hierarchical Request-Id",
		}, cobra.ShellCompDirectiveNoFileComp
	})
}

// SafeCompletionWrapper runs fn and returns an empty completion if it panics.
func SafeCompletionWrapper(fn func() ([]string, cobra.ShellCompDirective)) (results []string, directive cobra.ShellCompDirective) {
	results = []string{}
	directive = cobra.ShellCompDirectiveNoFileComp

	defer func() {
		if r := recover(); r != nil {
			results = []string{}
			directive = cobra.ShellCompDirectiveNoFileComp
		}
	}()

	results, directive = fn()
	if results == nil {
		return []string{}, cobra.ShellCompDirectiveNoFileComp
	}
	return results, directive
}
