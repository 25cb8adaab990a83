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
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func values(completions []string) []string {
	out := make([]string, 0, len(completions))
	for _, c := range completions {
		out = append(out, strings.SplitN(c, "\t", 2)[0])
	}
	return out
}

func TestFlagCompletions(t *testing.T) {
	tests := []struct {
		name string
		fn   func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective)
		want []string
	}{
		{"channel", CompleteChannelTypes, []string{"memory", "sqlite", "otel"}},
		{"exporter", CompleteExporters, []string{"console", "otlp", "otlp-http"}},
		{"id format", CompleteIDFormats, []string{"w3c", "hierarchical"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, directive := tt.fn(nil, nil, "")
			assert.Equal(t, tt.want, values(got))
			assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)
		})
	}
}

func TestSafeCompletionWrapper_RecoversPanic(t *testing.T) {
	got, directive := SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		panic("boom")
	})
	assert.Empty(t, got)
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)
}

func TestSafeCompletionWrapper_NilResults(t *testing.T) {
	got, _ := SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		return nil, cobra.ShellCompDirectiveDefault
	})
	assert.NotNil(t, got)
}

func TestCompletionCommand_GeneratesScript(t *testing.T) {
	root := &cobra.Command{Use: "beacon"}
	root.AddCommand(NewCommand())

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"completion", "bash"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "beacon")
}

func TestCompletionCommand_RejectsUnknownShell(t *testing.T) {
	root := &cobra.Command{Use: "beacon", SilenceErrors: true, SilenceUsage: true}
	root.AddCommand(NewCommand())
	root.SetArgs([]string{"completion", "tcsh"})
	assert.Error(t, root.Execute())
}
