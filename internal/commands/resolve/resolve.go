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

// Package resolve implements "beacon resolve", which prints the correlation
// context the pipeline would derive from a set of inbound headers.
package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/beacon/internal/cli"
	"github.com/tombee/beacon/internal/commands/completion"
	"github.com/tombee/beacon/internal/commands/shared"
	"github.com/tombee/beacon/internal/correlation"
	"github.com/tombee/beacon/internal/jq"
)

// Result is the printed form of a correlation context.
type Result struct {
	shared.JSONResponse
	OperationID  string            `json:"operation_id"`
	ParentID     string            `json:"parent_id,omitempty"`
	SpanID       string            `json:"span_id"`
	RequestID    string            `json:"request_id"`
	LegacyRootID string            `json:"legacy_root_id,omitempty"`
	TraceState   string            `json:"trace_state,omitempty"`
	SourceAppID  string            `json:"source_app_id,omitempty"`
	Properties   map[string]string `json:"properties,omitempty"`
}

type flags struct {
	traceParent        string
	traceState         string
	requestID          string
	correlationContext string
	requestContext     string
	headers            []string
	idFormat           string
	withoutTrace       bool
	query              string
}

// NewCommand creates the resolve command.
func NewCommand() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the correlation context for a set of headers",
		Long: `Resolve inbound correlation headers the way request tracking does and
print the resulting operation id, parent id and properties.

The id format and Correlation-Context handling default to the options file
and can be overridden with flags.`,
		Example: `  beacon resolve --traceparent 00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01
  beacon resolve --request-id '|abc.1.' --correlation-context 'tenant=acme'
  beacon resolve -H 'Request-Id: |abc.1.' --query .operation_id`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, f)
		},
	}

	cmd.Flags().StringVar(&f.traceParent, "traceparent", "", "W3C traceparent header")
	cmd.Flags().StringVar(&f.traceState, "tracestate", "", "W3C tracestate header")
	cmd.Flags().StringVar(&f.requestID, "request-id", "", "Legacy Request-Id header")
	cmd.Flags().StringVar(&f.correlationContext, "correlation-context", "", "Correlation-Context header")
	cmd.Flags().StringVar(&f.requestContext, "request-context", "", "Request-Context header")
	cmd.Flags().StringArrayVarP(&f.headers, "header", "H", nil, "Raw header as 'Name: value' (repeatable)")
	cmd.Flags().StringVar(&f.idFormat, "id-format", "", "Id format (w3c, hierarchical)")
	cmd.Flags().BoolVar(&f.withoutTrace, "correlation-context-without-trace", false, "Parse Correlation-Context without trace headers")
	cmd.Flags().StringVar(&f.query, "query", "", "jq expression applied to the JSON result")

	_ = cmd.RegisterFlagCompletionFunc("id-format", completion.CompleteIDFormats)

	return cmd
}

func run(cmd *cobra.Command, f flags) error {
	opts, _, err := cli.LoadOptions()
	if err != nil {
		return err
	}

	h, err := buildHeaders(f)
	if err != nil {
		return err
	}

	resolverOpts := opts.ResolverOptions()
	if f.idFormat != "" {
		switch format := correlation.IDFormat(f.idFormat); format {
		case correlation.FormatW3C, correlation.FormatHierarchical:
			resolverOpts.IDFormat = format
		default:
			return shared.NewInvalidInputError(fmt.Sprintf("unknown id format %q", f.idFormat), nil)
		}
	}
	if cmd.Flags().Changed("correlation-context-without-trace") {
		resolverOpts.ParseCorrelationContextWithoutTraceHeaders = f.withoutTrace
	}
	resolverOpts.Logger = cli.NewLogger(opts.Log, cmd.ErrOrStderr())

	c := correlation.NewResolver(resolverOpts).Resolve(h)
	result := Result{
		JSONResponse: shared.NewJSONResponse("resolve", true),
		OperationID:  c.OperationID,
		ParentID:     c.ParentID,
		SpanID:       c.SpanID,
		RequestID:    c.RequestID(),
		LegacyRootID: c.LegacyRootID,
		TraceState:   c.TraceState,
		SourceAppID:  c.SourceAppID,
		Properties:   c.Properties,
	}

	out := cmd.OutOrStdout()
	if f.query != "" {
		q, err := jq.Compile(f.query)
		if err != nil {
			return shared.NewInvalidInputError("invalid --query", err)
		}
		values, err := q.Run(context.Background(), result)
		if err != nil {
			return err
		}
		for _, v := range values {
			if s, ok := v.(string); ok {
				fmt.Fprintln(out, s)
				continue
			}
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
		}
		return nil
	}

	if shared.GetJSON() {
		return shared.EmitJSON(out, result)
	}

	fmt.Fprintln(out, shared.Header.Render("Correlation context"))
	shared.PrintField(out, "operation id", result.OperationID)
	shared.PrintField(out, "parent id", result.ParentID)
	shared.PrintField(out, "span id", result.SpanID)
	shared.PrintField(out, "request id", result.RequestID)
	shared.PrintField(out, "legacy root id", result.LegacyRootID)
	shared.PrintField(out, "trace state", result.TraceState)
	shared.PrintField(out, "source app id", result.SourceAppID)
	if len(result.Properties) > 0 {
		keys := make([]string, 0, len(result.Properties))
		for k := range result.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(out, shared.Header.Render("Properties"))
		for _, k := range keys {
			shared.PrintField(out, k, result.Properties[k])
		}
	}
	return nil
}

func buildHeaders(f flags) (http.Header, error) {
	h := http.Header{}
	for _, raw := range f.headers {
		name, value, ok := strings.Cut(raw, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, shared.NewInvalidInputError(fmt.Sprintf("header %q must be 'Name: value'", raw), nil)
		}
		h.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	set := func(name, value string) {
		if value != "" {
			h.Set(name, value)
		}
	}
	set(correlation.HeaderTraceParent, f.traceParent)
	set(correlation.HeaderTraceState, f.traceState)
	set(correlation.HeaderRequestID, f.requestID)
	set(correlation.HeaderCorrelationContext, f.correlationContext)
	set(correlation.HeaderRequestContext, f.requestContext)
	return h, nil
}
