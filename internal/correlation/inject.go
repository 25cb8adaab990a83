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

package correlation

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Outbound describes the headers written for one outbound call.
type Outbound struct {
	// Parent is the correlation context of the calling request.
	Parent Context

	// SpanID identifies the outbound call itself.
	SpanID string

	// AppID is this application's id for Request-Context. Optional.
	AppID string
}

// Inject writes traceparent, tracestate, Request-Id, Correlation-Context and
// Request-Context headers for an outbound call. Headers already present on
// h are not overwritten. traceparent is skipped when the operation id is
// not a valid W3C trace id.
func Inject(h http.Header, out Outbound) {
	if h.Get(HeaderTraceParent) == "" {
		injectTraceParent(h, out)
	}
	if h.Get(HeaderRequestID) == "" {
		h.Set(HeaderRequestID, HierarchicalID(out.Parent.OperationID, out.SpanID))
	}
	if h.Get(HeaderCorrelationContext) == "" && len(out.Parent.Properties) > 0 {
		h.Set(HeaderCorrelationContext, formatCorrelationContext(out.Parent.Properties))
	}
	if h.Get(HeaderRequestContext) == "" && out.AppID != "" {
		h.Set(HeaderRequestContext, "appId="+out.AppID)
	}
}

func injectTraceParent(h http.Header, out Outbound) {
	traceID, err := trace.TraceIDFromHex(out.Parent.OperationID)
	if err != nil {
		return
	}
	spanID, err := trace.SpanIDFromHex(out.SpanID)
	if err != nil {
		return
	}
	cfg := trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	}
	if out.Parent.TraceState != "" {
		if ts, err := trace.ParseTraceState(out.Parent.TraceState); err == nil {
			cfg.TraceState = ts
		}
	}
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), trace.NewSpanContext(cfg))
	propagation.TraceContext{}.Inject(ctx, propagation.HeaderCarrier(h))
}

// formatCorrelationContext renders properties as W3C baggage members in key
// order. Pairs baggage cannot encode are written as escaped key=value.
func formatCorrelationContext(props map[string]string) string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		if m, err := baggage.NewMemberRaw(k, props[k]); err == nil {
			if encoded := m.String(); encoded != "" {
				pairs = append(pairs, encoded)
				continue
			}
		}
		pairs = append(pairs, url.QueryEscape(k)+"="+url.QueryEscape(props[k]))
	}
	return strings.Join(pairs, ",")
}
