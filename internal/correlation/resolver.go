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

// Package correlation resolves the operation and parent ids of inbound
// requests from W3C Trace Context and legacy correlation headers, and
// propagates them to outbound calls.
package correlation

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/beacon/internal/log"
	beaconerrors "github.com/tombee/beacon/pkg/errors"
)

// Header names consumed and produced by the resolver.
const (
	HeaderTraceParent        = "traceparent"
	HeaderTraceState         = "tracestate"
	HeaderRequestID          = "Request-Id"
	HeaderRequestContext     = "Request-Context"
	HeaderCorrelationContext = "Correlation-Context"
)

// IDFormat selects which header wins when both are present.
type IDFormat string

const (
	// FormatW3C prefers traceparent and replaces incompatible legacy roots.
	FormatW3C IDFormat = "w3c"

	// FormatHierarchical prefers Request-Id and keeps any root as-is.
	FormatHierarchical IDFormat = "hierarchical"
)

// Options configures a Resolver.
type Options struct {
	// IDFormat selects header precedence.
	// Default: w3c
	IDFormat IDFormat

	// ParseCorrelationContextWithoutTraceHeaders parses Correlation-Context
	// even when neither traceparent nor Request-Id is present.
	// Default: false
	ParseCorrelationContextWithoutTraceHeaders bool

	// Logger receives trace-level parse diagnostics.
	Logger *slog.Logger
}

// Resolver turns inbound headers into a Context. It is safe for concurrent use.
type Resolver struct {
	format       IDFormat
	parseAlways  bool
	traceContext propagation.TraceContext
	logger       *slog.Logger
}

// NewResolver creates a resolver.
func NewResolver(opts Options) *Resolver {
	format := opts.IDFormat
	if format != FormatHierarchical {
		format = FormatW3C
	}
	return &Resolver{
		format:      format,
		parseAlways: opts.ParseCorrelationContextWithoutTraceHeaders,
		logger:      log.WithComponent(opts.Logger, "correlation"),
	}
}

// Format returns the active id format.
func (r *Resolver) Format() IDFormat {
	return r.format
}

// Resolve extracts or synthesizes the correlation context for h. It never
// fails: malformed values fall back to legacy, non-compatible handling.
func (r *Resolver) Resolve(h http.Header) Context {
	traceParent := h.Get(HeaderTraceParent)
	requestID := h.Get(HeaderRequestID)

	c := Context{SpanID: NewSpanID()}

	switch {
	case r.format == FormatHierarchical && requestID != "":
		r.applyRequestID(&c, requestID)
	case traceParent != "":
		if !r.applyTraceParent(&c, h) {
			if requestID != "" {
				r.applyRequestID(&c, requestID)
			} else {
				r.applyRequestID(&c, traceParent)
			}
		}
	case requestID != "":
		r.applyRequestID(&c, requestID)
	default:
		c.OperationID = NewOperationID()
	}

	if c.OperationID == "" {
		c.OperationID = NewOperationID()
	}

	if traceParent != "" || requestID != "" || r.parseAlways {
		if raw := h.Get(HeaderCorrelationContext); raw != "" {
			c.Properties = r.parseCorrelationContext(raw)
		}
	}
	c.SourceAppID = ParseRequestContext(h.Get(HeaderRequestContext))

	log.Trace(r.logger, "resolved correlation context",
		log.String(log.OperationIDKey, c.OperationID),
		log.String("parent_id", c.ParentID))
	return c
}

// applyTraceParent fills c from a well-formed traceparent header. It
// reports false when the header could not be parsed.
func (r *Resolver) applyTraceParent(c *Context, h http.Header) bool {
	ctx := r.traceContext.Extract(context.Background(), propagation.HeaderCarrier(h))
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		r.debugParse(&beaconerrors.HeaderParseError{
			Header: HeaderTraceParent,
			Value:  h.Get(HeaderTraceParent),
			Reason: "not a valid version-traceid-spanid-flags value",
		})
		return false
	}
	traceID := sc.TraceID().String()
	c.OperationID = traceID
	c.ParentID = HierarchicalID(traceID, sc.SpanID().String())
	c.TraceState = sc.TraceState().String()
	return true
}

// applyRequestID fills c from a legacy Request-Id value. In hierarchical
// mode any root is kept; in W3C mode an incompatible root is replaced and
// preserved under the legacy root property.
func (r *Resolver) applyRequestID(c *Context, requestID string) {
	root := RootOf(requestID)
	if r.format == FormatHierarchical && root != "" {
		c.OperationID = root
		c.ParentID = requestID
		return
	}
	if IsCompatibleTraceID(root) {
		c.OperationID = root
		c.ParentID = normalizeHierarchical(requestID)
		return
	}

	r.debugParse(&beaconerrors.HeaderParseError{
		Header: HeaderRequestID,
		Value:  requestID,
		Reason: "root is not a compatible trace id",
	})
	c.OperationID = NewOperationID()
	c.ParentID = requestID
	c.LegacyRootID = root
}

// parseCorrelationContext reads comma-separated key=value pairs. Values are
// kept exactly as sent, matching what Inject writes. Headers that are not
// valid W3C baggage are still split, after a debug log.
func (r *Resolver) parseCorrelationContext(raw string) map[string]string {
	if _, err := baggage.Parse(raw); err != nil {
		r.debugParse(&beaconerrors.HeaderParseError{
			Header: HeaderCorrelationContext,
			Value:  raw,
			Reason: err.Error(),
		})
	}

	props := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			continue
		}
		props[k] = strings.TrimSpace(v)
	}
	return props
}

func (r *Resolver) debugParse(err error) {
	r.logger.Debug("falling back on correlation header", log.Error(err),
		log.ErrorTypeKey, beaconerrors.TypeOf(err))
}

// ParseRequestContext returns the appId entry of a Request-Context header.
func ParseRequestContext(raw string) string {
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if ok && strings.EqualFold(strings.TrimSpace(k), "appId") {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
