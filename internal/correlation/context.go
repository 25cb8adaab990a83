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
	"maps"

	"github.com/tombee/beacon/pkg/telemetry"
)

// LegacyRootIDProperty holds the original Request-Id root when it could not
// be used as the operation id.
const LegacyRootIDProperty = "ai_legacyRootId"

// Context is the correlation state of one inbound request.
type Context struct {
	// OperationID is the 32-hex root id shared by all items of the request.
	OperationID string

	// ParentID is the caller's id. Empty when no correlation header arrived.
	ParentID string

	// SpanID identifies this request; outbound calls use it as their parent.
	SpanID string

	// LegacyRootID is set when an incompatible Request-Id root was replaced.
	LegacyRootID string

	// TraceState is propagated to outbound calls and never emitted as a property.
	TraceState string

	// SourceAppID is the caller's application id from Request-Context.
	SourceAppID string

	// Properties are the Correlation-Context key/value pairs.
	Properties map[string]string
}

// RequestID returns the hierarchical id of the request this context belongs to.
func (c Context) RequestID() string {
	return HierarchicalID(c.OperationID, c.SpanID)
}

// Clone returns a copy that does not share the properties map.
func (c Context) Clone() Context {
	c.Properties = maps.Clone(c.Properties)
	return c
}

type contextKey struct{}

// NewContext returns a context carrying c.
func NewContext(ctx context.Context, c Context) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext returns the correlation context stored in ctx, if any.
func FromContext(ctx context.Context) (Context, bool) {
	if ctx == nil {
		return Context{}, false
	}
	c, ok := ctx.Value(contextKey{}).(Context)
	return c, ok
}

// Initializer stamps the correlation context of the calling request onto
// items. Fields the caller already set are left untouched. Items tracked
// outside any request still receive a fresh operation id.
type Initializer struct{}

// Initialize implements telemetry.Initializer.
func (Initializer) Initialize(ctx context.Context, item telemetry.Item) {
	meta := item.Meta()
	c, ok := FromContext(ctx)
	if !ok {
		if meta.Operation.ID == "" {
			meta.Operation.ID = NewOperationID()
		}
		return
	}

	if meta.Operation.ID == "" {
		meta.Operation.ID = c.OperationID
	}
	if meta.Operation.ParentID == "" {
		if item.Kind() == telemetry.KindRequest {
			meta.Operation.ParentID = c.ParentID
		} else if c.SpanID != "" {
			meta.Operation.ParentID = c.RequestID()
		}
	}
	if c.LegacyRootID != "" {
		setIfAbsent(meta, LegacyRootIDProperty, c.LegacyRootID)
	}
	for k, v := range c.Properties {
		setIfAbsent(meta, k, v)
	}
}

func setIfAbsent(meta *telemetry.Envelope, key, value string) {
	if _, exists := meta.Property(key); !exists {
		meta.SetProperty(key, value)
	}
}

var _ telemetry.Initializer = Initializer{}
