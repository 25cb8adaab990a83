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

package collectors

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/tombee/beacon/internal/correlation"
	"github.com/tombee/beacon/internal/pipeline"
	"github.com/tombee/beacon/pkg/telemetry"
)

// DependencyTypeHTTP is the dependency type of outbound HTTP calls.
const DependencyTypeHTTP = "Http"

// DependencyTracking is an http.RoundTripper that propagates correlation
// headers on outbound calls and tracks each call as a Dependency item.
type DependencyTracking struct {
	base http.RoundTripper
	cfg  atomic.Pointer[pipeline.Configuration]
}

// NewDependencyTracking wraps base. A nil base uses http.DefaultTransport.
func NewDependencyTracking(base http.RoundTripper) *DependencyTracking {
	if base == nil {
		base = http.DefaultTransport
	}
	return &DependencyTracking{base: base}
}

// Initialize implements pipeline.Module.
func (d *DependencyTracking) Initialize(cfg *pipeline.Configuration) error {
	d.cfg.Store(cfg)
	return nil
}

// Client returns an HTTP client using the tracking transport.
func (d *DependencyTracking) Client() *http.Client {
	return &http.Client{Transport: d}
}

// RoundTrip implements http.RoundTripper. The caller's request is not
// modified; headers are injected on a clone.
func (d *DependencyTracking) RoundTrip(req *http.Request) (*http.Response, error) {
	cfg := d.cfg.Load()
	if cfg == nil {
		return d.base.RoundTrip(req)
	}

	ctx := req.Context()
	parent, ok := correlation.FromContext(ctx)
	if !ok {
		parent = correlation.Context{OperationID: correlation.NewOperationID()}
	}
	spanID := correlation.NewSpanID()
	ownAppID, _ := cfg.ApplicationID()

	out := req.Clone(ctx)
	correlation.Inject(out.Header, correlation.Outbound{
		Parent: parent,
		SpanID: spanID,
		AppID:  ownAppID,
	})

	start := time.Now()
	resp, err := d.base.RoundTrip(out)
	duration := time.Since(start)

	dep := &telemetry.Dependency{
		Envelope: telemetry.Envelope{
			Timestamp: start,
			Operation: telemetry.Operation{ID: parent.OperationID},
		},
		ID:       spanID,
		Type:     DependencyTypeHTTP,
		Target:   req.URL.Host,
		Name:     req.Method + " " + req.URL.Path,
		Data:     req.URL.String(),
		Duration: duration,
	}
	if parent.SpanID != "" {
		dep.Operation.ParentID = parent.RequestID()
	}
	if err != nil {
		dep.ResultCode = "Faulted"
	} else {
		dep.ResultCode = strconv.Itoa(resp.StatusCode)
		dep.Success = resp.StatusCode < http.StatusBadRequest
		if target := correlation.ParseRequestContext(resp.Header.Get(correlation.HeaderRequestContext)); target != "" && target != ownAppID {
			dep.Target += " | " + target
		}
	}

	cfg.Track(ctx, dep)
	return resp, err
}

// Close releases idle connections of the wrapped transport.
func (d *DependencyTracking) Close() error {
	if ci, ok := d.base.(interface{ CloseIdleConnections() }); ok {
		ci.CloseIdleConnections()
	}
	return nil
}

var (
	_ pipeline.Module   = (*DependencyTracking)(nil)
	_ http.RoundTripper = (*DependencyTracking)(nil)
)
