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
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/tombee/beacon/internal/correlation"
	"github.com/tombee/beacon/internal/log"
	"github.com/tombee/beacon/internal/pipeline"
	"github.com/tombee/beacon/pkg/telemetry"
)

// RequestTracking tracks inbound HTTP requests as Request items.
type RequestTracking struct {
	resolver *correlation.Resolver
	logger   *slog.Logger
	cfg      atomic.Pointer[pipeline.Configuration]
}

// NewRequestTracking creates the request tracking module.
func NewRequestTracking(opts correlation.Options) *RequestTracking {
	logger := log.WithModule(log.OrDefault(opts.Logger), "request_tracking")
	opts.Logger = logger
	return &RequestTracking{
		resolver: correlation.NewResolver(opts),
		logger:   logger,
	}
}

// Initialize implements pipeline.Module.
func (t *RequestTracking) Initialize(cfg *pipeline.Configuration) error {
	t.cfg.Store(cfg)
	return nil
}

// Resolver returns the resolver used for inbound headers.
func (t *RequestTracking) Resolver() *correlation.Resolver {
	return t.resolver
}

// Middleware wraps next so that every request is correlated and tracked.
// Handlers see the correlation context through correlation.FromContext.
func (t *RequestTracking) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := t.cfg.Load()
		if cfg == nil {
			next.ServeHTTP(w, r)
			return
		}

		c := t.resolver.Resolve(r.Header)
		ctx := correlation.NewContext(r.Context(), c)

		ownAppID, hasAppID := cfg.ApplicationID()
		if hasAppID {
			w.Header().Set(correlation.HeaderRequestContext, "appId="+ownAppID)
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))
		duration := time.Since(start)

		name := r.Method + " " + r.URL.Path
		req := &telemetry.Request{
			Envelope: telemetry.Envelope{
				Timestamp: start,
				Operation: telemetry.Operation{Name: name},
			},
			Name:         name,
			URL:          r.URL.String(),
			ResponseCode: strconv.Itoa(rec.status),
			Success:      rec.status < http.StatusBadRequest,
			Duration:     duration,
		}
		if c.SourceAppID != "" && (!hasAppID || c.SourceAppID != ownAppID) {
			req.Source = c.SourceAppID
		}

		log.Trace(t.logger, "tracked request",
			log.String(log.OperationIDKey, c.OperationID),
			log.String("status", req.ResponseCode))
		cfg.Track(ctx, req)
	})
}

// statusRecorder captures the response status code.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

var _ pipeline.Module = (*RequestTracking)(nil)
