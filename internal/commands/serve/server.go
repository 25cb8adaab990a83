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

package serve

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tombee/beacon/internal/config"
	"github.com/tombee/beacon/internal/log"
	"github.com/tombee/beacon/internal/metrics"
	"github.com/tombee/beacon/internal/setup"
	beaconerrors "github.com/tombee/beacon/pkg/errors"
)

// server routes requests to the current stack. Reloads build a complete new
// stack and swap it in; the previous one is flushed and closed.
type server struct {
	version string
	metrics *metrics.Provider
	logger  *slog.Logger

	current atomic.Pointer[live]
	mu      sync.Mutex
}

type live struct {
	stack   *setup.Stack
	handler http.Handler
}

func newServer(version string, mp *metrics.Provider, logger *slog.Logger) *server {
	return &server{
		version: version,
		metrics: mp,
		logger:  log.WithComponent(logger, "serve"),
	}
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l := s.current.Load()
	if l == nil {
		http.Error(w, "starting", http.StatusServiceUnavailable)
		return
	}
	l.handler.ServeHTTP(w, r)
}

// load builds a stack from opts and installs it.
func (s *server) load(ctx context.Context, opts *config.Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stack, err := setup.NewStack(ctx, opts, setup.StackOptions{
		Version: s.version,
		Logger:  s.logger,
		Metrics: s.metrics,
	})
	if err != nil {
		return beaconerrors.Wrap(err, "build stack")
	}
	if !stack.Result.OK() {
		s.logger.Warn("telemetry partially configured", log.Error(stack.Result.Err),
			"state", stack.Result.State.String())
	}

	var handler http.Handler = stack.Handler(newDemo(stack))
	if s.metrics != nil {
		handler = otelhttp.NewHandler(handler, "beacon",
			otelhttp.WithMeterProvider(s.metrics.MeterProvider()))
	}

	old := s.current.Swap(&live{stack: stack, handler: handler})
	if old != nil {
		s.retire(old.stack)
	}
	return nil
}

func (s *server) retire(stack *setup.Stack) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := stack.Flush(ctx); err != nil {
		s.logger.Warn("flush of replaced stack failed", log.Error(err))
	}
	if err := stack.Close(); err != nil {
		s.logger.Warn("close of replaced stack failed", log.Error(err))
	}
}

// reload loads path and installs it. Invalid files keep the current stack.
func (s *server) reload(ctx context.Context, path string) {
	opts, err := config.Load(path)
	if err != nil {
		s.logger.Error("options reload rejected, keeping current configuration", log.Error(err))
		return
	}
	if err := s.load(ctx, opts); err != nil {
		s.logger.Error("options reload failed, keeping current configuration", log.Error(err))
		return
	}
	s.logger.Info("options reloaded", "path", path)
}

// Stack returns the active stack.
func (s *server) Stack() *setup.Stack {
	if l := s.current.Load(); l != nil {
		return l.stack
	}
	return nil
}

func (s *server) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.current.Swap(nil)
	if l == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := l.stack.Flush(ctx); err != nil {
		s.logger.Warn("final flush failed", log.Error(err))
	}
	return l.stack.Close()
}
