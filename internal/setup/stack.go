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

package setup

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/tombee/beacon/internal/collectors"
	"github.com/tombee/beacon/internal/config"
	"github.com/tombee/beacon/internal/filter"
	"github.com/tombee/beacon/internal/log"
	"github.com/tombee/beacon/internal/metrics"
	"github.com/tombee/beacon/internal/modules"
	"github.com/tombee/beacon/internal/pipeline"
	"github.com/tombee/beacon/internal/quickpulse"
	beaconerrors "github.com/tombee/beacon/pkg/errors"
	"github.com/tombee/beacon/pkg/telemetry"
)

// StackOptions are the process-level inputs of NewStack.
type StackOptions struct {
	// Version is reported as the service version on exported spans.
	Version string

	Logger *slog.Logger

	// Metrics is shared across stacks. Optional.
	Metrics *metrics.Provider

	ApplicationIDs pipeline.ApplicationIDProvider

	// Channel replaces the channel built from the options. Optional.
	Channel telemetry.Channel

	// Transport is the base round tripper of dependency tracking. Optional.
	Transport http.RoundTripper

	Initializers []telemetry.Initializer
}

// Stack is a fully wired pipeline: configuration, collectors, live
// metrics and a client.
type Stack struct {
	Configuration *pipeline.Configuration
	Registry      *modules.Registry
	Collectors    *collectors.Set
	QuickPulse    *quickpulse.Module
	Metrics       *metrics.Provider
	Client        *pipeline.Client
	Result        Result

	options *config.Options
}

// NewStack builds and configures a pipeline from opts. A soft configuration
// failure is reported in Stack.Result, not as an error; the returned stack
// is usable either way. Errors are returned only when the channel cannot be
// constructed or a filter expression does not compile.
func NewStack(ctx context.Context, opts *config.Options, so StackOptions) (*Stack, error) {
	if opts == nil {
		opts = config.Defaults()
	}
	logger := log.OrDefault(so.Logger)

	drop, err := filter.Compile(opts.Filters, logger)
	if err != nil {
		return nil, err
	}
	var factories []telemetry.ProcessorFactory
	if drop.Len() > 0 {
		factories = append(factories, drop.Factory())
	}

	ch := so.Channel
	if ch == nil {
		params := ChannelParams{
			ServiceName:    "beacon",
			ServiceVersion: so.Version,
			Logger:         logger,
		}
		if so.Metrics != nil {
			params.Counter = so.Metrics.Counters()
		}
		if ch, err = NewChannel(ctx, opts, params); err != nil {
			return nil, beaconerrors.Wrap(err, "build channel")
		}
	}

	cfg := pipeline.NewConfiguration(logger)
	registry := modules.NewRegistry(logger)

	set := collectors.NewSet(collectors.SetOptions{
		Correlation:         opts.ResolverOptions(),
		Transport:           so.Transport,
		HeartbeatInterval:   opts.Modules.HeartbeatInterval,
		PerformanceInterval: opts.Modules.PerformanceInterval,
		Logger:              logger,
	})
	if err := set.Register(registry); err != nil {
		_ = ch.Close()
		return nil, err
	}

	qp := quickpulse.New(quickpulse.Config{Logger: logger})
	if err := registry.Register(modules.KindQuickPulse, qp); err != nil {
		_ = ch.Close()
		return nil, err
	}

	result := New(cfg, logger).Configure(Input{
		Options:               opts,
		Registry:              registry,
		Channel:               ch,
		ProcessorFactories:    factories,
		Initializers:          so.Initializers,
		ApplicationIDProvider: so.ApplicationIDs,
		Metrics:               so.Metrics,
	})

	return &Stack{
		Configuration: cfg,
		Registry:      registry,
		Collectors:    set,
		QuickPulse:    qp,
		Metrics:       so.Metrics,
		Client:        pipeline.NewClient(cfg),
		Result:        result,
		options:       opts,
	}, nil
}

// Handler mounts app behind request tracking together with the metrics
// and live metrics endpoints.
func (s *Stack) Handler(app http.Handler) http.Handler {
	mux := http.NewServeMux()
	if s.Metrics != nil && s.options.Server.MetricsPath != "" {
		mux.Handle(s.options.Server.MetricsPath, s.Metrics.Handler())
	}
	if s.options.Server.QuickPulsePath != "" {
		mux.Handle(s.options.Server.QuickPulsePath, s.QuickPulse.Handler())
	}
	if app != nil {
		mux.Handle("/", s.Collectors.Requests.Middleware(app))
	}
	return mux
}

// HTTPClient returns a client whose calls are tracked as dependencies.
func (s *Stack) HTTPClient() *http.Client {
	return s.Collectors.Dependencies.Client()
}

// Flush transmits everything buffered by the channels.
func (s *Stack) Flush(ctx context.Context) error {
	return s.Configuration.Flush(ctx)
}

// Close releases the modules, stages and channels. The shared metrics
// provider is left running.
func (s *Stack) Close() error {
	return s.Configuration.Close()
}
