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

package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/beacon/internal/log"
	"github.com/tombee/beacon/pkg/telemetry"
)

// OTelChannelName labels the OpenTelemetry channel in logs.
const OTelChannelName = "otel"

// Span attribute keys set by the OpenTelemetry channel.
const (
	AttrItemKind           = attribute.Key("beacon.item.kind")
	AttrInstrumentationKey = attribute.Key("beacon.ikey")
	AttrResultCode         = attribute.Key("beacon.result_code")
	AttrDependencyType     = attribute.Key("beacon.dependency.type")
	AttrDependencyTarget   = attribute.Key("beacon.dependency.target")
	AttrSource             = attribute.Key("beacon.source")
	AttrSampleRate         = attribute.Key("beacon.sample_rate")
	AttrMessage            = attribute.Key("beacon.message")
	AttrPropertyPrefix     = "beacon.property."
)

// OTelConfig configures an OTelChannel.
type OTelConfig struct {
	// Exporter describes the span exporter to build.
	Exporter ExporterConfig

	// SpanExporter is used instead of building one from Exporter. Endpoint
	// overrides are then recorded but not applied.
	SpanExporter sdktrace.SpanExporter

	ServiceName    string
	ServiceVersion string

	Logger *slog.Logger
}

// OTelChannel converts telemetry items into OpenTelemetry spans. Requests
// become server spans and dependencies client spans, parented on the
// item's operation id; events, traces and exceptions become zero-length
// internal spans. Metrics are not exported through this channel.
type OTelChannel struct {
	cfg    OTelConfig
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
	logger *slog.Logger

	mu        sync.Mutex
	processor sdktrace.SpanProcessor
	endpoint  string

	developerMode atomic.Bool
	closeOnce     sync.Once
	closeErr      error
}

// NewOTelChannel builds the tracer provider and its exporter.
func NewOTelChannel(ctx context.Context, cfg OTelConfig) (*OTelChannel, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "beacon"
	}
	exporter := cfg.SpanExporter
	if exporter == nil {
		var err error
		exporter, err = NewSpanExporter(ctx, cfg.Exporter)
		if err != nil {
			return nil, err
		}
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSpanProcessor(processor),
	)

	return &OTelChannel{
		cfg:       cfg,
		tp:        tp,
		tracer:    tp.Tracer("github.com/tombee/beacon/internal/channel"),
		logger:    log.WithComponent(log.OrDefault(cfg.Logger), "channel").With("channel", OTelChannelName),
		processor: processor,
		endpoint:  cfg.Exporter.Endpoint,
	}, nil
}

// Send implements telemetry.Channel.
func (c *OTelChannel) Send(item telemetry.Item) {
	if item.Kind() == telemetry.KindMetric {
		return
	}
	meta := item.Meta()
	ctx := parentContext(meta.Operation)

	start := meta.Timestamp
	if start.IsZero() {
		start = time.Now()
	}
	end := start
	name := string(item.Kind())
	kind := trace.SpanKindInternal
	attrs := []attribute.KeyValue{AttrItemKind.String(string(item.Kind()))}
	status, description := codes.Unset, ""

	switch it := item.(type) {
	case *telemetry.Request:
		name, kind, end = it.Name, trace.SpanKindServer, start.Add(it.Duration)
		attrs = append(attrs, AttrResultCode.String(it.ResponseCode))
		if it.URL != "" {
			attrs = append(attrs, attribute.String("url.full", it.URL))
		}
		if it.Source != "" {
			attrs = append(attrs, AttrSource.String(it.Source))
		}
		status = successStatus(it.Success)
	case *telemetry.Dependency:
		name, kind, end = it.Name, trace.SpanKindClient, start.Add(it.Duration)
		attrs = append(attrs,
			AttrResultCode.String(it.ResultCode),
			AttrDependencyType.String(it.Type),
			AttrDependencyTarget.String(it.Target),
		)
		status = successStatus(it.Success)
	case *telemetry.Event:
		name = it.Name
	case *telemetry.Trace:
		attrs = append(attrs, AttrMessage.String(it.Message))
	case *telemetry.Exception:
		status, description = codes.Error, it.Message
		if description == "" && it.Err != nil {
			description = it.Err.Error()
		}
	}
	if name == "" {
		name = string(item.Kind())
	}
	if meta.InstrumentationKey != "" {
		attrs = append(attrs, AttrInstrumentationKey.String(meta.InstrumentationKey))
	}
	if meta.SamplingPercentage > 0 {
		attrs = append(attrs, AttrSampleRate.Float64(meta.SamplingPercentage))
	}
	for k, v := range meta.Properties {
		attrs = append(attrs, attribute.String(AttrPropertyPrefix+k, v))
	}

	_, span := c.tracer.Start(ctx, name,
		trace.WithSpanKind(kind),
		trace.WithTimestamp(start),
		trace.WithAttributes(attrs...),
	)
	if ex, ok := item.(*telemetry.Exception); ok && ex.Err != nil {
		span.RecordError(ex.Err, trace.WithTimestamp(start))
	}
	if status != codes.Unset {
		span.SetStatus(status, description)
	}
	span.End(trace.WithTimestamp(end))

	if c.developerMode.Load() {
		if err := c.tp.ForceFlush(context.Background()); err != nil {
			c.logger.Debug("developer mode flush failed", log.Error(err))
		}
	}
}

func successStatus(ok bool) codes.Code {
	if ok {
		return codes.Ok
	}
	return codes.Error
}

// parentContext returns a context carrying the item's operation as a
// remote parent. Operation ids that are not W3C trace ids start a new trace.
func parentContext(op telemetry.Operation) context.Context {
	ctx := context.Background()
	traceID, err := trace.TraceIDFromHex(op.ID)
	if err != nil {
		return ctx
	}
	spanID, ok := parentSpanID(op.ParentID)
	if !ok {
		// Remote parents need a span id.
		copy(spanID[:], traceID[8:])
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return trace.ContextWithRemoteSpanContext(ctx, sc)
}

// parentSpanID extracts the innermost span id of "|trace.span." or a bare
// 16-hex span id.
func parentSpanID(parent string) (trace.SpanID, bool) {
	if parent == "" {
		return trace.SpanID{}, false
	}
	trimmed := strings.Trim(parent, "|.")
	if i := strings.LastIndexAny(trimmed, "._"); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	id, err := trace.SpanIDFromHex(trimmed)
	if err != nil {
		return trace.SpanID{}, false
	}
	return id, true
}

// Flush implements telemetry.Channel.
func (c *OTelChannel) Flush(ctx context.Context) error {
	return c.tp.ForceFlush(ctx)
}

// SetDeveloperMode implements telemetry.Channel. In developer mode every
// Send forces an export.
func (c *OTelChannel) SetDeveloperMode(enabled bool) {
	c.developerMode.Store(enabled)
}

// Endpoint returns the current exporter endpoint.
func (c *OTelChannel) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

// SetEndpointAddress implements telemetry.Channel by swapping in a new
// exporter for the address. Spans already queued go to the previous one.
func (c *OTelChannel) SetEndpointAddress(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if address == "" || address == c.endpoint {
		return
	}
	if c.cfg.SpanExporter != nil || c.cfg.Exporter.Type == ExporterConsole || c.cfg.Exporter.Type == "" {
		c.endpoint = address
		return
	}

	ecfg := c.cfg.Exporter
	ecfg.Endpoint = address
	exporter, err := NewSpanExporter(context.Background(), ecfg)
	if err != nil {
		c.logger.Warn("failed to re-point span exporter", "endpoint", address, log.Error(err))
		return
	}
	next := sdktrace.NewBatchSpanProcessor(exporter)
	c.tp.RegisterSpanProcessor(next)
	c.tp.UnregisterSpanProcessor(c.processor)
	c.processor = next
	c.endpoint = address
}

// Close flushes and shuts down the tracer provider.
func (c *OTelChannel) Close() error {
	c.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		c.closeErr = c.tp.Shutdown(ctx)
	})
	return c.closeErr
}

var _ telemetry.Channel = (*OTelChannel)(nil)
