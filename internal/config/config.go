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

// Package config loads the telemetry options from a YAML file and the
// environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/tombee/beacon/internal/correlation"
	"github.com/tombee/beacon/internal/modules"
	"github.com/tombee/beacon/internal/sampling"
	beaconerrors "github.com/tombee/beacon/pkg/errors"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Channel types.
const (
	ChannelMemory = "memory"
	ChannelSQLite = "sqlite"
	ChannelOTel   = "otel"
)

// Options is the complete telemetry configuration.
type Options struct {
	// ConnectionString is "InstrumentationKey=...;IngestionEndpoint=...".
	// It overrides InstrumentationKey and supplies the default endpoint.
	// Environment: BEACON_CONNECTION_STRING
	ConnectionString string `yaml:"connection_string,omitempty"`

	// InstrumentationKey is applied when set. Nil leaves it untouched.
	// Environment: BEACON_INSTRUMENTATION_KEY
	InstrumentationKey *string `yaml:"instrumentation_key,omitempty"`

	// DeveloperMode is applied to the channel when set.
	// Environment: BEACON_DEVELOPER_MODE
	DeveloperMode *bool `yaml:"developer_mode,omitempty"`

	// EndpointAddress overrides the ingestion endpoint when set.
	// Environment: BEACON_ENDPOINT_ADDRESS
	EndpointAddress *string `yaml:"endpoint_address,omitempty"`

	// EnableAdaptiveSampling wires the two sampling stages.
	// Environment: BEACON_ENABLE_ADAPTIVE_SAMPLING
	// Default: true
	EnableAdaptiveSampling bool `yaml:"enable_adaptive_sampling"`

	// AddAutoCollectedMetricExtractor wires the metric extractor stage.
	// Default: true
	AddAutoCollectedMetricExtractor bool `yaml:"add_auto_collected_metric_extractor"`

	// EnableHeartbeat leaves heartbeats on. When false every heartbeat
	// module is switched off before activation.
	// Default: true
	EnableHeartbeat bool `yaml:"enable_heartbeat"`

	// Filters are expressions selecting items to drop before sampling.
	Filters []string `yaml:"filters,omitempty"`

	Modules     ModuleOptions      `yaml:"modules"`
	Sampling    SamplingOptions    `yaml:"sampling"`
	Correlation CorrelationOptions `yaml:"correlation"`
	Channel     ChannelOptions     `yaml:"channel"`
	Server      ServerOptions      `yaml:"server"`
	Log         LogOptions         `yaml:"log"`
}

// ModuleOptions switches the well-known modules. All default to true.
type ModuleOptions struct {
	DependencyTracking   bool `yaml:"dependency_tracking"`
	RequestTracking      bool `yaml:"request_tracking"`
	PerformanceCounters  bool `yaml:"performance_counters"`
	AppServicesHeartbeat bool `yaml:"app_services_heartbeat"`
	InstanceMetadata     bool `yaml:"instance_metadata"`
	QuickPulse           bool `yaml:"quickpulse"`

	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval,omitempty"`
	PerformanceInterval time.Duration `yaml:"performance_interval,omitempty"`
}

// SamplingOptions configures both adaptive sampling stages. The embedded
// settings drive the general stage; the event stage reuses them with its
// own rate target.
type SamplingOptions struct {
	sampling.Settings `yaml:",inline"`

	// ExcludedTypes lists the kinds sampled by the dedicated stage instead
	// of the general one, separated by semicolons.
	// Default: Event
	ExcludedTypes string `yaml:"excluded_types"`

	// EventMaxItemsPerSecond is the rate target of the dedicated stage.
	// Default: 5
	EventMaxItemsPerSecond float64 `yaml:"event_max_items_per_second"`
}

// CorrelationOptions configures inbound header resolution.
type CorrelationOptions struct {
	// IDFormat is w3c or hierarchical.
	// Default: w3c
	IDFormat string `yaml:"id_format"`

	// ParseCorrelationContextWithoutTraceHeaders parses Correlation-Context
	// even when neither traceparent nor Request-Id is present.
	// Default: false
	ParseCorrelationContextWithoutTraceHeaders bool `yaml:"parse_correlation_context_without_trace_headers"`
}

// ChannelOptions selects and configures the transmission channel.
type ChannelOptions struct {
	// Type is memory, sqlite or otel.
	// Default: memory
	Type string `yaml:"type"`

	Capacity      int           `yaml:"capacity"`
	MaxBatch      int           `yaml:"max_batch"`
	FlushInterval time.Duration `yaml:"flush_interval"`

	// Output writes JSON lines to stdout ("stdout") instead of posting to
	// the ingestion endpoint. Memory and sqlite channels only.
	Output string `yaml:"output,omitempty"`

	SQLite SQLiteOptions `yaml:"sqlite"`
	OTel   OTelOptions   `yaml:"otel"`
}

// SQLiteOptions configures the sqlite channel.
type SQLiteOptions struct {
	// Path of the buffer database.
	// Default: $XDG_DATA_HOME/beacon/buffer.db
	Path      string `yaml:"path"`
	MaxStored int    `yaml:"max_stored"`
}

// OTelOptions configures the otel channel.
type OTelOptions struct {
	// Exporter is console, otlp or otlp-http.
	// Default: console
	Exporter   string            `yaml:"exporter"`
	Endpoint   string            `yaml:"endpoint,omitempty"`
	Insecure   bool              `yaml:"insecure"`
	CACertPath string            `yaml:"ca_cert_path,omitempty"`
	Headers    map[string]string `yaml:"headers,omitempty"`
}

// ServerOptions configures the demo server of "beacon serve".
type ServerOptions struct {
	Listen          string        `yaml:"listen"`
	MetricsPath     string        `yaml:"metrics_path"`
	QuickPulsePath  string        `yaml:"quickpulse_path"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogOptions configures logging.
type LogOptions struct {
	// Level is debug, info, warn or error. Environment: LOG_LEVEL
	Level string `yaml:"level"`

	// Format is json or text. Empty picks text on a terminal.
	// Environment: LOG_FORMAT
	Format string `yaml:"format,omitempty"`
}

// Defaults returns the default options.
func Defaults() *Options {
	return &Options{
		EnableAdaptiveSampling:          true,
		AddAutoCollectedMetricExtractor: true,
		EnableHeartbeat:                 true,
		Modules: ModuleOptions{
			DependencyTracking:   true,
			RequestTracking:      true,
			PerformanceCounters:  true,
			AppServicesHeartbeat: true,
			InstanceMetadata:     true,
			QuickPulse:           true,
			HeartbeatInterval:    15 * time.Minute,
			PerformanceInterval:  time.Minute,
		},
		Sampling: SamplingOptions{
			Settings:               sampling.DefaultSettings(),
			ExcludedTypes:          "Event",
			EventMaxItemsPerSecond: 5,
		},
		Correlation: CorrelationOptions{
			IDFormat: string(correlation.FormatW3C),
		},
		Channel: ChannelOptions{
			Type:          ChannelMemory,
			Capacity:      10000,
			MaxBatch:      500,
			FlushInterval: 5 * time.Second,
			SQLite:        SQLiteOptions{Path: defaultBufferPath()},
			OTel:          OTelOptions{Exporter: "console"},
		},
		Server: ServerOptions{
			Listen:          "127.0.0.1:8080",
			MetricsPath:     "/metrics",
			QuickPulsePath:  "/quickpulse",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogOptions{Level: "info"},
	}
}

// Load reads options from the YAML file at path on top of the defaults,
// applies environment overrides and validates the result. An empty path
// loads defaults and environment only.
func Load(path string) (*Options, error) {
	opts := Defaults()

	if path != "" {
		if err := opts.loadFromFile(path); err != nil {
			return nil, &beaconerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", path),
				Cause:  err,
			}
		}
	}

	if err := opts.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := opts.Validate(); err != nil {
		return nil, &beaconerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}
	return opts, nil
}

func (o *Options) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(o); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// ApplyEnv overrides options from BEACON_* environment variables.
func (o *Options) ApplyEnv() error {
	if val, ok := os.LookupEnv("BEACON_CONNECTION_STRING"); ok {
		o.ConnectionString = val
	}
	if val, ok := os.LookupEnv("BEACON_INSTRUMENTATION_KEY"); ok {
		o.InstrumentationKey = &val
	}
	if val, ok := os.LookupEnv("BEACON_ENDPOINT_ADDRESS"); ok {
		o.EndpointAddress = &val
	}
	if val := os.Getenv("BEACON_DEVELOPER_MODE"); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return &beaconerrors.ConfigError{Key: "BEACON_DEVELOPER_MODE", Reason: "must be a boolean", Cause: err}
		}
		o.DeveloperMode = &b
	}
	if val := os.Getenv("BEACON_ENABLE_ADAPTIVE_SAMPLING"); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return &beaconerrors.ConfigError{Key: "BEACON_ENABLE_ADAPTIVE_SAMPLING", Reason: "must be a boolean", Cause: err}
		}
		o.EnableAdaptiveSampling = b
	}
	if val := os.Getenv("BEACON_CHANNEL"); val != "" {
		o.Channel.Type = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		o.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		o.Log.Format = strings.ToLower(val)
	}
	return nil
}

// Validate checks the options and reports every problem found.
func (o *Options) Validate() error {
	var errs []string

	if o.ConnectionString != "" {
		if _, err := ParseConnectionString(o.ConnectionString); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if o.InstrumentationKey != nil && *o.InstrumentationKey != "" {
		if _, err := uuid.Parse(*o.InstrumentationKey); err != nil {
			errs = append(errs, fmt.Sprintf("instrumentation_key must be a GUID, got %q", *o.InstrumentationKey))
		}
	}

	if o.EnableAdaptiveSampling {
		if err := o.Sampling.Settings.Validate(); err != nil {
			errs = append(errs, "sampling: "+err.Error())
		}
		if o.Sampling.EventMaxItemsPerSecond <= 0 {
			errs = append(errs, "sampling.event_max_items_per_second must be positive")
		}
	}

	switch correlation.IDFormat(o.Correlation.IDFormat) {
	case correlation.FormatW3C, correlation.FormatHierarchical:
	default:
		errs = append(errs, fmt.Sprintf("correlation.id_format must be one of [w3c, hierarchical], got %q", o.Correlation.IDFormat))
	}

	switch o.Channel.Type {
	case ChannelMemory, ChannelOTel:
	case ChannelSQLite:
		if o.Channel.SQLite.Path == "" {
			errs = append(errs, "channel.sqlite.path is required for the sqlite channel")
		}
	default:
		errs = append(errs, fmt.Sprintf("channel.type must be one of [memory, sqlite, otel], got %q", o.Channel.Type))
	}
	if o.Channel.Capacity <= 0 {
		errs = append(errs, fmt.Sprintf("channel.capacity must be positive, got %d", o.Channel.Capacity))
	}
	if o.Channel.MaxBatch <= 0 {
		errs = append(errs, fmt.Sprintf("channel.max_batch must be positive, got %d", o.Channel.MaxBatch))
	}
	if o.Channel.FlushInterval <= 0 {
		errs = append(errs, fmt.Sprintf("channel.flush_interval must be positive, got %v", o.Channel.FlushInterval))
	}
	if o.Channel.Output != "" && o.Channel.Output != "stdout" {
		errs = append(errs, fmt.Sprintf("channel.output must be empty or stdout, got %q", o.Channel.Output))
	}
	if o.Channel.Type == ChannelOTel {
		switch o.Channel.OTel.Exporter {
		case "console", "":
		case "otlp", "otlp-http":
			if o.Channel.OTel.Endpoint == "" {
				errs = append(errs, "channel.otel.endpoint is required for OTLP exporters")
			}
		default:
			errs = append(errs, fmt.Sprintf("channel.otel.exporter must be one of [console, otlp, otlp-http], got %q", o.Channel.OTel.Exporter))
		}
	}

	if o.Server.Listen == "" {
		errs = append(errs, "server.listen is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[o.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [debug, info, warn, warning, error], got %q", o.Log.Level))
	}
	if o.Log.Format != "" && o.Log.Format != "json" && o.Log.Format != "text" {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", o.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

// ModuleFlags maps the module switches to registry flags.
func (o *Options) ModuleFlags() modules.Flags {
	return modules.Flags{
		modules.KindDependencyTracking:  o.Modules.DependencyTracking,
		modules.KindRequestTracking:     o.Modules.RequestTracking,
		modules.KindPerformanceCounters: o.Modules.PerformanceCounters,
		modules.KindHeartbeat:           o.Modules.AppServicesHeartbeat,
		modules.KindInstanceMetadata:    o.Modules.InstanceMetadata,
		modules.KindQuickPulse:          o.Modules.QuickPulse,
	}
}

// ResolverOptions returns the correlation resolver options.
func (o *Options) ResolverOptions() correlation.Options {
	return correlation.Options{
		IDFormat: correlation.IDFormat(o.Correlation.IDFormat),
		ParseCorrelationContextWithoutTraceHeaders: o.Correlation.ParseCorrelationContextWithoutTraceHeaders,
	}
}
