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

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/beacon/internal/modules"
	beaconerrors "github.com/tombee/beacon/pkg/errors"
)

const testIKey = "11111111-2222-3333-4444-555555555555"

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "beacon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	opts := Defaults()
	require.NoError(t, opts.Validate())
	assert.True(t, opts.EnableAdaptiveSampling)
	assert.True(t, opts.EnableHeartbeat)
	assert.Nil(t, opts.DeveloperMode)
	assert.Nil(t, opts.EndpointAddress)
	assert.Equal(t, "Event", opts.Sampling.ExcludedTypes)
	assert.Equal(t, 5.0, opts.Sampling.MaxItemsPerSecond)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
connection_string: "InstrumentationKey=`+testIKey+`;IngestionEndpoint=https://ingest.example.com/"
developer_mode: true
enable_heartbeat: false
modules:
  quickpulse: false
sampling:
  max_items_per_second: 20
  evaluation_interval: 30s
correlation:
  id_format: hierarchical
channel:
  type: sqlite
  sqlite:
    path: /tmp/buffer.db
`)

	opts, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, opts.DeveloperMode)
	assert.True(t, *opts.DeveloperMode)
	assert.False(t, opts.EnableHeartbeat)
	assert.False(t, opts.Modules.QuickPulse)
	assert.True(t, opts.Modules.RequestTracking)
	assert.Equal(t, 20.0, opts.Sampling.MaxItemsPerSecond)
	assert.Equal(t, 30*time.Second, opts.Sampling.EvaluationInterval)
	assert.Equal(t, 0.25, opts.Sampling.MovingAverageRatio)
	assert.Equal(t, "hierarchical", opts.Correlation.IDFormat)
	assert.Equal(t, ChannelSQLite, opts.Channel.Type)
	assert.Equal(t, "/tmp/buffer.db", opts.Channel.SQLite.Path)
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	path := writeFile(t, "enable_sampling: true\n")
	_, err := Load(path)
	require.Error(t, err)

	var cfgErr *beaconerrors.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "config_file", cfgErr.Key)
}

func TestLoad_EmptyFile(t *testing.T) {
	opts, err := Load(writeFile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, ChannelMemory, opts.Channel.Type)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("BEACON_CONNECTION_STRING", "InstrumentationKey="+testIKey)
	t.Setenv("BEACON_INSTRUMENTATION_KEY", testIKey)
	t.Setenv("BEACON_DEVELOPER_MODE", "true")
	t.Setenv("BEACON_ENDPOINT_ADDRESS", "https://override.example.com/v2/track")
	t.Setenv("BEACON_ENABLE_ADAPTIVE_SAMPLING", "false")
	t.Setenv("BEACON_CHANNEL", "OTEL")

	opts := Defaults()
	require.NoError(t, opts.ApplyEnv())
	assert.Equal(t, "InstrumentationKey="+testIKey, opts.ConnectionString)
	require.NotNil(t, opts.InstrumentationKey)
	assert.Equal(t, testIKey, *opts.InstrumentationKey)
	require.NotNil(t, opts.DeveloperMode)
	assert.True(t, *opts.DeveloperMode)
	require.NotNil(t, opts.EndpointAddress)
	assert.Equal(t, "https://override.example.com/v2/track", *opts.EndpointAddress)
	assert.False(t, opts.EnableAdaptiveSampling)
	assert.Equal(t, ChannelOTel, opts.Channel.Type)
}

func TestApplyEnv_InvalidBool(t *testing.T) {
	t.Setenv("BEACON_DEVELOPER_MODE", "sometimes")
	err := Defaults().ApplyEnv()

	var cfgErr *beaconerrors.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "BEACON_DEVELOPER_MODE", cfgErr.Key)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
		want   string
	}{
		{"bad channel", func(o *Options) { o.Channel.Type = "kafka" }, "channel.type"},
		{"bad id format", func(o *Options) { o.Correlation.IDFormat = "uuid" }, "correlation.id_format"},
		{"bad sampling", func(o *Options) { o.Sampling.MaxItemsPerSecond = -1 }, "max_items_per_second"},
		{"bad ikey", func(o *Options) { k := "not-a-guid"; o.InstrumentationKey = &k }, "instrumentation_key"},
		{"bad connection string", func(o *Options) { o.ConnectionString = "nonsense" }, "invalid connection string"},
		{"otlp without endpoint", func(o *Options) {
			o.Channel.Type = ChannelOTel
			o.Channel.OTel.Exporter = "otlp"
		}, "channel.otel.endpoint"},
		{"bad log level", func(o *Options) { o.Log.Level = "loud" }, "log.level"},
		{"zero capacity", func(o *Options) { o.Channel.Capacity = 0 }, "channel.capacity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := Defaults()
			tt.modify(opts)
			err := opts.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_SamplingIgnoredWhenDisabled(t *testing.T) {
	opts := Defaults()
	opts.EnableAdaptiveSampling = false
	opts.Sampling.MaxItemsPerSecond = -1
	assert.NoError(t, opts.Validate())
}

func TestModuleFlags(t *testing.T) {
	opts := Defaults()
	opts.Modules.PerformanceCounters = false
	flags := opts.ModuleFlags()

	assert.False(t, flags.Enabled(modules.KindPerformanceCounters))
	for _, k := range modules.WellKnown {
		if k != modules.KindPerformanceCounters {
			assert.True(t, flags.Enabled(k), k)
		}
	}
}

func TestParseConnectionString(t *testing.T) {
	cs, err := ParseConnectionString("instrumentationkey=" + testIKey + "; IngestionEndpoint=https://ingest.example.com/ ;Extra=1;")
	require.NoError(t, err)
	assert.Equal(t, testIKey, cs.InstrumentationKey)
	assert.Equal(t, "https://ingest.example.com/v2/track", cs.EndpointAddress())

	cs, err = ParseConnectionString("InstrumentationKey=" + testIKey)
	require.NoError(t, err)
	assert.Empty(t, cs.EndpointAddress())
}

func TestParseConnectionString_Invalid(t *testing.T) {
	tests := map[string]string{
		"empty":             "",
		"no ikey":           "IngestionEndpoint=https://x.example.com",
		"not a guid":        "InstrumentationKey=abc",
		"no equals":         "InstrumentationKey",
		"duplicate":         "InstrumentationKey=" + testIKey + ";instrumentationKey=" + testIKey,
		"relative endpoint": "InstrumentationKey=" + testIKey + ";IngestionEndpoint=/v2",
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConnectionString(raw)
			assert.ErrorIs(t, err, beaconerrors.ErrInvalidConnectionString)
		})
	}
}

func TestConfigDir_XDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
	t.Setenv("XDG_DATA_HOME", "/xdg/data")

	dir, err := ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, "/xdg/config/beacon", dir)

	path, err := ConfigPath()
	require.NoError(t, err)
	assert.Equal(t, "/xdg/config/beacon/config.yaml", path)

	data, err := DataDir()
	require.NoError(t, err)
	assert.Equal(t, "/xdg/data/beacon", data)
}
