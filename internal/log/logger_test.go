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

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected default level 'info', got %q", cfg.Level)
	}
	if cfg.Format != FormatJSON {
		t.Errorf("expected default format 'json', got %q", cfg.Format)
	}
	if cfg.Output != os.Stderr {
		t.Errorf("expected default output to be os.Stderr")
	}
	if cfg.AddSource {
		t.Errorf("expected default AddSource to be false")
	}
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name       string
		envVars    map[string]string
		wantLevel  string
		wantFormat Format
		wantSource bool
	}{
		{
			name:       "defaults when no env vars",
			envVars:    map[string]string{},
			wantLevel:  "info",
			wantFormat: FormatJSON,
		},
		{
			name:       "LOG_LEVEL is lowercased",
			envVars:    map[string]string{"LOG_LEVEL": "DEBUG"},
			wantLevel:  "debug",
			wantFormat: FormatJSON,
		},
		{
			name:       "BEACON_LOG_LEVEL wins over LOG_LEVEL",
			envVars:    map[string]string{"LOG_LEVEL": "warn", "BEACON_LOG_LEVEL": "trace"},
			wantLevel:  "trace",
			wantFormat: FormatJSON,
		},
		{
			name:       "BEACON_DEBUG wins over everything",
			envVars:    map[string]string{"BEACON_DEBUG": "1", "BEACON_LOG_LEVEL": "error"},
			wantLevel:  "debug",
			wantFormat: FormatJSON,
			wantSource: true,
		},
		{
			name:       "text format with source",
			envVars:    map[string]string{"LOG_FORMAT": "TEXT", "LOG_SOURCE": "1"},
			wantLevel:  "info",
			wantFormat: FormatText,
			wantSource: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"BEACON_DEBUG", "BEACON_LOG_LEVEL", "LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE"} {
				t.Setenv(k, "")
			}
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := FromEnv()

			if cfg.Level != tt.wantLevel {
				t.Errorf("expected level %q, got %q", tt.wantLevel, cfg.Level)
			}
			if cfg.Format != tt.wantFormat {
				t.Errorf("expected format %q, got %q", tt.wantFormat, cfg.Format)
			}
			if cfg.AddSource != tt.wantSource {
				t.Errorf("expected AddSource %v, got %v", tt.wantSource, cfg.AddSource)
			}
		})
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})

	WithComponent(logger, "sampling").Info("percentage changed", "new", 50.0)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON output, got error: %v", err)
	}
	if entry["msg"] != "percentage changed" {
		t.Errorf("unexpected msg: %v", entry["msg"])
	}
	if entry[ComponentKey] != "sampling" {
		t.Errorf("expected component field, got: %v", entry[ComponentKey])
	}
	if entry["new"] != 50.0 {
		t.Errorf("expected new=50, got: %v", entry["new"])
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatText, Output: &buf})

	WithModule(WithOperation(logger, "abc123"), "quickpulse").Warn("module skipped")

	output := buf.String()
	for _, want := range []string{"module skipped", "operation_id=abc123", "module=quickpulse", "level=WARN"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected output to contain %q, got: %s", want, output)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"trace":   LevelTrace,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestTraceLevel(t *testing.T) {
	var buf bytes.Buffer

	Trace(New(&Config{Level: "debug", Output: &buf}), "hidden", String("k", "v"))
	if buf.Len() != 0 {
		t.Errorf("trace record should be filtered at debug level, got: %s", buf.String())
	}

	Trace(New(&Config{Level: "trace", Output: &buf}), "shown", String("k", "v"))
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("trace record should be written at trace level, got: %s", buf.String())
	}
}

func TestErrorAttr(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Output: &buf})
	logger.LogAttrs(context.Background(), slog.LevelError, "failed", Error(errors.New("boom")))

	if !strings.Contains(buf.String(), `"error":"boom"`) {
		t.Errorf("expected error attribute, got: %s", buf.String())
	}
}

func TestNilConfigAndLogger(t *testing.T) {
	if New(nil) == nil {
		t.Fatal("New(nil) should return a logger")
	}
	if OrDefault(nil) != slog.Default() {
		t.Error("OrDefault(nil) should return slog.Default()")
	}
}

func TestLimited(t *testing.T) {
	var buf bytes.Buffer
	limited := NewLimited(New(&Config{Output: &buf}), time.Hour, 2)

	results := []bool{
		limited.Warn("ChannelBufferFull", "dropped item"),
		limited.Warn("ChannelBufferFull", "dropped item"),
		limited.Warn("ChannelBufferFull", "dropped item"),
		limited.Warn("InitializerPanic", "initializer panicked"),
	}
	want := []bool{true, true, false, true}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("call %d: got %v, want %v", i, results[i], want[i])
		}
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 records, got %d: %s", len(lines), buf.String())
	}
	if !strings.Contains(lines[2], `"event":"InitializerPanic"`) {
		t.Errorf("expected event key on record, got: %s", lines[2])
	}
}
