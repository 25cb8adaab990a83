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
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Starter is the subset of Options written by "beacon config init". Every
// field decodes back into Options.
type Starter struct {
	ConnectionString       string         `yaml:"connection_string,omitempty"`
	EnableAdaptiveSampling bool           `yaml:"enable_adaptive_sampling"`
	Channel                StarterChannel `yaml:"channel"`
}

// StarterChannel is the channel part of Starter.
type StarterChannel struct {
	Type   string         `yaml:"type"`
	Output string         `yaml:"output,omitempty"`
	SQLite *SQLiteOptions `yaml:"sqlite,omitempty"`
	OTel   *StarterOTel   `yaml:"otel,omitempty"`
}

// StarterOTel is the otel channel part of Starter.
type StarterOTel struct {
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint,omitempty"`
	Insecure bool   `yaml:"insecure,omitempty"`
}

// Apply copies s onto a copy of the defaults and validates the result.
func (s Starter) Apply() (*Options, error) {
	opts := Defaults()
	opts.ConnectionString = s.ConnectionString
	opts.EnableAdaptiveSampling = s.EnableAdaptiveSampling
	opts.Channel.Type = s.Channel.Type
	opts.Channel.Output = s.Channel.Output
	if s.Channel.SQLite != nil {
		opts.Channel.SQLite = *s.Channel.SQLite
	}
	if s.Channel.OTel != nil {
		opts.Channel.OTel.Exporter = s.Channel.OTel.Exporter
		opts.Channel.OTel.Endpoint = s.Channel.OTel.Endpoint
		opts.Channel.OTel.Insecure = s.Channel.OTel.Insecure
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// Save writes s to path atomically. The directory is created with 0700 and
// the file with 0600 since connection strings are credentials.
func Save(path string, s Starter) error {
	if _, err := s.Apply(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}
