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
	"net/url"
	"strings"

	"github.com/google/uuid"

	beaconerrors "github.com/tombee/beacon/pkg/errors"
)

// TrackPath is appended to an ingestion endpoint to form the endpoint address.
const TrackPath = "v2/track"

// ConnectionString is a parsed connection string.
type ConnectionString struct {
	InstrumentationKey string
	IngestionEndpoint  string
}

// EndpointAddress returns the track endpoint of the ingestion endpoint, or
// an empty string when none was given.
func (c ConnectionString) EndpointAddress() string {
	if c.IngestionEndpoint == "" {
		return ""
	}
	return strings.TrimSuffix(c.IngestionEndpoint, "/") + "/" + TrackPath
}

// ParseConnectionString parses "Key=Value;Key=Value". Keys are case
// insensitive and may not repeat. InstrumentationKey is required and must
// be a GUID; IngestionEndpoint, when present, must be an absolute URL.
// Unknown keys are ignored.
func ParseConnectionString(raw string) (ConnectionString, error) {
	var cs ConnectionString
	seen := make(map[string]bool)

	for _, segment := range strings.Split(raw, ";") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		key, value, ok := strings.Cut(segment, "=")
		key, value = strings.ToLower(strings.TrimSpace(key)), strings.TrimSpace(value)
		if !ok || key == "" {
			return ConnectionString{}, fmt.Errorf("%w: malformed segment %q", beaconerrors.ErrInvalidConnectionString, segment)
		}
		if seen[key] {
			return ConnectionString{}, fmt.Errorf("%w: duplicate key %q", beaconerrors.ErrInvalidConnectionString, key)
		}
		seen[key] = true

		switch key {
		case "instrumentationkey":
			cs.InstrumentationKey = value
		case "ingestionendpoint":
			cs.IngestionEndpoint = value
		}
	}

	if cs.InstrumentationKey == "" {
		return ConnectionString{}, fmt.Errorf("%w: InstrumentationKey is required", beaconerrors.ErrInvalidConnectionString)
	}
	if _, err := uuid.Parse(cs.InstrumentationKey); err != nil {
		return ConnectionString{}, fmt.Errorf("%w: InstrumentationKey must be a GUID", beaconerrors.ErrInvalidConnectionString)
	}
	if cs.IngestionEndpoint != "" {
		u, err := url.Parse(cs.IngestionEndpoint)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return ConnectionString{}, fmt.Errorf("%w: IngestionEndpoint must be an absolute URL", beaconerrors.ErrInvalidConnectionString)
		}
	}
	return cs, nil
}
