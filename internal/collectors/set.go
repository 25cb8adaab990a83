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
	"time"

	"github.com/tombee/beacon/internal/correlation"
	"github.com/tombee/beacon/internal/modules"
)

// SetOptions configures the standard collectors.
type SetOptions struct {
	Correlation         correlation.Options
	Transport           http.RoundTripper
	HeartbeatInterval   time.Duration
	PerformanceInterval time.Duration
	Logger              *slog.Logger
}

// Set holds one instance of every standard collector.
type Set struct {
	Requests     *RequestTracking
	Dependencies *DependencyTracking
	Performance  *PerformanceCounters
	Heartbeat    *Heartbeat
	Instance     *InstanceMetadata
}

// NewSet creates the standard collectors. The instance metadata module
// attaches to the heartbeat modules of the registry it is registered with.
func NewSet(opts SetOptions) *Set {
	if opts.Correlation.Logger == nil {
		opts.Correlation.Logger = opts.Logger
	}
	return &Set{
		Requests:     NewRequestTracking(opts.Correlation),
		Dependencies: NewDependencyTracking(opts.Transport),
		Performance:  NewPerformanceCounters(PerformanceCountersConfig{Interval: opts.PerformanceInterval, Logger: opts.Logger}),
		Heartbeat:    NewHeartbeat(HeartbeatConfig{Interval: opts.HeartbeatInterval, Logger: opts.Logger}),
	}
}

// Register adds every collector to r under its well-known kind. Heartbeat
// is registered before instance metadata so that activation, which runs in
// registration order, initializes it first.
func (s *Set) Register(r *modules.Registry) error {
	s.Instance = NewInstanceMetadata(r.HeartbeatManagers)
	if err := r.Register(modules.KindRequestTracking, s.Requests); err != nil {
		return err
	}
	if err := r.Register(modules.KindDependencyTracking, s.Dependencies); err != nil {
		return err
	}
	if err := r.Register(modules.KindPerformanceCounters, s.Performance); err != nil {
		return err
	}
	if err := r.Register(modules.KindHeartbeat, s.Heartbeat); err != nil {
		return err
	}
	return r.Register(modules.KindInstanceMetadata, s.Instance)
}
