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

package quickpulse

import (
	"sync/atomic"

	"github.com/tombee/beacon/pkg/telemetry"
)

// counters accumulates live metrics between two collections.
type counters struct {
	requests           atomic.Int64
	failedRequests     atomic.Int64
	requestDurationUs  atomic.Int64
	dependencies       atomic.Int64
	failedDependencies atomic.Int64
	dependencyDurUs    atomic.Int64
	exceptions         atomic.Int64
	events             atomic.Int64
}

// Processor is the chain stage that mirrors items into the live metrics
// stream. It never drops items.
type Processor struct {
	next telemetry.Processor
	c    counters
}

// NewProcessor creates a stage forwarding to next.
func NewProcessor(next telemetry.Processor) *Processor {
	return &Processor{next: next}
}

// Process implements telemetry.Processor.
func (p *Processor) Process(item telemetry.Item) {
	switch v := item.(type) {
	case *telemetry.Request:
		p.c.requests.Add(1)
		p.c.requestDurationUs.Add(v.Duration.Microseconds())
		if !v.Success {
			p.c.failedRequests.Add(1)
		}
	case *telemetry.Dependency:
		p.c.dependencies.Add(1)
		p.c.dependencyDurUs.Add(v.Duration.Microseconds())
		if !v.Success {
			p.c.failedDependencies.Add(1)
		}
	case *telemetry.Exception:
		p.c.exceptions.Add(1)
	case *telemetry.Event:
		p.c.events.Add(1)
	}
	p.next.Process(item)
}

// drain returns the accumulated counts and resets them.
func (p *Processor) drain() Sample {
	return Sample{
		Requests:             p.c.requests.Swap(0),
		FailedRequests:       p.c.failedRequests.Swap(0),
		RequestDurationMs:    float64(p.c.requestDurationUs.Swap(0)) / 1000,
		Dependencies:         p.c.dependencies.Swap(0),
		FailedDependencies:   p.c.failedDependencies.Swap(0),
		DependencyDurationMs: float64(p.c.dependencyDurUs.Swap(0)) / 1000,
		Exceptions:           p.c.exceptions.Swap(0),
		Events:               p.c.events.Swap(0),
	}
}

var _ telemetry.Processor = (*Processor)(nil)
