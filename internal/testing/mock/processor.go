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

package mock

import (
	"sync"

	"github.com/tombee/beacon/pkg/telemetry"
)

// Trail records the order in which named stages saw items.
type Trail struct {
	mu    sync.Mutex
	names []string
}

// Names returns the recorded stage names.
func (t *Trail) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

func (t *Trail) add(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.names = append(t.names, name)
}

// Stage returns a factory for a stage that records its name in trail and
// forwards to next.
func Stage(name string, trail *Trail) telemetry.ProcessorFactory {
	return func(next telemetry.Processor) telemetry.Processor {
		return &NamedProcessor{Name: name, next: next, trail: trail}
	}
}

// Drop returns a factory for a stage that discards every item.
func Drop(name string, trail *Trail) telemetry.ProcessorFactory {
	return func(telemetry.Processor) telemetry.Processor {
		return &NamedProcessor{Name: name, trail: trail}
	}
}

// NamedProcessor is a recording stage produced by Stage or Drop.
type NamedProcessor struct {
	Name  string
	next  telemetry.Processor
	trail *Trail
}

// Process implements telemetry.Processor.
func (p *NamedProcessor) Process(item telemetry.Item) {
	if p.trail != nil {
		p.trail.add(p.Name)
	}
	if p.next != nil {
		p.next.Process(item)
	}
}
