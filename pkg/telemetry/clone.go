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

package telemetry

import (
	"maps"
)

// Clone returns a deep copy of item so that independent sinks can mutate
// their own copy. Unknown Item implementations are returned unchanged.
func Clone(item Item) Item {
	switch v := item.(type) {
	case *Request:
		c := *v
		c.Envelope = v.Envelope.clone()
		return &c
	case *Dependency:
		c := *v
		c.Envelope = v.Envelope.clone()
		return &c
	case *Event:
		c := *v
		c.Envelope = v.Envelope.clone()
		return &c
	case *Metric:
		c := *v
		c.Envelope = v.Envelope.clone()
		return &c
	case *Trace:
		c := *v
		c.Envelope = v.Envelope.clone()
		return &c
	case *Exception:
		c := *v
		c.Envelope = v.Envelope.clone()
		return &c
	default:
		return item
	}
}

func (e Envelope) clone() Envelope {
	e.Properties = maps.Clone(e.Properties)
	return e
}
