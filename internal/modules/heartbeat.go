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

package modules

// HeartbeatPropertyManager is implemented by modules that emit periodic
// heartbeat telemetry.
type HeartbeatPropertyManager interface {
	// SetHeartbeatEnabled turns heartbeat emission on or off.
	SetHeartbeatEnabled(enabled bool)

	// HeartbeatEnabled reports whether heartbeats are emitted.
	HeartbeatEnabled() bool

	// AddHeartbeatProperty adds a property to every heartbeat. It returns
	// false when the name is already in use.
	AddHeartbeatProperty(name, value string, healthy bool) bool
}

// HeartbeatManagers returns every registered module that manages heartbeats.
func (r *Registry) HeartbeatManagers() []HeartbeatPropertyManager {
	var out []HeartbeatPropertyManager
	for _, e := range r.Entries() {
		if hb, ok := e.Module.(HeartbeatPropertyManager); ok {
			out = append(out, hb)
		}
	}
	return out
}

// DisableHeartbeat turns heartbeats off on every heartbeat manager and
// returns how many were found.
func (r *Registry) DisableHeartbeat() int {
	managers := r.HeartbeatManagers()
	for _, hb := range managers {
		hb.SetHeartbeatEnabled(false)
	}
	return len(managers)
}
