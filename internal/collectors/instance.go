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
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/tombee/beacon/internal/modules"
	"github.com/tombee/beacon/internal/pipeline"
)

// Instance metadata property names attached to heartbeats.
const (
	PropertyHostname  = "host.name"
	PropertyOS        = "host.os"
	PropertyArch      = "host.arch"
	PropertyCPUs      = "host.cpus"
	PropertyGoVersion = "runtime.version"
	PropertyPID       = "process.pid"
)

// InstanceMetadata reports facts about the host instance as heartbeat
// properties on every heartbeat module of the registry.
type InstanceMetadata struct {
	managers func() []modules.HeartbeatPropertyManager
	hostname func() (string, error)
	fields   map[string]string
}

// NewInstanceMetadata creates the module. managers usually is the
// HeartbeatManagers method of the module registry.
func NewInstanceMetadata(managers func() []modules.HeartbeatPropertyManager) *InstanceMetadata {
	return &InstanceMetadata{managers: managers, hostname: os.Hostname}
}

// Initialize implements pipeline.Module. It fails when no heartbeat module
// is registered.
func (m *InstanceMetadata) Initialize(*pipeline.Configuration) error {
	managers := m.managers()
	if len(managers) == 0 {
		return fmt.Errorf("no heartbeat module to attach instance metadata to")
	}

	m.fields = m.collect()
	for _, hb := range managers {
		for name, value := range m.fields {
			hb.AddHeartbeatProperty(name, value, true)
		}
	}
	return nil
}

// Fields returns the metadata gathered during Initialize.
func (m *InstanceMetadata) Fields() map[string]string {
	return m.fields
}

func (m *InstanceMetadata) collect() map[string]string {
	fields := map[string]string{
		PropertyOS:        runtime.GOOS,
		PropertyArch:      runtime.GOARCH,
		PropertyCPUs:      strconv.Itoa(runtime.NumCPU()),
		PropertyGoVersion: runtime.Version(),
		PropertyPID:       strconv.Itoa(os.Getpid()),
	}
	if host, err := m.hostname(); err == nil && host != "" {
		fields[PropertyHostname] = host
	}
	return fields
}

var _ pipeline.Module = (*InstanceMetadata)(nil)
