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

package pipeline

import (
	"sync"
)

// ApplicationIDProvider maps an instrumentation key to the application id
// exchanged in Request-Context headers.
type ApplicationIDProvider interface {
	ApplicationID(instrumentationKey string) (string, bool)
}

// DictionaryApplicationIDProvider resolves application ids from a fixed map.
type DictionaryApplicationIDProvider struct {
	mu  sync.RWMutex
	ids map[string]string
}

// NewDictionaryApplicationIDProvider creates a provider seeded with ids.
func NewDictionaryApplicationIDProvider(ids map[string]string) *DictionaryApplicationIDProvider {
	p := &DictionaryApplicationIDProvider{ids: make(map[string]string, len(ids))}
	for k, v := range ids {
		p.ids[k] = v
	}
	return p
}

// Set maps an instrumentation key to an application id.
func (p *DictionaryApplicationIDProvider) Set(instrumentationKey, appID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids[instrumentationKey] = appID
}

// ApplicationID implements ApplicationIDProvider.
func (p *DictionaryApplicationIDProvider) ApplicationID(instrumentationKey string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.ids[instrumentationKey]
	return id, ok
}
