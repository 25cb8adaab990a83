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

import (
	"github.com/tombee/beacon/internal/pipeline"
	beaconerrors "github.com/tombee/beacon/pkg/errors"
)

// Configurator adjusts the module registered under Kind before activation.
type Configurator struct {
	Kind      Kind
	Configure func(m pipeline.Module) error
}

// Apply runs c against its target module. It returns ErrModuleNotFound when
// no module of that kind is registered.
func (r *Registry) Apply(c Configurator) error {
	m, ok := r.Lookup(c.Kind)
	if !ok {
		return beaconerrors.Wrapf(beaconerrors.ErrModuleNotFound, "configure %s", c.Kind)
	}
	if c.Configure == nil {
		return nil
	}
	if err := c.Configure(m); err != nil {
		return beaconerrors.Wrapf(err, "configure %s", c.Kind)
	}
	return nil
}
