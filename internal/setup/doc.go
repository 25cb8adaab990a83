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

/*
Package setup runs the one-time telemetry configuration pass.

The Orchestrator applies options to a pipeline.Configuration in a fixed
order: instrumentation key and connection string, module configurators,
external processor factories, the channel, the built-in chain stages,
chain sealing, developer mode and endpoint overrides, initializers,
module activation, stage initialization and finally the application id
provider.

The pass never panics and never returns an error to the host. Failures
stop the pass, leave the configuration as far as it got and are reported
in the Result together with every diagnostic raised on the way:

	res := setup.New(cfg, logger).Configure(setup.Input{
	    Options:  opts,
	    Registry: registry,
	})
	if !res.OK() {
	    // telemetry is degraded; the application keeps running
	}

# Stack

NewStack wires a complete configuration from options: the metrics
provider stages, the standard collectors, live metrics and the channel
selected by the options. The serve command builds one stack per options
file revision.
*/
package setup
