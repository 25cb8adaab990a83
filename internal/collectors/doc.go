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

// Package collectors provides the auto-collection modules: request and
// dependency tracking for net/http, Go runtime performance counters,
// heartbeats and instance metadata.
//
// Every collector is a pipeline.Module registered under its well-known
// module kind. A collector does nothing until it has been initialized
// with a configuration, so an unactivated collector passes traffic
// through untouched.
package collectors
