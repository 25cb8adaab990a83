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
	"context"
)

// Processor is one stage of a processing chain. Implementations either
// forward the item to the next stage or drop it by returning without
// forwarding. Process is called concurrently and must not block on I/O.
type Processor interface {
	Process(item Item)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(item Item)

// Process implements Processor.
func (f ProcessorFunc) Process(item Item) {
	f(item)
}

// ProcessorFactory creates a stage that wraps next.
type ProcessorFactory func(next Processor) Processor

// Initializer stamps context onto an item before it enters the chain.
type Initializer interface {
	Initialize(ctx context.Context, item Item)
}

// InitializerFunc adapts a function to the Initializer interface.
type InitializerFunc func(ctx context.Context, item Item)

// Initialize implements Initializer.
func (f InitializerFunc) Initialize(ctx context.Context, item Item) {
	f(ctx, item)
}

// Channel buffers items and transmits them asynchronously.
type Channel interface {
	// Send enqueues an item. It never blocks on I/O.
	Send(item Item)

	// Flush transmits everything buffered so far.
	Flush(ctx context.Context) error

	// SetDeveloperMode toggles immediate transmission.
	SetDeveloperMode(enabled bool)

	// SetEndpointAddress overrides the ingestion endpoint.
	SetEndpointAddress(address string)

	// Close flushes and releases resources.
	Close() error
}
