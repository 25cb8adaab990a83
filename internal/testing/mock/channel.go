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

// Package mock provides in-memory telemetry doubles for tests.
package mock

import (
	"context"
	"sync"

	"github.com/tombee/beacon/pkg/telemetry"
)

// Channel is a telemetry.Channel that records everything sent to it.
type Channel struct {
	mu            sync.Mutex
	items         []telemetry.Item
	flushes       int
	closes        int
	developerMode bool
	endpoint      string

	// FlushErr is returned from Flush when set.
	FlushErr error

	// CloseErr is returned from Close when set.
	CloseErr error
}

// NewChannel creates an empty recording channel.
func NewChannel() *Channel {
	return &Channel{}
}

// Send implements telemetry.Channel.
func (c *Channel) Send(item telemetry.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, item)
}

// Flush implements telemetry.Channel.
func (c *Channel) Flush(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushes++
	return c.FlushErr
}

// SetDeveloperMode implements telemetry.Channel.
func (c *Channel) SetDeveloperMode(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.developerMode = enabled
}

// SetEndpointAddress implements telemetry.Channel.
func (c *Channel) SetEndpointAddress(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoint = address
}

// Close implements telemetry.Channel.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return c.CloseErr
}

// Items returns a copy of the recorded items.
func (c *Channel) Items() []telemetry.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]telemetry.Item, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of recorded items.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Flushes returns how many times Flush was called.
func (c *Channel) Flushes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushes
}

// Closes returns how many times Close was called.
func (c *Channel) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// DeveloperMode returns the last developer mode applied.
func (c *Channel) DeveloperMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.developerMode
}

// EndpointAddress returns the last endpoint applied.
func (c *Channel) EndpointAddress() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

var _ telemetry.Channel = (*Channel)(nil)
