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

// Package pipeline assembles telemetry processing chains and holds the
// runtime configuration that items flow through on their way to a channel.
package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"

	beaconerrors "github.com/tombee/beacon/pkg/errors"
	"github.com/tombee/beacon/pkg/telemetry"
)

// Chain is a sealed, immutable sequence of processors. The zero value is
// not usable; chains are produced by Builder.Build.
type Chain struct {
	head   telemetry.Processor
	stages []telemetry.Processor
}

// Process runs item through the chain.
func (c *Chain) Process(item telemetry.Item) {
	c.head.Process(item)
}

// Stages returns the stages in execution order, excluding the terminal.
func (c *Chain) Stages() []telemetry.Processor {
	out := make([]telemetry.Processor, len(c.stages))
	copy(out, c.stages)
	return out
}

// Len returns the number of stages.
func (c *Chain) Len() int {
	return len(c.stages)
}

// Builder collects processor factories and folds them into a Chain ending
// in a terminal processor. Stages execute in registration order.
type Builder struct {
	mu        sync.Mutex
	terminal  telemetry.Processor
	factories []telemetry.ProcessorFactory
	chain     atomic.Pointer[Chain]
}

// NewBuilder creates a builder whose chain ends in terminal.
func NewBuilder(terminal telemetry.Processor) *Builder {
	return &Builder{terminal: terminal}
}

// Use appends a stage. It returns ErrChainSealed once Build has succeeded.
func (b *Builder) Use(factory telemetry.ProcessorFactory) error {
	if factory == nil {
		return beaconerrors.ErrNilProcessor
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.chain.Load() != nil {
		return beaconerrors.ErrChainSealed
	}
	b.factories = append(b.factories, factory)
	return nil
}

// Build seals the builder and returns the chain. Factories are applied from
// last to first so each receives the stage that follows it. Calling Build
// again returns the same chain. A factory returning nil fails the build and
// leaves the builder unsealed.
func (b *Builder) Build() (*Chain, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c := b.chain.Load(); c != nil {
		return c, nil
	}

	stages := make([]telemetry.Processor, len(b.factories))
	next := b.terminal
	for i := len(b.factories) - 1; i >= 0; i-- {
		p := b.factories[i](next)
		if p == nil {
			return nil, fmt.Errorf("stage %d: %w", i, beaconerrors.ErrNilProcessor)
		}
		stages[i] = p
		next = p
	}

	c := &Chain{head: next, stages: stages}
	b.chain.Store(c)
	return c, nil
}

// Sealed reports whether Build has succeeded.
func (b *Builder) Sealed() bool {
	return b.chain.Load() != nil
}

// Chain returns the sealed chain, or nil before Build.
func (b *Builder) Chain() *Chain {
	return b.chain.Load()
}

// Process runs item through the sealed chain, or straight to the terminal
// when the builder has not been built.
func (b *Builder) Process(item telemetry.Item) {
	if c := b.chain.Load(); c != nil {
		c.Process(item)
		return
	}
	b.terminal.Process(item)
}
