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

package channel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tombee/beacon/internal/log"
	"github.com/tombee/beacon/internal/pipeline"
	"github.com/tombee/beacon/pkg/telemetry"
)

// MemoryChannelName labels the in-memory channel in logs and metrics.
const MemoryChannelName = "memory"

// MemoryConfig configures an InMemoryChannel.
type MemoryConfig struct {
	// Capacity bounds the buffer. Items sent to a full buffer are dropped.
	Capacity int

	// MaxBatch is the largest batch handed to the transmitter. Reaching it
	// triggers an early flush.
	MaxBatch int

	// FlushInterval is the period of the background flush.
	FlushInterval time.Duration

	// Transmitter receives the batches. Defaults to an HTTPTransmitter on
	// the default endpoint.
	Transmitter Transmitter

	// Counter counts dropped items. Optional.
	Counter DropCounter

	Logger *slog.Logger
}

// DefaultMemoryConfig returns the default in-memory channel settings.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Capacity:      10000,
		MaxBatch:      500,
		FlushInterval: 5 * time.Second,
	}
}

// InMemoryChannel buffers records in memory and transmits them from a
// background loop. It is the fallback channel of a configuration.
type InMemoryChannel struct {
	cfg         MemoryConfig
	logger      *slog.Logger
	warn        *log.Limited
	buf         *buffer
	loop        *loop
	transmitter Transmitter

	developerMode atomic.Bool
	sendMu        sync.Mutex
	closeOnce     sync.Once
	closeErr      error
}

// NewInMemoryChannel creates an in-memory channel. The background loop
// starts when the channel is initialized as a module.
func NewInMemoryChannel(cfg MemoryConfig) *InMemoryChannel {
	def := DefaultMemoryConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = def.MaxBatch
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.Transmitter == nil {
		cfg.Transmitter = NewHTTPTransmitter("", nil)
	}

	logger := log.WithComponent(log.OrDefault(cfg.Logger), "channel").With("channel", MemoryChannelName)
	warn := log.NewLimited(logger, time.Minute, 1)
	c := &InMemoryChannel{
		cfg:         cfg,
		logger:      logger,
		warn:        warn,
		buf:         newBuffer(MemoryChannelName, cfg.Capacity, cfg.Counter, warn),
		transmitter: cfg.Transmitter,
	}
	c.loop = newLoop(cfg.FlushInterval, c.backgroundFlush)
	return c
}

// Initialize starts the background flush loop.
func (c *InMemoryChannel) Initialize(*pipeline.Configuration) error {
	c.loop.start()
	return nil
}

// Send implements telemetry.Channel.
func (c *InMemoryChannel) Send(item telemetry.Item) {
	n, ok := c.buf.push(Encode(item))
	if !ok {
		return
	}
	if c.developerMode.Load() || n >= c.cfg.MaxBatch {
		c.loop.trigger()
	}
}

// Len returns the number of buffered records.
func (c *InMemoryChannel) Len() int {
	return c.buf.len()
}

// Flush implements telemetry.Channel. Records of a failed batch are put
// back for the next attempt.
func (c *InMemoryChannel) Flush(ctx context.Context) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := c.buf.take(c.cfg.MaxBatch)
		if len(batch) == 0 {
			return nil
		}
		if err := c.transmitter.Transmit(ctx, batch); err != nil {
			c.buf.requeue(batch)
			return err
		}
		c.logger.Debug("transmitted batch", "records", len(batch))
	}
}

func (c *InMemoryChannel) backgroundFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FlushInterval+30*time.Second)
	defer cancel()
	if err := c.Flush(ctx); err != nil {
		c.warn.Warn("ChannelTransmitFailure", "failed to transmit telemetry", log.Error(err))
	}
}

// SetDeveloperMode implements telemetry.Channel. In developer mode every
// Send triggers a flush.
func (c *InMemoryChannel) SetDeveloperMode(enabled bool) {
	c.developerMode.Store(enabled)
}

// DeveloperMode reports whether developer mode is on.
func (c *InMemoryChannel) DeveloperMode() bool {
	return c.developerMode.Load()
}

// SetEndpointAddress implements telemetry.Channel.
func (c *InMemoryChannel) SetEndpointAddress(address string) {
	if es, ok := c.transmitter.(endpointSetter); ok {
		es.SetEndpoint(address)
	}
}

// Close stops the loop, flushes what is left and closes the transmitter.
func (c *InMemoryChannel) Close() error {
	c.closeOnce.Do(func() {
		c.loop.halt()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := c.Flush(ctx)
		if closer, ok := c.transmitter.(io.Closer); ok {
			err = errors.Join(err, closer.Close())
		}
		c.closeErr = err
	})
	return c.closeErr
}

var (
	_ telemetry.Channel = (*InMemoryChannel)(nil)
	_ pipeline.Module   = (*InMemoryChannel)(nil)
)
