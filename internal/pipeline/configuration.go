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
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tombee/beacon/internal/log"
	beaconerrors "github.com/tombee/beacon/pkg/errors"
	"github.com/tombee/beacon/pkg/telemetry"
)

// DefaultSinkName names the sink every configuration starts with.
const DefaultSinkName = "default"

// Configuration is the runtime telemetry configuration: the instrumentation
// key, the initializers, the legacy processor chain that fans items out to
// sinks, and the sinks themselves. It is safe for concurrent use once set up.
type Configuration struct {
	mu                 sync.RWMutex
	instrumentationKey string
	connectionString   string
	endpointAddress    string
	developerMode      bool
	initializers       []telemetry.Initializer
	sinks              []*Sink
	appIDProvider      ApplicationIDProvider
	closers            []io.Closer

	defaultSink *Sink
	processors  *Builder
	sampling    map[telemetry.Kind]*atomic.Uint64

	logger    *slog.Logger
	limited   *log.Limited
	closeOnce sync.Once
	closeErr  error
}

// NewConfiguration creates an empty configuration with a default sink and
// no channel.
func NewConfiguration(logger *slog.Logger) *Configuration {
	logger = log.WithComponent(logger, "pipeline")
	c := &Configuration{
		defaultSink: NewSink(DefaultSinkName, nil),
		sampling:    make(map[telemetry.Kind]*atomic.Uint64, len(telemetry.Kinds)),
		logger:      logger,
		limited:     log.NewLimited(logger, time.Minute, 5),
	}
	c.sinks = []*Sink{c.defaultSink}
	c.processors = NewBuilder(telemetry.ProcessorFunc(c.fanOut))
	for _, k := range telemetry.Kinds {
		c.sampling[k] = new(atomic.Uint64)
	}
	return c
}

// Logger returns the configuration's logger.
func (c *Configuration) Logger() *slog.Logger {
	return c.logger
}

// InstrumentationKey returns the key stamped on items that lack one.
func (c *Configuration) InstrumentationKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.instrumentationKey
}

// SetInstrumentationKey sets the instrumentation key.
func (c *Configuration) SetInstrumentationKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instrumentationKey = key
}

// ConnectionString returns the raw connection string last applied.
func (c *Configuration) ConnectionString() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectionString
}

// SetConnectionString records the connection string and applies its
// instrumentation key and ingestion endpoint.
func (c *Configuration) SetConnectionString(raw, instrumentationKey, endpoint string) {
	c.mu.Lock()
	c.connectionString = raw
	if instrumentationKey != "" {
		c.instrumentationKey = instrumentationKey
	}
	c.mu.Unlock()
	if endpoint != "" {
		c.SetEndpointAddress(endpoint)
	}
}

// DeveloperMode reports whether developer mode is on.
func (c *Configuration) DeveloperMode() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.developerMode
}

// SetDeveloperMode toggles developer mode on every sink channel.
func (c *Configuration) SetDeveloperMode(enabled bool) {
	c.mu.Lock()
	c.developerMode = enabled
	c.mu.Unlock()
	for _, ch := range c.channels() {
		ch.SetDeveloperMode(enabled)
	}
}

// EndpointAddress returns the ingestion endpoint override, if any.
func (c *Configuration) EndpointAddress() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpointAddress
}

// SetEndpointAddress overrides the ingestion endpoint on every sink channel.
func (c *Configuration) SetEndpointAddress(address string) {
	c.mu.Lock()
	c.endpointAddress = address
	c.mu.Unlock()
	for _, ch := range c.channels() {
		ch.SetEndpointAddress(address)
	}
}

// DefaultSink returns the sink created with the configuration.
func (c *Configuration) DefaultSink() *Sink {
	return c.defaultSink
}

// Channel returns the default sink's channel.
func (c *Configuration) Channel() telemetry.Channel {
	return c.defaultSink.Channel()
}

// SetChannel installs the default sink's channel.
func (c *Configuration) SetChannel(ch telemetry.Channel) {
	c.defaultSink.SetChannel(ch)
}

// AddSink registers an additional sink that receives a copy of every item
// leaving the legacy chain. Sinks must be added before the legacy chain is
// built; afterwards ErrChainSealed is returned.
func (c *Configuration) AddSink(name string, ch telemetry.Channel) (*Sink, error) {
	if c.processors.Sealed() {
		return nil, beaconerrors.ErrChainSealed
	}
	s := NewSink(name, ch)
	c.mu.Lock()
	c.sinks = append(c.sinks, s)
	c.mu.Unlock()
	return s, nil
}

// Sinks returns the registered sinks, default first.
func (c *Configuration) Sinks() []*Sink {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Sink, len(c.sinks))
	copy(out, c.sinks)
	return out
}

// Processors returns the builder of the legacy chain that runs before items
// are fanned out to sinks.
func (c *Configuration) Processors() *Builder {
	return c.processors
}

// AddInitializer registers an initializer. Initializers run in order.
func (c *Configuration) AddInitializer(init telemetry.Initializer) {
	if init == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initializers = append(c.initializers, init)
}

// Initializers returns the registered initializers.
func (c *Configuration) Initializers() []telemetry.Initializer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]telemetry.Initializer, len(c.initializers))
	copy(out, c.initializers)
	return out
}

// ApplicationIDProvider returns the installed provider, or nil.
func (c *Configuration) ApplicationIDProvider() ApplicationIDProvider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.appIDProvider
}

// SetApplicationIDProvider installs the application id provider.
func (c *Configuration) SetApplicationIDProvider(p ApplicationIDProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appIDProvider = p
}

// ApplicationID resolves this application's id through the provider.
func (c *Configuration) ApplicationID() (string, bool) {
	p := c.ApplicationIDProvider()
	if p == nil {
		return "", false
	}
	return p.ApplicationID(c.InstrumentationKey())
}

// SetLastObservedSamplingPercentage records the most recent sampling
// percentage applied to a kind.
func (c *Configuration) SetLastObservedSamplingPercentage(kind telemetry.Kind, percentage float64) {
	if v, ok := c.sampling[kind]; ok {
		v.Store(math.Float64bits(percentage))
	}
}

// LastObservedSamplingPercentage returns the last recorded percentage for
// kind, or 100 when none was recorded.
func (c *Configuration) LastObservedSamplingPercentage(kind telemetry.Kind) float64 {
	v, ok := c.sampling[kind]
	if !ok {
		return 100
	}
	bits := v.Load()
	if bits == 0 {
		return 100
	}
	return math.Float64frombits(bits)
}

// RegisterCloser adds a resource to release on Close. Closers run in
// reverse registration order.
func (c *Configuration) RegisterCloser(closer io.Closer) {
	if closer == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closers = append(c.closers, closer)
}

// Track runs initializers on item, then the legacy chain, then every sink.
func (c *Configuration) Track(ctx context.Context, item telemetry.Item) {
	if item == nil {
		return
	}
	for _, init := range c.Initializers() {
		c.runInitializer(ctx, init, item)
	}
	meta := item.Meta()
	if meta.InstrumentationKey == "" {
		meta.InstrumentationKey = c.InstrumentationKey()
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}
	c.processors.Process(item)
}

func (c *Configuration) runInitializer(ctx context.Context, init telemetry.Initializer, item telemetry.Item) {
	defer func() {
		if r := recover(); r != nil {
			c.limited.Warn("InitializerPanic", "telemetry initializer panicked",
				"panic", fmt.Sprint(r), log.ItemKindKey, string(item.Kind()))
		}
	}()
	init.Initialize(ctx, item)
}

// fanOut is the legacy chain terminal. The first sink receives the item
// itself and every later sink its own copy, taken before any sink runs.
func (c *Configuration) fanOut(item telemetry.Item) {
	sinks := c.Sinks()
	copies := make([]telemetry.Item, len(sinks))
	copies[0] = item
	for i := 1; i < len(sinks); i++ {
		copies[i] = telemetry.Clone(item)
	}
	for i, s := range sinks {
		s.Process(copies[i])
	}
}

func (c *Configuration) channels() []telemetry.Channel {
	var out []telemetry.Channel
	for _, s := range c.Sinks() {
		if ch := s.Channel(); ch != nil {
			out = append(out, ch)
		}
	}
	return out
}

// Flush flushes every sink channel.
func (c *Configuration) Flush(ctx context.Context) error {
	var errs []error
	for _, ch := range c.channels() {
		if err := ch.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return beaconerrors.Join(errs...)
}

// Close releases registered closers, chain stages implementing io.Closer
// and finally the sink channels. It is safe to call more than once.
func (c *Configuration) Close() error {
	c.closeOnce.Do(func() {
		var errs []error

		c.mu.Lock()
		closers := c.closers
		c.closers = nil
		c.mu.Unlock()
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				errs = append(errs, err)
			}
		}

		for _, stage := range c.Stages() {
			if closer, ok := stage.(io.Closer); ok {
				if err := closer.Close(); err != nil {
					errs = append(errs, err)
				}
			}
		}

		for _, ch := range c.channels() {
			if err := ch.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		c.closeErr = beaconerrors.Join(errs...)
		if c.closeErr != nil {
			c.logger.Warn("telemetry configuration closed with errors", log.Error(c.closeErr))
		}
	})
	return c.closeErr
}

// Stages returns every sealed chain stage, legacy chain first.
func (c *Configuration) Stages() []telemetry.Processor {
	var out []telemetry.Processor
	if chain := c.processors.Chain(); chain != nil {
		out = append(out, chain.Stages()...)
	}
	for _, s := range c.Sinks() {
		if chain := s.Builder().Chain(); chain != nil {
			out = append(out, chain.Stages()...)
		}
	}
	return out
}
