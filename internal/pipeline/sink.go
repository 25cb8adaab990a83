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
	"sync/atomic"

	"github.com/tombee/beacon/pkg/telemetry"
)

// Sink pairs a processor chain with the channel its surviving items reach.
type Sink struct {
	name    string
	channel atomic.Pointer[channelHolder]
	builder *Builder
}

type channelHolder struct {
	ch telemetry.Channel
}

// NewSink creates a sink. The channel may be installed later with SetChannel.
func NewSink(name string, ch telemetry.Channel) *Sink {
	s := &Sink{name: name}
	s.builder = NewBuilder(telemetry.ProcessorFunc(s.send))
	if ch != nil {
		s.SetChannel(ch)
	}
	return s
}

// Name returns the sink name.
func (s *Sink) Name() string {
	return s.name
}

// Channel returns the installed channel, or nil.
func (s *Sink) Channel() telemetry.Channel {
	if h := s.channel.Load(); h != nil {
		return h.ch
	}
	return nil
}

// SetChannel installs the transmission channel.
func (s *Sink) SetChannel(ch telemetry.Channel) {
	s.channel.Store(&channelHolder{ch: ch})
}

// Builder returns the sink's chain builder.
func (s *Sink) Builder() *Builder {
	return s.builder
}

// Process runs item through the sink's chain into its channel.
func (s *Sink) Process(item telemetry.Item) {
	s.builder.Process(item)
}

func (s *Sink) send(item telemetry.Item) {
	if ch := s.Channel(); ch != nil {
		ch.Send(item)
	}
}
