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

// Package telemetry defines the telemetry item model and the processing
// contracts shared by the pipeline, the collectors and the channels.
// This package is designed to be embeddable in other Go applications.
package telemetry

import (
	"time"
)

// Kind tags the variant of a telemetry item.
type Kind string

const (
	// KindRequest is an inbound unit of work handled by the application.
	KindRequest Kind = "Request"

	// KindDependency is an outbound call made by the application.
	KindDependency Kind = "Dependency"

	// KindEvent is a custom business event.
	KindEvent Kind = "Event"

	// KindMetric is a pre-aggregated or single-value measurement.
	KindMetric Kind = "Metric"

	// KindTrace is a diagnostic log message.
	KindTrace Kind = "Trace"

	// KindException is a recorded error.
	KindException Kind = "Exception"
)

// Kinds lists every item kind in a stable order.
var Kinds = []Kind{KindRequest, KindDependency, KindEvent, KindMetric, KindTrace, KindException}

// Item is a single telemetry record. The concrete types are Request,
// Dependency, Event, Metric, Trace and Exception.
type Item interface {
	// Kind returns the variant tag.
	Kind() Kind

	// Meta returns the fields common to every variant. The returned pointer
	// aliases the item so initializers and processors can mutate it.
	Meta() *Envelope
}

// Operation carries the correlation identifiers of an item.
type Operation struct {
	// ID is the root correlation id shared by all items of one logical operation.
	ID string

	// ParentID identifies the caller or span that produced this unit of work.
	// Empty when no inbound correlation context existed.
	ParentID string

	// Name is the logical operation name, usually the request name.
	Name string
}

// Envelope holds the fields shared by all item kinds.
type Envelope struct {
	// Timestamp is when the item was produced.
	Timestamp time.Time

	// InstrumentationKey routes the item to its telemetry resource.
	InstrumentationKey string

	// Operation holds the correlation ids.
	Operation Operation

	// Properties are free-form string dimensions.
	Properties map[string]string

	// SamplingPercentage is the percentage the item was kept at. Zero means
	// the item has not passed through a sampling stage.
	SamplingPercentage float64
}

// Meta implements Item for every type embedding Envelope.
func (e *Envelope) Meta() *Envelope {
	return e
}

// SetProperty stores a property, allocating the map on first use.
func (e *Envelope) SetProperty(key, value string) {
	if e.Properties == nil {
		e.Properties = make(map[string]string)
	}
	e.Properties[key] = value
}

// Property returns a property value and whether it was present.
func (e *Envelope) Property(key string) (string, bool) {
	v, ok := e.Properties[key]
	return v, ok
}

// Request describes an inbound request handled by the application.
type Request struct {
	Envelope

	Name         string
	URL          string
	ResponseCode string
	Success      bool
	Duration     time.Duration

	// Source is the application id of the caller when it differs from ours.
	Source string
}

// Kind implements Item.
func (*Request) Kind() Kind { return KindRequest }

// Dependency describes an outbound call.
type Dependency struct {
	Envelope

	// ID is the span id assigned to the call; downstream requests see it as
	// part of their parent id.
	ID         string
	Type       string
	Target     string
	Name       string
	Data       string
	ResultCode string
	Success    bool
	Duration   time.Duration
}

// Kind implements Item.
func (*Dependency) Kind() Kind { return KindDependency }

// Event is a named custom event.
type Event struct {
	Envelope

	Name string
}

// Kind implements Item.
func (*Event) Kind() Kind { return KindEvent }

// Metric is a single measured value.
type Metric struct {
	Envelope

	Name  string
	Value float64
}

// Kind implements Item.
func (*Metric) Kind() Kind { return KindMetric }

// SeverityLevel classifies Trace items.
type SeverityLevel int

const (
	SeverityVerbose SeverityLevel = iota
	SeverityInformation
	SeverityWarning
	SeverityError
	SeverityCritical
)

// Trace is a diagnostic message.
type Trace struct {
	Envelope

	Message  string
	Severity SeverityLevel
}

// Kind implements Item.
func (*Trace) Kind() Kind { return KindTrace }

// Exception records an error observed by the application.
type Exception struct {
	Envelope

	Err      error
	Message  string
	Severity SeverityLevel
}

// Kind implements Item.
func (*Exception) Kind() Kind { return KindException }

// Compile-time checks that every variant implements Item.
var (
	_ Item = (*Request)(nil)
	_ Item = (*Dependency)(nil)
	_ Item = (*Event)(nil)
	_ Item = (*Metric)(nil)
	_ Item = (*Trace)(nil)
	_ Item = (*Exception)(nil)
)
