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
	"time"

	"github.com/tombee/beacon/pkg/telemetry"
)

// Client is the entry point applications use to emit telemetry.
type Client struct {
	cfg *Configuration
	now func() time.Time
}

// NewClient creates a client that tracks through cfg.
func NewClient(cfg *Configuration) *Client {
	return &Client{cfg: cfg, now: time.Now}
}

// Configuration returns the configuration the client tracks through.
func (c *Client) Configuration() *Configuration {
	return c.cfg
}

// Track sends any item through the configuration.
func (c *Client) Track(ctx context.Context, item telemetry.Item) {
	if meta := item.Meta(); meta.Timestamp.IsZero() {
		meta.Timestamp = c.now()
	}
	c.cfg.Track(ctx, item)
}

// TrackRequest records an inbound request.
func (c *Client) TrackRequest(ctx context.Context, req *telemetry.Request) {
	c.Track(ctx, req)
}

// TrackDependency records an outbound call.
func (c *Client) TrackDependency(ctx context.Context, dep *telemetry.Dependency) {
	c.Track(ctx, dep)
}

// TrackEvent records a named custom event.
func (c *Client) TrackEvent(ctx context.Context, name string, properties map[string]string) {
	ev := &telemetry.Event{Name: name}
	for k, v := range properties {
		ev.SetProperty(k, v)
	}
	c.Track(ctx, ev)
}

// TrackMetric records a single measured value.
func (c *Client) TrackMetric(ctx context.Context, name string, value float64) {
	c.Track(ctx, &telemetry.Metric{Name: name, Value: value})
}

// TrackTrace records a diagnostic message.
func (c *Client) TrackTrace(ctx context.Context, message string, severity telemetry.SeverityLevel) {
	c.Track(ctx, &telemetry.Trace{Message: message, Severity: severity})
}

// TrackException records an error.
func (c *Client) TrackException(ctx context.Context, err error) {
	if err == nil {
		return
	}
	c.Track(ctx, &telemetry.Exception{Err: err, Message: err.Error(), Severity: telemetry.SeverityError})
}

// Flush transmits everything buffered in the sink channels.
func (c *Client) Flush(ctx context.Context) error {
	return c.cfg.Flush(ctx)
}
