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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultEndpointAddress is the ingestion endpoint used when neither the
// connection string nor an override names one.
const DefaultEndpointAddress = "https://dc.services.visualstudio.com/v2/track"

// Transmitter delivers a batch of records to a backend.
type Transmitter interface {
	Transmit(ctx context.Context, batch []Record) error
}

// endpointSetter is implemented by transmitters that can be re-pointed.
type endpointSetter interface {
	SetEndpoint(address string)
}

// WriterTransmitter writes each record as one JSON line.
type WriterTransmitter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterTransmitter creates a transmitter writing to w.
func NewWriterTransmitter(w io.Writer) *WriterTransmitter {
	return &WriterTransmitter{w: w}
}

// Transmit implements Transmitter.
func (t *WriterTransmitter) Transmit(_ context.Context, batch []Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	enc := json.NewEncoder(t.w)
	for i := range batch {
		if err := enc.Encode(&batch[i]); err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
	}
	return nil
}

// HTTPTransmitter posts batches as newline-delimited JSON.
type HTTPTransmitter struct {
	client   *http.Client
	endpoint atomic.Pointer[string]
}

// NewHTTPTransmitter creates a transmitter posting to endpoint. A nil
// client gets one with a 30 second timeout.
func NewHTTPTransmitter(endpoint string, client *http.Client) *HTTPTransmitter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if endpoint == "" {
		endpoint = DefaultEndpointAddress
	}
	t := &HTTPTransmitter{client: client}
	t.endpoint.Store(&endpoint)
	return t
}

// Endpoint returns the current endpoint.
func (t *HTTPTransmitter) Endpoint() string {
	return *t.endpoint.Load()
}

// SetEndpoint re-points the transmitter. Empty addresses are ignored.
func (t *HTTPTransmitter) SetEndpoint(address string) {
	if address == "" {
		return
	}
	t.endpoint.Store(&address)
}

// Transmit implements Transmitter.
func (t *HTTPTransmitter) Transmit(ctx context.Context, batch []Record) error {
	if len(batch) == 0 {
		return nil
	}
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for i := range batch {
		if err := enc.Encode(&batch[i]); err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint(), &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("ingestion endpoint returned %s", resp.Status)
	}
	return nil
}

var (
	_ Transmitter    = (*WriterTransmitter)(nil)
	_ Transmitter    = (*HTTPTransmitter)(nil)
	_ endpointSetter = (*HTTPTransmitter)(nil)
)
