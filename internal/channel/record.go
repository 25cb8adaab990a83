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

// Package channel implements the transmission channels that terminate a
// telemetry sink: a buffered in-memory channel, a durable SQLite-backed
// channel and a channel exporting items as OpenTelemetry spans.
package channel

import (
	"time"

	"github.com/tombee/beacon/pkg/telemetry"
)

// Record is the transmitted form of a telemetry item.
type Record struct {
	Kind               telemetry.Kind    `json:"kind"`
	Time               time.Time         `json:"time"`
	InstrumentationKey string            `json:"iKey,omitempty"`
	OperationID        string            `json:"operationId,omitempty"`
	ParentID           string            `json:"parentId,omitempty"`
	OperationName      string            `json:"operationName,omitempty"`
	SampleRate         float64           `json:"sampleRate,omitempty"`
	Properties         map[string]string `json:"properties,omitempty"`
	Data               map[string]any    `json:"data"`
}

// Encode converts an item into a Record. The record shares nothing with
// the item, so the item may be reused after Encode returns.
func Encode(item telemetry.Item) Record {
	meta := item.Meta()
	rec := Record{
		Kind:               item.Kind(),
		Time:               meta.Timestamp,
		InstrumentationKey: meta.InstrumentationKey,
		OperationID:        meta.Operation.ID,
		ParentID:           meta.Operation.ParentID,
		OperationName:      meta.Operation.Name,
		SampleRate:         meta.SamplingPercentage,
	}
	if len(meta.Properties) > 0 {
		rec.Properties = make(map[string]string, len(meta.Properties))
		for k, v := range meta.Properties {
			rec.Properties[k] = v
		}
	}

	switch it := item.(type) {
	case *telemetry.Request:
		rec.Data = map[string]any{
			"name":         it.Name,
			"url":          it.URL,
			"responseCode": it.ResponseCode,
			"success":      it.Success,
			"durationMs":   durationMillis(it.Duration),
		}
		if it.Source != "" {
			rec.Data["source"] = it.Source
		}
	case *telemetry.Dependency:
		rec.Data = map[string]any{
			"id":         it.ID,
			"type":       it.Type,
			"target":     it.Target,
			"name":       it.Name,
			"data":       it.Data,
			"resultCode": it.ResultCode,
			"success":    it.Success,
			"durationMs": durationMillis(it.Duration),
		}
	case *telemetry.Event:
		rec.Data = map[string]any{"name": it.Name}
	case *telemetry.Metric:
		rec.Data = map[string]any{"name": it.Name, "value": it.Value}
	case *telemetry.Trace:
		rec.Data = map[string]any{"message": it.Message, "severity": int(it.Severity)}
	case *telemetry.Exception:
		msg := it.Message
		if msg == "" && it.Err != nil {
			msg = it.Err.Error()
		}
		rec.Data = map[string]any{"message": msg, "severity": int(it.Severity)}
	default:
		rec.Data = map[string]any{}
	}
	return rec
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
