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

package log

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limited wraps a logger so that each named event is emitted at most at
// the configured rate. Events over the limit are counted and the count is
// attached to the next record that gets through.
type Limited struct {
	logger *slog.Logger
	every  time.Duration
	burst  int

	mu       sync.Mutex
	limiters map[string]*limitedEvent
}

type limitedEvent struct {
	limiter    *rate.Limiter
	suppressed int64
}

// NewLimited creates a rate-limited logger allowing burst records per event
// and one more every interval after that.
func NewLimited(logger *slog.Logger, every time.Duration, burst int) *Limited {
	if burst < 1 {
		burst = 1
	}
	return &Limited{
		logger:   OrDefault(logger),
		every:    every,
		burst:    burst,
		limiters: make(map[string]*limitedEvent),
	}
}

// Log emits msg under the given event name if the event is within its rate.
// It reports whether the record was written.
func (l *Limited) Log(level slog.Level, event, msg string, args ...any) bool {
	l.mu.Lock()
	ev, ok := l.limiters[event]
	if !ok {
		ev = &limitedEvent{limiter: rate.NewLimiter(rate.Every(l.every), l.burst)}
		l.limiters[event] = ev
	}
	if !ev.limiter.Allow() {
		ev.suppressed++
		l.mu.Unlock()
		return false
	}
	suppressed := ev.suppressed
	ev.suppressed = 0
	l.mu.Unlock()

	args = append(args, EventKey, event)
	if suppressed > 0 {
		args = append(args, "suppressed", suppressed)
	}
	l.logger.Log(context.Background(), level, msg, args...)
	return true
}

// Warn is Log at warn level.
func (l *Limited) Warn(event, msg string, args ...any) bool {
	return l.Log(slog.LevelWarn, event, msg, args...)
}
