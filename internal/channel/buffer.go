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
	"sync"
	"time"

	"github.com/tombee/beacon/internal/log"
)

// DropCounter counts items a channel refused because its buffer was full.
type DropCounter interface {
	ChannelDropped(channel string)
}

// buffer is a bounded FIFO of records shared by the channels.
type buffer struct {
	name     string
	capacity int
	counter  DropCounter
	warn     *log.Limited

	mu    sync.Mutex
	items []Record
}

func newBuffer(name string, capacity int, counter DropCounter, warn *log.Limited) *buffer {
	return &buffer{
		name:     name,
		capacity: capacity,
		counter:  counter,
		warn:     warn,
		items:    make([]Record, 0, min(capacity, 1024)),
	}
}

// push appends rec and returns the new length. When the buffer is full,
// the record is dropped and ok is false.
func (b *buffer) push(rec Record) (n int, ok bool) {
	b.mu.Lock()
	if len(b.items) >= b.capacity {
		b.mu.Unlock()
		if b.counter != nil {
			b.counter.ChannelDropped(b.name)
		}
		b.warn.Warn("ChannelBufferFull", "telemetry channel buffer full, dropping item",
			"channel", b.name, "capacity", b.capacity)
		return b.capacity, false
	}
	b.items = append(b.items, rec)
	n = len(b.items)
	b.mu.Unlock()
	return n, true
}

// take removes up to max records from the front. max <= 0 takes everything.
func (b *buffer) take(max int) []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.items)
	if n == 0 {
		return nil
	}
	if max > 0 && max < n {
		n = max
	}
	out := make([]Record, n)
	copy(out, b.items[:n])
	remaining := copy(b.items, b.items[n:])
	clear(b.items[remaining:])
	b.items = b.items[:remaining]
	return out
}

// requeue puts records back at the front after a failed transmission,
// dropping whatever no longer fits.
func (b *buffer) requeue(recs []Record) {
	b.mu.Lock()
	room := b.capacity - len(b.items)
	if room <= 0 {
		b.mu.Unlock()
		return
	}
	if len(recs) > room {
		recs = recs[:room]
	}
	b.items = append(recs, b.items...)
	b.mu.Unlock()
}

func (b *buffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// loop runs fn on every tick and on every kick until stopped.
type loop struct {
	interval time.Duration
	fn       func()

	kick chan struct{}
	stop chan struct{}
	done chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

func newLoop(interval time.Duration, fn func()) *loop {
	return &loop{
		interval: interval,
		fn:       fn,
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (l *loop) start() {
	l.startOnce.Do(func() {
		go l.run()
	})
}

func (l *loop) run() {
	defer close(l.done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.fn()
		case <-l.kick:
			l.fn()
		}
	}
}

// trigger asks the loop to run soon without blocking.
func (l *loop) trigger() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

// halt stops the loop and waits for it. Safe when the loop never started.
func (l *loop) halt() {
	l.stopOnce.Do(func() {
		started := true
		l.startOnce.Do(func() { started = false })
		close(l.stop)
		if started {
			<-l.done
		}
	})
}
