/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package relay serializes asynchronous notifications for delivery to the
// UI. The delivery channel is not safe for concurrent invocation, so every
// producer enqueues here and exactly one consumer goroutine drains in order.
package relay

import (
	"sync"

	"github.com/carverauto/bjorn-manager/pkg/logger"
	"github.com/carverauto/bjorn-manager/pkg/models"
)

// DeliverFunc receives events one at a time from the consumer goroutine.
type DeliverFunc func(models.Event)

// Relay is a multi-producer, single-consumer FIFO. Events published before
// the UI signals readiness are buffered, not dropped. Publish never blocks
// the producer.
type Relay struct {
	logger logger.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []models.Event
	ready   bool
	stopped bool
	started bool
	done    chan struct{}
	deliver DeliverFunc
}

// New creates a relay that will hand events to deliver once started.
func New(deliver DeliverFunc, log logger.Logger) *Relay {
	r := &Relay{
		logger:  log,
		deliver: deliver,
		done:    make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)

	return r
}

// Start launches the consumer goroutine. Idempotent. Delivery does not begin
// until MarkReady is called.
func (r *Relay) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started || r.stopped {
		return
	}

	r.started = true

	go r.consume()
}

// MarkReady signals that the delivery channel can now be invoked. Buffered
// events are flushed in enqueue order.
func (r *Relay) MarkReady() {
	r.mu.Lock()
	r.ready = true
	r.mu.Unlock()

	r.cond.Broadcast()
}

// Publish enqueues one event. Safe from any goroutine; never blocks.
func (r *Relay) Publish(ev models.Event) {
	r.mu.Lock()

	if r.stopped {
		r.mu.Unlock()
		return
	}

	r.queue = append(r.queue, ev)
	r.mu.Unlock()

	r.cond.Signal()
}

// Stop terminates the consumer after draining anything already deliverable,
// then waits for it to exit. Safe to call more than once.
func (r *Relay) Stop() {
	r.mu.Lock()

	if r.stopped {
		r.mu.Unlock()
		return
	}

	r.stopped = true
	started := r.started
	r.mu.Unlock()

	r.cond.Broadcast()

	if started {
		<-r.done
	}
}

func (r *Relay) consume() {
	defer close(r.done)

	for {
		r.mu.Lock()

		for !r.stopped && (!r.ready || len(r.queue) == 0) {
			r.cond.Wait()
		}

		if r.stopped {
			// Flush what is deliverable; if the UI never became ready
			// there is nowhere to deliver to.
			var rest []models.Event

			if r.ready {
				rest = r.queue
				r.queue = nil
			}

			r.mu.Unlock()

			for _, ev := range rest {
				r.deliver(ev)
			}

			return
		}

		ev := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()

		r.deliver(ev)
	}
}
