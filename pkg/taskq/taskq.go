// Copyright 2023 The mqttmux Authors
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

// Package taskq provides a channel-based deferred-execution queue. Work
// posted to the queue runs on a single dedicated goroutine, one task at a
// time, in posting order. The multiplexer uses it to hand inbound messages
// and completion callbacks off the transport's own event goroutine: a task
// that panics can never unwind into the transport's state machine.
package taskq

import (
	"context"
	"log"
)

// Queue is a single-goroutine task executor backed by a buffered channel.
type Queue struct {
	tasks   chan func()
	onPanic func(recovered any)
}

// NewQueue creates a queue with the given buffer size. onPanic, if non-nil,
// is invoked with the recovered value whenever a task panics; the queue keeps
// running afterwards.
func NewQueue(size int, onPanic func(recovered any)) *Queue {
	return &Queue{
		tasks:   make(chan func(), size),
		onPanic: onPanic,
	}
}

// Post puts a task on the queue. It blocks while the buffer is full.
func (q *Queue) Post(task func()) {
	q.tasks <- task
}

// Run executes posted tasks until the context is canceled. It drains tasks
// already buffered at cancellation time before returning, so callbacks posted
// prior to shutdown are not silently dropped. It returns the context's error.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case task := <-q.tasks:
					q.exec(task)
				default:
					return ctx.Err()
				}
			}
		case task := <-q.tasks:
			q.exec(task)
		}
	}
}

func (q *Queue) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			if q.onPanic != nil {
				q.onPanic(r)
				return
			}
			log.Printf("taskq: recovered panic in task: %v", r)
		}
	}()
	task()
}
