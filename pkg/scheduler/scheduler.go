// Copyright 2025 UMH Systems GmbH
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

// Package scheduler provides the executors the dependency queue and the
// engine run their background work on. Engines receive a Scheduler through
// their constructor; tests substitute Direct or Deferred and FakeClock to
// make every re-evaluation and sweep synchronous and deterministic.
package scheduler

import (
	"sync"
	"time"
)

// Scheduler runs tasks off the caller's goroutine.
type Scheduler interface {
	// Submit queues task for execution. Tasks submitted to the same
	// scheduler run in submission order.
	Submit(task func())
	// Every runs task every interval until stop is called.
	Every(interval time.Duration, task func()) (stop func())
}

// Clock is the time source of everything that expires.
type Clock interface {
	Now() time.Time
}

// RealClock reads the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// FakeClock is a manually advanced clock for tests.
type FakeClock struct {
	now time.Time
	mu  sync.Mutex
}

// NewFakeClock returns a FakeClock set to start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// Direct runs submitted tasks inline. Periodic tasks never fire; tests call
// the sweep explicitly instead.
type Direct struct{}

func (Direct) Submit(task func()) { task() }

func (Direct) Every(time.Duration, func()) func() { return func() {} }

// Pending is always zero, tasks run on submission.
func (Direct) Pending() int { return 0 }

// Deferred queues submitted tasks until Flush runs them on the caller's
// goroutine. Periodic tasks never fire.
type Deferred struct {
	tasks []func()
	mu    sync.Mutex
}

func (d *Deferred) Submit(task func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.tasks = append(d.tasks, task)
}

func (*Deferred) Every(time.Duration, func()) func() { return func() {} }

// Pending returns the number of queued tasks.
func (d *Deferred) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.tasks)
}

// Flush runs queued tasks in submission order, including tasks they submit,
// until none are left.
func (d *Deferred) Flush() {
	for {
		d.mu.Lock()
		if len(d.tasks) == 0 {
			d.mu.Unlock()

			return
		}

		task := d.tasks[0]
		d.tasks = d.tasks[1:]
		d.mu.Unlock()

		task()
	}
}
