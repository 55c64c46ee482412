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

package scheduler_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/scheduler"
)

func TestScheduler(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Scheduler Suite")
}

var _ = Describe("Direct", func() {
	It("should run tasks inline", func() {
		ran := false
		scheduler.Direct{}.Submit(func() { ran = true })
		Expect(ran).To(BeTrue())
	})
})

var _ = Describe("Deferred", func() {
	It("should hold tasks until flushed, then run them in order", func() {
		var (
			d     scheduler.Deferred
			order []int
		)

		d.Submit(func() {
			order = append(order, 1)
			d.Submit(func() { order = append(order, 3) })
		})
		d.Submit(func() { order = append(order, 2) })

		Expect(order).To(BeEmpty())
		Expect(d.Pending()).To(Equal(2))

		d.Flush()
		Expect(order).To(Equal([]int{1, 2, 3}))
		Expect(d.Pending()).To(BeZero())
	})
})

var _ = Describe("FakeClock", func() {
	It("should only move when advanced", func() {
		start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		clock := scheduler.NewFakeClock(start)
		Expect(clock.Now()).To(Equal(start))

		clock.Advance(3 * time.Second)
		Expect(clock.Now()).To(Equal(start.Add(3 * time.Second)))
	})
})

var _ = Describe("Serial", func() {
	var serial *scheduler.Serial

	BeforeEach(func() {
		serial = scheduler.NewSerial(zap.NewNop().Sugar())
	})

	AfterEach(func() {
		serial.Stop()
	})

	It("should run tasks in submission order on one goroutine", func() {
		var (
			mu    sync.Mutex
			order []int
		)

		for i := range 100 {
			serial.Submit(func() {
				mu.Lock()
				defer mu.Unlock()

				order = append(order, i)
			})
		}

		Eventually(func() int {
			mu.Lock()
			defer mu.Unlock()

			return len(order)
		}).Should(Equal(100))

		for i, v := range order {
			Expect(v).To(Equal(i))
		}
	})

	It("should accept submissions from within a task", func() {
		var count atomic.Int32

		serial.Submit(func() {
			count.Add(1)
			serial.Submit(func() { count.Add(1) })
		})

		Eventually(count.Load).Should(Equal(int32(2)))
	})

	It("should survive a panicking task", func() {
		var ran atomic.Bool

		serial.Submit(func() { panic("boom") })
		serial.Submit(func() { ran.Store(true) })

		Eventually(ran.Load).Should(BeTrue())
	})

	It("should run periodic tasks until stopped", func() {
		var ticks atomic.Int32

		stop := serial.Every(5*time.Millisecond, func() { ticks.Add(1) })
		Eventually(ticks.Load).Should(BeNumerically(">=", 3))

		stop()
		after := ticks.Load()
		Consistently(ticks.Load, 50*time.Millisecond).Should(BeNumerically("<=", after+1))
	})
})
