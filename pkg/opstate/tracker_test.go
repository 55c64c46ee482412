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

package opstate_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/model"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/opstate"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/scheduler"
)

func TestOpState(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "OpState Suite")
}

type recordingListener struct {
	available []model.EntityKey
	removed   []model.EntityKey
	acked     []model.EntityKey
	mu        sync.Mutex
}

func (r *recordingListener) OnConfigAvailable(key model.EntityKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.available = append(r.available, key)
}

func (r *recordingListener) OnConfigRemoved(key model.EntityKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, key)
}

func (r *recordingListener) OnAckReceived(key model.EntityKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acked = append(r.acked, key)
}

var _ = Describe("Tracker", func() {
	var (
		clock    *scheduler.FakeClock
		tracker  *opstate.Tracker
		listener *recordingListener
		ls0      model.EntityKey
		ls0Value *model.LogicalSwitch
	)

	BeforeEach(func() {
		clock = scheduler.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
		tracker = opstate.NewTracker("tor-1", 8, 30*time.Second, clock, zap.NewNop().Sugar())
		listener = &recordingListener{}
		tracker.SetListener(listener)

		ls0 = model.NewLogicalSwitchKey("ls0")
		ls0Value = &model.LogicalSwitch{Name: "ls0", TunnelKey: 5000}
	})

	Describe("in-transit marks", func() {
		It("should stay in transit until acknowledged", func() {
			tracker.MarkInTransit(ls0)
			Expect(tracker.IsInTransit(ls0)).To(BeTrue())

			clock.Advance(10 * time.Second)
			Expect(tracker.IsInTransit(ls0)).To(BeTrue())

			tracker.UpdateDeviceAck(ls0, "uuid-ls0", ls0Value)
			Expect(tracker.IsInTransit(ls0)).To(BeFalse())
			Expect(tracker.IsAcked(ls0)).To(BeTrue())
			Expect(listener.acked).To(Equal([]model.EntityKey{ls0}))
		})

		It("should stop counting once the mark expired", func() {
			tracker.MarkInTransit(ls0)
			clock.Advance(30 * time.Second)

			Expect(tracker.IsInTransit(ls0)).To(BeFalse())
			Expect(tracker.InTransitKeys()).To(BeEmpty())

			Expect(tracker.ExpireInTransit()).To(Equal([]model.EntityKey{ls0}))
			Expect(listener.acked).To(Equal([]model.EntityKey{ls0}))
			Expect(tracker.ExpireInTransit()).To(BeEmpty())
		})

		It("should only expire old marks", func() {
			ls1 := model.NewLogicalSwitchKey("ls1")

			tracker.MarkInTransit(ls0)
			clock.Advance(20 * time.Second)
			tracker.MarkInTransit(ls1)
			clock.Advance(15 * time.Second)

			Expect(tracker.ExpireInTransit()).To(Equal([]model.EntityKey{ls0}))
			Expect(tracker.InTransitKeys()).To(Equal([]model.EntityKey{ls1}))
		})

		It("should refresh the mark when marked again", func() {
			tracker.MarkInTransit(ls0)
			clock.Advance(20 * time.Second)
			tracker.MarkInTransit(ls0)
			clock.Advance(20 * time.Second)

			Expect(tracker.IsInTransit(ls0)).To(BeTrue())
		})

		It("should clear a mark without acknowledging", func() {
			tracker.MarkInTransit(ls0)

			Expect(tracker.ClearInTransit(ls0)).To(BeTrue())
			Expect(tracker.ClearInTransit(ls0)).To(BeFalse())
			Expect(tracker.IsInTransit(ls0)).To(BeFalse())
			Expect(tracker.IsAcked(ls0)).To(BeFalse())
			Expect(listener.acked).To(HaveLen(1))
		})

		It("should clear all marks at once", func() {
			loc := model.NewLocatorKey("192.168.122.20")
			tracker.MarkInTransit(ls0)
			tracker.MarkInTransit(loc)

			Expect(tracker.ClearInTransitData()).To(ConsistOf(ls0, loc))
			Expect(tracker.InTransitKeys()).To(BeEmpty())
		})
	})

	Describe("acknowledgements", func() {
		It("should be idempotent", func() {
			tracker.MarkInTransit(ls0)
			tracker.UpdateDeviceAck(ls0, "uuid-ls0", ls0Value)
			first, ok := tracker.GetDeviceData(ls0)
			Expect(ok).To(BeTrue())

			tracker.UpdateDeviceAck(ls0, "uuid-ls0", ls0Value)
			second, ok := tracker.GetDeviceData(ls0)
			Expect(ok).To(BeTrue())

			Expect(second.UUID).To(Equal(first.UUID))
			Expect(second.Value).To(Equal(first.Value))
			Expect(tracker.IsInTransit(ls0)).To(BeFalse())
			Expect(tracker.AckedOfType(model.TypeLogicalSwitch)).To(HaveLen(1))
		})

		It("should expose the device UUID", func() {
			_, ok := tracker.GetUUID(ls0)
			Expect(ok).To(BeFalse())

			tracker.UpdateDeviceAck(ls0, "uuid-ls0", ls0Value)
			uuid, ok := tracker.GetUUID(ls0)
			Expect(ok).To(BeTrue())
			Expect(uuid).To(Equal("uuid-ls0"))
		})

		It("should forget deleted entities", func() {
			tracker.UpdateDeviceAck(ls0, "uuid-ls0", ls0Value)
			tracker.MarkInTransit(ls0)
			tracker.ClearDeviceAck(ls0)

			Expect(tracker.IsAcked(ls0)).To(BeFalse())
			Expect(tracker.IsInTransit(ls0)).To(BeFalse())
		})
	})

	Describe("desired state", func() {
		It("should notify when config becomes available and is removed", func() {
			tracker.UpdateDesired(ls0, ls0Value)
			Expect(tracker.IsConfigAvailable(ls0)).To(BeTrue())
			Expect(listener.available).To(Equal([]model.EntityKey{ls0}))

			v, ok := tracker.GetDesired(ls0)
			Expect(ok).To(BeTrue())
			Expect(v).To(BeIdenticalTo(ls0Value))

			tracker.UpdateDesired(ls0, nil)
			Expect(tracker.IsConfigAvailable(ls0)).To(BeFalse())
			Expect(listener.removed).To(Equal([]model.EntityKey{ls0}))

			tracker.UpdateDesired(ls0, nil)
			Expect(listener.removed).To(HaveLen(1))
		})

		It("should list desired values of one type in key order", func() {
			tracker.UpdateDesired(model.NewLogicalSwitchKey("ls1"), &model.LogicalSwitch{Name: "ls1"})
			tracker.UpdateDesired(ls0, ls0Value)
			tracker.UpdateDesired(model.NewLocatorKey("10.0.0.1"), &model.PhysicalLocator{DstIP: "10.0.0.1"})

			values := tracker.DesiredOfType(model.TypeLogicalSwitch)
			Expect(values).To(HaveLen(2))
			Expect(values[0].Key()).To(Equal(ls0))
			Expect(values[1].Key()).To(Equal(model.NewLogicalSwitchKey("ls1")))
		})
	})

	Describe("Snapshot", func() {
		It("should not share memory with the tracker", func() {
			tracker.UpdateDesired(ls0, ls0Value)
			tracker.UpdateDeviceAck(ls0, "uuid-ls0", ls0Value)
			tracker.MarkInTransit(model.NewLocatorKey("10.0.0.1"))

			snap, err := tracker.Snapshot()
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Device).To(Equal("tor-1"))
			Expect(snap.Desired).To(HaveKey(ls0))
			Expect(snap.Acked[ls0].UUID).To(Equal("uuid-ls0"))
			Expect(snap.InTransit).To(HaveLen(1))

			snap.Desired[ls0].(*model.LogicalSwitch).Description = "changed"
			Expect(ls0Value.Description).To(BeEmpty())
		})
	})

	It("should be safe for concurrent use", func() {
		var wg sync.WaitGroup

		for i := range 16 {
			wg.Add(1)

			go func() {
				defer GinkgoRecover()
				defer wg.Done()

				key := model.NewUcastMacKey("ls0", fmt.Sprintf("02:00:00:00:00:%02x", i))
				for range 100 {
					tracker.MarkInTransit(key)
					tracker.UpdateDeviceAck(key, "u", nil)
					_ = tracker.IsInTransit(key)
				}
			}()
		}

		wg.Wait()
		Expect(tracker.InTransitKeys()).To(BeEmpty())
		Expect(tracker.AckedOfType(model.TypeUcastMacRemote)).To(HaveLen(16))
	})
})
