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

package invoker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/backoff"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/device"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/invoker"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/metrics"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/model"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/opstate"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/scheduler"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/sentry"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/transact"
)

func TestInvoker(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Transaction Invoker Suite")
}

var _ = BeforeSuite(func() {
	sentry.EnableTestMode()
})

// observingClient records, for every transaction, whether its keys were
// marked in transit when it reached the device.
type observingClient struct {
	*device.Simulator
	state     *opstate.Tracker
	inTransit []bool
	mu        sync.Mutex
}

func (c *observingClient) Transact(ctx context.Context, ops []transact.Operation) ([]device.Result, error) {
	c.mu.Lock()
	for _, op := range ops {
		c.inTransit = append(c.inTransit, c.state.IsInTransit(op.Key))
	}
	c.mu.Unlock()

	return c.Simulator.Transact(ctx, ops)
}

func (c *observingClient) observed() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]bool(nil), c.inTransit...)
}

// identified is a command with a stable identity.
type identified struct {
	transact.CommandFunc
	id string
}

func (c identified) CommandID() string { return c.id }

var _ = Describe("Invoker", func() {
	var (
		deviceName string
		sim        *device.Simulator
		client     *observingClient
		tracker    *opstate.Tracker
		inv        *invoker.Invoker
		cfg        invoker.Config
		ctx        context.Context
		cancel     context.CancelFunc

		ls0 *model.LogicalSwitch
		ls1 *model.LogicalSwitch
	)

	insert := func(ls *model.LogicalSwitch) transact.CommandFunc {
		return func(b *transact.Batch) error {
			b.Insert(ls.Key(), ls, transact.Row{"name": ls.Name})

			return nil
		}
	}

	BeforeEach(func() {
		deviceName = "tor-" + CurrentSpecReport().LeafNodeText
		sim = device.NewSimulator(deviceName)
		tracker = opstate.NewTracker(deviceName, 4, 30*time.Second, scheduler.RealClock{}, zap.NewNop().Sugar())
		client = &observingClient{Simulator: sim, state: tracker}

		cfg = invoker.DefaultConfig(deviceName)
		cfg.InitialBackoff = time.Millisecond
		cfg.MaxBackoff = 5 * time.Millisecond
		inv = invoker.New(cfg, client, tracker)

		ctx, cancel = context.WithCancel(context.Background())

		ls0 = &model.LogicalSwitch{Name: "ls0", TunnelKey: 5000}
		ls1 = &model.LogicalSwitch{Name: "ls1", TunnelKey: 5001}
	})

	AfterEach(func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), time.Second)
		defer done()

		Expect(inv.Shutdown(shutdownCtx)).To(Succeed())
		cancel()
	})

	start := func() {
		inv.Start(ctx)
	}

	It("should apply a batch and record the device uuids", func() {
		start()
		Expect(inv.Submit(insert(ls0))).To(Succeed())

		Eventually(func() bool { return tracker.IsAcked(ls0.Key()) }).Should(BeTrue())

		_, id, ok := sim.Lookup(ls0.Key())
		Expect(ok).To(BeTrue())

		uuid, _ := tracker.GetUUID(ls0.Key())
		Expect(uuid).To(Equal(id))
		Expect(tracker.IsInTransit(ls0.Key())).To(BeFalse())
		Expect(client.observed()).To(Equal([]bool{true}))
		Expect(testutil.ToFloat64(metrics.BatchCounter(deviceName, metrics.BatchSucceeded))).To(Equal(1.0))
	})

	It("should process commands in submission order", func() {
		start()

		Expect(inv.Submit(insert(ls0))).To(Succeed())
		Expect(inv.Submit(transact.CommandFunc(func(b *transact.Batch) error {
			uuid, ok := tracker.GetUUID(ls0.Key())
			if !ok {
				return errors.New("ls0 not acknowledged yet")
			}

			b.Delete(ls0.Key(), uuid)

			return nil
		}))).To(Succeed())

		Eventually(inv.Idle).Should(BeTrue())
		Expect(tracker.IsAcked(ls0.Key())).To(BeFalse())
		Expect(sim.Count(model.TypeLogicalSwitch)).To(BeZero())
	})

	It("should retry transient failures", func() {
		sim.FailNext(2, nil)
		start()

		Expect(inv.Submit(insert(ls0))).To(Succeed())

		Eventually(func() bool { return tracker.IsAcked(ls0.Key()) }).Should(BeTrue())
		Expect(sim.Transacts()).To(Equal(3))
		Expect(inv.DroppedBatches()).To(BeEmpty())
	})

	It("should drop a batch after exhausting the retries", func() {
		sim.FailNext(10, nil)
		start()

		Expect(inv.Submit(insert(ls0))).To(Succeed())

		Eventually(inv.DroppedBatches).Should(HaveLen(1))
		dropped := inv.DroppedBatches()[0]
		Expect(dropped.Attempts).To(Equal(4))
		Expect(dropped.Keys).To(ConsistOf(ls0.Key()))
		Expect(dropped.Error).To(ContainSubstring("device unavailable"))

		Expect(sim.Transacts()).To(Equal(4))
		Expect(tracker.IsInTransit(ls0.Key())).To(BeFalse())
		Expect(tracker.IsAcked(ls0.Key())).To(BeFalse())
		Expect(testutil.ToFloat64(metrics.BatchCounter(deviceName, metrics.BatchDropped))).To(Equal(1.0))
	})

	It("should not retry permanent failures", func() {
		sim.FailNext(1, backoff.NewPermanentError(errors.New("schema mismatch")))
		start()

		Expect(inv.Submit(insert(ls0))).To(Succeed())

		Eventually(inv.DroppedBatches).Should(HaveLen(1))
		Expect(sim.Transacts()).To(Equal(1))
	})

	It("should submit a command that failed before only once", func() {
		cmd := identified{CommandFunc: insert(ls0), id: "changes:ls0"}
		sim.FailNext(5, nil)
		start()

		Expect(inv.Submit(cmd)).To(Succeed())
		Eventually(inv.DroppedBatches).Should(HaveLen(1))
		Expect(sim.Transacts()).To(Equal(4))

		Expect(inv.Submit(cmd)).To(Succeed())
		Eventually(inv.DroppedBatches).Should(HaveLen(2))
		Expect(sim.Transacts()).To(Equal(5))

		Expect(inv.Submit(cmd)).To(Succeed())
		Eventually(func() bool { return tracker.IsAcked(ls0.Key()) }).Should(BeTrue())
		Expect(sim.Transacts()).To(Equal(6))
	})

	It("should drop a transaction the device rolled back", func() {
		start()

		Expect(inv.Submit(insert(ls0))).To(Succeed())
		Eventually(inv.Idle).Should(BeTrue())

		Expect(inv.Submit(transact.CommandFunc(func(b *transact.Batch) error {
			b.Insert(ls1.Key(), ls1, transact.Row{"name": "ls1"})
			b.Insert(ls0.Key(), ls0, transact.Row{"name": "ls0"})

			return nil
		}))).To(Succeed())

		Eventually(inv.DroppedBatches).Should(HaveLen(1))
		Expect(inv.DroppedBatches()[0].Error).To(ContainSubstring("constraint violation"))
		Expect(tracker.IsAcked(ls1.Key())).To(BeFalse())
		Expect(tracker.IsInTransit(ls1.Key())).To(BeFalse())
		Expect(tracker.IsAcked(ls0.Key())).To(BeTrue())
	})

	It("should not send empty batches", func() {
		start()

		Expect(inv.Submit(transact.CommandFunc(func(*transact.Batch) error { return nil }))).To(Succeed())
		Eventually(inv.Idle).Should(BeTrue())
		Expect(sim.Transacts()).To(BeZero())
	})

	It("should survive a panicking command", func() {
		start()

		Expect(inv.Submit(transact.CommandFunc(func(*transact.Batch) error { panic("broken builder") }))).To(Succeed())
		Expect(inv.Submit(insert(ls0))).To(Succeed())

		Eventually(func() bool { return tracker.IsAcked(ls0.Key()) }).Should(BeTrue())
	})

	It("should still submit what a failing command built", func() {
		start()

		Expect(inv.Submit(transact.CommandFunc(func(b *transact.Batch) error {
			b.Insert(ls0.Key(), ls0, transact.Row{"name": "ls0"})

			return errors.New("ls1 malformed")
		}))).To(Succeed())

		Eventually(func() bool { return tracker.IsAcked(ls0.Key()) }).Should(BeTrue())
	})

	It("should reject commands beyond capacity", func() {
		cfg.QueueCapacity = 1
		inv = invoker.New(cfg, client, tracker)

		Expect(inv.Submit(insert(ls0))).To(Succeed())
		Expect(inv.Submit(insert(ls1))).To(MatchError(invoker.ErrQueueFull))
		Expect(inv.QueueLength()).To(Equal(1))
	})

	It("should drain queued work on shutdown and refuse more", func() {
		Expect(inv.Submit(insert(ls0))).To(Succeed())
		Expect(inv.Submit(insert(ls1))).To(Succeed())
		start()

		shutdownCtx, done := context.WithTimeout(context.Background(), time.Second)
		defer done()

		Expect(inv.Shutdown(shutdownCtx)).To(Succeed())
		Expect(tracker.IsAcked(ls0.Key())).To(BeTrue())
		Expect(tracker.IsAcked(ls1.Key())).To(BeTrue())
		Expect(inv.Submit(insert(ls0))).To(MatchError(invoker.ErrShutdown))
	})
})
