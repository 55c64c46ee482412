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

package engine_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/config"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/device"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/engine"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/model"
)

var _ = Describe("Manager", func() {
	var (
		manager *engine.Manager
		sims    map[string]*device.Simulator
		simsMu  sync.Mutex
		fails   atomic.Int32
		ctx     context.Context
		tick    uint64
	)

	factory := func(cfg config.DeviceConfig) (device.Client, error) {
		if fails.Load() > 0 {
			fails.Add(-1)

			return nil, errors.New("device unreachable")
		}

		client, err := engine.SimulatorFactory(cfg)
		if err != nil {
			return nil, err
		}

		simsMu.Lock()
		sims[cfg.Name] = client.(*device.Simulator)
		simsMu.Unlock()

		return client, nil
	}

	deviceConfig := func(name string, tunnelKey int64) config.DeviceConfig {
		return config.DeviceConfig{
			Name:            name,
			LogicalSwitches: []model.LogicalSwitch{{Name: "ls0", TunnelKey: tunnelKey}},
			Locators:        []model.PhysicalLocator{{DstIP: "192.168.122.20"}},
			UcastMacs: []model.UcastMacRemote{
				{LogicalSwitch: "ls0", MAC: "00:00:00:00:00:01", Locator: "192.168.122.20"},
			},
		}
	}

	reconcile := func(cfg config.FullConfig) {
		tick++
		Expect(manager.Reconcile(ctx, cfg, tick)).To(Succeed())
	}

	BeforeEach(func() {
		sims = make(map[string]*device.Simulator)
		fails.Store(0)
		manager = engine.NewManager(factory)
		ctx = context.Background()
		tick = 0
	})

	AfterEach(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		Expect(manager.Shutdown(shutdownCtx)).To(Succeed())
	})

	It("should create an engine per device and push its entities", func() {
		reconcile(config.FullConfig{Devices: []config.DeviceConfig{
			deviceConfig("tor-a", 5000),
			deviceConfig("tor-b", 6000),
		}})

		Expect(manager.Devices()).To(Equal([]string{"tor-a", "tor-b"}))

		for _, name := range []string{"tor-a", "tor-b"} {
			sim := sims[name]
			Eventually(func() int { return sim.Count(model.TypeUcastMacRemote) }).Should(Equal(1))
		}
	})

	It("should only push changed device content", func() {
		cfg := config.FullConfig{Devices: []config.DeviceConfig{deviceConfig("tor-a", 5000)}}
		reconcile(cfg)

		sim := sims["tor-a"]
		Eventually(func() int { return sim.Count(model.TypeUcastMacRemote) }).Should(Equal(1))

		eng, ok := manager.Engine("tor-a")
		Expect(ok).To(BeTrue())
		Eventually(eng.Idle).Should(BeTrue())

		before := sim.Transacts()
		reconcile(cfg)
		Consistently(sim.Transacts, 50*time.Millisecond).Should(Equal(before))

		reconcile(config.FullConfig{Devices: []config.DeviceConfig{deviceConfig("tor-a", 7000)}})
		Eventually(func() any {
			row, _, _ := sim.Lookup(model.NewLogicalSwitchKey("ls0"))

			return row["tunnel_key"]
		}).Should(Equal([]int64{7000}))
	})

	It("should follow changes the device reports on its own", func() {
		reconcile(config.FullConfig{Devices: []config.DeviceConfig{deviceConfig("tor-a", 5000)}})

		eng, ok := manager.Engine("tor-a")
		Expect(ok).To(BeTrue())

		ucast := model.NewUcastMacKey("ls0", "00:00:00:00:00:01")
		Eventually(func() bool { return eng.State().IsAcked(ucast) }).Should(BeTrue())
		Eventually(eng.Idle).Should(BeTrue())

		simsMu.Lock()
		sim := sims["tor-a"]
		simsMu.Unlock()

		Expect(sim.Remove(ucast)).To(BeTrue())
		Expect(eng.State().IsAcked(ucast)).To(BeFalse())
	})

	It("should stop engines of removed devices", func() {
		reconcile(config.FullConfig{Devices: []config.DeviceConfig{deviceConfig("tor-a", 5000)}})
		sim := sims["tor-a"]

		reconcile(config.FullConfig{})
		Expect(manager.Devices()).To(BeEmpty())

		Eventually(func() error {
			_, err := sim.Transact(ctx, nil)

			return err
		}).Should(MatchError(device.ErrClosed))
	})

	It("should back off when the device cannot be reached", func() {
		fails.Store(1)
		cfg := config.FullConfig{Devices: []config.DeviceConfig{deviceConfig("tor-a", 5000)}}

		reconcile(cfg)
		Expect(manager.Devices()).To(BeEmpty())

		Eventually(func() []string {
			reconcile(cfg)

			return manager.Devices()
		}).Should(Equal([]string{"tor-a"}))
	})

	It("should not retry unsupported transports", func() {
		cfg := config.FullConfig{Devices: []config.DeviceConfig{{Name: "tor-x", Transport: "ovsdb-tcp"}}}

		for range 5 {
			reconcile(cfg)
		}

		Expect(manager.Devices()).To(BeEmpty())
		Expect(sims).To(BeEmpty())
	})
})
