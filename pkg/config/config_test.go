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

package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/backoff"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/config"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/model"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config Suite")
}

const sampleConfig = `
agent:
  metricsPort: 9100
  debugApiPort: 9101
engine:
  opWaitTimeout: 2s
  transactMaxRetries: 5
devices:
  - name: tor-1
    simulatorLatency: 1ms
    logicalSwitches:
      - name: ls0
        tunnelKey: 5000
    locators:
      - dstIp: 192.168.122.20
    ucastMacs:
      - logicalSwitch: ls0
        mac: "00:00:00:00:00:01"
        locator: 192.168.122.20
    mcastMacs:
      - logicalSwitch: ls0
        mac: "ff:ff:ff:ff:ff:ff"
        locators: [192.168.122.20, 192.168.122.30]
    ports:
      - switch: ps0
        name: eth1
        vlanBindings:
          100: ls0
`

var _ = Describe("FullConfig", func() {
	It("should parse devices and their entities", func() {
		cfg, err := config.Parse([]byte(sampleConfig))
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.Agent.MetricsPort).To(Equal(9100))
		Expect(cfg.Engine.OpWaitTimeout).To(Equal(2 * time.Second))
		Expect(cfg.Devices).To(HaveLen(1))

		dev := cfg.Devices[0]
		Expect(dev.TransportOrDefault()).To(Equal("simulator"))
		Expect(dev.SimulatorLatency).To(Equal(time.Millisecond))
		Expect(dev.Ports[0].VlanBindings).To(Equal(map[uint16]string{100: "ls0"}))

		values := dev.Values()
		Expect(values).To(HaveLen(5))
		Expect(values[0].Key()).To(Equal(model.NewLogicalSwitchKey("ls0")))
		Expect(values[4].Key()).To(Equal(model.NewPortKey("ps0", "eth1")))
	})

	It("should fingerprint device content", func() {
		cfg, err := config.Parse([]byte(sampleConfig))
		Expect(err).NotTo(HaveOccurred())

		before, err := cfg.Devices[0].Hash()
		Expect(err).NotTo(HaveOccurred())

		same, err := cfg.Clone().Devices[0].Hash()
		Expect(err).NotTo(HaveOccurred())
		Expect(same).To(Equal(before))

		cfg.Devices[0].LogicalSwitches[0].TunnelKey = 6000
		after, err := cfg.Devices[0].Hash()
		Expect(err).NotTo(HaveOccurred())
		Expect(after).NotTo(Equal(before))
	})

	It("should clone without sharing entities", func() {
		cfg, err := config.Parse([]byte(sampleConfig))
		Expect(err).NotTo(HaveOccurred())

		clone := cfg.Clone()
		clone.Devices[0].McastMacs[0].Locators[0] = "10.0.0.1"
		Expect(cfg.Devices[0].McastMacs[0].Locators[0]).To(Equal("192.168.122.20"))
	})

	It("should reject duplicate and unnamed devices", func() {
		Expect(config.FullConfig{Devices: []config.DeviceConfig{{Name: "a"}, {Name: "a"}}}.Validate()).NotTo(Succeed())
		Expect(config.FullConfig{Devices: []config.DeviceConfig{{}}}.Validate()).NotTo(Succeed())
		Expect(config.FullConfig{Devices: []config.DeviceConfig{{Name: "a"}, {Name: "b"}}}.Validate()).To(Succeed())
	})

	It("should apply environment overrides", func() {
		GinkgoT().Setenv(config.EnvOpWaitTimeout, "750ms")
		GinkgoT().Setenv(config.EnvMetricsPort, "not-a-port")

		cfg, err := config.ApplyEnvOverrides(config.FullConfig{Agent: config.AgentConfig{MetricsPort: 8080}})
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Engine.OpWaitTimeout).To(Equal(750 * time.Millisecond))
		Expect(cfg.Agent.MetricsPort).To(Equal(8080))
	})
})

var _ = Describe("FileConfigManager", func() {
	var (
		path string
		ctx  context.Context
	)

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), "config.yaml")
		ctx = context.Background()
	})

	It("should read the file on every call", func() {
		Expect(os.WriteFile(path, []byte(sampleConfig), 0o600)).To(Succeed())

		manager := config.NewFileConfigManager(path)
		cfg, err := manager.GetConfig(ctx, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Devices[0].Name).To(Equal("tor-1"))

		Expect(os.WriteFile(path, []byte("devices:\n  - name: tor-2\n"), 0o600)).To(Succeed())
		cfg, err = manager.GetConfig(ctx, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Devices[0].Name).To(Equal("tor-2"))
	})

	It("should fail on missing, empty and invalid files", func() {
		manager := config.NewFileConfigManager(path)

		_, err := manager.GetConfig(ctx, 0)
		Expect(err).To(MatchError(ContainSubstring("does not exist")))

		Expect(os.WriteFile(path, nil, 0o600)).To(Succeed())
		_, err = manager.GetConfig(ctx, 0)
		Expect(err).To(MatchError(ContainSubstring("empty")))

		Expect(os.WriteFile(path, []byte("devices: [{name: a}, {name: a}]"), 0o600)).To(Succeed())
		_, err = manager.GetConfig(ctx, 0)
		Expect(err).To(MatchError(ContainSubstring("configured twice")))
	})
})

var _ = Describe("FileConfigManagerWithBackoff", func() {
	It("should back off after a failure and recover", func() {
		mock := config.NewMockConfigManager()
		mock.ConfigError = errors.New("disk hiccup")
		manager := mock.WithBackoff()

		_, err := manager.GetConfig(context.Background(), 1)
		Expect(err).To(MatchError("disk hiccup"))

		_, err = manager.GetConfig(context.Background(), 1)
		Expect(backoff.IsTemporaryBackoffError(err)).To(BeTrue())

		mock.ConfigError = nil
		mock.SetConfig(config.FullConfig{Devices: []config.DeviceConfig{{Name: "tor-1"}}})

		Eventually(func() error {
			_, err := manager.GetConfig(context.Background(), 100)

			return err
		}).Should(Succeed())
		Expect(manager.IsPermanentFailure()).To(BeFalse())
	})

	It("should fail permanently on permanent errors", func() {
		mock := config.NewMockConfigManager()
		mock.ConfigError = backoff.NewPermanentError(errors.New("unreadable"))
		manager := mock.WithBackoff()

		_, err := manager.GetConfig(context.Background(), 1)
		Expect(err).To(HaveOccurred())
		Expect(manager.IsPermanentFailure()).To(BeTrue())

		_, err = manager.GetConfig(context.Background(), 2)
		Expect(backoff.IsPermanentFailureError(err)).To(BeTrue())
	})
})
