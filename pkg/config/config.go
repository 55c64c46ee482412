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

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/tiendc/go-deepcopy"
	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/constants"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/model"
)

type FullConfig struct {
	Agent   AgentConfig    `yaml:"agent"`   // Agent config, requires restart to take effect
	Engine  EngineConfig   `yaml:"engine"`  // Engine tuning, applies to engines created afterwards
	Devices []DeviceConfig `yaml:"devices"` // Devices to reconcile, can be updated while running
}

type AgentConfig struct {
	MetricsPort  int `yaml:"metricsPort"`            // Port to expose metrics on
	DebugAPIPort int `yaml:"debugApiPort,omitempty"` // Port of the read-only debug API
}

// EngineConfig overrides the engine defaults. Zero values keep the default.
type EngineConfig struct {
	SweepInterval      time.Duration `yaml:"sweepInterval,omitempty"`
	OpWaitTimeout      time.Duration `yaml:"opWaitTimeout,omitempty"`
	InTransitExpiry    time.Duration `yaml:"inTransitExpiry,omitempty"`
	TransactTimeout    time.Duration `yaml:"transactTimeout,omitempty"`
	TransactMaxRetries int           `yaml:"transactMaxRetries,omitempty"`
	QueueCapacity      int           `yaml:"queueCapacity,omitempty"`
}

// DeviceConfig is one hardware VTEP and the entities it should hold.
type DeviceConfig struct {
	Name      string `yaml:"name"`
	Transport string `yaml:"transport,omitempty"` // only "simulator" is supported

	// SimulatorLatency delays every transaction of a simulated device.
	SimulatorLatency time.Duration `yaml:"simulatorLatency,omitempty"`

	LogicalSwitches []model.LogicalSwitch   `yaml:"logicalSwitches,omitempty"`
	Locators        []model.PhysicalLocator `yaml:"locators,omitempty"`
	UcastMacs       []model.UcastMacRemote  `yaml:"ucastMacs,omitempty"`
	McastMacs       []model.McastMacRemote  `yaml:"mcastMacs,omitempty"`
	Ports           []model.PhysicalPort    `yaml:"ports,omitempty"`
}

// Values returns the desired entities of the device in dependency order.
func (d DeviceConfig) Values() []model.Value {
	values := make([]model.Value, 0, len(d.LogicalSwitches)+len(d.Locators)+len(d.UcastMacs)+len(d.McastMacs)+len(d.Ports))

	for i := range d.LogicalSwitches {
		values = append(values, &d.LogicalSwitches[i])
	}

	for i := range d.Locators {
		values = append(values, &d.Locators[i])
	}

	for i := range d.UcastMacs {
		values = append(values, &d.UcastMacs[i])
	}

	for i := range d.McastMacs {
		values = append(values, &d.McastMacs[i])
	}

	for i := range d.Ports {
		values = append(values, &d.Ports[i])
	}

	return values
}

// Hash fingerprints the desired entities of the device.
func (d DeviceConfig) Hash() (uint64, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal device %s: %w", d.Name, err)
	}

	return xxhash.Sum64(data), nil
}

// TransportOrDefault returns the transport, defaulting to the simulator.
func (d DeviceConfig) TransportOrDefault() string {
	if d.Transport == "" {
		return constants.TransportSimulator
	}

	return d.Transport
}

// Validate reports configs the engine cannot work with.
func (c FullConfig) Validate() error {
	seen := make(map[string]struct{}, len(c.Devices))

	for _, d := range c.Devices {
		if d.Name == "" {
			return errors.New("device without name")
		}

		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("device %s is configured twice", d.Name)
		}

		seen[d.Name] = struct{}{}
	}

	return nil
}

// Clone creates a deep copy of FullConfig
func (c FullConfig) Clone() FullConfig {
	var clone FullConfig
	_ = deepcopy.Copy(&clone.Agent, &c.Agent)
	_ = deepcopy.Copy(&clone.Engine, &c.Engine)
	_ = deepcopy.Copy(&clone.Devices, &c.Devices)

	return clone
}

// Parse decodes a YAML config.
func Parse(data []byte) (FullConfig, error) {
	var config FullConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return FullConfig{}, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}
