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

package model

import (
	"errors"
	"fmt"
	"maps"
	"net/netip"
	"reflect"
	"slices"

	"github.com/tiendc/go-deepcopy"
)

// MaxTunnelKey is the largest VNI a logical switch can carry.
const MaxTunnelKey = 1<<24 - 1

var (
	ErrMissingField = errors.New("missing required field")
	ErrInvalidField = errors.New("invalid field")
)

// Value is the desired state of one entity. Values are replaced wholesale on
// every update; implementations are pointer types.
type Value interface {
	Key() EntityKey
	// References returns the keys this entity needs on the device before it
	// can be built, in a stable order.
	References() []EntityKey
	// Validate reports malformed desired state.
	Validate() error
}

// LogicalSwitch is a layer-2 broadcast domain mapped to a VNI.
type LogicalSwitch struct {
	Name        string `yaml:"name"        json:"name"`
	Description string `yaml:"description" json:"description,omitempty"`
	TunnelKey   int64  `yaml:"tunnelKey"   json:"tunnelKey"`
}

func (v *LogicalSwitch) Key() EntityKey          { return NewLogicalSwitchKey(v.Name) }
func (v *LogicalSwitch) References() []EntityKey { return nil }

func (v *LogicalSwitch) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("logical switch: name: %w", ErrMissingField)
	}

	if v.TunnelKey < 0 || v.TunnelKey > MaxTunnelKey {
		return fmt.Errorf("logical switch %s: tunnel key %d: %w", v.Name, v.TunnelKey, ErrInvalidField)
	}

	return nil
}

// PhysicalLocator is a remote tunnel endpoint.
type PhysicalLocator struct {
	DstIP string `yaml:"dstIp" json:"dstIp"`
}

func (v *PhysicalLocator) Key() EntityKey          { return NewLocatorKey(v.DstIP) }
func (v *PhysicalLocator) References() []EntityKey { return nil }

func (v *PhysicalLocator) Validate() error {
	return validateIP("physical locator", v.DstIP, true)
}

// PhysicalLocatorSet groups the locators a multicast entry floods to. Sets
// are derived from multicast MAC entries and never configured directly.
type PhysicalLocatorSet struct {
	Locators []EntityKey `json:"locators"`
}

func (v *PhysicalLocatorSet) Key() EntityKey { return NewLocatorSetKey(v.Locators...) }

func (v *PhysicalLocatorSet) References() []EntityKey {
	refs := slices.Clone(v.Locators)
	SortKeys(refs)

	return slices.Compact(refs)
}

func (v *PhysicalLocatorSet) Validate() error {
	if len(v.Locators) == 0 {
		return fmt.Errorf("physical locator set: locators: %w", ErrMissingField)
	}

	return nil
}

// UcastMacRemote forwards one MAC in a logical switch to one remote locator.
type UcastMacRemote struct {
	LogicalSwitch string `yaml:"logicalSwitch" json:"logicalSwitch"`
	MAC           string `yaml:"mac"           json:"mac"`
	IP            string `yaml:"ip"            json:"ip,omitempty"`
	Locator       string `yaml:"locator"       json:"locator"`
}

func (v *UcastMacRemote) Key() EntityKey { return NewUcastMacKey(v.LogicalSwitch, v.MAC) }

func (v *UcastMacRemote) References() []EntityKey {
	return []EntityKey{NewLogicalSwitchKey(v.LogicalSwitch), NewLocatorKey(v.Locator)}
}

func (v *UcastMacRemote) Validate() error {
	if v.LogicalSwitch == "" || v.MAC == "" {
		return fmt.Errorf("ucast mac remote %s: logical switch and mac: %w", v.MAC, ErrMissingField)
	}

	if err := validateIP("ucast mac remote "+v.MAC+" locator", v.Locator, true); err != nil {
		return err
	}

	return validateIP("ucast mac remote "+v.MAC+" ip", v.IP, false)
}

// McastMacRemote floods one MAC (or unknown-dst) in a logical switch to a
// set of remote locators.
type McastMacRemote struct {
	LogicalSwitch string   `yaml:"logicalSwitch" json:"logicalSwitch"`
	MAC           string   `yaml:"mac"           json:"mac"`
	IP            string   `yaml:"ip"            json:"ip,omitempty"`
	Locators      []string `yaml:"locators"      json:"locators"`
}

func (v *McastMacRemote) Key() EntityKey { return NewMcastMacKey(v.LogicalSwitch, v.MAC) }

func (v *McastMacRemote) References() []EntityKey {
	refs := make([]EntityKey, 0, len(v.Locators)+1)
	refs = append(refs, NewLogicalSwitchKey(v.LogicalSwitch))

	return append(refs, v.LocatorKeys()...)
}

// LocatorKeys returns the sorted, de-duplicated locator keys of the entry.
func (v *McastMacRemote) LocatorKeys() []EntityKey {
	keys := make([]EntityKey, 0, len(v.Locators))
	for _, ip := range v.Locators {
		keys = append(keys, NewLocatorKey(ip))
	}

	SortKeys(keys)

	return slices.Compact(keys)
}

// LocatorSet returns the key of the locator set the entry points at, and
// false if the entry has no locators.
func (v *McastMacRemote) LocatorSet() (EntityKey, bool) {
	if len(v.Locators) == 0 {
		return EntityKey{}, false
	}

	return NewLocatorSetKey(v.LocatorKeys()...), true
}

func (v *McastMacRemote) Validate() error {
	if v.LogicalSwitch == "" || v.MAC == "" {
		return fmt.Errorf("mcast mac remote %s: logical switch and mac: %w", v.MAC, ErrMissingField)
	}

	for _, ip := range v.Locators {
		if err := validateIP("mcast mac remote "+v.MAC+" locator", ip, true); err != nil {
			return err
		}
	}

	return validateIP("mcast mac remote "+v.MAC+" ip", v.IP, false)
}

// PhysicalPort binds VLANs of a switch port to logical switches.
type PhysicalPort struct {
	Switch       string            `yaml:"switch"       json:"switch"`
	Name         string            `yaml:"name"         json:"name"`
	Description  string            `yaml:"description"  json:"description,omitempty"`
	VlanBindings map[uint16]string `yaml:"vlanBindings" json:"vlanBindings,omitempty"`
}

func (v *PhysicalPort) Key() EntityKey { return NewPortKey(v.Switch, v.Name) }

func (v *PhysicalPort) References() []EntityKey {
	vlans := slices.Sorted(maps.Keys(v.VlanBindings))

	refs := make([]EntityKey, 0, len(vlans))
	for _, vlan := range vlans {
		refs = append(refs, NewLogicalSwitchKey(v.VlanBindings[vlan]))
	}

	SortKeys(refs)

	return slices.Compact(refs)
}

func (v *PhysicalPort) Validate() error {
	if v.Switch == "" || v.Name == "" {
		return fmt.Errorf("physical port: switch and name: %w", ErrMissingField)
	}

	for vlan, ls := range v.VlanBindings {
		if vlan == 0 || vlan > 4094 || ls == "" {
			return fmt.Errorf("physical port %s: vlan binding %d=%q: %w", v.Name, vlan, ls, ErrInvalidField)
		}
	}

	return nil
}

func validateIP(what, ip string, required bool) error {
	if ip == "" {
		if required {
			return fmt.Errorf("%s: %w", what, ErrMissingField)
		}

		return nil
	}

	if _, err := netip.ParseAddr(ip); err != nil {
		return fmt.Errorf("%s: %q: %w", what, ip, ErrInvalidField)
	}

	return nil
}

// CloneValue returns a deep copy of v. The copy shares no memory with v.
func CloneValue(v Value) (Value, error) {
	if v == nil || reflect.ValueOf(v).IsNil() {
		return nil, nil
	}

	dst := reflect.New(reflect.TypeOf(v).Elem())
	if err := deepcopy.Copy(dst.Interface(), v); err != nil {
		return nil, fmt.Errorf("failed to copy %s: %w", v.Key(), err)
	}

	return dst.Interface().(Value), nil
}

// Equal reports whether two values describe the same desired state.
func Equal(a, b Value) bool {
	return reflect.DeepEqual(a, b)
}
