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
	"cmp"
	"slices"
	"strings"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/constants"
)

// Key is the structured part of an EntityKey. It is implemented only by the
// key types of this package.
type Key interface {
	String() string
	isKey()
}

// LogicalSwitchKey identifies a logical switch by name.
type LogicalSwitchKey struct {
	Name string
}

// LocatorKey identifies a physical locator (tunnel endpoint).
type LocatorKey struct {
	EncapType string
	DstIP     string
}

// LocatorSetKey identifies a locator set by its members. Members is the
// sorted, comma separated list of member locator keys.
type LocatorSetKey struct {
	Members string
}

// MacKey identifies a remote MAC entry within a logical switch.
type MacKey struct {
	LogicalSwitch string
	MAC           string
}

// PortKey identifies a physical port of a physical switch.
type PortKey struct {
	Switch string
	Name   string
}

func (k LogicalSwitchKey) String() string { return k.Name }
func (k LocatorKey) String() string       { return k.EncapType + ":" + k.DstIP }
func (k LocatorSetKey) String() string    { return "{" + k.Members + "}" }
func (k MacKey) String() string           { return k.LogicalSwitch + "/" + k.MAC }
func (k PortKey) String() string          { return k.Switch + "/" + k.Name }

func (LogicalSwitchKey) isKey() {}
func (LocatorKey) isKey()       {}
func (LocatorSetKey) isKey()    {}
func (MacKey) isKey()           {}
func (PortKey) isKey()          {}

// EntityKey uniquely identifies a configurable object on one device.
type EntityKey struct {
	ID   Key
	Type EntityType
}

// String renders the key as "<table>/<key>".
func (k EntityKey) String() string {
	if k.ID == nil {
		return k.Type.String() + "/"
	}

	return k.Type.String() + "/" + k.ID.String()
}

// MarshalText lets EntityKey be used as a JSON object key.
func (k EntityKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// IsZero reports whether k is the zero key.
func (k EntityKey) IsZero() bool {
	return k.Type == TypeUnknown && k.ID == nil
}

// Compare orders keys by type, then by canonical key string.
func Compare(a, b EntityKey) int {
	if c := cmp.Compare(a.Type, b.Type); c != 0 {
		return c
	}

	return strings.Compare(keyString(a.ID), keyString(b.ID))
}

func keyString(k Key) string {
	if k == nil {
		return ""
	}

	return k.String()
}

// SortKeys sorts keys in place in the total key order.
func SortKeys(keys []EntityKey) {
	slices.SortFunc(keys, Compare)
}

// NewLogicalSwitchKey returns the key of the logical switch name.
func NewLogicalSwitchKey(name string) EntityKey {
	return EntityKey{Type: TypeLogicalSwitch, ID: LogicalSwitchKey{Name: name}}
}

// NewLocatorKey returns the key of the vxlan locator for dstIP.
func NewLocatorKey(dstIP string) EntityKey {
	return EntityKey{Type: TypePhysicalLocator, ID: LocatorKey{EncapType: constants.EncapsulationVxlanOverIPv4, DstIP: dstIP}}
}

// NewLocatorSetKey returns the key of the set made of the given locators.
// Member order and duplicates do not matter.
func NewLocatorSetKey(locators ...EntityKey) EntityKey {
	members := make([]string, 0, len(locators))
	for _, l := range locators {
		members = append(members, keyString(l.ID))
	}

	slices.Sort(members)
	members = slices.Compact(members)

	return EntityKey{Type: TypePhysicalLocatorSet, ID: LocatorSetKey{Members: strings.Join(members, ",")}}
}

// NewUcastMacKey returns the key of a remote unicast MAC entry.
func NewUcastMacKey(logicalSwitch, mac string) EntityKey {
	return EntityKey{Type: TypeUcastMacRemote, ID: MacKey{LogicalSwitch: logicalSwitch, MAC: strings.ToLower(mac)}}
}

// NewMcastMacKey returns the key of a remote multicast MAC entry.
func NewMcastMacKey(logicalSwitch, mac string) EntityKey {
	return EntityKey{Type: TypeMcastMacRemote, ID: MacKey{LogicalSwitch: logicalSwitch, MAC: strings.ToLower(mac)}}
}

// NewPortKey returns the key of a physical port.
func NewPortKey(physicalSwitch, name string) EntityKey {
	return EntityKey{Type: TypePhysicalPort, ID: PortKey{Switch: physicalSwitch, Name: name}}
}
