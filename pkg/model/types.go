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

import "fmt"

// EntityType is the table an entity lives in on the device.
type EntityType uint8

const (
	TypeUnknown EntityType = iota
	TypeLogicalSwitch
	TypePhysicalLocator
	TypePhysicalLocatorSet
	TypeUcastMacRemote
	TypeMcastMacRemote
	TypePhysicalPort
)

var entityTypeNames = [...]string{
	TypeUnknown:            "Unknown",
	TypeLogicalSwitch:      "Logical_Switch",
	TypePhysicalLocator:    "Physical_Locator",
	TypePhysicalLocatorSet: "Physical_Locator_Set",
	TypeUcastMacRemote:     "Ucast_Macs_Remote",
	TypeMcastMacRemote:     "Mcast_Macs_Remote",
	TypePhysicalPort:       "Physical_Port",
}

// String returns the device table name.
func (t EntityType) String() string {
	if int(t) < len(entityTypeNames) {
		return entityTypeNames[t]
	}

	return fmt.Sprintf("EntityType(%d)", uint8(t))
}

// AllEntityTypes returns the known types in dependency order.
func AllEntityTypes() []EntityType {
	return []EntityType{
		TypeLogicalSwitch,
		TypePhysicalLocator,
		TypePhysicalLocatorSet,
		TypeUcastMacRemote,
		TypeMcastMacRemote,
		TypePhysicalPort,
	}
}

// ParseEntityType maps a table name back to its EntityType.
func ParseEntityType(name string) (EntityType, error) {
	for _, t := range AllEntityTypes() {
		if t.String() == name {
			return t, nil
		}
	}

	return TypeUnknown, fmt.Errorf("unknown entity type %q", name)
}
