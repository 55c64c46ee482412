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

package commands

import (
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/model"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/transact"
)

const (
	columnLogicalSwitch = "logical_switch"
	columnLocator       = "locator"
	columnLocatorSet    = "locator_set"
	columnVlanBindings  = "vlan_bindings"
)

type ucastTable struct{}

func (ucastTable) entityType() model.EntityType { return model.TypeUcastMacRemote }

func (ucastTable) columns(v model.Value) transact.Row {
	mac := v.(*model.UcastMacRemote)

	return transact.Row{"MAC": mac.Key().ID.(model.MacKey).MAC, "ipaddr": mac.IP}
}

func (ucastTable) references(v model.Value) map[string]any {
	mac := v.(*model.UcastMacRemote)

	return map[string]any{
		columnLogicalSwitch: model.NewLogicalSwitchKey(mac.LogicalSwitch),
		columnLocator:       model.NewLocatorKey(mac.Locator),
	}
}

func (ucastTable) resolve(e *Env, b *transact.Batch, v model.Value, column string) (any, bool) {
	mac := v.(*model.UcastMacRemote)

	switch column {
	case columnLogicalSwitch:
		return e.ref(b, model.NewLogicalSwitchKey(mac.LogicalSwitch))
	case columnLocator:
		return e.locatorRef(b, model.NewLocatorKey(mac.Locator)), true
	default:
		return nil, false
	}
}

func (ucastTable) released(*Env, *transact.Batch, model.Value, model.Value) {}

type mcastTable struct{}

func (mcastTable) entityType() model.EntityType { return model.TypeMcastMacRemote }

func (mcastTable) columns(v model.Value) transact.Row {
	mac := v.(*model.McastMacRemote)

	return transact.Row{"MAC": mac.Key().ID.(model.MacKey).MAC, "ipaddr": mac.IP}
}

func (mcastTable) references(v model.Value) map[string]any {
	mac := v.(*model.McastMacRemote)
	setKey, _ := mac.LocatorSet()

	return map[string]any{
		columnLogicalSwitch: model.NewLogicalSwitchKey(mac.LogicalSwitch),
		columnLocatorSet:    setKey,
	}
}

func (mcastTable) resolve(e *Env, b *transact.Batch, v model.Value, column string) (any, bool) {
	mac := v.(*model.McastMacRemote)

	switch column {
	case columnLogicalSwitch:
		return e.ref(b, model.NewLogicalSwitchKey(mac.LogicalSwitch))
	case columnLocatorSet:
		return e.locatorSetRef(b, mac)
	default:
		return nil, false
	}
}

// released deletes the locator set before pointed at once nothing uses it.
func (mcastTable) released(e *Env, b *transact.Batch, before, after model.Value) {
	old, ok := before.(*model.McastMacRemote)
	if !ok {
		return
	}

	oldSet, ok := old.LocatorSet()
	if !ok {
		return
	}

	if mac, ok := after.(*model.McastMacRemote); ok {
		if newSet, ok := mac.LocatorSet(); ok && newSet == oldSet {
			return
		}
	}

	e.releaseLocatorSet(b, oldSet)
}

func (mcastTable) empty(v model.Value) bool {
	return len(v.(*model.McastMacRemote).Locators) == 0
}
