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
	"slices"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/model"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/transact"
)

type logicalSwitchTable struct{}

func (logicalSwitchTable) entityType() model.EntityType { return model.TypeLogicalSwitch }

func (logicalSwitchTable) columns(v model.Value) transact.Row {
	ls := v.(*model.LogicalSwitch)

	tunnelKey := []int64{}
	if ls.TunnelKey != 0 {
		tunnelKey = []int64{ls.TunnelKey}
	}

	return transact.Row{
		"name":        ls.Name,
		"description": ls.Description,
		"tunnel_key":  tunnelKey,
	}
}

func (logicalSwitchTable) references(model.Value) map[string]any { return nil }

func (logicalSwitchTable) resolve(*Env, *transact.Batch, model.Value, string) (any, bool) {
	return nil, false
}

// released removes what lived in a deleted logical switch: its remote MACs
// and the port VLAN bindings pointing at it.
func (logicalSwitchTable) released(e *Env, b *transact.Batch, before, after model.Value) {
	if after != nil {
		return
	}

	ls, ok := before.(*model.LogicalSwitch)
	if !ok {
		return
	}

	lsKey := ls.Key()

	for _, d := range e.State.AckedOfType(model.TypeUcastMacRemote) {
		if mac, ok := d.Value.(*model.UcastMacRemote); ok && mac.LogicalSwitch == ls.Name {
			b.Delete(d.Key, d.UUID)
		}
	}

	for _, d := range e.State.AckedOfType(model.TypeMcastMacRemote) {
		if mac, ok := d.Value.(*model.McastMacRemote); ok && mac.LogicalSwitch == ls.Name {
			b.Delete(d.Key, d.UUID)
			mcastTable{}.released(e, b, mac, nil)
		}
	}

	for _, d := range e.State.AckedOfType(model.TypePhysicalPort) {
		port, ok := d.Value.(*model.PhysicalPort)
		if !ok {
			continue
		}

		kept := &model.PhysicalPort{Switch: port.Switch, Name: port.Name, Description: port.Description, VlanBindings: map[uint16]string{}}
		for vlan, name := range port.VlanBindings {
			if name != ls.Name {
				kept.VlanBindings[vlan] = name
			}
		}

		if len(kept.VlanBindings) == len(port.VlanBindings) {
			continue
		}

		bindings, _ := portTable{}.resolve(e, b, kept, columnVlanBindings)
		b.Mutate(d.Key, d.UUID, kept, transact.Row{columnVlanBindings: bindings})
		e.Logger.Debugf("Detaching %s from deleted %s", d.Key, lsKey)
	}
}

// restore rebuilds the desired entities living in a re-created logical
// switch that its earlier delete removed from the device.
func (logicalSwitchTable) restore(e *Env, b *transact.Batch, v model.Value) {
	lsKey := v.Key()

	dependents := []table{ucastTable{}, mcastTable{}, portTable{}}
	for _, t := range dependents {
		for _, dep := range e.State.DesiredOfType(t.entityType()) {
			key := dep.Key()
			if b.Has(key) || e.Jobs.IsParked(key) || e.State.IsInTransit(key) || !slices.Contains(dep.References(), lsKey) {
				continue
			}

			if em, ok := t.(emptiable); ok && em.empty(dep) {
				continue
			}

			if err := e.upsert(b, dep, t); err != nil {
				e.Logger.Warnf("Failed to restore %s in %s: %v", key, lsKey, err)
			}
		}
	}
}
