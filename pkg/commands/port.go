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
	"maps"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/model"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/transact"
)

type portTable struct{}

func (portTable) entityType() model.EntityType { return model.TypePhysicalPort }

func (portTable) columns(v model.Value) transact.Row {
	port := v.(*model.PhysicalPort)

	return transact.Row{"name": port.Name, "description": port.Description}
}

func (portTable) references(v model.Value) map[string]any {
	bindings := maps.Clone(v.(*model.PhysicalPort).VlanBindings)
	if bindings == nil {
		bindings = map[uint16]string{}
	}

	return map[string]any{columnVlanBindings: bindings}
}

// resolve maps each bound VLAN to its logical switch row. Bindings to
// switches that cannot be referenced yet are left out.
func (portTable) resolve(e *Env, b *transact.Batch, v model.Value, column string) (any, bool) {
	if column != columnVlanBindings {
		return nil, false
	}

	port := v.(*model.PhysicalPort)
	bindings := make(map[int64]transact.UUIDRef, len(port.VlanBindings))

	for vlan, name := range port.VlanBindings {
		ref, ok := e.ref(b, model.NewLogicalSwitchKey(name))
		if !ok {
			e.Logger.Warnf("Leaving VLAN %d of %s unbound, logical switch %s cannot be referenced yet", vlan, port.Key(), name)

			continue
		}

		bindings[int64(vlan)] = ref
	}

	return bindings, true
}

func (portTable) released(*Env, *transact.Batch, model.Value, model.Value) {}
