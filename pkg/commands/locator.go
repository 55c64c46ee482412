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
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/constants"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/model"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/transact"
)

type locatorTable struct{}

func (locatorTable) entityType() model.EntityType { return model.TypePhysicalLocator }

func (locatorTable) columns(v model.Value) transact.Row {
	return transact.Row{
		"encapsulation_type": constants.EncapsulationVxlanOverIPv4,
		"dst_ip":             v.(*model.PhysicalLocator).DstIP,
	}
}

func (locatorTable) references(model.Value) map[string]any { return nil }

func (locatorTable) resolve(*Env, *transact.Batch, model.Value, string) (any, bool) {
	return nil, false
}

func (locatorTable) released(*Env, *transact.Batch, model.Value, model.Value) {}

// retained keeps a locator remote MACs still tunnel to.
func (locatorTable) retained(e *Env, key model.EntityKey) bool {
	for _, v := range e.State.DesiredOfType(model.TypeUcastMacRemote) {
		if model.NewLocatorKey(v.(*model.UcastMacRemote).Locator) == key {
			return true
		}
	}

	for _, v := range e.State.DesiredOfType(model.TypeMcastMacRemote) {
		for _, l := range v.(*model.McastMacRemote).LocatorKeys() {
			if l == key {
				return true
			}
		}
	}

	return false
}

// locatorRef returns a reference to the locator key, inserting the locator
// into b if the device does not have it yet.
func (e *Env) locatorRef(b *transact.Batch, key model.EntityKey) transact.UUIDRef {
	if r, ok := e.ref(b, key); ok {
		return r
	}

	v, ok := e.State.GetDesired(key)
	if !ok {
		v = &model.PhysicalLocator{DstIP: key.ID.(model.LocatorKey).DstIP}
	}

	return b.Insert(key, v, locatorTable{}.columns(v))
}

// locatorSetRef returns a reference to the locator set of mac, inserting the
// set and missing locators into b if needed.
func (e *Env) locatorSetRef(b *transact.Batch, mac *model.McastMacRemote) (transact.UUIDRef, bool) {
	setKey, ok := mac.LocatorSet()
	if !ok {
		return transact.UUIDRef{}, false
	}

	if r, ok := e.ref(b, setKey); ok {
		return r, true
	}

	locators := mac.LocatorKeys()
	refs := make([]transact.UUIDRef, 0, len(locators))

	for _, l := range locators {
		refs = append(refs, e.locatorRef(b, l))
	}

	set := &model.PhysicalLocatorSet{Locators: locators}

	return b.Insert(setKey, set, transact.Row{"locators": refs}), true
}

// releaseLocatorSet deletes the locator set key if no desired multicast MAC
// points at it any more.
func (e *Env) releaseLocatorSet(b *transact.Batch, setKey model.EntityKey) {
	for _, v := range e.State.DesiredOfType(model.TypeMcastMacRemote) {
		if k, ok := v.(*model.McastMacRemote).LocatorSet(); ok && k == setKey {
			return
		}
	}

	uuid, ok := e.State.GetUUID(setKey)
	if !ok {
		return
	}

	e.Logger.Debugf("Deleting orphaned %s", setKey)
	b.Delete(setKey, uuid)
}
