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

// Package resolver computes which references of a desired value are not yet
// usable on the device.
package resolver

import (
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/model"
)

// StateReader is the part of the operational state the resolver reads.
type StateReader interface {
	IsConfigAvailable(key model.EntityKey) bool
	IsAcked(key model.EntityKey) bool
	IsInTransit(key model.EntityKey) bool
}

// Dependencies groups unmet keys by entity type. A type with no unmet key has
// no entry.
type Dependencies map[model.EntityType][]model.EntityKey

// Empty reports whether no dependency is unmet.
func (d Dependencies) Empty() bool {
	return len(d) == 0
}

// Keys returns all unmet keys in key order.
func (d Dependencies) Keys() []model.EntityKey {
	var keys []model.EntityKey
	for _, k := range d {
		keys = append(keys, k...)
	}

	model.SortKeys(keys)

	return keys
}

// Contains reports whether key is among the unmet keys.
func (d Dependencies) Contains(key model.EntityKey) bool {
	for _, k := range d[key.Type] {
		if k == key {
			return true
		}
	}

	return false
}

func (d Dependencies) add(key model.EntityKey) {
	if d.Contains(key) {
		return
	}

	d[key.Type] = append(d[key.Type], key)
}

// Resolver answers dependency questions against one device's state.
type Resolver struct {
	state StateReader
}

// New returns a resolver reading from state.
func New(state StateReader) *Resolver {
	return &Resolver{state: state}
}

// UnmetConfigDependencies returns the referenced keys of value that are
// neither configured nor acknowledged by the device.
func (r *Resolver) UnmetConfigDependencies(value model.Value) Dependencies {
	deps := Dependencies{}

	for _, ref := range value.References() {
		if !r.state.IsConfigAvailable(ref) && !r.state.IsAcked(ref) {
			deps.add(ref)
		}
	}

	return deps
}

// UnmetInTransitDependencies returns the referenced keys of value that are in
// transit, plus the key of value itself when its own previous operation is
// still unacknowledged.
func (r *Resolver) UnmetInTransitDependencies(value model.Value) Dependencies {
	deps := Dependencies{}

	for _, ref := range value.References() {
		if r.state.IsInTransit(ref) {
			deps.add(ref)
		}
	}

	if self := value.Key(); r.state.IsInTransit(self) {
		deps.add(self)
	}

	return deps
}

// Filter returns the keys of deps for which stillUnmet holds. Types whose
// keys are all met are omitted.
func Filter(deps Dependencies, stillUnmet func(model.EntityKey) bool) Dependencies {
	out := Dependencies{}

	for t, keys := range deps {
		for _, k := range keys {
			if stillUnmet(k) {
				out[t] = append(out[t], k)
			}
		}
	}

	return out
}
