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
	"fmt"
	"maps"
	"reflect"
	"slices"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/depqueue"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/model"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/opstate"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/resolver"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/transact"
)

// JobQueue parks deferred work.
type JobQueue interface {
	AddJob(job depqueue.DependentJob) error
	IsParked(target model.EntityKey) bool
}

// Env is the device context builders work in.
type Env struct {
	State    *opstate.Tracker
	Resolver *resolver.Resolver
	Jobs     JobQueue
	Logger   *zap.SugaredLogger
}

// NewEnv returns the build environment of one device.
func NewEnv(state *opstate.Tracker, jobs JobQueue, logger *zap.SugaredLogger) *Env {
	return &Env{
		State:    state,
		Resolver: resolver.New(state),
		Jobs:     jobs,
		Logger:   logger,
	}
}

// table describes how one entity type maps to device rows.
type table interface {
	entityType() model.EntityType
	// columns returns the plain, non-reference columns of v.
	columns(v model.Value) transact.Row
	// references returns, per reference column, a comparable description of
	// what the column points at.
	references(v model.Value) map[string]any
	// resolve returns the value of a reference column of v. ok is false when
	// the target cannot be referenced yet and the column is left out.
	resolve(e *Env, b *transact.Batch, v model.Value, column string) (val any, ok bool)
	// released runs after key was updated from before to after, or deleted
	// (after is nil), to clean up what only before used.
	released(e *Env, b *transact.Batch, before, after model.Value)
}

// ref returns how key can be referenced in b: as a row inserted earlier in
// the batch or by its device UUID.
func (e *Env) ref(b *transact.Batch, key model.EntityKey) (transact.UUIDRef, bool) {
	if b.IsDeleted(key) {
		return transact.UUIDRef{}, false
	}

	if r, ok := b.RefFor(key); ok {
		return r, true
	}

	if uuid, ok := e.State.GetUUID(key); ok {
		return transact.UUIDRef{UUID: uuid}, true
	}

	return transact.UUIDRef{}, false
}

// upsert is the create/update path shared by all builders.
func (e *Env) upsert(b *transact.Batch, v model.Value, t table) error {
	if err := v.Validate(); err != nil {
		return err
	}

	key := v.Key()

	if unmet := e.Resolver.UnmetConfigDependencies(v); !unmet.Empty() {
		e.Logger.Debugf("%s waits for configuration of %v", key, unmet.Keys())

		return e.park(depqueue.KindConfigWaiting, v, unmet, t)
	}

	if pending := e.Resolver.UnmetInTransitDependencies(v); !pending.Empty() {
		// A second insert of a row whose insert is still unacknowledged would
		// duplicate it, so only dependencies of other keys get a best-effort
		// write.
		if !pending.Contains(key) {
			if err := e.write(b, v, t, false); err != nil {
				return err
			}
		}

		e.Logger.Debugf("%s waits for acknowledgement of %v", key, pending.Keys())

		return e.park(depqueue.KindOpWaiting, v, pending, t)
	}

	return e.write(b, v, t, false)
}

func (e *Env) park(kind depqueue.Kind, v model.Value, unmet resolver.Dependencies, t table) error {
	key := v.Key()

	return e.Jobs.AddJob(depqueue.DependentJob{
		Target: key,
		Value:  v,
		Kind:   kind,
		Unmet:  unmet,
		OnResolved: func(state *opstate.Tracker, b *transact.Batch) error {
			current, ok := state.GetDesired(key)
			if !ok {
				e.Logger.Debugf("%s is no longer desired, nothing to resolve", key)

				return nil
			}

			if em, ok := t.(emptiable); ok && em.empty(current) {
				return e.remove(b, current, t)
			}

			if kind == depqueue.KindConfigWaiting {
				return e.upsert(b, current, t)
			}

			// Re-send every reference column so associations the device
			// dropped during the best-effort write are restored.
			return e.write(b, current, t, true)
		},
	})
}

// write emits the insert or update realizing v. forceRefs re-sends reference
// columns even when they did not change.
func (e *Env) write(b *transact.Batch, v model.Value, t table, forceRefs bool) error {
	key := v.Key()
	acked, isAcked := e.State.GetDeviceData(key)

	var row transact.Row
	currentRefs := map[string]any{}

	if isAcked && acked.Value != nil {
		row = transact.DiffRow(t.columns(v), t.columns(acked.Value))
		currentRefs = t.references(acked.Value)
	} else {
		row = t.columns(v)
	}

	wantRefs := t.references(v)
	for _, col := range slices.Sorted(maps.Keys(wantRefs)) {
		if isAcked && !forceRefs && reflect.DeepEqual(wantRefs[col], currentRefs[col]) {
			continue
		}

		val, ok := t.resolve(e, b, v, col)
		if !ok {
			e.Logger.Warnf("Writing %s without %s, its target cannot be referenced yet", key, col)

			continue
		}

		row[col] = val
	}

	if !isAcked {
		b.Insert(key, v, row)

		if r, ok := t.(restorer); ok {
			r.restore(e, b, v)
		}

		return nil
	}

	if !b.Update(key, acked.UUID, v, row) {
		e.Logger.Debugf("%s is unchanged on the device", key)

		return nil
	}

	if acked.Value != nil {
		t.released(e, b, acked.Value, v)
	}

	return nil
}

// remove is the delete path shared by all builders.
func (e *Env) remove(b *transact.Batch, old model.Value, t table) error {
	key := old.Key()

	acked, ok := e.State.GetDeviceData(key)
	if !ok {
		if e.State.IsInTransit(key) {
			return e.parkDelete(key, t)
		}

		e.Logger.Debugf("%s is not on the device, nothing to delete", key)

		return nil
	}

	if r, ok := t.(retainer); ok && r.retained(e, key) {
		e.Logger.Debugf("%s is still referenced, keeping it on the device", key)

		return nil
	}

	b.Delete(key, acked.UUID)

	before := acked.Value
	if before == nil {
		before = old
	}

	t.released(e, b, before, nil)

	return nil
}

// parkDelete defers the delete of a row whose insert is still in transit.
func (e *Env) parkDelete(key model.EntityKey, t table) error {
	e.Logger.Debugf("%s is deleted while its insert is in transit, deleting after acknowledgement", key)

	return e.Jobs.AddJob(depqueue.DependentJob{
		Target:  key,
		Kind:    depqueue.KindOpWaiting,
		Unmet:   resolver.Dependencies{key.Type: {key}},
		Deletes: true,
		OnResolved: func(state *opstate.Tracker, b *transact.Batch) error {
			if _, desired := state.GetDesired(key); desired {
				return nil
			}

			acked, ok := state.GetDeviceData(key)
			if !ok {
				return nil
			}

			b.Delete(key, acked.UUID)
			if acked.Value != nil {
				t.released(e, b, acked.Value, nil)
			}

			return nil
		},
	})
}

// Builder emits the operations for change events of one entity type.
type Builder interface {
	Type() model.EntityType
	Build(b *transact.Batch, ev model.ChangeEvent) error
}

type builder struct {
	env *Env
	t   table
}

func (bl *builder) Type() model.EntityType {
	return bl.t.entityType()
}

func (bl *builder) Build(b *transact.Batch, ev model.ChangeEvent) error {
	if ev.Key.Type != bl.t.entityType() {
		return fmt.Errorf("%s builder got event for %s", bl.t.entityType(), ev.Key)
	}

	switch ev.Action {
	case model.ActionCreate, model.ActionUpdate:
		if ev.After == nil {
			return fmt.Errorf("%s event for %s carries no value", ev.Action, ev.Key)
		}

		if e, ok := bl.t.(emptiable); ok && e.empty(ev.After) {
			bl.env.Logger.Debugf("%s has nothing left to point at, deleting it", ev.Key)

			return bl.env.remove(b, ev.After, bl.t)
		}

		return bl.env.upsert(b, ev.After, bl.t)
	case model.ActionDelete:
		if ev.Before == nil {
			return fmt.Errorf("delete event for %s carries no value", ev.Key)
		}

		return bl.env.remove(b, ev.Before, bl.t)
	default:
		return fmt.Errorf("unknown action %s for %s", ev.Action, ev.Key)
	}
}

// emptiable tables delete entities that have nothing left to point at.
type emptiable interface {
	empty(v model.Value) bool
}

// restorer tables bring back dependents removed along with an earlier
// incarnation of an inserted entity.
type restorer interface {
	restore(e *Env, b *transact.Batch, v model.Value)
}

// retainer tables keep entities other desired entities still point at.
type retainer interface {
	retained(e *Env, key model.EntityKey) bool
}

// Builders returns one builder per buildable entity type.
func Builders(env *Env) map[model.EntityType]Builder {
	tables := []table{
		logicalSwitchTable{},
		locatorTable{},
		ucastTable{},
		mcastTable{},
		portTable{},
	}

	builders := make(map[model.EntityType]Builder, len(tables))
	for _, t := range tables {
		builders[t.entityType()] = &builder{env: env, t: t}
	}

	return builders
}
