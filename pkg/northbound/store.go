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

// Package northbound holds the desired state of one device and publishes
// every committed change of it.
package northbound

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/logger"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/model"
)

// Subscriber receives the changes of each commit, in commit order.
type Subscriber interface {
	ProcessChanges(ctx context.Context, events []model.ChangeEvent) error
}

// Store is an in-memory desired-state store. Commits are serialized and
// subscribers are called while the commit is held, so they observe commits
// in order and must not call back into the store.
type Store struct {
	logger *zap.SugaredLogger
	values map[model.EntityKey]model.Value
	// tombstones holds deleted values whose delete a subscriber failed to
	// take, until a Resend delivers them.
	tombstones  map[model.EntityKey]model.Value
	subscribers []Subscriber
	mu          sync.Mutex
}

// NewStore returns an empty store for device.
func NewStore(device string) *Store {
	return &Store{
		logger:     logger.ForDevice(logger.ComponentNorthbound, device),
		values:     make(map[model.EntityKey]model.Value),
		tombstones: make(map[model.EntityKey]model.Value),
	}
}

// Subscribe registers s for all future commits.
func (st *Store) Subscribe(s Subscriber) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.subscribers = append(st.subscribers, s)
}

// Get returns a copy of the stored value for key.
func (st *Store) Get(key model.EntityKey) (model.Value, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	v, ok := st.values[key]
	if !ok {
		return nil, false
	}

	clone, err := model.CloneValue(v)
	if err != nil {
		return nil, false
	}

	return clone, true
}

// Len returns the number of stored entities.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()

	return len(st.values)
}

// Apply creates or updates values. Values equal to the stored ones produce
// no event. The returned events are the ones published.
func (st *Store) Apply(ctx context.Context, values []model.Value) ([]model.ChangeEvent, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	events, err := st.upsertLocked(values)
	if err != nil {
		return nil, err
	}

	return events, st.publishLocked(ctx, events)
}

// Delete removes the entity with key, if stored.
func (st *Store) Delete(ctx context.Context, key model.EntityKey) (bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	v, ok := st.values[key]
	if !ok {
		return false, nil
	}

	delete(st.values, key)

	return true, st.publishLocked(ctx, []model.ChangeEvent{model.Deleted(v)})
}

// Replace makes values the complete content of the store: missing entities
// are deleted, the rest is applied.
func (st *Store) Replace(ctx context.Context, values []model.Value) ([]model.ChangeEvent, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	keep := make(map[model.EntityKey]struct{}, len(values))
	for _, v := range values {
		if v != nil {
			keep[v.Key()] = struct{}{}
		}
	}

	events, err := st.upsertLocked(values)
	if err != nil {
		return nil, err
	}

	stale := slices.SortedFunc(maps.Keys(st.values), model.Compare)
	for _, key := range stale {
		if _, ok := keep[key]; ok {
			continue
		}

		events = append(events, model.Deleted(st.values[key]))
		delete(st.values, key)
	}

	return events, st.publishLocked(ctx, events)
}

// Resend publishes every stored entity again as created, preceded by the
// deletes subscribers failed to take, e.g. after a subscriber failed to take
// a commit.
func (st *Store) Resend(ctx context.Context) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	deleted := slices.SortedFunc(maps.Keys(st.tombstones), model.Compare)
	keys := slices.SortedFunc(maps.Keys(st.values), model.Compare)

	events := make([]model.ChangeEvent, 0, len(deleted)+len(keys))
	for _, key := range deleted {
		events = append(events, model.Deleted(st.tombstones[key]))
	}

	for _, key := range keys {
		events = append(events, model.Created(st.values[key]))
	}

	return st.publishLocked(ctx, events)
}

func (st *Store) upsertLocked(values []model.Value) ([]model.ChangeEvent, error) {
	clones := make([]model.Value, 0, len(values))

	for _, v := range values {
		if v == nil {
			return nil, errors.New("nil value")
		}

		clone, err := model.CloneValue(v)
		if err != nil {
			return nil, err
		}

		clones = append(clones, clone)
	}

	var events []model.ChangeEvent

	for _, v := range clones {
		key := v.Key()

		current, ok := st.values[key]
		switch {
		case !ok:
			events = append(events, model.Created(v))
		case !model.Equal(current, v):
			events = append(events, model.Updated(current, v))
		default:
			continue
		}

		st.values[key] = v
		delete(st.tombstones, key)
	}

	return events, nil
}

func (st *Store) publishLocked(ctx context.Context, events []model.ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}

	st.logger.Debugf("Publishing %d changes to %d subscribers", len(events), len(st.subscribers))

	var errs error
	for _, s := range st.subscribers {
		errs = multierr.Append(errs, s.ProcessChanges(ctx, events))
	}

	for _, ev := range events {
		if ev.Action != model.ActionDelete {
			continue
		}

		if errs != nil {
			st.tombstones[ev.Key] = ev.Before
		} else {
			delete(st.tombstones, ev.Key)
		}
	}

	return errs
}
