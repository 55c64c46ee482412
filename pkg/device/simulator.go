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

package device

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/backoff"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/logger"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/model"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/transact"
)

type row struct {
	value   model.Value
	columns transact.Row
	key     model.EntityKey
}

// Simulator is an in-memory hardware VTEP. It assigns row UUIDs, enforces
// unique keys and referential integrity, and can be told to fail.
type Simulator struct {
	logger    *zap.SugaredLogger
	rows      map[string]*row
	byKey     map[model.EntityKey]string
	faults    []error
	watchers  []func(model.DeviceEvent)
	name      string
	latency   time.Duration
	transacts int
	mu        sync.Mutex
	closed    bool
}

var (
	_ Client = (*Simulator)(nil)
	_ Dumper  = (*Simulator)(nil)
	_ Watcher = (*Simulator)(nil)
)

// NewSimulator returns an empty simulated device.
func NewSimulator(name string) *Simulator {
	return &Simulator{
		name:   name,
		logger: logger.ForDevice(logger.ComponentDevice, name),
		rows:   make(map[string]*row),
		byKey:  make(map[model.EntityKey]string),
	}
}

// FailNext makes the next n transactions fail with err before reaching the
// device state. A nil err fails with ErrUnavailable.
func (s *Simulator) FailNext(n int, err error) {
	if err == nil {
		err = ErrUnavailable
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for range n {
		s.faults = append(s.faults, err)
	}
}

// SetLatency delays every transaction by d.
func (s *Simulator) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latency = d
}

// Transacts returns the number of transactions received, failed ones
// included.
func (s *Simulator) Transacts() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.transacts
}

func (s *Simulator) Transact(ctx context.Context, ops []transact.Operation) ([]Result, error) {
	s.mu.Lock()
	s.transacts++
	latency := s.latency
	closed := s.closed

	var fault error
	if len(s.faults) > 0 {
		fault = s.faults[0]
		s.faults = s.faults[1:]
	}
	s.mu.Unlock()

	if closed {
		return nil, backoff.NewPermanentError(ErrClosed)
	}

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return nil, backoff.NewTransientError(fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err()))
		case <-timer.C:
		}
	}

	if fault != nil {
		return nil, backoff.CategorizeError(fault)
	}

	if err := ctx.Err(); err != nil {
		return nil, backoff.NewTransientError(err)
	}

	s.mu.Lock()
	results, events := s.apply(ops)
	watchers := s.watchers
	s.mu.Unlock()

	notify(watchers, events)

	return results, nil
}

// Watch registers fn to be called with every change the device commits,
// after the transaction returned to the device lock.
func (s *Simulator) Watch(fn func(model.DeviceEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.watchers = append(slices.Clip(s.watchers), fn)
}

func notify(watchers []func(model.DeviceEvent), events []model.DeviceEvent) {
	for _, ev := range events {
		for _, fn := range watchers {
			fn(ev)
		}
	}
}

// apply runs ops against a copy of the state and commits the copy only if
// every operation succeeded. It returns the committed changes as events.
func (s *Simulator) apply(ops []transact.Operation) ([]Result, []model.DeviceEvent) {
	rows := maps.Clone(s.rows)
	byKey := maps.Clone(s.byKey)
	named := make(map[string]string)
	results := make([]Result, len(ops))
	failed := -1

	for i, op := range ops {
		res, err := applyOp(rows, byKey, named, op)
		results[i] = Result{UUID: res, Err: err}

		if err != nil {
			failed = i

			break
		}
	}

	if failed < 0 {
		if err := checkReferences(rows); err != nil {
			failed = len(ops) - 1
			results[failed].Err = err
		}
	}

	if failed >= 0 {
		s.logger.Debugf("Rolling back transaction of %d operations: %v", len(ops), results[failed].Err)

		for i := range results {
			results[i].UUID = ""
			if results[i].Err == nil {
				results[i].Err = ErrAborted
			}
		}

		return results, nil
	}

	events := make([]model.DeviceEvent, 0, len(ops))
	for i, op := range ops {
		if op.Kind == transact.KindDelete {
			events = append(events, model.DeviceEvent{Key: op.Key, UUID: results[i].UUID, Deleted: true})

			continue
		}

		r, ok := rows[results[i].UUID]
		if !ok {
			continue
		}

		events = append(events, model.DeviceEvent{Key: op.Key, UUID: results[i].UUID, Value: r.value})
	}

	s.rows = rows
	s.byKey = byKey

	return results, events
}

func applyOp(rows map[string]*row, byKey map[model.EntityKey]string, named map[string]string, op transact.Operation) (string, error) {
	switch op.Kind {
	case transact.KindInsert:
		if _, exists := byKey[op.Key]; exists {
			return "", fmt.Errorf("%w: %s exists", ErrConstraintViolation, op.Key)
		}

		columns, err := resolveColumns(rows, named, op.Row)
		if err != nil {
			return "", err
		}

		id := uuid.NewString()
		rows[id] = &row{key: op.Key, columns: columns, value: op.Value}
		byKey[op.Key] = id

		if op.UUIDName != "" {
			named[op.UUIDName] = id
		}

		return id, nil
	case transact.KindUpdate, transact.KindMutate:
		current, ok := rows[op.UUID]
		if !ok {
			return "", fmt.Errorf("%w: %s %s", ErrRowNotFound, op.Key, op.UUID)
		}

		columns, err := resolveColumns(rows, named, op.Row)
		if err != nil {
			return "", err
		}

		merged := maps.Clone(current.columns)
		maps.Copy(merged, columns)

		value := current.value
		if op.Value != nil {
			value = op.Value
		}

		rows[op.UUID] = &row{key: current.key, columns: merged, value: value}

		return op.UUID, nil
	case transact.KindDelete:
		current, ok := rows[op.UUID]
		if !ok {
			return "", fmt.Errorf("%w: %s %s", ErrRowNotFound, op.Key, op.UUID)
		}

		delete(rows, op.UUID)
		delete(byKey, current.key)

		return op.UUID, nil
	default:
		return "", fmt.Errorf("unsupported operation %s", op.Kind)
	}
}

// resolveColumns replaces named references by the UUIDs inserted earlier
// in the transaction.
func resolveColumns(rows map[string]*row, named map[string]string, columns transact.Row) (transact.Row, error) {
	resolved := make(transact.Row, len(columns))

	for col, val := range columns {
		switch v := val.(type) {
		case transact.UUIDRef:
			ref, err := resolveRef(rows, named, v)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", col, err)
			}

			resolved[col] = ref
		case []transact.UUIDRef:
			refs := make([]transact.UUIDRef, 0, len(v))
			for _, r := range v {
				ref, err := resolveRef(rows, named, r)
				if err != nil {
					return nil, fmt.Errorf("column %s: %w", col, err)
				}

				refs = append(refs, ref)
			}

			resolved[col] = refs
		case map[int64]transact.UUIDRef:
			refs := make(map[int64]transact.UUIDRef, len(v))
			for k, r := range v {
				ref, err := resolveRef(rows, named, r)
				if err != nil {
					return nil, fmt.Errorf("column %s[%d]: %w", col, k, err)
				}

				refs[k] = ref
			}

			resolved[col] = refs
		default:
			resolved[col] = val
		}
	}

	return resolved, nil
}

func resolveRef(rows map[string]*row, named map[string]string, ref transact.UUIDRef) (transact.UUIDRef, error) {
	if ref.Named != "" {
		id, ok := named[ref.Named]
		if !ok {
			return transact.UUIDRef{}, fmt.Errorf("%w: unknown named row @%s", ErrReferentialIntegrity, ref.Named)
		}

		return transact.UUIDRef{UUID: id}, nil
	}

	if _, ok := rows[ref.UUID]; !ok {
		return transact.UUIDRef{}, fmt.Errorf("%w: %s", ErrReferentialIntegrity, ref.UUID)
	}

	return ref, nil
}

// checkReferences verifies that every reference of every row points at an
// existing row.
func checkReferences(rows map[string]*row) error {
	for _, r := range rows {
		for col, val := range r.columns {
			var refs []transact.UUIDRef

			switch v := val.(type) {
			case transact.UUIDRef:
				refs = []transact.UUIDRef{v}
			case []transact.UUIDRef:
				refs = v
			case map[int64]transact.UUIDRef:
				for _, ref := range v {
					refs = append(refs, ref)
				}
			}

			for _, ref := range refs {
				if _, ok := rows[ref.UUID]; !ok {
					return fmt.Errorf("%w: %s.%s points at deleted row %s", ErrReferentialIntegrity, r.key, col, ref.UUID)
				}
			}
		}
	}

	return nil
}

// Lookup returns the columns and UUID of the row for key.
func (s *Simulator) Lookup(key model.EntityKey) (transact.Row, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byKey[key]
	if !ok {
		return nil, "", false
	}

	return maps.Clone(s.rows[id].columns), id, true
}

// Count returns the number of rows of one entity type.
func (s *Simulator) Count(entityType model.EntityType) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key := range s.byKey {
		if key.Type == entityType {
			n++
		}
	}

	return n
}

// Dump returns the device content as device events, in key order, for
// reloading acknowledged state after a reconnect.
func (s *Simulator) Dump() []model.DeviceEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]model.EntityKey, 0, len(s.byKey))
	for key := range s.byKey {
		keys = append(keys, key)
	}

	model.SortKeys(keys)

	events := make([]model.DeviceEvent, 0, len(keys))
	for _, key := range keys {
		id := s.byKey[key]
		events = append(events, model.DeviceEvent{Key: key, UUID: id, Value: s.rows[id].value})
	}

	return events
}

// Remove deletes the row for key behind the engine's back, like an operator
// or a device reboot would.
func (s *Simulator) Remove(key model.EntityKey) bool {
	s.mu.Lock()

	id, ok := s.byKey[key]
	if !ok {
		s.mu.Unlock()

		return false
	}

	delete(s.rows, id)
	delete(s.byKey, key)
	watchers := s.watchers
	s.mu.Unlock()

	notify(watchers, []model.DeviceEvent{{Key: key, UUID: id, Deleted: true}})

	return true
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("simulator already closed")
	}

	s.closed = true

	return nil
}
