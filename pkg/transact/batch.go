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

package transact

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/model"
)

// Batch is the ordered list of operations sent to a device as one
// transaction. A batch is filled by one goroutine at a time.
type Batch struct {
	named       map[model.EntityKey]string
	keyed       map[model.EntityKey]struct{}
	buildErrors error
	ops         []Operation
	touched     []model.EntityKey
	deleted     []model.EntityKey
	ID          uuid.UUID
}

// NewBatch returns an empty batch with a fresh ID.
func NewBatch() *Batch {
	return &Batch{
		ID:    uuid.New(),
		named: make(map[model.EntityKey]string),
		keyed: make(map[model.EntityKey]struct{}),
	}
}

func namedUUID() string {
	return "row_" + strings.ReplaceAll(uuid.NewString(), "-", "_")
}

// Insert adds an insert of row for key and returns the in-transaction
// reference of the new row. Inserting a key twice returns the first
// reference and adds nothing.
func (b *Batch) Insert(key model.EntityKey, value model.Value, row Row) UUIDRef {
	if name, ok := b.named[key]; ok {
		return UUIDRef{Named: name}
	}

	name := namedUUID()
	b.named[key] = name
	b.ops = append(b.ops, Operation{Kind: KindInsert, Key: key, Value: value, Row: row, UUIDName: name})
	b.touch(key)

	return UUIDRef{Named: name}
}

// Update adds an update of the given columns of the row uuid. An empty row
// adds nothing and returns false.
func (b *Batch) Update(key model.EntityKey, uuid string, value model.Value, row Row) bool {
	if len(row) == 0 {
		return false
	}

	b.ops = append(b.ops, Operation{Kind: KindUpdate, Key: key, Value: value, Row: row, UUID: uuid})
	b.touch(key)

	return true
}

// Mutate adds an in-place change of the given columns of the row uuid that
// does not come from desired state of key, e.g. detaching a deleted
// reference. value is the device-side state after the change, or nil.
func (b *Batch) Mutate(key model.EntityKey, uuid string, value model.Value, row Row) bool {
	if len(row) == 0 {
		return false
	}

	b.ops = append(b.ops, Operation{Kind: KindMutate, Key: key, Value: value, Row: row, UUID: uuid})
	b.keyed[key] = struct{}{}

	return true
}

// Delete adds a delete of the row uuid. Deleting a key twice adds nothing.
func (b *Batch) Delete(key model.EntityKey, uuid string) {
	for _, k := range b.deleted {
		if k == key {
			return
		}
	}

	b.ops = append(b.ops, Operation{Kind: KindDelete, Key: key, UUID: uuid})
	b.deleted = append(b.deleted, key)
	b.keyed[key] = struct{}{}
}

func (b *Batch) touch(key model.EntityKey) {
	if !b.isTouched(key) {
		b.touched = append(b.touched, key)
	}

	b.keyed[key] = struct{}{}
}

func (b *Batch) isTouched(key model.EntityKey) bool {
	for _, k := range b.touched {
		if k == key {
			return true
		}
	}

	return false
}

// RefFor returns the in-transaction reference of a row inserted earlier in
// this batch.
func (b *Batch) RefFor(key model.EntityKey) (UUIDRef, bool) {
	name, ok := b.named[key]
	if !ok {
		return UUIDRef{}, false
	}

	return UUIDRef{Named: name}, true
}

// Has reports whether any operation of the batch concerns key.
func (b *Batch) Has(key model.EntityKey) bool {
	_, ok := b.keyed[key]

	return ok
}

// IsDeleted reports whether the batch deletes key.
func (b *Batch) IsDeleted(key model.EntityKey) bool {
	for _, k := range b.deleted {
		if k == key {
			return true
		}
	}

	return false
}

// TouchedKeys returns the inserted or updated keys in emission order.
func (b *Batch) TouchedKeys() []model.EntityKey {
	return append([]model.EntityKey(nil), b.touched...)
}

// DeletedKeys returns the deleted keys in emission order.
func (b *Batch) DeletedKeys() []model.EntityKey {
	return append([]model.EntityKey(nil), b.deleted...)
}

// Operations returns a copy of the operation list.
func (b *Batch) Operations() []Operation {
	return append([]Operation(nil), b.ops...)
}

// Len returns the number of operations.
func (b *Batch) Len() int {
	return len(b.ops)
}

// Empty reports whether the batch holds no operation.
func (b *Batch) Empty() bool {
	return len(b.ops) == 0
}

// RecordBuildError notes that building the operations of key failed. The
// rest of the batch is unaffected.
func (b *Batch) RecordBuildError(key model.EntityKey, err error) {
	b.buildErrors = multierr.Append(b.buildErrors, fmt.Errorf("%s: %w", key, err))
}

// BuildErrors returns all recorded build errors combined, or nil.
func (b *Batch) BuildErrors() error {
	return b.buildErrors
}
