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
	"maps"
	"reflect"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/model"
)

// Kind is what an operation does to a row.
type Kind uint8

const (
	KindInsert Kind = iota + 1
	KindUpdate
	KindDelete
	KindMutate
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	case KindMutate:
		return "mutate"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Row maps column names to column values. Reference columns hold UUIDRef,
// set columns hold []UUIDRef and map columns hold map[int64]UUIDRef.
type Row map[string]any

// UUIDRef points at a row, either by the UUID the device assigned or by the
// name of a row inserted earlier in the same transaction.
type UUIDRef struct {
	UUID  string `json:"uuid,omitempty"`
	Named string `json:"named,omitempty"`
}

// IsZero reports whether the reference points nowhere.
func (r UUIDRef) IsZero() bool {
	return r.UUID == "" && r.Named == ""
}

func (r UUIDRef) String() string {
	if r.Named != "" {
		return "@" + r.Named
	}

	return r.UUID
}

// Operation is one step of a device transaction.
type Operation struct {
	// Value is the desired value the operation realizes. It is recorded as
	// acknowledged state once the device accepts the operation.
	Value    model.Value `json:"-"`
	Row      Row         `json:"row,omitempty"`
	Key      model.EntityKey
	UUID     string `json:"uuid,omitempty"`
	UUIDName string `json:"uuidName,omitempty"`
	Kind     Kind   `json:"kind"`
}

func (o Operation) String() string {
	switch o.Kind {
	case KindInsert:
		return fmt.Sprintf("%s %s as @%s", o.Kind, o.Key, o.UUIDName)
	default:
		return fmt.Sprintf("%s %s (%s)", o.Kind, o.Key, o.UUID)
	}
}

// DiffRow returns the columns of desired whose value differs from current.
// A nil current row yields a copy of desired.
func DiffRow(desired, current Row) Row {
	if current == nil {
		return maps.Clone(desired)
	}

	diff := Row{}

	for col, want := range desired {
		if have, ok := current[col]; !ok || !reflect.DeepEqual(want, have) {
			diff[col] = want
		}
	}

	return diff
}
