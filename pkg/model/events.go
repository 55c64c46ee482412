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

package model

// Action is what a northbound change does to an entity.
type Action uint8

const (
	ActionCreate Action = iota + 1
	ActionUpdate
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ChangeEvent is one committed change of desired state. Before is nil for
// creates and After is nil for deletes.
type ChangeEvent struct {
	Before Value
	After  Value
	Key    EntityKey
	Action Action
}

// Value returns the value the event carries: After, or Before for deletes.
func (e ChangeEvent) Value() Value {
	if e.After != nil {
		return e.After
	}

	return e.Before
}

// Created returns the create event for v.
func Created(v Value) ChangeEvent {
	return ChangeEvent{Key: v.Key(), Action: ActionCreate, After: v}
}

// Updated returns the update event from before to after.
func Updated(before, after Value) ChangeEvent {
	return ChangeEvent{Key: after.Key(), Action: ActionUpdate, Before: before, After: after}
}

// Deleted returns the delete event for v.
func Deleted(v Value) ChangeEvent {
	return ChangeEvent{Key: v.Key(), Action: ActionDelete, Before: v}
}

// DeviceEvent is the device reporting its own state of one entity, e.g.
// while resyncing after a reconnect.
type DeviceEvent struct {
	Value   Value
	Key     EntityKey
	UUID    string
	Deleted bool
}
