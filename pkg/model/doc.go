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

// Package model defines the entities a hardware VTEP is configured with and
// the keys that identify them.
//
// Every configurable object is addressed by an EntityKey: a closed EntityType
// tag plus a typed key struct. Keys are comparable, so they can be used as map
// keys directly, and totally ordered (by type, then by canonical key string)
// so that every iteration over a set of keys is deterministic.
//
// The declaration order of the entity types is also the order in which they
// must exist on the device: a logical switch and its locators come before the
// MAC entries that reference them.
package model
