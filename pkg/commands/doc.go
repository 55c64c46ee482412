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

// Package commands turns desired-state changes into device operations.
//
// There is one builder per entity type. A builder checks the dependencies of
// a value before emitting anything: a value referencing entities that are not
// configured yet is parked in the dependency queue, and a value referencing
// entities still in transit is written best-effort and parked so that a
// corrective write follows once the dependencies are acknowledged.
//
// Values missing on the device are inserted, values present are updated with
// the changed columns only. Deletes clean up what only the deleted entity
// used, in the same batch.
//
// The Aggregator runs the builders for one group of change events as a
// single transact.Command.
package commands
