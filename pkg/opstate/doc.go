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

// Package opstate tracks what one device is known to hold.
//
// The Tracker keeps three views per entity key:
//
//   - desired: the local cache of desired values that are configured but not
//     necessarily present on the device yet,
//   - acknowledged: the last value the device accepted, with the UUID the
//     device assigned to the row,
//   - in-transit: keys for which an operation was sent and no acknowledgement
//     has arrived yet. A mark expires after a configured time.
//
// The tracker does no I/O and never blocks on anything but its own shard
// locks. Keys are spread over a fixed number of shards by hash so that
// writers for unrelated keys do not contend. Listener callbacks run after the
// shard lock is released.
package opstate
