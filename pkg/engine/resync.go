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

package engine

import (
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/commands"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/model"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/transact"
)

// resync reloads the acknowledged state of the device and rebuilds the
// difference to the desired state. It runs on the invoker so no batch of
// the device is in flight meanwhile.
type resync struct {
	engine *Engine
	events []model.DeviceEvent
}

func (r *resync) Execute(b *transact.Batch) error {
	e := r.engine

	cleared := e.tracker.ClearInTransitData()

	present := make(map[model.EntityKey]struct{}, len(r.events))
	for _, ev := range r.events {
		if ev.Deleted {
			e.tracker.ClearDeviceAck(ev.Key)

			continue
		}

		e.tracker.UpdateDeviceAck(ev.Key, ev.UUID, ev.Value)
		present[ev.Key] = struct{}{}
	}

	gone := 0

	for _, t := range model.AllEntityTypes() {
		for _, acked := range e.tracker.AckedOfType(t) {
			if _, ok := present[acked.Key]; !ok {
				e.tracker.ClearDeviceAck(acked.Key)
				gone++
			}
		}
	}

	e.logger.Infof("Resynced %d device entities, %d vanished, %d in-transit marks dropped", len(present), gone, len(cleared))

	e.queue.OnOperDataAvailable()

	changes := r.changes()
	if len(changes) == 0 {
		return nil
	}

	return commands.NewAggregator(e.cfg.Device, e.tracker, e.builders, changes, e.logger).Execute(b)
}

// changes re-applies every desired entity and deletes the entities the
// device holds but nobody wants anymore.
func (r *resync) changes() []model.ChangeEvent {
	e := r.engine

	var changes []model.ChangeEvent

	for _, t := range model.AllEntityTypes() {
		if _, ok := e.builders[t]; !ok {
			continue
		}

		for _, v := range e.tracker.DesiredOfType(t) {
			changes = append(changes, model.Updated(v, v))
		}

		for _, acked := range e.tracker.AckedOfType(t) {
			if _, desired := e.tracker.GetDesired(acked.Key); desired || acked.Value == nil {
				continue
			}

			changes = append(changes, model.Deleted(acked.Value))
		}
	}

	return changes
}

func (r *resync) CommandID() string {
	return "resync:" + r.engine.cfg.Device
}
