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

package opstate

import (
	"time"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/model"
)

// Snapshot is a point-in-time deep copy of a tracker, used for diagnostics.
type Snapshot struct {
	TakenAt   time.Time                       `json:"takenAt"`
	Desired   map[model.EntityKey]model.Value `json:"desired"`
	Acked     map[model.EntityKey]DeviceData  `json:"acked"`
	InTransit map[model.EntityKey]time.Time   `json:"inTransit"`
	Device    string                          `json:"device"`
}

// Snapshot copies the tracker state. Shards are copied one at a time, so the
// result is consistent per key but not across keys.
func (t *Tracker) Snapshot() (Snapshot, error) {
	snap := Snapshot{
		Device:    t.device,
		TakenAt:   t.clock.Now(),
		Desired:   make(map[model.EntityKey]model.Value),
		Acked:     make(map[model.EntityKey]DeviceData),
		InTransit: make(map[model.EntityKey]time.Time),
	}

	for _, s := range t.shards {
		if err := t.copyShard(s, &snap); err != nil {
			return Snapshot{}, err
		}
	}

	return snap, nil
}

func (t *Tracker) copyShard(s *shard, snap *Snapshot) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for key, v := range s.desired {
		cloned, err := model.CloneValue(v)
		if err != nil {
			return err
		}

		snap.Desired[key] = cloned
	}

	for key, d := range s.acked {
		cloned, err := model.CloneValue(d.Value)
		if err != nil {
			return err
		}

		d.Value = cloned
		snap.Acked[key] = d
	}

	for key, markedAt := range s.inTransit {
		snap.InTransit[key] = markedAt
	}

	return nil
}
