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

package commands

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/metrics"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/model"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/opstate"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/transact"
)

// buildOrder lists entity types with dependencies before their dependents.
var buildOrder = []model.EntityType{
	model.TypeLogicalSwitch,
	model.TypePhysicalLocator,
	model.TypePhysicalLocatorSet,
	model.TypeUcastMacRemote,
	model.TypeMcastMacRemote,
	model.TypePhysicalPort,
}

func buildRank(t model.EntityType) int {
	if i := slices.Index(buildOrder, t); i >= 0 {
		return i
	}

	return len(buildOrder)
}

// Aggregator applies one group of change events to a device. It records the
// new desired state and runs the matching builder for every event.
//
// Events for the same key are coalesced and the last one wins, so applying
// a group twice has the same effect as applying it once. A builder failing,
// even by panicking, is recorded on the batch and does not stop the
// remaining events.
type Aggregator struct {
	state    *opstate.Tracker
	builders map[model.EntityType]Builder
	logger   *zap.SugaredLogger
	device   string
	events   []model.ChangeEvent
}

// NewAggregator returns the command applying events.
func NewAggregator(device string, state *opstate.Tracker, builders map[model.EntityType]Builder, events []model.ChangeEvent, logger *zap.SugaredLogger) *Aggregator {
	return &Aggregator{
		state:    state,
		builders: builders,
		logger:   logger,
		device:   device,
		events:   Coalesce(events),
	}
}

// Coalesce keeps the last event per key and orders the result by build
// order, then by the position of each key's last event.
func Coalesce(events []model.ChangeEvent) []model.ChangeEvent {
	last := make(map[model.EntityKey]int, len(events))
	for i, ev := range events {
		last[ev.Key] = i
	}

	out := make([]model.ChangeEvent, 0, len(last))
	for i, ev := range events {
		if last[ev.Key] == i {
			out = append(out, ev)
		}
	}

	slices.SortStableFunc(out, func(a, b model.ChangeEvent) int {
		return buildRank(a.Key.Type) - buildRank(b.Key.Type)
	})

	return out
}

// Events returns the coalesced events in build order.
func (a *Aggregator) Events() []model.ChangeEvent {
	return append([]model.ChangeEvent(nil), a.events...)
}

func (a *Aggregator) Execute(b *transact.Batch) error {
	for _, ev := range a.events {
		if ev.Action == model.ActionDelete {
			a.state.UpdateDesired(ev.Key, nil)
		} else {
			a.state.UpdateDesired(ev.Key, ev.After)
		}
	}

	for _, ev := range a.events {
		if err := a.build(b, ev); err != nil {
			metrics.IncBuildError(a.device, ev.Key.Type.String())
			a.logger.Warnf("Failed to build %s of %s: %v", ev.Action, ev.Key, err)
			b.RecordBuildError(ev.Key, err)
		}
	}

	a.logger.Debugf("Built %d operations for %d changes", b.Len(), len(a.events))

	return nil
}

func (a *Aggregator) build(b *transact.Batch, ev model.ChangeEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("builder panicked: %v", r)
		}
	}()

	bl, ok := a.builders[ev.Key.Type]
	if !ok {
		return fmt.Errorf("no builder for %s", ev.Key.Type)
	}

	return bl.Build(b, ev)
}

// CommandID identifies the group of changes the aggregator applies.
func (a *Aggregator) CommandID() string {
	h := xxhash.New()
	for _, ev := range a.events {
		_, _ = fmt.Fprintf(h, "%s %s %+v\n", ev.Action, ev.Key, ev.Value())
	}

	return "changes:" + strconv.FormatUint(h.Sum64(), 16)
}
