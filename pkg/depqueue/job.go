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

package depqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/looplab/fsm"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/model"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/opstate"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/resolver"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/transact"
)

// Kind is the reason a job waits.
type Kind uint8

const (
	// KindConfigWaiting jobs wait for referenced entities to be configured.
	// They never expire.
	KindConfigWaiting Kind = iota + 1
	// KindOpWaiting jobs wait for in-transit operations to be acknowledged.
	// They are force-resolved after the op-wait timeout.
	KindOpWaiting
)

func (k Kind) String() string {
	switch k {
	case KindConfigWaiting:
		return "config_waiting"
	case KindOpWaiting:
		return "op_waiting"
	default:
		return "unknown"
	}
}

// Kinds lists every job kind.
func Kinds() []Kind {
	return []Kind{KindConfigWaiting, KindOpWaiting}
}

// ResolveFunc builds the operations of a job once it may proceed. It runs
// with the current device state and a fresh batch; a non-empty batch is sent
// to the device.
type ResolveFunc func(state *opstate.Tracker, batch *transact.Batch) error

// DependentJob is deferred work for one target key.
type DependentJob struct {
	CreatedAt  time.Time             `json:"createdAt"`
	Value      model.Value           `json:"value"`
	Unmet      resolver.Dependencies `json:"-"`
	OnResolved ResolveFunc           `json:"-"`
	Target     model.EntityKey       `json:"target"`
	Kind       Kind                  `json:"kind"`
	// Deletes marks a job that removes its target from the device. It is
	// not dropped when the target leaves desired state.
	Deletes bool `json:"deletes,omitempty"`
}

// Job states.
const (
	StateParked     = "parked"
	StateResolved   = "resolved"
	StateExpired    = "expired"
	StateSuperseded = "superseded"
	StateDropped    = "dropped"
)

// Job events.
const (
	EventResolve   = "resolve"
	EventExpire    = "expire"
	EventSupersede = "supersede"
	EventDrop      = "drop"
)

type parkedJob struct {
	fsm *fsm.FSM
	job DependentJob
}

func newParkedJob(job DependentJob) *parkedJob {
	return &parkedJob{
		job: job,
		fsm: fsm.NewFSM(
			StateParked,
			fsm.Events{
				{Name: EventResolve, Src: []string{StateParked}, Dst: StateResolved},
				{Name: EventExpire, Src: []string{StateParked}, Dst: StateExpired},
				{Name: EventSupersede, Src: []string{StateParked}, Dst: StateSuperseded},
				{Name: EventDrop, Src: []string{StateParked}, Dst: StateDropped},
			},
			fsm.Callbacks{},
		),
	}
}

func (p *parkedJob) transition(event string) error {
	return p.fsm.Event(context.Background(), event)
}

func (p *parkedJob) state() string {
	return p.fsm.Current()
}

// copyJob returns job with its own dependency map.
func copyJob(job DependentJob) DependentJob {
	unmet := make(resolver.Dependencies, len(job.Unmet))
	for t, keys := range job.Unmet {
		unmet[t] = append([]model.EntityKey(nil), keys...)
	}

	job.Unmet = unmet

	return job
}

// resolvedJob is the command running the callback of a released job.
type resolvedJob struct {
	state *opstate.Tracker
	job   DependentJob
}

func (r *resolvedJob) Execute(b *transact.Batch) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("resolving job for %s panicked: %v", r.job.Target, rec)
		}
	}()

	if err := r.job.OnResolved(r.state, b); err != nil {
		return fmt.Errorf("resolving job for %s: %w", r.job.Target, err)
	}

	return nil
}

func (r *resolvedJob) CommandID() string {
	return "job:" + r.job.Target.String()
}
