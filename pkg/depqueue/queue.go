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

// Package depqueue parks work that cannot be sent to a device yet and
// releases it once the entities it depends on are usable.
//
// Jobs wait for one of two reasons. A config-waiting job references entities
// that are neither configured nor present on the device; it waits until
// they are, without a time limit. An op-waiting job references entities whose
// operations are still in transit; it is released on acknowledgement, or
// forced through once it has waited for the op-wait timeout.
//
// Every job belongs to one target key, and a newer job for the same target
// replaces the parked one. All re-evaluation runs on the scheduler handed to
// New. Released jobs are submitted to the device's invoker, which runs their
// callbacks in order with all other work of the device.
package depqueue

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/constants"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/logger"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/metrics"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/model"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/opstate"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/resolver"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/scheduler"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/sentry"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/transact"
)

// ErrClosed is returned when adding a job to a closed queue.
var ErrClosed = errors.New("dependency queue is closed")

// Submitter sends built work to the device.
type Submitter interface {
	Submit(cmd transact.Command) error
}

// Config tunes a queue.
type Config struct {
	Device        string
	SweepInterval time.Duration
	OpWaitTimeout time.Duration
}

// DefaultConfig returns the default timings for device.
func DefaultConfig(device string) Config {
	return Config{
		Device:        device,
		SweepInterval: constants.DependencySweepInterval,
		OpWaitTimeout: constants.OpWaitTimeout,
	}
}

// Queue is the dependency queue of one device.
type Queue struct {
	tracker   *opstate.Tracker
	submitter Submitter
	sched     scheduler.Scheduler
	clock     scheduler.Clock
	logger    *zap.SugaredLogger
	stopSweep func()

	jobs map[model.EntityKey]*parkedJob
	// waiters maps a dependency to the targets of the jobs waiting for it.
	waiters map[model.EntityKey]map[model.EntityKey]struct{}
	counts  map[Kind]int

	cfg    Config
	mu     sync.Mutex
	closed bool
}

// New creates a queue and starts its sweep on sched. The queue does not
// register itself as the tracker's listener; the owner wires that.
func New(cfg Config, tracker *opstate.Tracker, submitter Submitter, sched scheduler.Scheduler, clock scheduler.Clock) *Queue {
	q := &Queue{
		cfg:       cfg,
		tracker:   tracker,
		submitter: submitter,
		sched:     sched,
		clock:     clock,
		logger:    logger.ForDevice(logger.ComponentDepQueue, cfg.Device),
		jobs:      make(map[model.EntityKey]*parkedJob),
		waiters:   make(map[model.EntityKey]map[model.EntityKey]struct{}),
		counts:    make(map[Kind]int),
	}

	for _, kind := range Kinds() {
		metrics.SetParkedJobs(cfg.Device, kind.String(), 0)
	}

	q.stopSweep = sched.Every(cfg.SweepInterval, q.sweep)

	return q
}

// AddJob parks job. A job already parked for the same target is superseded
// and its callback never runs. The job's value is copied, so later changes
// by the caller do not leak into the job.
func (q *Queue) AddJob(job DependentJob) error {
	if job.OnResolved == nil {
		return fmt.Errorf("job for %s has no resolve callback", job.Target)
	}

	if job.Value != nil {
		snapshot, err := model.CloneValue(job.Value)
		if err != nil {
			return err
		}

		job.Value = snapshot
	}

	if job.CreatedAt.IsZero() {
		job.CreatedAt = q.clock.Now()
	}

	job = copyJob(job)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()

		return ErrClosed
	}

	if old, ok := q.jobs[job.Target]; ok {
		q.finishLocked(old, EventSupersede, metrics.JobSuperseded)
		q.logger.Debugf("Job for %s superseded by a newer %s job", job.Target, job.Kind)
	}

	q.parkLocked(newParkedJob(job))
	q.mu.Unlock()

	q.logger.Debugf("Parked %s job for %s waiting on %v", job.Kind, job.Target, job.Unmet.Keys())

	// The dependencies may have been met between resolving and parking.
	target := job.Target
	q.sched.Submit(func() { q.reevaluate([]model.EntityKey{target}) })

	return nil
}

func (q *Queue) parkLocked(p *parkedJob) {
	q.jobs[p.job.Target] = p
	for _, dep := range p.job.Unmet.Keys() {
		targets, ok := q.waiters[dep]
		if !ok {
			targets = make(map[model.EntityKey]struct{})
			q.waiters[dep] = targets
		}

		targets[p.job.Target] = struct{}{}
	}

	q.counts[p.job.Kind]++
	metrics.SetParkedJobs(q.cfg.Device, p.job.Kind.String(), q.counts[p.job.Kind])
}

// finishLocked moves a parked job to its final state and removes it. A
// rejected transition is reported and the job is removed regardless.
func (q *Queue) finishLocked(p *parkedJob, event, outcome string) bool {
	q.unparkLocked(p)

	if err := p.transition(event); err != nil {
		sentry.ReportDeviceError(q.logger, q.cfg.Device, logger.ComponentDepQueue, "job_transition",
			fmt.Errorf("job for %s in state %s rejected %s: %w", p.job.Target, p.state(), event, err))

		return false
	}

	metrics.IncJobOutcome(q.cfg.Device, p.job.Kind.String(), outcome)

	return true
}

func (q *Queue) unparkLocked(p *parkedJob) {
	if q.jobs[p.job.Target] != p {
		return
	}

	delete(q.jobs, p.job.Target)

	for _, dep := range p.job.Unmet.Keys() {
		if targets, ok := q.waiters[dep]; ok {
			delete(targets, p.job.Target)
			if len(targets) == 0 {
				delete(q.waiters, dep)
			}
		}
	}

	q.counts[p.job.Kind]--
	metrics.SetParkedJobs(q.cfg.Device, p.job.Kind.String(), q.counts[p.job.Kind])
}

// OnConfigAvailable re-evaluates the jobs waiting for key.
func (q *Queue) OnConfigAvailable(key model.EntityKey) {
	q.sched.Submit(func() { q.reevaluate(q.targetsWaitingFor(key)) })
}

// OnAckReceived re-evaluates the jobs waiting for key.
func (q *Queue) OnAckReceived(key model.EntityKey) {
	q.sched.Submit(func() { q.reevaluate(q.targetsWaitingFor(key)) })
}

// OnConfigRemoved drops the job parked for key when key leaves desired state,
// whatever its kind. Jobs that delete their target are kept. Only the job
// parked at notification time is dropped, so a job parked for a re-created
// target survives.
func (q *Queue) OnConfigRemoved(key model.EntityKey) {
	q.mu.Lock()
	p, ok := q.jobs[key]
	q.mu.Unlock()

	if !ok || p.job.Deletes {
		return
	}

	q.sched.Submit(func() {
		q.mu.Lock()
		defer q.mu.Unlock()

		if q.jobs[key] != p {
			return
		}

		if q.finishLocked(p, EventDrop, metrics.JobDropped) {
			q.logger.Debugf("Dropped %s job for %s, it is no longer configured", p.job.Kind, key)
		}
	})
}

// OnOperDataAvailable re-evaluates every parked job, e.g. after the device
// state was reloaded.
func (q *Queue) OnOperDataAvailable() {
	q.sched.Submit(func() {
		q.mu.Lock()
		targets := make([]model.EntityKey, 0, len(q.jobs))
		for target := range q.jobs {
			targets = append(targets, target)
		}
		q.mu.Unlock()

		model.SortKeys(targets)
		q.reevaluate(targets)
	})
}

func (q *Queue) targetsWaitingFor(key model.EntityKey) []model.EntityKey {
	q.mu.Lock()
	defer q.mu.Unlock()

	targets := make([]model.EntityKey, 0, len(q.waiters[key]))
	for target := range q.waiters[key] {
		targets = append(targets, target)
	}

	model.SortKeys(targets)

	return targets
}

func (q *Queue) stillUnmet(kind Kind) func(model.EntityKey) bool {
	if kind == KindOpWaiting {
		return q.tracker.IsInTransit
	}

	return func(key model.EntityKey) bool {
		return !q.tracker.IsConfigAvailable(key) && !q.tracker.IsAcked(key)
	}
}

// reevaluate re-filters the dependencies of the jobs parked for targets and
// resolves those with nothing left to wait for.
func (q *Queue) reevaluate(targets []model.EntityKey) {
	var ready []DependentJob

	q.mu.Lock()
	for _, target := range targets {
		p, ok := q.jobs[target]
		if !ok {
			continue
		}

		unmet := resolver.Filter(p.job.Unmet, q.stillUnmet(p.job.Kind))
		if !unmet.Empty() {
			q.unparkLocked(p)
			p.job.Unmet = unmet
			q.parkLocked(p)

			continue
		}

		if q.finishLocked(p, EventResolve, metrics.JobResolved) {
			ready = append(ready, p.job)
		}
	}
	q.mu.Unlock()

	for _, job := range ready {
		q.logger.Debugf("Dependencies of %s met, resolving %s job", job.Target, job.Kind)
		q.run(job)
	}
}

// sweep expires in-transit marks and forces op-waiting jobs through once
// they waited for the op-wait timeout.
func (q *Queue) sweep() {
	q.tracker.ExpireInTransit()

	now := q.clock.Now()

	var expired []DependentJob

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()

		return
	}

	for _, p := range q.jobs {
		if p.job.Kind != KindOpWaiting || now.Sub(p.job.CreatedAt) < q.cfg.OpWaitTimeout {
			continue
		}

		if q.finishLocked(p, EventExpire, metrics.JobExpired) {
			expired = append(expired, p.job)
		}
	}
	q.mu.Unlock()

	slices.SortFunc(expired, func(a, b DependentJob) int { return model.Compare(a.Target, b.Target) })

	for _, job := range expired {
		q.logger.Infof("Job for %s waited %s for %v, forcing resolution",
			job.Target, now.Sub(job.CreatedAt).Round(time.Millisecond), job.Unmet.Keys())
		q.run(job)
	}
}

// Sweep runs one sweep immediately on the scheduler.
func (q *Queue) Sweep() {
	q.sched.Submit(q.sweep)
}

// run hands a released job to the device. Its callback runs when the
// invoker reaches it, so it sees the effects of all work submitted earlier.
func (q *Queue) run(job DependentJob) {
	if err := q.submitter.Submit(&resolvedJob{job: job, state: q.tracker}); err != nil {
		sentry.ReportDeviceWarningf(q.logger, q.cfg.Device, logger.ComponentDepQueue, "submit_job",
			"submitting resolved job for %s failed: %v", job.Target, err)
	}
}

// IterateWaitingJobs yields copies of the jobs of kind parked at the time of
// the call, in target order. The sequence can be iterated more than once.
func (q *Queue) IterateWaitingJobs(kind Kind) iter.Seq[DependentJob] {
	q.mu.Lock()
	jobs := make([]DependentJob, 0, q.counts[kind])
	for _, p := range q.jobs {
		if p.job.Kind == kind {
			jobs = append(jobs, copyJob(p.job))
		}
	}
	q.mu.Unlock()

	slices.SortFunc(jobs, func(a, b DependentJob) int { return model.Compare(a.Target, b.Target) })

	return slices.Values(jobs)
}

// IsParked reports whether a job for target is parked.
func (q *Queue) IsParked(target model.EntityKey) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, ok := q.jobs[target]

	return ok
}

// Len returns the number of parked jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.jobs)
}

// LenOf returns the number of parked jobs of kind.
func (q *Queue) LenOf(kind Kind) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.counts[kind]
}

// Close stops the sweep and discards all parked jobs without running their
// callbacks.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()

		return
	}

	q.closed = true
	discarded := len(q.jobs)
	q.jobs = make(map[model.EntityKey]*parkedJob)
	q.waiters = make(map[model.EntityKey]map[model.EntityKey]struct{})
	q.counts = make(map[Kind]int)
	q.mu.Unlock()

	q.stopSweep()

	for _, kind := range Kinds() {
		metrics.SetParkedJobs(q.cfg.Device, kind.String(), 0)
	}

	if discarded > 0 {
		q.logger.Infof("Discarded %d parked jobs on close", discarded)
	}
}
