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

// Package engine wires the southbound reconciliation of one hardware VTEP:
// desired changes are turned into batches by the command builders, parked in
// the dependency queue while their references are unusable, and submitted
// one after another by the transaction invoker. Manager runs one engine per
// configured device.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/commands"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/config"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/constants"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/ctxutil/ctxmutex"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/depqueue"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/device"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/invoker"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/logger"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/metrics"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/model"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/opstate"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/scheduler"
)

// Scheduler runs the background work of an Engine. Pending reports the
// number of tasks not run yet.
type Scheduler interface {
	scheduler.Scheduler
	Pending() int
}

// Config tunes one Engine.
type Config struct {
	// Clock defaults to the wall clock.
	Clock scheduler.Clock
	// Scheduler defaults to a serial executor. The engine owns it and stops
	// it on Shutdown if it has a Stop method.
	Scheduler       Scheduler
	Device          string
	Queue           depqueue.Config
	Invoker         invoker.Config
	TrackerShards   int
	InTransitExpiry time.Duration
}

// DefaultConfig returns the production settings for device.
func DefaultConfig(device string) Config {
	return Config{
		Device:          device,
		TrackerShards:   constants.TrackerShards,
		InTransitExpiry: constants.InTransitExpiry,
		Queue:           depqueue.DefaultConfig(device),
		Invoker:         invoker.DefaultConfig(device),
	}
}

// ConfigFor returns the settings for device with the non-zero overrides of
// ec applied.
func ConfigFor(device string, ec config.EngineConfig) Config {
	cfg := DefaultConfig(device)

	if ec.SweepInterval > 0 {
		cfg.Queue.SweepInterval = ec.SweepInterval
	}

	if ec.OpWaitTimeout > 0 {
		cfg.Queue.OpWaitTimeout = ec.OpWaitTimeout
	}

	if ec.InTransitExpiry > 0 {
		cfg.InTransitExpiry = ec.InTransitExpiry
	}

	if ec.TransactTimeout > 0 {
		cfg.Invoker.AttemptTimeout = ec.TransactTimeout
	}

	if ec.TransactMaxRetries > 0 {
		cfg.Invoker.MaxRetries = uint64(ec.TransactMaxRetries)
	}

	if ec.QueueCapacity > 0 {
		cfg.Invoker.QueueCapacity = ec.QueueCapacity
	}

	return cfg
}

// Engine reconciles the desired state of one device onto it.
type Engine struct {
	client   device.Client
	tracker  *opstate.Tracker
	queue    *depqueue.Queue
	invoker  *invoker.Invoker
	sched    Scheduler
	builders map[model.EntityType]commands.Builder
	logger   *zap.SugaredLogger
	mu       *ctxmutex.CtxMutex
	cancel   context.CancelFunc
	cfg      Config
}

// New creates and starts an engine driving client. The engine owns client
// and closes it on Shutdown.
func New(cfg Config, client device.Client) *Engine {
	var clock scheduler.Clock = scheduler.RealClock{}
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	var sched Scheduler
	if cfg.Scheduler != nil {
		sched = cfg.Scheduler
	} else {
		sched = scheduler.NewSerial(logger.ForDevice(logger.ComponentScheduler, cfg.Device))
	}

	tracker := opstate.NewTracker(cfg.Device, cfg.TrackerShards, cfg.InTransitExpiry, clock,
		logger.ForDevice(logger.ComponentOpState, cfg.Device))
	inv := invoker.New(cfg.Invoker, client, tracker)
	queue := depqueue.New(cfg.Queue, tracker, inv, sched, clock)
	tracker.SetListener(queue)

	env := commands.NewEnv(tracker, queue, logger.ForDevice(logger.ComponentCommands, cfg.Device))

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:      cfg,
		client:   client,
		tracker:  tracker,
		queue:    queue,
		invoker:  inv,
		sched:    sched,
		builders: commands.Builders(env),
		logger:   logger.ForDevice(logger.ComponentEngine, cfg.Device),
		mu:       ctxmutex.NewCtxMutex(),
		cancel:   cancel,
	}

	inv.Start(ctx)
	metrics.InitErrorCounter(metrics.ComponentEngine, cfg.Device)
	e.logger.Infof("Engine started")

	return e
}

// Device returns the name of the device the engine drives.
func (e *Engine) Device() string {
	return e.cfg.Device
}

// ProcessChanges hands committed desired-state changes to the device. The
// changes are coalesced and built in one batch; building and submission
// happen on the invoker, after all earlier work of the device.
func (e *Engine) ProcessChanges(ctx context.Context, events []model.ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}

	if err := e.mu.Lock(ctx); err != nil {
		return fmt.Errorf("waiting to process %d changes: %w", len(events), err)
	}
	defer e.mu.Unlock()

	agg := commands.NewAggregator(e.cfg.Device, e.tracker, e.builders, events, e.logger)
	if err := e.invoker.Submit(agg); err != nil {
		metrics.IncErrorCountAndLog(metrics.ComponentEngine, e.cfg.Device, err, e.logger)

		return fmt.Errorf("submitting %d changes: %w", len(events), err)
	}

	return nil
}

// OnDeviceEvent records what the device reports it holds.
func (e *Engine) OnDeviceEvent(ev model.DeviceEvent) {
	if ev.Deleted {
		e.tracker.ClearDeviceAck(ev.Key)

		return
	}

	e.tracker.UpdateDeviceAck(ev.Key, ev.UUID, ev.Value)
}

// Resync replaces the acknowledged state by events, the full content of the
// device, e.g. after a reconnect. Outstanding in-transit marks are dropped,
// parked jobs are re-evaluated and the device is brought back to the desired
// state.
func (e *Engine) Resync(ctx context.Context, events []model.DeviceEvent) error {
	if err := e.mu.Lock(ctx); err != nil {
		return fmt.Errorf("waiting to resync: %w", err)
	}
	defer e.mu.Unlock()

	return e.invoker.Submit(&resync{engine: e, events: events})
}

// DependencyQueue returns the queue of parked jobs.
func (e *Engine) DependencyQueue() *depqueue.Queue {
	return e.queue
}

// State returns the operational state of the device.
func (e *Engine) State() *opstate.Tracker {
	return e.tracker
}

// IsKeyInTransit reports whether an operation on key awaits acknowledgement.
func (e *Engine) IsKeyInTransit(key model.EntityKey) bool {
	return e.tracker.IsInTransit(key)
}

// AddJobToQueue parks job until its dependencies are met.
func (e *Engine) AddJobToQueue(job depqueue.DependentJob) error {
	return e.queue.AddJob(job)
}

// OnOperDataAvailable re-evaluates every parked job.
func (e *Engine) OnOperDataAvailable() {
	e.queue.OnOperDataAvailable()
}

// DroppedBatches returns recently dropped batches.
func (e *Engine) DroppedBatches() []invoker.DroppedBatch {
	return e.invoker.DroppedBatches()
}

// Idle reports whether the engine has no work queued or running. The
// scheduler and the invoker hand work to each other, so the scheduler is
// read on both sides of the invoker.
func (e *Engine) Idle() bool {
	return e.sched.Pending() == 0 && e.invoker.Idle() && e.sched.Pending() == 0
}

// Shutdown drains queued work, stops the engine and closes the client.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.Infof("Shutting down engine")

	err := e.invoker.Shutdown(ctx)
	e.queue.Close()
	if stopper, ok := e.sched.(interface{ Stop() }); ok {
		stopper.Stop()
	}
	e.cancel()

	if closeErr := e.client.Close(); closeErr != nil {
		err = multierr.Append(err, fmt.Errorf("closing device client: %w", closeErr))
	}

	metrics.DeleteDevice(e.cfg.Device)

	return err
}
