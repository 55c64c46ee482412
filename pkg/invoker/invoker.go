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

// Package invoker submits the batches built for one device strictly one
// after another and feeds the results back into the operational state.
package invoker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	cbackoff "github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/backoff"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/constants"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/ctxutil"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/device"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/logger"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/metrics"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/model"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/opstate"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/sentry"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/transact"
)

var (
	// ErrQueueFull is returned by Submit when the input queue is at capacity.
	ErrQueueFull = errors.New("transaction invoker queue is full")
	// ErrShutdown is returned by Submit once Shutdown was called.
	ErrShutdown = errors.New("transaction invoker is shut down")
)

// minimumAttemptTime is the least time a submission attempt needs to be
// worth starting.
const minimumAttemptTime = 5 * time.Millisecond

// Config tunes one Invoker.
type Config struct {
	Device string

	QueueCapacity int

	// MaxRetries is the number of resubmissions after a transient failure.
	MaxRetries     uint64
	AttemptTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	FailedCommandCacheSize int
	FailedCommandTTL       time.Duration

	DroppedBatchCull time.Duration
	DroppedBatchTTL  time.Duration
}

// DefaultConfig returns the production settings for device.
func DefaultConfig(device string) Config {
	return Config{
		Device:                 device,
		QueueCapacity:          constants.InvokerQueueCapacity,
		MaxRetries:             constants.TransactMaxRetries,
		AttemptTimeout:         constants.TransactTimeout,
		InitialBackoff:         constants.TransactInitialBackoff,
		MaxBackoff:             constants.TransactMaxBackoff,
		FailedCommandCacheSize: constants.FailedCommandCacheSize,
		FailedCommandTTL:       constants.FailedCommandTTL,
		DroppedBatchCull:       constants.DroppedBatchCull,
		DroppedBatchTTL:        constants.DroppedBatchTTL,
	}
}

// DroppedBatch describes a batch that never made it to the device.
type DroppedBatch struct {
	DroppedAt time.Time         `json:"droppedAt"`
	Error     string            `json:"error"`
	CommandID string            `json:"commandId,omitempty"`
	Keys      []model.EntityKey `json:"keys"`
	Attempts  int               `json:"attempts"`
	ID        uuid.UUID         `json:"id"`
}

// Invoker owns the single worker submitting transactions to one device.
type Invoker struct {
	client  device.Client
	state   *opstate.Tracker
	logger  *zap.SugaredLogger
	queue   chan transact.Command
	done    chan struct{}
	dropped *expiremap.ExpireMap[string, DroppedBatch]
	failed  *expirable.LRU[string, int]
	cfg     Config
	busy    atomic.Int64
	mu      sync.RWMutex
	once    sync.Once
	closing bool
}

// New creates an invoker for the device behind client. Acknowledgements are
// recorded in state. Start must be called before work is processed.
func New(cfg Config, client device.Client, state *opstate.Tracker) *Invoker {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = constants.InvokerQueueCapacity
	}

	return &Invoker{
		cfg:     cfg,
		client:  client,
		state:   state,
		logger:  logger.ForDevice(logger.ComponentInvoker, cfg.Device),
		queue:   make(chan transact.Command, cfg.QueueCapacity),
		done:    make(chan struct{}),
		dropped: expiremap.NewEx[string, DroppedBatch](cfg.DroppedBatchCull, cfg.DroppedBatchTTL),
		failed:  expirable.NewLRU[string, int](cfg.FailedCommandCacheSize, nil, cfg.FailedCommandTTL),
	}
}

// Submit queues cmd without blocking.
func (i *Invoker) Submit(cmd transact.Command) error {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.closing {
		return ErrShutdown
	}

	select {
	case i.queue <- cmd:
		i.busy.Add(1)
		metrics.SetInvokerQueueLength(i.cfg.Device, len(i.queue))

		return nil
	default:
		return ErrQueueFull
	}
}

// Start runs the worker until Shutdown drained the queue or ctx is done.
func (i *Invoker) Start(ctx context.Context) {
	i.once.Do(func() {
		go i.run(ctx)
	})
}

func (i *Invoker) run(ctx context.Context) {
	defer close(i.done)

	for {
		select {
		case <-ctx.Done():
			i.logger.Debugf("Stopping with %d queued commands: %v", len(i.queue), ctx.Err())

			return
		case cmd, ok := <-i.queue:
			if !ok {
				return
			}

			metrics.SetInvokerQueueLength(i.cfg.Device, len(i.queue))
			i.process(ctx, cmd)
			i.busy.Add(-1)
		}
	}
}

// Shutdown stops accepting commands and waits until the queued ones are
// processed or ctx is done.
func (i *Invoker) Shutdown(ctx context.Context) error {
	i.mu.Lock()
	if !i.closing {
		i.closing = true
		close(i.queue)
	}
	i.mu.Unlock()

	// never started
	i.once.Do(func() { close(i.done) })

	select {
	case <-i.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d queued commands: %w", len(i.queue), ctx.Err())
	}
}

// QueueLength returns the number of commands waiting for the worker.
func (i *Invoker) QueueLength() int {
	return len(i.queue)
}

// Idle reports whether no command is queued or being processed.
func (i *Invoker) Idle() bool {
	return i.busy.Load() == 0
}

// DroppedBatches returns the batches dropped within the retention window,
// oldest first.
func (i *Invoker) DroppedBatches() []DroppedBatch {
	var batches []DroppedBatch

	i.dropped.Range(func(_ string, d DroppedBatch) bool {
		batches = append(batches, d)

		return true
	})

	slices.SortFunc(batches, func(a, b DroppedBatch) int {
		return a.DroppedAt.Compare(b.DroppedAt)
	})

	return batches
}

func (i *Invoker) process(ctx context.Context, cmd transact.Command) {
	b := transact.NewBatch()

	if err := execute(cmd, b); err != nil {
		i.logger.Warnf("Building batch %s: %v", b.ID, err)
	}

	if b.Empty() {
		metrics.IncBatch(i.cfg.Device, metrics.BatchEmpty)

		return
	}

	touched := b.TouchedKeys()
	for _, key := range touched {
		i.state.MarkInTransit(key)
	}

	id := commandID(cmd)
	retries := i.cfg.MaxRetries

	if id != "" && i.failed.Contains(id) {
		i.logger.Debugf("Command %s failed before, submitting batch %s once", id, b.ID)

		retries = 0
	}

	metrics.IncBatch(i.cfg.Device, metrics.BatchSubmitted)

	start := time.Now()
	results, attempts, err := i.submit(ctx, b.Operations(), retries)
	metrics.ObserveTransactTime(i.cfg.Device, time.Since(start))

	if err != nil {
		i.drop(b, id, attempts, err)

		return
	}

	if err := i.acknowledge(b.Operations(), results); err != nil {
		i.drop(b, id, attempts, err)

		return
	}

	if id != "" {
		i.failed.Remove(id)
	}

	metrics.IncBatch(i.cfg.Device, metrics.BatchSucceeded)
	i.logger.Debugf("Batch %s applied %d operations in %d attempts", b.ID, b.Len(), attempts)
}

// execute fills b, recovering from panicking commands.
func execute(cmd transact.Command, b *transact.Batch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command panicked: %v\n%s", r, debug.Stack())
		}
	}()

	return cmd.Execute(b)
}

func commandID(cmd transact.Command) string {
	if c, ok := cmd.(transact.Identified); ok {
		return c.CommandID()
	}

	return ""
}

// submit sends ops to the device, retrying transient failures.
func (i *Invoker) submit(ctx context.Context, ops []transact.Operation, retries uint64) ([]device.Result, int, error) {
	policy := cbackoff.NewExponentialBackOff()
	policy.InitialInterval = i.cfg.InitialBackoff
	policy.MaxInterval = i.cfg.MaxBackoff
	policy.MaxElapsedTime = 0

	var (
		results  []device.Result
		attempts int
	)

	attempt := func() error {
		attempts++

		attemptCtx, cancel, err := ctxutil.WithBoundedTimeout(ctx, i.cfg.AttemptTimeout, minimumAttemptTime)
		if err != nil {
			return cbackoff.Permanent(err)
		}
		defer cancel()

		res, err := i.client.Transact(attemptCtx, ops)
		if err != nil {
			if backoff.IsPermanentError(err) {
				return cbackoff.Permanent(err)
			}

			return err
		}

		if len(res) != len(ops) {
			return cbackoff.Permanent(fmt.Errorf("device returned %d results for %d operations", len(res), len(ops)))
		}

		results = res

		return nil
	}

	notify := func(err error, next time.Duration) {
		metrics.IncTransactRetry(i.cfg.Device)
		i.logger.Debugf("Transaction attempt %d failed, retrying in %s: %v", attempts, next, err)
	}

	err := cbackoff.RetryNotify(attempt, cbackoff.WithContext(cbackoff.WithMaxRetries(policy, retries), ctx), notify)

	return results, attempts, err
}

// acknowledge records per-operation results. It fails when the device
// rolled the whole transaction back.
func (i *Invoker) acknowledge(ops []transact.Operation, results []device.Result) error {
	var firstErr error

	failures := 0

	for n, op := range ops {
		res := results[n]
		if res.Err != nil {
			failures++

			if firstErr == nil || errors.Is(firstErr, device.ErrAborted) {
				firstErr = fmt.Errorf("%s %s: %w", op.Kind, op.Key, res.Err)
			}

			continue
		}

		switch op.Kind {
		case transact.KindInsert:
			i.state.UpdateDeviceAck(op.Key, res.UUID, op.Value)
		case transact.KindUpdate:
			i.state.UpdateDeviceAck(op.Key, op.UUID, op.Value)
		case transact.KindMutate:
			if op.Value != nil {
				i.state.UpdateDeviceAck(op.Key, op.UUID, op.Value)
			}
		case transact.KindDelete:
			i.state.ClearDeviceAck(op.Key)
		}
	}

	if failures == 0 {
		return nil
	}

	if failures == len(ops) {
		return fmt.Errorf("transaction rolled back: %w", firstErr)
	}

	for n, op := range ops {
		if results[n].Err == nil {
			continue
		}

		i.state.ClearInTransit(op.Key)
		metrics.IncOpFailure(i.cfg.Device, op.Key.Type.String())
		i.logger.Warnf("Operation %s %s failed: %v", op.Kind, op.Key, results[n].Err)
	}

	return nil
}

func (i *Invoker) drop(b *transact.Batch, id string, attempts int, err error) {
	keys := b.TouchedKeys()
	for _, key := range keys {
		i.state.ClearInTransit(key)
	}

	for _, op := range b.Operations() {
		metrics.IncOpFailure(i.cfg.Device, op.Key.Type.String())
	}

	metrics.IncBatch(i.cfg.Device, metrics.BatchDropped)

	i.dropped.Set(b.ID.String(), DroppedBatch{
		ID:        b.ID,
		CommandID: id,
		Keys:      keys,
		Attempts:  attempts,
		Error:     err.Error(),
		DroppedAt: time.Now(),
	})

	if id != "" {
		count, _ := i.failed.Peek(id)
		i.failed.Add(id, count+1)
	}

	sentry.ReportDeviceWarningf(i.logger, i.cfg.Device, logger.ComponentInvoker, "transact",
		"dropping batch %s of %d operations after %d attempts: %w", b.ID, b.Len(), attempts, err)
}
