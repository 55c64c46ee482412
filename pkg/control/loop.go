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

// Package control runs the single control loop of the agent.
//
// On every tick the loop fetches the desired configuration, hands it to each
// reconciler and records a snapshot of the configuration it acted on. The
// reconcilers are the engine manager, which keeps one reconciliation engine
// per configured device, and the starvation checker.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/backoff"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/config"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/constants"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/ctxutil"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/logger"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/metrics"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/sentry"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/starvationchecker"
)

// Reconciler moves part of the system towards the desired configuration.
// Reconcile is called once per tick and must return before ctx expires.
type Reconciler interface {
	Name() string
	Reconcile(ctx context.Context, cfg config.FullConfig, tick uint64) error
}

// Snapshot is the configuration the loop last reconciled.
type Snapshot struct {
	SnapshotTime time.Time         `json:"snapshotTime"`
	Config       config.FullConfig `json:"config"`
	Tick         uint64            `json:"tick"`
}

// ControlLoop drives the reconcilers at a fixed interval.
type ControlLoop struct {
	configManager     config.ConfigManager
	logger            *zap.SugaredLogger
	starvationChecker *starvationchecker.StarvationChecker
	snapshot          atomic.Pointer[Snapshot]
	reconcilerTimes   map[string]time.Duration
	reconcilers       []Reconciler
	tickerTime        time.Duration
	currentTick       uint64
	timesMutex        sync.RWMutex
}

// NewControlLoop creates a loop over the given reconcilers. A starvation
// checker is always appended.
func NewControlLoop(configManager config.ConfigManager, reconcilers ...Reconciler) *ControlLoop {
	return newControlLoop(configManager, constants.DefaultTickerTime, reconcilers...)
}

func newControlLoop(configManager config.ConfigManager, tickerTime time.Duration, reconcilers ...Reconciler) *ControlLoop {
	metrics.InitErrorCounter(metrics.ComponentControlLoop, "main")

	return &ControlLoop{
		configManager:     configManager,
		logger:            logger.For(logger.ComponentControlLoop),
		starvationChecker: starvationchecker.NewStarvationChecker(constants.StarvationThreshold),
		reconcilers:       reconcilers,
		reconcilerTimes:   make(map[string]time.Duration),
		tickerTime:        tickerTime,
	}
}

// Execute runs the loop until ctx is cancelled.
//
// A tick that runs out of time is reported as a warning and the loop goes
// on. Cancellation ends the loop cleanly. Any other error stops it and is
// returned.
func (c *ControlLoop) Execute(ctx context.Context) error {
	defer c.starvationChecker.Stop()

	ticker := time.NewTicker(c.tickerTime)
	defer ticker.Stop()

	c.currentTick = 0

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.currentTick++

			start := time.Now()

			timeoutCtx, cancel := context.WithTimeout(ctx, c.tickerTime)
			err := c.Reconcile(timeoutCtx, c.currentTick)
			cancel()

			cycleTime := time.Since(start)
			if cycleTime > c.tickerTime {
				c.logger.Warnf("Control loop reconcile cycle time is greater then ticker time: %v", cycleTime)

				if cycleTime > 2*c.tickerTime {
					c.logger.Errorf("Control loop reconcile cycle time is greater then 2*ticker time: %v", cycleTime)
				}
			}

			metrics.ObserveReconcileTime(metrics.ComponentControlLoop, "main", cycleTime)

			if err == nil {
				continue
			}

			switch {
			case errors.Is(err, context.DeadlineExceeded):
				sentry.ReportIssuef(sentry.IssueTypeWarning, c.logger, "Control loop reconcile timed out: %v", err)
			case errors.Is(err, context.Canceled):
				c.logger.Infof("Control loop cancelled")

				return nil
			default:
				metrics.IncErrorCountAndLog(metrics.ComponentControlLoop, "main", err, c.logger)
				sentry.ReportIssuef(sentry.IssueTypeError, c.logger, "Control loop error: %v", err)

				return err
			}
		}
	}
}

// Reconcile performs one cycle: it fetches the config, runs every
// reconciler in parallel within the tick's time budget, marks the loop as
// alive and stores the snapshot. ctx must carry a deadline.
func (c *ControlLoop) Reconcile(ctx context.Context, tick uint64) error {
	if c.configManager == nil {
		return errors.New("config manager is not set")
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	cfg, err := c.configManager.GetConfig(ctx, tick)
	if err != nil {
		switch {
		case backoff.IsTemporaryBackoffError(err):
			c.logger.Debugf("Skipping reconcile cycle due to temporary config backoff: %v", err)

			return nil
		case backoff.IsPermanentFailureError(err):
			sentry.ReportIssuef(sentry.IssueTypeError, c.logger, "Config manager has permanently failed after max retries: %v (original error: %v)",
				err, backoff.ExtractOriginalError(err))
			metrics.IncErrorCountAndLog(metrics.ComponentControlLoop, "config_permanent_failure", err, c.logger)

			return fmt.Errorf("config permanently failed, system needs intervention: %w", err)
		default:
			sentry.ReportIssuef(sentry.IssueTypeError, c.logger, "Config manager error: %v", err)

			return nil
		}
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		return ctxutil.ErrNoDeadline
	}

	budget := time.Duration(float64(time.Until(deadline)) * constants.LoopControlLoopTimeFactor)

	innerCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	times := make(map[string]time.Duration, len(c.reconcilers))
	timesMu := sync.Mutex{}

	g, gctx := errgroup.WithContext(innerCtx)

	for _, r := range c.reconcilers {
		g.Go(func() error {
			start := time.Now()
			err := r.Reconcile(gctx, cfg, tick)
			elapsed := time.Since(start)

			metrics.ObserveReconcileTime(metrics.ComponentControlLoop, r.Name(), elapsed)

			timesMu.Lock()
			times[r.Name()] = elapsed
			timesMu.Unlock()

			if err != nil {
				return fmt.Errorf("%s: %w", r.Name(), err)
			}

			return nil
		})
	}

	err = g.Wait()

	c.timesMutex.Lock()
	c.reconcilerTimes = times
	c.timesMutex.Unlock()

	if err != nil {
		return err
	}

	if err := c.starvationChecker.Reconcile(ctx, cfg, tick); err != nil {
		return fmt.Errorf("starvation checker reconciliation failed: %w", err)
	}

	c.snapshot.Store(&Snapshot{Config: cfg.Clone(), SnapshotTime: time.Now(), Tick: tick})

	return nil
}

// GetSnapshot returns the last reconciled configuration, or nil before the
// first successful cycle.
func (c *ControlLoop) GetSnapshot() *Snapshot {
	return c.snapshot.Load()
}

// ReconcilerTimes returns how long each reconciler took in the last cycle.
func (c *ControlLoop) ReconcilerTimes() map[string]time.Duration {
	c.timesMutex.RLock()
	defer c.timesMutex.RUnlock()

	times := make(map[string]time.Duration, len(c.reconcilerTimes))
	for name, d := range c.reconcilerTimes {
		times[name] = d
	}

	return times
}

// GetConfigManager returns the config manager of the loop.
func (c *ControlLoop) GetConfigManager() config.ConfigManager {
	return c.configManager
}
