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

// Package starvationchecker detects periods in which the control loop does
// not complete reconciliation cycles in time.
package starvationchecker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/config"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/constants"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/logger"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/metrics"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/sentry"
)

// StarvationChecker runs as one of the control loop's reconcilers, recording
// the time of every cycle, and checks in the background whether the last
// cycle is older than the threshold. Starvation is counted in the
// starvation metric of the loop and reported as a warning.
type StarvationChecker struct {
	lastReconcileTime   time.Time
	ctx                 context.Context //nolint:containedctx // background service lifecycle
	logger              *zap.SugaredLogger
	cancel              context.CancelFunc
	loop                string
	wg                  sync.WaitGroup
	starvationThreshold time.Duration
	checkInterval       time.Duration
	mutex               sync.RWMutex
}

// NewStarvationChecker creates a checker for the control loop and starts its
// background goroutine. It must be stopped with Stop.
func NewStarvationChecker(threshold time.Duration) *StarvationChecker {
	return newChecker(metrics.ComponentControlLoop, threshold, constants.StarvationCheckInterval)
}

func newChecker(loop string, threshold, interval time.Duration) *StarvationChecker {
	ctx, cancel := context.WithCancel(context.Background())
	checker := &StarvationChecker{
		starvationThreshold: threshold,
		checkInterval:       interval,
		lastReconcileTime:   time.Now(),
		loop:                loop,
		logger:              logger.For(logger.ComponentStarvationChecker),
		ctx:                 ctx,
		cancel:              cancel,
	}

	checker.wg.Add(1)

	go checker.checkStarvationLoop()

	checker.logger.Infof("Starvation checker created with threshold %s", threshold)

	return checker
}

func (s *StarvationChecker) checkStarvationLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.check()
		}
	}
}

func (s *StarvationChecker) check() {
	s.mutex.RLock()
	sinceLastReconcile := time.Since(s.lastReconcileTime)
	s.mutex.RUnlock()

	if sinceLastReconcile <= s.starvationThreshold {
		s.logger.Debugf("Control loop is healthy, last reconcile was %.2f seconds ago", sinceLastReconcile.Seconds())

		return
	}

	starvationTime := sinceLastReconcile.Seconds()
	metrics.AddStarvationTime(s.loop, starvationTime)
	sentry.ReportIssuef(sentry.IssueTypeWarning, s.logger, "[StarvationChecker.check] Control loop starvation detected: %.2f seconds since last reconcile", starvationTime)
}

// Stop terminates the background checker and waits for it.
func (s *StarvationChecker) Stop() {
	s.logger.Info("Stopping starvation checker")
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Starvation checker stopped")
}

// UpdateLastReconcileTime marks now as the time of the last completed cycle.
func (s *StarvationChecker) UpdateLastReconcileTime() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.lastReconcileTime = time.Now()
}

// GetLastReconcileTime returns the time of the last completed cycle.
func (s *StarvationChecker) GetLastReconcileTime() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.lastReconcileTime
}

func (s *StarvationChecker) Name() string {
	return logger.ComponentStarvationChecker
}

// Reconcile marks the loop as alive. Starvation is a warning, so it never
// fails.
func (s *StarvationChecker) Reconcile(_ context.Context, _ config.FullConfig, _ uint64) error {
	s.UpdateLastReconcileTime()

	return nil
}
