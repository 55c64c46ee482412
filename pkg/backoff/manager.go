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

package backoff

import (
	"fmt"
	"sync"
	"time"

	cbackoff "github.com/cenkalti/backoff"
	"go.uber.org/zap"
)

const (
	// TemporaryBackoffError is the message prefix of errors returned while an
	// operation is suspended.
	TemporaryBackoffError = "operation suspended due to temporary backoff"

	// PermanentFailureError is the message prefix of errors returned once the
	// retry budget is exhausted.
	PermanentFailureError = "operation permanently failed"
)

// Config configures a BackoffManager. Intervals are counted in control loop
// ticks, not wall-clock time.
type Config struct {
	Logger *zap.SugaredLogger

	// ComponentName is used in log lines and errors.
	ComponentName string

	InitialInterval uint64
	MaxInterval     uint64
	MaxRetries      uint64
}

// DefaultConfig returns a Config suitable for per-tick operations.
func DefaultConfig(componentName string, logger *zap.SugaredLogger) Config {
	return Config{
		InitialInterval: 1,
		MaxInterval:     600,
		MaxRetries:      10,
		ComponentName:   componentName,
		Logger:          logger,
	}
}

// BackoffManager suspends a recurring operation after failures and escalates
// to a permanent failure when the retry budget is spent or a permanent error
// is reported.
type BackoffManager struct {
	policy            cbackoff.BackOff
	lastError         error
	config            Config
	suspendedUntil    uint64
	mu                sync.Mutex
	permanentlyFailed bool
}

// NewBackoffManager creates a BackoffManager from the config.
func NewBackoffManager(config Config) *BackoffManager {
	if config.Logger == nil {
		config.Logger = zap.NewNop().Sugar()
	}

	return &BackoffManager{
		config: config,
		policy: newPolicy(config),
	}
}

func newPolicy(config Config) cbackoff.BackOff {
	exp := cbackoff.NewExponentialBackOff()
	exp.InitialInterval = time.Duration(config.InitialInterval)
	exp.MaxInterval = time.Duration(config.MaxInterval)
	exp.MaxElapsedTime = 0
	exp.Reset()

	return cbackoff.WithMaxRetries(exp, config.MaxRetries)
}

// SetError records a failure at currentTick and computes the next tick at
// which the operation may run again. It returns true if the manager is now
// permanently failed.
func (m *BackoffManager) SetError(err error, currentTick uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastError = err

	if m.permanentlyFailed {
		return true
	}

	if IsPermanentError(err) {
		m.permanentlyFailed = true
		m.config.Logger.Errorf("%s: permanent error, giving up: %v", m.config.ComponentName, err)

		return true
	}

	next := m.policy.NextBackOff()
	if next == cbackoff.Stop {
		m.permanentlyFailed = true
		m.config.Logger.Errorf("%s: retry budget exhausted, last error: %v", m.config.ComponentName, err)

		return true
	}

	ticks := uint64(next)
	if ticks == 0 {
		ticks = 1
	}

	m.suspendedUntil = currentTick + ticks
	m.config.Logger.Debugf("%s: suspended for %d ticks (until tick %d): %v", m.config.ComponentName, ticks, m.suspendedUntil, err)

	return false
}

// ShouldSkipOperation reports whether the operation must be skipped at currentTick.
func (m *BackoffManager) ShouldSkipOperation(currentTick uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.permanentlyFailed || currentTick < m.suspendedUntil
}

// GetBackoffError returns the error to surface while the operation is skipped.
func (m *BackoffManager) GetBackoffError(currentTick uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.permanentlyFailed {
		return fmt.Errorf("%s: %s: %w", PermanentFailureError, m.config.ComponentName, m.lastError)
	}

	return fmt.Errorf("%s: %s for %d more ticks: %w", TemporaryBackoffError, m.config.ComponentName, m.suspendedUntil-min(currentTick, m.suspendedUntil), m.lastError)
}

// IsPermanentlyFailed reports whether the retry budget is exhausted.
func (m *BackoffManager) IsPermanentlyFailed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.permanentlyFailed
}

// GetLastError returns the last recorded error.
func (m *BackoffManager) GetLastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastError
}

// Reset clears all state, including a permanent failure.
func (m *BackoffManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastError = nil
	m.suspendedUntil = 0
	m.permanentlyFailed = false
	m.policy.Reset()
}
