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

package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/backoff"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/constants"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/ctxutil/ctxmutex"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/logger"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/metrics"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/sentry"
)

// ConfigManager is the interface for config management
type ConfigManager interface {
	// GetConfig returns the current config
	GetConfig(ctx context.Context, tick uint64) (FullConfig, error)
}

// FileConfigManager reads the config from a YAML file on every call.
type FileConfigManager struct {
	logger     *zap.SugaredLogger
	mu         *ctxmutex.CtxMutex
	configPath string
}

// NewFileConfigManager creates a FileConfigManager for path. Prefer
// NewFileConfigManagerWithBackoff outside of tests.
func NewFileConfigManager(path string) *FileConfigManager {
	if path == "" {
		path = constants.DefaultConfigPath
	}

	return &FileConfigManager{
		configPath: path,
		logger:     logger.For(logger.ComponentConfigManager),
		mu:         ctxmutex.NewCtxMutex(),
	}
}

// GetConfig returns the current config, always reading fresh from disk
func (m *FileConfigManager) GetConfig(ctx context.Context, _ uint64) (FullConfig, error) {
	if err := m.mu.Lock(ctx); err != nil {
		return FullConfig{}, fmt.Errorf("failed to lock config file: %w", err)
	}
	defer m.mu.Unlock()

	if ctx.Err() != nil {
		return FullConfig{}, ctx.Err()
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return FullConfig{}, fmt.Errorf("config file does not exist: %s", m.configPath)
		}

		return FullConfig{}, fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := Parse(data)
	if err != nil {
		return FullConfig{}, err
	}

	// an empty file is usually a write in progress, the next tick retries
	if reflect.DeepEqual(config, FullConfig{}) {
		return FullConfig{}, fmt.Errorf("config file is empty: %s", m.configPath)
	}

	config, err = ApplyEnvOverrides(config)
	if err != nil {
		return FullConfig{}, backoff.NewPermanentError(err)
	}

	if err := config.Validate(); err != nil {
		return FullConfig{}, fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	return config, nil
}

// FileConfigManagerWithBackoff wraps a FileConfigManager and implements backoff for GetConfig errors
type FileConfigManagerWithBackoff struct {
	configManager  ConfigManager
	backoffManager *backoff.BackoffManager
	logger         *zap.SugaredLogger
}

// NewFileConfigManagerWithBackoff creates a config manager reading path with
// exponential backoff on failures.
func NewFileConfigManagerWithBackoff(path string) *FileConfigManagerWithBackoff {
	return newWithBackoff(NewFileConfigManager(path))
}

func newWithBackoff(inner ConfigManager) *FileConfigManagerWithBackoff {
	log := logger.For(logger.ComponentConfigManager)

	return &FileConfigManagerWithBackoff{
		configManager:  inner,
		backoffManager: backoff.NewBackoffManager(backoff.DefaultConfig(logger.ComponentConfigManager, log)),
		logger:         log,
	}
}

// GetConfig returns the current config with backoff logic for failures.
// It returns either a temporary backoff error or a permanent failure error
// while the wrapped manager keeps failing.
func (m *FileConfigManagerWithBackoff) GetConfig(ctx context.Context, tick uint64) (FullConfig, error) {
	start := time.Now()
	defer func() {
		metrics.ObserveReconcileTime(metrics.ComponentConfigManager, "get_config", time.Since(start))
	}()

	if ctx.Err() != nil {
		return FullConfig{}, ctx.Err()
	}

	if m.backoffManager.ShouldSkipOperation(tick) {
		backoffErr := m.backoffManager.GetBackoffError(tick)

		if m.backoffManager.IsPermanentlyFailed() {
			sentry.ReportIssuef(sentry.IssueTypeError, m.logger, "ConfigManager is permanently failed. Last error: %v", m.backoffManager.GetLastError())
		}

		return FullConfig{}, backoffErr
	}

	getConfigCtx, cancel := context.WithTimeout(ctx, constants.ConfigGetConfigTimeout)
	defer cancel()

	config, err := m.configManager.GetConfig(getConfigCtx, tick)
	if err != nil {
		m.backoffManager.SetError(err, tick)

		return FullConfig{}, err
	}

	m.backoffManager.Reset()

	return config, nil
}

// Reset forcefully resets the config manager's state, including permanent failure status
func (m *FileConfigManagerWithBackoff) Reset() {
	m.backoffManager.Reset()
}

// IsPermanentFailure returns true if the config manager has permanently failed
func (m *FileConfigManagerWithBackoff) IsPermanentFailure() bool {
	return m.backoffManager.IsPermanentlyFailed()
}
