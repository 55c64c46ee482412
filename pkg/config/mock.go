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
	"sync"
)

// MockConfigManager is a ConfigManager for tests.
type MockConfigManager struct {
	ConfigError     error
	Config          FullConfig
	GetConfigCalled bool
	mu              sync.Mutex
}

// NewMockConfigManager creates a new MockConfigManager instance
func NewMockConfigManager() *MockConfigManager {
	return &MockConfigManager{}
}

func (m *MockConfigManager) GetConfig(ctx context.Context, _ uint64) (FullConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetConfigCalled = true

	if ctx.Err() != nil {
		return FullConfig{}, ctx.Err()
	}

	if m.ConfigError != nil {
		return FullConfig{}, m.ConfigError
	}

	return m.Config.Clone(), nil
}

// SetConfig replaces the returned config.
func (m *MockConfigManager) SetConfig(cfg FullConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Config = cfg
}

// WithBackoff wraps m like the file manager is wrapped in production.
func (m *MockConfigManager) WithBackoff() *FileConfigManagerWithBackoff {
	return newWithBackoff(m)
}
