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
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/env"
)

// Environment variables overriding the config file.
const (
	EnvMetricsPort        = "HWVTEP_METRICS_PORT"
	EnvDebugAPIPort       = "HWVTEP_DEBUG_API_PORT"
	EnvSweepInterval      = "HWVTEP_SWEEP_INTERVAL"
	EnvOpWaitTimeout      = "HWVTEP_OP_WAIT_TIMEOUT"
	EnvInTransitExpiry    = "HWVTEP_IN_TRANSIT_EXPIRY"
	EnvTransactTimeout    = "HWVTEP_TRANSACT_TIMEOUT"
	EnvTransactMaxRetries = "HWVTEP_TRANSACT_MAX_RETRIES"
)

// ApplyEnvOverrides returns cfg with the HWVTEP_* environment variables
// applied. Unset or unparsable variables keep the file value.
func ApplyEnvOverrides(cfg FullConfig) (FullConfig, error) {
	var err error

	if cfg.Agent.MetricsPort, err = env.GetAsInt(EnvMetricsPort, false, cfg.Agent.MetricsPort); err != nil {
		return cfg, err
	}

	if cfg.Agent.DebugAPIPort, err = env.GetAsInt(EnvDebugAPIPort, false, cfg.Agent.DebugAPIPort); err != nil {
		return cfg, err
	}

	if cfg.Engine.SweepInterval, err = env.GetAsDuration(EnvSweepInterval, false, cfg.Engine.SweepInterval); err != nil {
		return cfg, err
	}

	if cfg.Engine.OpWaitTimeout, err = env.GetAsDuration(EnvOpWaitTimeout, false, cfg.Engine.OpWaitTimeout); err != nil {
		return cfg, err
	}

	if cfg.Engine.InTransitExpiry, err = env.GetAsDuration(EnvInTransitExpiry, false, cfg.Engine.InTransitExpiry); err != nil {
		return cfg, err
	}

	if cfg.Engine.TransactTimeout, err = env.GetAsDuration(EnvTransactTimeout, false, cfg.Engine.TransactTimeout); err != nil {
		return cfg, err
	}

	if cfg.Engine.TransactMaxRetries, err = env.GetAsInt(EnvTransactMaxRetries, false, cfg.Engine.TransactMaxRetries); err != nil {
		return cfg, err
	}

	return cfg, nil
}
