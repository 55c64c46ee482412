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

package constants

import "time"

const (
	// DefaultTickerTime is the interval between control loop reconciliations.
	DefaultTickerTime = 100 * time.Millisecond

	// StarvationThreshold is the time without a completed reconcile (or a
	// drained transaction) after which the component is considered starved.
	StarvationThreshold = 15 * time.Second

	// DefaultMinimumRemainingTimePerDevice is the minimum time left in a tick
	// for the manager to start reconciling another device.
	DefaultMinimumRemainingTimePerDevice = 10 * time.Millisecond
)

const (
	// DependencySweepInterval is how often the dependency queue expires
	// stale in-transit waits.
	DependencySweepInterval = 500 * time.Millisecond

	// OpWaitTimeout is how long a job waiting on in-transit keys stays parked
	// before it is force-resolved.
	OpWaitTimeout = 5 * time.Second

	// InTransitExpiry is how long an in-transit mark is honoured without an
	// acknowledgement.
	InTransitExpiry = 30 * time.Second

	// TrackerShards is the number of lock shards in the operational state tracker.
	TrackerShards = 32
)

const (
	// InvokerQueueCapacity bounds the number of commands waiting for the
	// per-device transaction worker.
	InvokerQueueCapacity = 10000

	// TransactMaxRetries is the number of resubmissions of a batch after a
	// transient transport failure.
	TransactMaxRetries = 3

	// TransactTimeout bounds a single submission attempt.
	TransactTimeout = 10 * time.Second

	// TransactInitialBackoff and TransactMaxBackoff shape the retry delays.
	TransactInitialBackoff = 100 * time.Millisecond
	TransactMaxBackoff     = 2 * time.Second

	// FailedCommandCacheSize and FailedCommandTTL bound the cache of commands
	// whose batch was dropped.
	FailedCommandCacheSize = 1000
	FailedCommandTTL       = 5 * time.Minute

	// DroppedBatchCull and DroppedBatchTTL control the dropped-batch diagnostics.
	DroppedBatchCull = time.Minute
	DroppedBatchTTL  = 5 * time.Minute

	// InvokerShutdownTimeout bounds draining of in-flight batches on shutdown.
	InvokerShutdownTimeout = 30 * time.Second
)

const (
	// DefaultConfigPath is where the agent reads its configuration from.
	DefaultConfigPath = "/data/config.yaml"

	// ConfigGetConfigTimeout bounds a single config read.
	ConfigGetConfigTimeout = 20 * time.Millisecond

	// DefaultMetricsPort and DefaultDebugAPIPort are the listen ports used when
	// the config leaves them empty.
	DefaultMetricsPort  = 8080
	DefaultDebugAPIPort = 8090

	// EncapsulationVxlanOverIPv4 is the only encapsulation hardware VTEPs accept.
	EncapsulationVxlanOverIPv4 = "vxlan_over_ipv4"
)

const (
	DefaultAppVersion             = "0.0.0-dev"
	DefaultDevelopmentEnvironment = "development"
	DefaultProductionEnvironment  = "production"
)

const (
	// MaxConcurrentDeviceOperations bounds how many devices the engine
	// manager reconciles in parallel within one tick.
	MaxConcurrentDeviceOperations = 10

	// TransportSimulator is the transport of devices backed by the in-memory
	// simulator.
	TransportSimulator = "simulator"

	// DebugAPIShutdownTimeout bounds the graceful stop of the debug API server.
	DebugAPIShutdownTimeout = 5 * time.Second

	// LoopControlLoopTimeFactor is the share of a tick's remaining time handed
	// to the reconcilers; the rest is kept for error handling and bookkeeping.
	LoopControlLoopTimeFactor = 0.8

	// StarvationCheckInterval is how often the starvation checker looks at the
	// last reconcile time.
	StarvationCheckInterval = time.Second
)
