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

package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/backoff"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/config"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/constants"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/ctxutil"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/device"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/logger"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/metrics"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/northbound"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/sentry"
)

// ClientFactory connects to the device described by cfg.
type ClientFactory func(cfg config.DeviceConfig) (device.Client, error)

// SimulatorFactory backs every device by an in-memory simulator. Other
// transports are rejected permanently.
func SimulatorFactory(cfg config.DeviceConfig) (device.Client, error) {
	if transport := cfg.TransportOrDefault(); transport != constants.TransportSimulator {
		return nil, backoff.NewPermanentError(fmt.Errorf("device %s: unsupported transport %q", cfg.Name, transport))
	}

	sim := device.NewSimulator(cfg.Name)
	sim.SetLatency(cfg.SimulatorLatency)

	return sim, nil
}

type managedDevice struct {
	engine *Engine
	store  *northbound.Store
	hash   uint64
	// resend is set when the engine missed a commit of the store.
	resend bool
}

// Manager keeps one engine per configured device and feeds each device's
// desired entities through its northbound store.
type Manager struct {
	newClient ClientFactory
	logger    *zap.SugaredLogger
	devices   map[string]*managedDevice
	backoffs  map[string]*backoff.BackoffManager
	stopping  sync.WaitGroup
	mu        sync.RWMutex
}

// NewManager returns a manager creating device clients with newClient.
func NewManager(newClient ClientFactory) *Manager {
	metrics.InitErrorCounter(metrics.ComponentEngineManager, "main")

	return &Manager{
		newClient: newClient,
		logger:    logger.For(logger.ComponentEngineManager),
		devices:   make(map[string]*managedDevice),
		backoffs:  make(map[string]*backoff.BackoffManager),
	}
}

func (m *Manager) Name() string {
	return logger.ComponentEngineManager
}

// Reconcile brings the set of engines in line with cfg: engines of removed
// devices are shut down, new devices get an engine, and changed device
// content is replaced in the device's store. Per-device failures are logged
// and retried on later ticks; only context errors are returned.
func (m *Manager) Reconcile(ctx context.Context, cfg config.FullConfig, tick uint64) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	wanted := make(map[string]struct{}, len(cfg.Devices))
	for _, d := range cfg.Devices {
		wanted[d.Name] = struct{}{}
	}

	m.mu.Lock()
	for name, md := range m.devices {
		if _, ok := wanted[name]; !ok {
			delete(m.devices, name)
			m.stop(name, md)
		}
	}

	for name := range m.backoffs {
		if _, ok := wanted[name]; !ok {
			delete(m.backoffs, name)
		}
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(constants.MaxConcurrentDeviceOperations)

	for _, d := range cfg.Devices {
		g.Go(func() error {
			if _, ok, err := ctxutil.HasSufficientTime(gctx, constants.DefaultMinimumRemainingTimePerDevice); err == nil && !ok {
				m.logger.Debugf("Device %s: not enough time left in tick %d, skipping", d.Name, tick)

				return nil
			}

			err := m.reconcileDevice(gctx, d, cfg.Engine, tick)
			if err == nil {
				return nil
			}

			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}

			metrics.IncErrorCountAndLog(metrics.ComponentEngineManager, d.Name, err, m.logger)

			return nil
		})
	}

	return g.Wait()
}

func (m *Manager) reconcileDevice(ctx context.Context, d config.DeviceConfig, ec config.EngineConfig, tick uint64) error {
	md, err := m.ensureEngine(ctx, d, ec, tick)
	if err != nil || md == nil {
		return err
	}

	if md.resend {
		if err := md.store.Resend(ctx); err != nil {
			return fmt.Errorf("device %s: resending desired state: %w", d.Name, err)
		}

		md.resend = false
	}

	hash, err := d.Hash()
	if err != nil {
		return err
	}

	if hash == md.hash {
		return nil
	}

	events, err := md.store.Replace(ctx, d.Values())
	if err != nil {
		md.resend = true

		return fmt.Errorf("device %s: applying desired state: %w", d.Name, err)
	}

	md.hash = hash

	m.logger.Infof("Device %s: desired state changed, %d changes", d.Name, len(events))

	return nil
}

// ensureEngine returns the engine of d, creating it unless creation is
// backing off. It returns nil while backing off.
func (m *Manager) ensureEngine(ctx context.Context, d config.DeviceConfig, ec config.EngineConfig, tick uint64) (*managedDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if md, ok := m.devices[d.Name]; ok {
		return md, nil
	}

	bm, ok := m.backoffs[d.Name]
	if !ok {
		bm = backoff.NewBackoffManager(backoff.DefaultConfig(logger.ComponentEngineManager+"/"+d.Name, m.logger))
		m.backoffs[d.Name] = bm
	}

	if bm.ShouldSkipOperation(tick) {
		return nil, nil
	}

	client, err := m.newClient(d)
	if err != nil {
		if bm.SetError(err, tick) {
			sentry.ReportDeviceError(m.logger, d.Name, logger.ComponentEngineManager, "connect", err)
		}

		return nil, fmt.Errorf("device %s: creating client: %w", d.Name, err)
	}

	bm.Reset()

	eng := New(ConfigFor(d.Name, ec), client)

	if dumper, ok := client.(device.Dumper); ok {
		if err := eng.Resync(ctx, dumper.Dump()); err != nil {
			m.logger.Warnf("Device %s: loading device state: %v", d.Name, err)
		}
	}

	if watcher, ok := client.(device.Watcher); ok {
		watcher.Watch(eng.OnDeviceEvent)
	}

	store := northbound.NewStore(d.Name)
	store.Subscribe(eng)

	md := &managedDevice{engine: eng, store: store}
	m.devices[d.Name] = md

	m.logger.Infof("Device %s: engine created", d.Name)

	return md, nil
}

// stop shuts an engine down in the background, draining its queued work.
func (m *Manager) stop(name string, md *managedDevice) {
	m.logger.Infof("Device %s: removed from config, stopping engine", name)

	m.stopping.Add(1)

	go func() {
		defer m.stopping.Done()

		ctx, cancel := context.WithTimeout(context.Background(), constants.InvokerShutdownTimeout)
		defer cancel()

		if err := md.engine.Shutdown(ctx); err != nil {
			sentry.ReportDeviceError(m.logger, name, logger.ComponentEngineManager, "shutdown", err)
		}
	}()
}

// Engine returns the engine of device.
func (m *Manager) Engine(device string) (*Engine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	md, ok := m.devices[device]
	if !ok {
		return nil, false
	}

	return md.engine, true
}

// Devices returns the names of the managed devices, sorted.
func (m *Manager) Devices() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Sorted(maps.Keys(m.devices))
}

// Shutdown stops every engine and waits for all of them.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	devices := m.devices
	m.devices = make(map[string]*managedDevice)
	m.mu.Unlock()

	var g errgroup.Group

	for name, md := range devices {
		g.Go(func() error {
			if err := md.engine.Shutdown(ctx); err != nil {
				return fmt.Errorf("device %s: %w", name, err)
			}

			return nil
		})
	}

	err := g.Wait()
	m.stopping.Wait()

	return err
}
