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

package opstate

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/metrics"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/model"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/scheduler"
)

// Listener is notified about state changes that can unblock parked work.
type Listener interface {
	// OnConfigAvailable is called when a desired value is stored.
	OnConfigAvailable(key model.EntityKey)
	// OnConfigRemoved is called when a desired value is cleared.
	OnConfigRemoved(key model.EntityKey)
	// OnAckReceived is called whenever a key leaves the in-transit set:
	// acknowledged, deleted on the device, cleared or expired.
	OnAckReceived(key model.EntityKey)
}

// DeviceData is the acknowledged state of one entity.
type DeviceData struct {
	UpdatedAt time.Time   `json:"updatedAt"`
	Value     model.Value `json:"value"`
	Key       model.EntityKey
	UUID      string `json:"uuid"`
}

type shard struct {
	desired   map[model.EntityKey]model.Value
	acked     map[model.EntityKey]DeviceData
	inTransit map[model.EntityKey]time.Time
	mu        sync.RWMutex
}

// Tracker is the operational state of one device.
type Tracker struct {
	clock           scheduler.Clock
	listener        atomic.Pointer[Listener]
	logger          *zap.SugaredLogger
	device          string
	shards          []*shard
	inTransitCount  atomic.Int64
	inTransitExpiry time.Duration
}

// NewTracker creates an empty tracker. A non-positive inTransitExpiry keeps
// marks until they are cleared explicitly.
func NewTracker(device string, shards int, inTransitExpiry time.Duration, clock scheduler.Clock, logger *zap.SugaredLogger) *Tracker {
	if shards < 1 {
		shards = 1
	}

	t := &Tracker{
		clock:           clock,
		logger:          logger,
		device:          device,
		inTransitExpiry: inTransitExpiry,
		shards:          make([]*shard, shards),
	}

	for i := range t.shards {
		t.shards[i] = &shard{
			desired:   make(map[model.EntityKey]model.Value),
			acked:     make(map[model.EntityKey]DeviceData),
			inTransit: make(map[model.EntityKey]time.Time),
		}
	}

	return t
}

// SetListener installs the listener notified on state changes.
func (t *Tracker) SetListener(l Listener) {
	t.listener.Store(&l)
}

// Device returns the device this tracker belongs to.
func (t *Tracker) Device() string {
	return t.device
}

func (t *Tracker) shardFor(key model.EntityKey) *shard {
	return t.shards[xxhash.Sum64String(key.String())%uint64(len(t.shards))]
}

func (t *Tracker) notify(fn func(Listener)) {
	if l := t.listener.Load(); l != nil && *l != nil {
		fn(*l)
	}
}

func (t *Tracker) expired(markedAt time.Time) bool {
	return t.inTransitExpiry > 0 && t.clock.Now().Sub(markedAt) >= t.inTransitExpiry
}

func (t *Tracker) inTransitChanged(delta int64) {
	metrics.SetInTransitKeys(t.device, int(t.inTransitCount.Add(delta)))
}

// IsConfigAvailable reports whether a desired value is cached for key.
func (t *Tracker) IsConfigAvailable(key model.EntityKey) bool {
	s := t.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.desired[key]

	return ok
}

// IsAcked reports whether the device has acknowledged key.
func (t *Tracker) IsAcked(key model.EntityKey) bool {
	s := t.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.acked[key]

	return ok
}

// IsInTransit reports whether an operation for key awaits acknowledgement.
// Marks older than the in-transit expiry no longer count.
func (t *Tracker) IsInTransit(key model.EntityKey) bool {
	s := t.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	markedAt, ok := s.inTransit[key]

	return ok && !t.expired(markedAt)
}

// MarkInTransit marks key as sent and not yet acknowledged. Marking an
// already marked key refreshes its timestamp.
func (t *Tracker) MarkInTransit(key model.EntityKey) {
	s := t.shardFor(key)
	s.mu.Lock()
	_, existed := s.inTransit[key]
	s.inTransit[key] = t.clock.Now()
	s.mu.Unlock()

	if !existed {
		t.inTransitChanged(1)
	}
}

// UpdateDeviceAck records that the device holds value under uuid for key and
// clears the in-transit mark. Replaying the same acknowledgement only
// refreshes the stored value.
func (t *Tracker) UpdateDeviceAck(key model.EntityKey, uuid string, value model.Value) {
	s := t.shardFor(key)
	s.mu.Lock()
	s.acked[key] = DeviceData{Key: key, UUID: uuid, Value: value, UpdatedAt: t.clock.Now()}
	_, wasInTransit := s.inTransit[key]
	delete(s.inTransit, key)
	s.mu.Unlock()

	if wasInTransit {
		t.inTransitChanged(-1)
	}

	t.notify(func(l Listener) { l.OnAckReceived(key) })
}

// ClearDeviceAck records that key no longer exists on the device.
func (t *Tracker) ClearDeviceAck(key model.EntityKey) {
	s := t.shardFor(key)
	s.mu.Lock()
	delete(s.acked, key)
	_, wasInTransit := s.inTransit[key]
	delete(s.inTransit, key)
	s.mu.Unlock()

	if wasInTransit {
		t.inTransitChanged(-1)
	}

	t.notify(func(l Listener) { l.OnAckReceived(key) })
}

// ClearInTransit drops the in-transit mark of key without acknowledging it.
// It returns false if key was not marked.
func (t *Tracker) ClearInTransit(key model.EntityKey) bool {
	s := t.shardFor(key)
	s.mu.Lock()
	_, ok := s.inTransit[key]
	delete(s.inTransit, key)
	s.mu.Unlock()

	if !ok {
		return false
	}

	t.inTransitChanged(-1)
	t.notify(func(l Listener) { l.OnAckReceived(key) })

	return true
}

// ClearInTransitData drops every in-transit mark, e.g. after a reconnect
// when outstanding acknowledgements will never arrive.
func (t *Tracker) ClearInTransitData() []model.EntityKey {
	cleared := t.removeInTransit(func(time.Time) bool { return true })
	if len(cleared) > 0 {
		t.logger.Infof("Cleared %d in-transit marks", len(cleared))
	}

	return cleared
}

// ExpireInTransit drops marks older than the in-transit expiry and returns
// their keys.
func (t *Tracker) ExpireInTransit() []model.EntityKey {
	expired := t.removeInTransit(t.expired)
	if len(expired) > 0 {
		t.logger.Infof("Expired %d in-transit marks without acknowledgement: %v", len(expired), expired)
	}

	return expired
}

func (t *Tracker) removeInTransit(match func(markedAt time.Time) bool) []model.EntityKey {
	var removed []model.EntityKey

	for _, s := range t.shards {
		s.mu.Lock()
		for key, markedAt := range s.inTransit {
			if match(markedAt) {
				delete(s.inTransit, key)
				removed = append(removed, key)
			}
		}
		s.mu.Unlock()
	}

	if len(removed) == 0 {
		return nil
	}

	t.inTransitChanged(-int64(len(removed)))
	model.SortKeys(removed)

	for _, key := range removed {
		t.notify(func(l Listener) { l.OnAckReceived(key) })
	}

	return removed
}

// UpdateDesired stores value as the desired state of key. A nil value clears
// the cached desired state.
func (t *Tracker) UpdateDesired(key model.EntityKey, value model.Value) {
	s := t.shardFor(key)
	s.mu.Lock()

	if value == nil {
		_, existed := s.desired[key]
		delete(s.desired, key)
		s.mu.Unlock()

		if existed {
			t.notify(func(l Listener) { l.OnConfigRemoved(key) })
		}

		return
	}

	s.desired[key] = value
	s.mu.Unlock()

	t.notify(func(l Listener) { l.OnConfigAvailable(key) })
}

// GetDesired returns the cached desired value of key.
func (t *Tracker) GetDesired(key model.EntityKey) (model.Value, bool) {
	s := t.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.desired[key]

	return v, ok
}

// GetDeviceData returns the acknowledged state of key.
func (t *Tracker) GetDeviceData(key model.EntityKey) (DeviceData, bool) {
	s := t.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.acked[key]

	return d, ok
}

// GetUUID returns the device UUID of key.
func (t *Tracker) GetUUID(key model.EntityKey) (string, bool) {
	d, ok := t.GetDeviceData(key)
	if !ok || d.UUID == "" {
		return "", false
	}

	return d.UUID, true
}

// DesiredOfType returns the desired values of one type in key order.
func (t *Tracker) DesiredOfType(entityType model.EntityType) []model.Value {
	var values []model.Value

	for _, s := range t.shards {
		s.mu.RLock()
		for key, v := range s.desired {
			if key.Type == entityType {
				values = append(values, v)
			}
		}
		s.mu.RUnlock()
	}

	slices.SortFunc(values, func(a, b model.Value) int { return model.Compare(a.Key(), b.Key()) })

	return values
}

// AckedOfType returns the acknowledged entities of one type in key order.
func (t *Tracker) AckedOfType(entityType model.EntityType) []DeviceData {
	var data []DeviceData

	for _, s := range t.shards {
		s.mu.RLock()
		for key, d := range s.acked {
			if key.Type == entityType {
				data = append(data, d)
			}
		}
		s.mu.RUnlock()
	}

	slices.SortFunc(data, func(a, b DeviceData) int { return model.Compare(a.Key, b.Key) })

	return data
}

// InTransitKeys returns the keys with a live in-transit mark in key order.
func (t *Tracker) InTransitKeys() []model.EntityKey {
	var keys []model.EntityKey

	for _, s := range t.shards {
		s.mu.RLock()
		for key, markedAt := range s.inTransit {
			if !t.expired(markedAt) {
				keys = append(keys, key)
			}
		}
		s.mu.RUnlock()
	}

	model.SortKeys(keys)

	return keys
}
