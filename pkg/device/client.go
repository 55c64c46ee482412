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

// Package device defines the transactional client the engine drives and an
// in-memory simulator of a hardware VTEP implementing it.
package device

import (
	"context"
	"errors"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/model"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/transact"
)

var (
	// ErrUnavailable is returned when the device cannot be reached.
	ErrUnavailable = errors.New("device unavailable")
	// ErrClosed is returned by a client after Close.
	ErrClosed = errors.New("device client closed")
	// ErrAborted marks operations of a transaction that was rolled back
	// because another of its operations failed.
	ErrAborted = errors.New("transaction aborted")
	// ErrRowNotFound is returned for operations on unknown row UUIDs.
	ErrRowNotFound = errors.New("row not found")
	// ErrConstraintViolation is returned for an insert of an existing key.
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrReferentialIntegrity is returned when a committed row would point
	// at a row that does not exist.
	ErrReferentialIntegrity = errors.New("referential integrity violation")
)

// Result is the outcome of one operation of a transaction.
type Result struct {
	Err  error
	UUID string
}

// Client submits transactions to one device.
//
// Transact applies ops atomically and returns one result per operation.
// A non-nil error means the transaction as a whole did not reach the device;
// it is categorized with the backoff package, uncategorized errors count as
// transient.
type Client interface {
	Transact(ctx context.Context, ops []transact.Operation) ([]Result, error)
	Close() error
}

// Dumper is implemented by clients that can list what the device holds.
type Dumper interface {
	Dump() []model.DeviceEvent
}

// Watcher is implemented by clients that push changes of the device content
// as they happen.
type Watcher interface {
	Watch(fn func(model.DeviceEvent))
}
