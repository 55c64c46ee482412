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

package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/sentry"
)

// Serial is a single-goroutine executor with an unbounded task queue.
// Submit never blocks, so it is safe to call from within a running task.
type Serial struct {
	ctx     context.Context //nolint:containedctx // owned background lifecycle
	cancel  context.CancelFunc
	logger  *zap.SugaredLogger
	signal  chan struct{}
	pending []func()
	active  int
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// NewSerial starts a Serial executor. Stop must be called to release it.
func NewSerial(logger *zap.SugaredLogger) *Serial {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Serial{
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
		signal: make(chan struct{}, 1),
	}

	s.wg.Add(1)

	go s.run()

	return s
}

func (s *Serial) Submit(task func()) {
	s.mu.Lock()
	s.pending = append(s.pending, task)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Serial) Every(interval time.Duration, task func()) func() {
	ctx, cancel := context.WithCancel(s.ctx)

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Submit(task)
			}
		}
	}()

	return cancel
}

// Pending returns the number of queued and running tasks.
func (s *Serial) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pending) + s.active
}

// Stop discards queued tasks, waits for the running one and stops all
// periodic tasks.
func (s *Serial) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Serial) run() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.signal:
		}

		for {
			s.mu.Lock()
			if len(s.pending) == 0 || s.ctx.Err() != nil {
				s.mu.Unlock()

				break
			}

			task := s.pending[0]
			s.pending[0] = nil
			s.pending = s.pending[1:]
			s.active++
			s.mu.Unlock()

			s.runTask(task)

			s.mu.Lock()
			s.active--
			s.mu.Unlock()
		}
	}
}

func (s *Serial) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			sentry.ReportIssuef(sentry.IssueTypeError, s.logger, "scheduled task panicked: %v", r)
		}
	}()

	task()
}
