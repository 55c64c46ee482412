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

package backoff_test

import (
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/backoff"
)

var _ = Describe("Error Helpers", func() {
	Context("when checking backoff errors", func() {
		It("should identify temporary backoff errors, also when wrapped", func() {
			tempErr := errors.New(backoff.TemporaryBackoffError) //nolint:err113
			Expect(backoff.IsTemporaryBackoffError(tempErr)).To(BeTrue())
			Expect(backoff.IsPermanentFailureError(tempErr)).To(BeFalse())

			wrapped := fmt.Errorf("%s: %w", backoff.TemporaryBackoffError, errors.New("device busy")) //nolint:err113
			Expect(backoff.IsTemporaryBackoffError(wrapped)).To(BeTrue())
		})

		It("should identify permanent failure errors", func() {
			permErr := fmt.Errorf("%s: %w", backoff.PermanentFailureError, errors.New("bad schema")) //nolint:err113
			Expect(backoff.IsPermanentFailureError(permErr)).To(BeTrue())
			Expect(backoff.IsTemporaryBackoffError(permErr)).To(BeFalse())
		})

		It("should handle nil and regular errors", func() {
			Expect(backoff.IsTemporaryBackoffError(nil)).To(BeFalse())
			Expect(backoff.IsPermanentFailureError(errors.New("just a normal error"))).To(BeFalse()) //nolint:err113
		})
	})

	Context("when extracting the original error", func() {
		It("should return the innermost error", func() {
			root := errors.New("connection refused") //nolint:err113
			wrapped := fmt.Errorf("level2: %w", fmt.Errorf("level1: %w", root))
			Expect(backoff.ExtractOriginalError(wrapped)).To(Equal(root))
			Expect(backoff.ExtractOriginalError(nil)).To(BeNil())
		})
	})

	Context("when categorizing errors", func() {
		It("should default uncategorized errors to transient", func() {
			err := backoff.CategorizeError(errors.New("timeout")) //nolint:err113
			Expect(backoff.IsTransientError(err)).To(BeTrue())
			Expect(backoff.CategorizeError(nil)).To(BeNil())
		})

		It("should keep an existing category through wrapping", func() {
			perm := backoff.NewPermanentError(errors.New("rejected")) //nolint:err113
			wrapped := fmt.Errorf("transact: %w", perm)
			Expect(backoff.IsPermanentError(backoff.CategorizeError(wrapped))).To(BeTrue())
			Expect(backoff.IsTransientError(wrapped)).To(BeFalse())
		})
	})
})

var _ = Describe("BackoffManager", func() {
	var manager *backoff.BackoffManager

	BeforeEach(func() {
		cfg := backoff.DefaultConfig("test", zap.NewNop().Sugar())
		cfg.MaxRetries = 2
		manager = backoff.NewBackoffManager(cfg)
	})

	It("should not skip before any error", func() {
		Expect(manager.ShouldSkipOperation(0)).To(BeFalse())
		Expect(manager.GetLastError()).To(BeNil())
	})

	It("should suspend after a transient error and resume later", func() {
		err := errors.New("device timeout") //nolint:err113
		Expect(manager.SetError(err, 10)).To(BeFalse())
		Expect(manager.ShouldSkipOperation(10)).To(BeTrue())
		Expect(backoff.IsTemporaryBackoffError(manager.GetBackoffError(10))).To(BeTrue())
		Expect(manager.ShouldSkipOperation(1000)).To(BeFalse())
		Expect(manager.GetLastError()).To(Equal(err))
	})

	It("should fail permanently once the retry budget is spent", func() {
		err := errors.New("device timeout") //nolint:err113
		Expect(manager.SetError(err, 1)).To(BeFalse())
		Expect(manager.SetError(err, 2)).To(BeFalse())
		Expect(manager.SetError(err, 3)).To(BeTrue())
		Expect(manager.IsPermanentlyFailed()).To(BeTrue())
		Expect(manager.ShouldSkipOperation(1_000_000)).To(BeTrue())
		Expect(backoff.IsPermanentFailureError(manager.GetBackoffError(4))).To(BeTrue())
	})

	It("should fail permanently on a permanent error", func() {
		Expect(manager.SetError(backoff.NewPermanentError(errors.New("invalid")), 1)).To(BeTrue()) //nolint:err113
		Expect(manager.IsPermanentlyFailed()).To(BeTrue())
	})

	It("should clear everything on reset", func() {
		manager.SetError(backoff.NewPermanentError(errors.New("invalid")), 1) //nolint:err113
		manager.Reset()
		Expect(manager.IsPermanentlyFailed()).To(BeFalse())
		Expect(manager.ShouldSkipOperation(1)).To(BeFalse())
		Expect(manager.GetLastError()).To(BeNil())
	})
})
