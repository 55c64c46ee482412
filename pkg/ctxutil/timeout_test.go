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

package ctxutil_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/ctxutil"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/ctxutil/ctxmutex"
)

func TestCtxutil(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Ctxutil Suite")
}

var _ = Describe("HasSufficientTime", func() {
	It("should return ErrNoDeadline for a context without deadline", func() {
		remaining, sufficient, err := ctxutil.HasSufficientTime(context.Background(), 10*time.Millisecond)
		Expect(err).To(MatchError(ctxutil.ErrNoDeadline))
		Expect(sufficient).To(BeFalse())
		Expect(remaining).To(BeZero())
	})

	It("should report sufficient time", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		remaining, sufficient, err := ctxutil.HasSufficientTime(ctx, 100*time.Millisecond)
		Expect(err).ToNot(HaveOccurred())
		Expect(sufficient).To(BeTrue())
		Expect(remaining).To(BeNumerically(">", 100*time.Millisecond))
	})

	It("should not treat insufficient time as an error", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		defer cancel()

		_, sufficient, err := ctxutil.HasSufficientTime(ctx, time.Second)
		Expect(err).ToNot(HaveOccurred())
		Expect(sufficient).To(BeFalse())
	})
})

var _ = Describe("WithBoundedTimeout", func() {
	It("should apply the timeout to a context without deadline", func() {
		ctx, cancel, err := ctxutil.WithBoundedTimeout(context.Background(), time.Second, 0)
		defer cancel()
		Expect(err).ToNot(HaveOccurred())

		deadline, ok := ctx.Deadline()
		Expect(ok).To(BeTrue())
		Expect(time.Until(deadline)).To(BeNumerically("<=", time.Second))
	})

	It("should keep an earlier parent deadline", func() {
		parent, parentCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer parentCancel()

		ctx, cancel, err := ctxutil.WithBoundedTimeout(parent, time.Hour, time.Millisecond)
		defer cancel()
		Expect(err).ToNot(HaveOccurred())

		deadline, _ := ctx.Deadline()
		Expect(time.Until(deadline)).To(BeNumerically("<=", 200*time.Millisecond))
	})

	It("should refuse when the parent is nearly expired", func() {
		parent, parentCancel := context.WithTimeout(context.Background(), time.Millisecond)
		defer parentCancel()

		_, cancel, err := ctxutil.WithBoundedTimeout(parent, time.Second, 100*time.Millisecond)
		defer cancel()
		Expect(err).To(MatchError(ctxutil.ErrInsufficientTime))
	})
})

var _ = Describe("CtxMutex", func() {
	It("should give up when the context is cancelled", func() {
		m := ctxmutex.NewCtxMutex()
		Expect(m.Lock(context.Background())).To(Succeed())
		Expect(m.TryLock()).To(BeFalse())

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		Expect(m.Lock(ctx)).To(HaveOccurred())

		m.Unlock()
		Expect(m.TryLock()).To(BeTrue())
		m.Unlock()
	})
})
