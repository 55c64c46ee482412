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

package northbound_test

import (
	"context"
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/model"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/northbound"
)

func TestNorthbound(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Northbound Suite")
}

type recorder struct {
	err     error
	commits [][]model.ChangeEvent
}

func (r *recorder) ProcessChanges(_ context.Context, events []model.ChangeEvent) error {
	r.commits = append(r.commits, events)

	return r.err
}

var _ = Describe("Store", func() {
	var (
		store *northbound.Store
		rec   *recorder
		ctx   context.Context
		ls0   *model.LogicalSwitch
		mac   *model.UcastMacRemote
	)

	BeforeEach(func() {
		store = northbound.NewStore("tor-1")
		rec = &recorder{}
		store.Subscribe(rec)
		ctx = context.Background()

		ls0 = &model.LogicalSwitch{Name: "ls0", TunnelKey: 5000}
		mac = &model.UcastMacRemote{LogicalSwitch: "ls0", MAC: "00:00:00:00:00:01", Locator: "192.168.122.20"}
	})

	It("should publish creates in input order", func() {
		events, err := store.Apply(ctx, []model.Value{mac, ls0})
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(2))
		Expect(events[0].Action).To(Equal(model.ActionCreate))
		Expect(events[0].Key).To(Equal(mac.Key()))
		Expect(events[1].Key).To(Equal(ls0.Key()))
		Expect(rec.commits).To(Equal([][]model.ChangeEvent{events}))
	})

	It("should only publish actual changes", func() {
		_, err := store.Apply(ctx, []model.Value{ls0})
		Expect(err).NotTo(HaveOccurred())

		events, err := store.Apply(ctx, []model.Value{&model.LogicalSwitch{Name: "ls0", TunnelKey: 5000}})
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(BeEmpty())
		Expect(rec.commits).To(HaveLen(1))

		events, err = store.Apply(ctx, []model.Value{&model.LogicalSwitch{Name: "ls0", TunnelKey: 6000}})
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(1))
		Expect(events[0].Action).To(Equal(model.ActionUpdate))
		Expect(events[0].Before).To(Equal(ls0))
	})

	It("should not share memory with the caller", func() {
		_, err := store.Apply(ctx, []model.Value{ls0})
		Expect(err).NotTo(HaveOccurred())

		ls0.TunnelKey = 1
		stored, ok := store.Get(ls0.Key())
		Expect(ok).To(BeTrue())
		Expect(stored.(*model.LogicalSwitch).TunnelKey).To(Equal(int64(5000)))
	})

	It("should publish deletes", func() {
		_, err := store.Apply(ctx, []model.Value{ls0})
		Expect(err).NotTo(HaveOccurred())

		deleted, err := store.Delete(ctx, ls0.Key())
		Expect(err).NotTo(HaveOccurred())
		Expect(deleted).To(BeTrue())
		Expect(rec.commits[1][0].Action).To(Equal(model.ActionDelete))

		deleted, err = store.Delete(ctx, ls0.Key())
		Expect(err).NotTo(HaveOccurred())
		Expect(deleted).To(BeFalse())
		Expect(rec.commits).To(HaveLen(2))
	})

	It("should delete what a replacement leaves out", func() {
		_, err := store.Apply(ctx, []model.Value{ls0, mac})
		Expect(err).NotTo(HaveOccurred())

		events, err := store.Replace(ctx, []model.Value{ls0})
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(1))
		Expect(events[0].Action).To(Equal(model.ActionDelete))
		Expect(events[0].Key).To(Equal(mac.Key()))
		Expect(store.Len()).To(Equal(1))
	})

	It("should commit even when a subscriber fails", func() {
		rec.err = errors.New("engine shut down")

		_, err := store.Apply(ctx, []model.Value{ls0})
		Expect(err).To(MatchError(ContainSubstring("engine shut down")))
		Expect(store.Len()).To(Equal(1))
	})
	It("should resend every value as a create", func() {
		rec.err = errors.New("engine busy")
		_, err := store.Apply(ctx, []model.Value{mac, ls0})
		Expect(err).To(HaveOccurred())

		rec.err = nil
		Expect(store.Resend(ctx)).To(Succeed())
		Expect(rec.commits).To(HaveLen(2))

		resent := rec.commits[1]
		Expect(resent).To(HaveLen(2))
		Expect(resent[0].Key).To(Equal(ls0.Key()))
		Expect(resent[0].Action).To(Equal(model.ActionCreate))
		Expect(resent[1].Key).To(Equal(mac.Key()))
	})

	It("should resend deletes a failed commit carried", func() {
		ls1 := &model.LogicalSwitch{Name: "ls1", TunnelKey: 5001}

		_, err := store.Replace(ctx, []model.Value{ls0, ls1})
		Expect(err).NotTo(HaveOccurred())

		rec.err = errors.New("engine busy")
		_, err = store.Replace(ctx, []model.Value{ls0})
		Expect(err).To(HaveOccurred())
		Expect(store.Len()).To(Equal(1))

		rec.err = nil
		Expect(store.Resend(ctx)).To(Succeed())

		resent := rec.commits[len(rec.commits)-1]
		Expect(resent).To(HaveLen(2))
		Expect(resent[0].Action).To(Equal(model.ActionDelete))
		Expect(resent[0].Key).To(Equal(ls1.Key()))
		Expect(resent[1].Action).To(Equal(model.ActionCreate))
		Expect(resent[1].Key).To(Equal(ls0.Key()))

		Expect(store.Resend(ctx)).To(Succeed())
		Expect(rec.commits[len(rec.commits)-1]).To(HaveLen(1))
	})

	It("should not resend the delete of a re-created entity", func() {
		_, err := store.Apply(ctx, []model.Value{ls0})
		Expect(err).NotTo(HaveOccurred())

		rec.err = errors.New("engine busy")
		_, err = store.Delete(ctx, ls0.Key())
		Expect(err).To(HaveOccurred())

		rec.err = nil
		_, err = store.Apply(ctx, []model.Value{ls0})
		Expect(err).NotTo(HaveOccurred())

		Expect(store.Resend(ctx)).To(Succeed())
		resent := rec.commits[len(rec.commits)-1]
		Expect(resent).To(HaveLen(1))
		Expect(resent[0].Action).To(Equal(model.ActionCreate))
	})
})
