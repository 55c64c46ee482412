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

package transact_test

import (
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/multierr"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/model"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/transact"
)

func TestTransact(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Transact Suite")
}

var _ = Describe("Batch", func() {
	var (
		batch *transact.Batch
		ls0   model.EntityKey
		loc   model.EntityKey
	)

	BeforeEach(func() {
		batch = transact.NewBatch()
		ls0 = model.NewLogicalSwitchKey("ls0")
		loc = model.NewLocatorKey("192.168.122.20")
	})

	It("should hand out in-batch references for inserted rows", func() {
		ref := batch.Insert(loc, &model.PhysicalLocator{DstIP: "192.168.122.20"}, transact.Row{"dst_ip": "192.168.122.20"})
		Expect(ref.Named).To(HavePrefix("row_"))
		Expect(ref.UUID).To(BeEmpty())

		again := batch.Insert(loc, nil, nil)
		Expect(again).To(Equal(ref))
		Expect(batch.Len()).To(Equal(1))

		found, ok := batch.RefFor(loc)
		Expect(ok).To(BeTrue())
		Expect(found).To(Equal(ref))

		_, ok = batch.RefFor(ls0)
		Expect(ok).To(BeFalse())
	})

	It("should skip updates without changed columns", func() {
		Expect(batch.Update(ls0, "uuid-ls0", nil, transact.Row{})).To(BeFalse())
		Expect(batch.Empty()).To(BeTrue())

		Expect(batch.Update(ls0, "uuid-ls0", nil, transact.Row{"description": "x"})).To(BeTrue())
		Expect(batch.Operations()[0].Kind).To(Equal(transact.KindUpdate))
	})

	It("should track touched and deleted keys in emission order", func() {
		batch.Insert(loc, nil, transact.Row{})
		batch.Update(ls0, "uuid-ls0", nil, transact.Row{"tunnel_key": int64(5)})
		batch.Update(ls0, "uuid-ls0", nil, transact.Row{"description": "y"})

		mac := model.NewUcastMacKey("ls0", "02:00:00:00:00:01")
		batch.Delete(mac, "uuid-mac")
		batch.Delete(mac, "uuid-mac")

		Expect(batch.TouchedKeys()).To(Equal([]model.EntityKey{loc, ls0}))
		Expect(batch.DeletedKeys()).To(Equal([]model.EntityKey{mac}))
		Expect(batch.IsDeleted(mac)).To(BeTrue())
		Expect(batch.Has(ls0)).To(BeTrue())
		Expect(batch.Len()).To(Equal(4))
	})

	It("should collect build errors without touching the operations", func() {
		batch.Insert(loc, nil, transact.Row{})
		batch.RecordBuildError(ls0, errors.New("bad"))
		batch.RecordBuildError(loc, errors.New("worse"))

		Expect(multierr.Errors(batch.BuildErrors())).To(HaveLen(2))
		Expect(batch.Len()).To(Equal(1))
	})
})

var _ = Describe("DiffRow", func() {
	It("should return only changed or new columns", func() {
		desired := transact.Row{"name": "ls0", "tunnel_key": int64(5000), "description": "new"}
		current := transact.Row{"name": "ls0", "tunnel_key": int64(5000), "description": "old"}

		Expect(transact.DiffRow(desired, current)).To(Equal(transact.Row{"description": "new"}))
		Expect(transact.DiffRow(desired, desired)).To(BeEmpty())
		Expect(transact.DiffRow(desired, nil)).To(Equal(desired))
	})

	It("should compare reference sets by content", func() {
		desired := transact.Row{"locators": []transact.UUIDRef{{UUID: "a"}, {UUID: "b"}}}
		current := transact.Row{"locators": []transact.UUIDRef{{UUID: "a"}, {UUID: "b"}}}

		Expect(transact.DiffRow(desired, current)).To(BeEmpty())
	})
})
