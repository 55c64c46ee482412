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

package env_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/env"
)

func TestEnv(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Env Suite")
}

var _ = Describe("Env", func() {
	It("should return defaults for unset optional variables", func() {
		GinkgoT().Setenv("HWVTEP_TEST_UNSET", "")
		s, err := env.GetAsString("HWVTEP_TEST_UNSET", false, "fallback")
		Expect(err).ToNot(HaveOccurred())
		Expect(s).To(Equal("fallback"))
	})

	It("should fail for unset required variables", func() {
		GinkgoT().Setenv("HWVTEP_TEST_UNSET", "")
		_, err := env.GetAsString("HWVTEP_TEST_UNSET", true, "")
		Expect(err).To(HaveOccurred())
	})

	It("should parse ints, bools and durations", func() {
		GinkgoT().Setenv("HWVTEP_TEST_INT", "42")
		GinkgoT().Setenv("HWVTEP_TEST_BOOL", "on")
		GinkgoT().Setenv("HWVTEP_TEST_DURATION", "750ms")

		i, err := env.GetAsInt("HWVTEP_TEST_INT", true, 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(i).To(Equal(42))

		b, err := env.GetAsBool("HWVTEP_TEST_BOOL", true, false)
		Expect(err).ToNot(HaveOccurred())
		Expect(b).To(BeTrue())

		d, err := env.GetAsDuration("HWVTEP_TEST_DURATION", true, time.Second)
		Expect(err).ToNot(HaveOccurred())
		Expect(d).To(Equal(750 * time.Millisecond))
	})

	It("should fall back on malformed optional values", func() {
		GinkgoT().Setenv("HWVTEP_TEST_DURATION", "soon")
		d, err := env.GetAsDuration("HWVTEP_TEST_DURATION", false, time.Second)
		Expect(err).ToNot(HaveOccurred())
		Expect(d).To(Equal(time.Second))

		_, err = env.GetAsDuration("HWVTEP_TEST_DURATION", true, time.Second)
		Expect(err).To(HaveOccurred())
	})
})
