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

package main

import (
	"bytes"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/constants"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/sentry"
)

func TestCLI(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Main Suite")
}

var _ = BeforeSuite(func() {
	sentry.EnableTestMode()
})

var _ = Describe("CLI", func() {
	var out bytes.Buffer

	BeforeEach(func() {
		out.Reset()
		rootCmd.SetOut(&out)
		rootCmd.SetErr(&out)
	})

	It("should print the version", func() {
		rootCmd.SetArgs([]string{"version"})
		Expect(rootCmd.Execute()).To(Succeed())
		Expect(out.String()).To(Equal(constants.DefaultAppVersion + "\n"))
	})

	It("should refuse to run without a config file", func() {
		missing := filepath.Join(GinkgoT().TempDir(), "config.yaml")

		rootCmd.SetArgs([]string{"run", "--config", missing})
		Expect(rootCmd.Execute()).To(MatchError(ContainSubstring("config file does not exist")))
	})

	It("should fall back to default ports", func() {
		Expect(portOrDefault(0, constants.DefaultMetricsPort)).To(Equal(constants.DefaultMetricsPort))
		Expect(portOrDefault(9100, constants.DefaultMetricsPort)).To(Equal(9100))
	})
})
