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
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/config"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/constants"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/control"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/debugapi"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/engine"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/logger"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/metrics"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/sentry"
)

// appVersion is set at build time with -ldflags "-X main.appVersion=...".
var appVersion = constants.DefaultAppVersion

var configPath string

var (
	rootCmd = &cobra.Command{
		Use:           "hwvtep-core",
		Short:         "Reconciles logical switches and remote MACs onto hardware VTEPs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the control loop until interrupted",
		RunE:  run,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), appVersion)
		},
	}
)

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", constants.DefaultConfigPath, "path of the YAML config file")
	rootCmd.AddCommand(runCmd, versionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	logger.Initialize()
	defer func() { _ = logger.Sync() }()

	sentry.InitSentry(appVersion, true)

	log := logger.For(logger.ComponentCore)
	log.Infof("Starting hwvtep-core %s", appVersion)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Agent settings are read once; device changes are picked up by the loop.
	initial, err := config.NewFileConfigManager(configPath).GetConfig(ctx, 0)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeError, log, "Failed to load config: %v", err)

		return err
	}

	metricsServer := metrics.SetupMetricsEndpoint(fmt.Sprintf(":%d", portOrDefault(initial.Agent.MetricsPort, constants.DefaultMetricsPort)))

	manager := engine.NewManager(engine.SimulatorFactory)

	debugServer := debugapi.NewServer(fmt.Sprintf(":%d", portOrDefault(initial.Agent.DebugAPIPort, constants.DefaultDebugAPIPort)), manager)
	debugServer.Start()

	controlLoop := control.NewControlLoop(config.NewFileConfigManagerWithBackoff(configPath), manager)

	loopErr := controlLoop.Execute(ctx)
	if loopErr != nil {
		sentry.ReportIssuef(sentry.IssueTypeError, log, "Control loop failed: %v", loopErr)
	}

	shutdownErr := shutdown(log, manager, debugServer, metricsServer)

	log.Info("hwvtep-core stopped")

	return multierr.Combine(loopErr, shutdownErr)
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// shutdown drains the engines first so that in-flight batches still reach
// the devices, then stops the HTTP servers.
func shutdown(log *zap.SugaredLogger, manager *engine.Manager, servers ...shutdowner) error {
	ctx, cancel := context.WithTimeout(context.Background(), constants.InvokerShutdownTimeout)
	defer cancel()

	var err error
	if e := manager.Shutdown(ctx); e != nil {
		log.Errorf("Failed to drain engines: %v", e)
		err = multierr.Append(err, e)
	}

	for _, server := range servers {
		serverCtx, serverCancel := context.WithTimeout(context.Background(), constants.DebugAPIShutdownTimeout)
		e := server.Shutdown(serverCtx)
		serverCancel()

		if e != nil && !errors.Is(e, context.Canceled) {
			log.Errorf("Failed to shut down server: %v", e)
			err = multierr.Append(err, e)
		}
	}

	return err
}

func portOrDefault(port, fallback int) int {
	if port <= 0 {
		return fallback
	}

	return port
}
