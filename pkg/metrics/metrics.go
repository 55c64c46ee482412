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

package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/logger"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/sentry"
)

const (
	// Component labels.
	ComponentControlLoop   = "control_loop"
	ComponentEngineManager = "engine_manager"
	ComponentEngine        = "engine"
	ComponentDepQueue      = "dependency_queue"
	ComponentInvoker       = "transaction_invoker"
	ComponentConfigManager = "config_manager"
)

const (
	// Batch results.
	BatchSubmitted = "submitted"
	BatchSucceeded = "succeeded"
	BatchDropped   = "dropped"
	BatchEmpty     = "empty"

	// Job outcomes.
	JobResolved   = "resolved"
	JobExpired    = "expired"
	JobSuperseded = "superseded"
	JobDropped    = "dropped"
)

var (
	namespace = "umh"
	subsystem = "hwvtep"

	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component", "instance"},
	)

	reconcileTime = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconcile_duration_milliseconds",
			Help:      "Time taken to reconcile (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01,
				0.9:  0.01,
				0.99: 0.01,
			},
		},
		[]string{"component", "instance"},
	)

	starvationSeconds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "starved_total_seconds",
			Help:      "Total seconds a loop was starved",
		},
		[]string{"loop"},
	)

	parkedJobs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "parked_jobs",
			Help:      "Jobs parked in the dependency queue by kind",
		},
		[]string{"device", "kind"},
	)

	jobOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "job_outcomes_total",
			Help:      "Dependency queue jobs leaving the queue, by kind and outcome",
		},
		[]string{"device", "kind", "outcome"},
	)

	batches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "batches_total",
			Help:      "Transaction batches handled by the invoker, by result",
		},
		[]string{"device", "result"},
	)

	transactRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transact_retries_total",
			Help:      "Resubmissions of a batch after a transport failure",
		},
		[]string{"device"},
	)

	opFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operation_failures_total",
			Help:      "Operations rejected by the device, by entity type",
		},
		[]string{"device", "entity_type"},
	)

	buildErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "build_errors_total",
			Help:      "Commands that failed to build, by entity type",
		},
		[]string{"device", "entity_type"},
	)

	transactTime = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transact_duration_milliseconds",
			Help:      "Time taken by one device submission (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01,
				0.9:  0.01,
				0.99: 0.01,
			},
		},
		[]string{"device"},
	)

	invokerQueueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "invoker_queue_length",
			Help:      "Commands waiting for the transaction worker",
		},
		[]string{"device"},
	)

	inTransitKeys = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "in_transit_keys",
			Help:      "Keys sent to the device and not yet acknowledged",
		},
		[]string{"device"},
	)
)

// SetupMetricsEndpoint starts an HTTP server exposing /metrics.
// This should be called once at application startup.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeError, logger.For("metrics"))
		}
	}()

	return server
}

// IncErrorCountAndLog increments the error counter and logs at debug level if a logger is provided.
func IncErrorCountAndLog(component, instance string, err error, log *zap.SugaredLogger) {
	IncErrorCount(component, instance)

	if log != nil {
		log.Debugf("Component %s instance %s failed: %v", component, instance, err)
	}
}

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Inc()
}

// InitErrorCounter initializes the error counter for a component.
func InitErrorCounter(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Add(0)
}

// ObserveReconcileTime records the time taken for a reconciliation.
func ObserveReconcileTime(component, instance string, duration time.Duration) {
	reconcileTime.WithLabelValues(component, instance).Observe(float64(duration.Milliseconds()))
}

// AddStarvationTime increases the starvation counter of a loop by the specified seconds.
func AddStarvationTime(loop string, seconds float64) {
	starvationSeconds.WithLabelValues(loop).Add(seconds)
}

// SetParkedJobs records the number of parked jobs of a kind.
func SetParkedJobs(device, kind string, n int) {
	parkedJobs.WithLabelValues(device, kind).Set(float64(n))
}

// IncJobOutcome counts a job leaving the dependency queue.
func IncJobOutcome(device, kind, outcome string) {
	jobOutcomes.WithLabelValues(device, kind, outcome).Inc()
}

// IncBatch counts a batch result.
func IncBatch(device, result string) {
	batches.WithLabelValues(device, result).Inc()
}

// IncTransactRetry counts a resubmission.
func IncTransactRetry(device string) {
	transactRetries.WithLabelValues(device).Inc()
}

// IncOpFailure counts an operation rejected by the device.
func IncOpFailure(device, entityType string) {
	opFailures.WithLabelValues(device, entityType).Inc()
}

// IncBuildError counts a command that failed to build.
func IncBuildError(device, entityType string) {
	buildErrors.WithLabelValues(device, entityType).Inc()
}

// ObserveTransactTime records the duration of a device submission.
func ObserveTransactTime(device string, duration time.Duration) {
	transactTime.WithLabelValues(device).Observe(float64(duration.Milliseconds()))
}

// SetInvokerQueueLength records the invoker backlog.
func SetInvokerQueueLength(device string, n int) {
	invokerQueueLength.WithLabelValues(device).Set(float64(n))
}

// SetInTransitKeys records the number of unacknowledged keys.
func SetInTransitKeys(device string, n int) {
	inTransitKeys.WithLabelValues(device).Set(float64(n))
}

// BatchCounter exposes the batch counter of a device and result for tests.
func BatchCounter(device, result string) prometheus.Counter {
	return batches.WithLabelValues(device, result)
}

// JobOutcomeCounter exposes the job outcome counter for tests.
func JobOutcomeCounter(device, kind, outcome string) prometheus.Counter {
	return jobOutcomes.WithLabelValues(device, kind, outcome)
}

// StarvationCounter exposes the starvation counter of a loop for tests.
func StarvationCounter(loop string) prometheus.Counter {
	return starvationSeconds.WithLabelValues(loop)
}

// DeleteDevice removes all series of a device that is no longer managed.
func DeleteDevice(device string) {
	labels := prometheus.Labels{"device": device}
	parkedJobs.DeletePartialMatch(labels)
	jobOutcomes.DeletePartialMatch(labels)
	batches.DeletePartialMatch(labels)
	transactRetries.DeletePartialMatch(labels)
	opFailures.DeletePartialMatch(labels)
	buildErrors.DeletePartialMatch(labels)
	transactTime.DeletePartialMatch(labels)
	invokerQueueLength.DeletePartialMatch(labels)
	inTransitKeys.DeletePartialMatch(labels)
}
