// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors exported by a run.
//
// A nil *Metrics is valid and records nothing, so packages can accept one
// without guarding every call site.
type Metrics struct {
	registry *prometheus.Registry

	hostRequests        *prometheus.CounterVec
	commitsVersioned    *prometheus.CounterVec
	classifierFallbacks *prometheus.CounterVec
	classifierLatency   prometheus.Histogram
	ledgerFiles         *prometheus.CounterVec
	runDuration         *prometheus.HistogramVec
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		hostRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "commitver_host_requests_total",
			Help: "Requests sent to the source-control host by endpoint and HTTP status",
		}, []string{"endpoint", "status"}),
		commitsVersioned: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "commitver_commits_versioned_total",
			Help: "Commits that received a version, by tier and deciding stage",
		}, []string{"tier", "decided_by"}),
		classifierFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "commitver_classifier_fallbacks_total",
			Help: "Classifier decisions that fell back to the default tier, by reason",
		}, []string{"reason"}),
		classifierLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "commitver_classifier_latency_seconds",
			Help:    "Latency of external classifier calls",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		ledgerFiles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "commitver_ledger_files_written_total",
			Help: "Ledger files written by mode",
		}, []string{"mode"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "commitver_run_duration_seconds",
			Help:    "Wall time of a tracking or replay run per repository",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"mode", "outcome"}),
	}
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// HostRequest counts one request to the host.
func (m *Metrics) HostRequest(endpoint string, status int) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.hostRequests.WithLabelValues(endpoint, label).Inc()
}

// CommitVersioned counts one commit that received a version.
func (m *Metrics) CommitVersioned(tier, decidedBy string) {
	if m == nil {
		return
	}
	m.commitsVersioned.WithLabelValues(tier, decidedBy).Inc()
}

// ClassifierFallback counts a classifier decision that defaulted.
func (m *Metrics) ClassifierFallback(reason string) {
	if m == nil {
		return
	}
	m.classifierFallbacks.WithLabelValues(reason).Inc()
}

// ClassifierLatency observes one external classifier call.
func (m *Metrics) ClassifierLatency(seconds float64) {
	if m == nil {
		return
	}
	m.classifierLatency.Observe(seconds)
}

// LedgerFileWritten counts one ledger file.
func (m *Metrics) LedgerFileWritten(mode string) {
	if m == nil {
		return
	}
	m.ledgerFiles.WithLabelValues(mode).Inc()
}

// RunFinished observes the wall time of one repository run.
func (m *Metrics) RunFinished(mode, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(mode, outcome).Observe(seconds)
}

// WriteTextfile dumps every metric in the text exposition format, suitable
// for the node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
