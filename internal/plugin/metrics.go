// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package plugin

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Status constants for lifecycle transition metrics.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Transitions is the counter for lifecycle transitions.
// Use RegisterMetrics to register this with a Prometheus registry.
var Transitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ember_plugin_transitions_total",
		Help: "Total number of plugin lifecycle transitions",
	},
	[]string{"operation", "status"},
)

// HookDuration is the histogram for lifecycle hook execution duration.
// Use RegisterMetrics to register this with a Prometheus registry.
var HookDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "ember_plugin_hook_duration_seconds",
		Help:    "Plugin lifecycle hook execution duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"hook"},
)

// EnabledPlugins is the gauge of currently enabled plugins.
// Use RegisterMetrics to register this with a Prometheus registry.
var EnabledPlugins = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "ember_plugins_enabled",
		Help: "Number of currently enabled plugins",
	},
)

// RegisterMetrics registers plugin package metrics with the given registry.
// This must be called at startup to make metrics available on /metrics.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Transitions)
	reg.MustRegister(HookDuration)
	reg.MustRegister(EnabledPlugins)
}

// RecordTransition increments the lifecycle transition counter.
func RecordTransition(operation, status string) {
	Transitions.WithLabelValues(operation, status).Inc()
}

// RecordHookDuration records the duration of a lifecycle hook.
func RecordHookDuration(hook string, duration time.Duration) {
	HookDuration.WithLabelValues(hook).Observe(duration.Seconds())
}
