/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registry backs the process-wide collectors below. The engine host process registers
// no collectors outside this package, so a package-private registry (rather than the
// global prometheus.DefaultRegisterer) keeps /metrics output limited to what this
// package defines.
var registry = prometheus.NewRegistry()

var (
	// BlocksProduced counts audio blocks the decode worker's pipeline runner produced.
	BlocksProduced = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Namespace: "grimnir_audioengine",
		Name:      "blocks_produced_total",
		Help:      "Audio blocks produced by the decode worker's pipeline runner.",
	})

	// SinkQueueDepth reports blocks currently buffered in the sink worker's queue.
	SinkQueueDepth = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "grimnir_audioengine",
		Name:      "sink_queue_depth",
		Help:      "Blocks currently buffered in the sink worker's queue.",
	})

	// SinkRecoveryAttempts counts sink recovery attempts made after a write error.
	SinkRecoveryAttempts = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Namespace: "grimnir_audioengine",
		Name:      "sink_recovery_attempts_total",
		Help:      "Sink recovery attempts made after a write error.",
	})

	// SinkRecoveryExhausted counts times recovery ran out of attempts and stopped the player.
	SinkRecoveryExhausted = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Namespace: "grimnir_audioengine",
		Name:      "sink_recovery_exhausted_total",
		Help:      "Times sink recovery exhausted its attempt budget and stopped the player.",
	})

	// AsioRoundTrip observes the latency of one request/response round trip to the ASIO sidecar.
	AsioRoundTrip = promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: "grimnir_audioengine",
		Name:      "asio_roundtrip_seconds",
		Help:      "Latency of one request/response round trip to the ASIO sidecar.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
	})

	// PluginApplyOutcome counts reconciliation outcomes by transition and outcome.
	PluginApplyOutcome = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "grimnir_audioengine",
		Name:      "plugin_apply_outcome_total",
		Help:      "Plugin reconciliation outcomes by transition and outcome.",
	}, []string{"transition", "outcome"})

	// ReconcileDuration observes wall-clock time spent in one plugin reconciliation pass.
	ReconcileDuration = promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: "grimnir_audioengine",
		Name:      "plugin_reconcile_duration_seconds",
		Help:      "Wall-clock time spent in one plugin reconciliation pass.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Handler serves the registered collectors in the Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
