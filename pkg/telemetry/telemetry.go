// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package telemetry exposes the engine's Prometheus instrumentation. All
// recording methods are nil-safe so callers never branch on whether
// telemetry is enabled.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultPath is the path the metrics endpoint is mounted at when the
// configuration leaves it unset.
const DefaultPath = "/metrics"

// Config holds the telemetry section of the engine configuration.
type Config struct {
	// Enabled turns the Prometheus metrics endpoint on.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Path overrides the metrics endpoint path.
	// +optional
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Metrics is the engine's Prometheus instrument set, backed by its own
// registry so tests never collide on the global one. A nil *Metrics records
// nothing and serves no endpoint.
type Metrics struct {
	registry *prometheus.Registry

	authResults        *prometheus.CounterVec
	tokenExchanges     *prometheus.CounterVec
	exchangeDuration   prometheus.Histogram
	cacheEvents        *prometheus.CounterVec
	delegations        *prometheus.CounterVec
	delegationDuration *prometheus.HistogramVec
}

// New builds the instrument set, or nil when the config disables telemetry.
func New(cfg Config) *Metrics {
	if !cfg.Enabled {
		return nil
	}

	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		authResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delego_auth_results_total",
				Help: "Counts authentication results by outcome and IdP name.",
			},
			[]string{"result", "idp"},
		),
		tokenExchanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delego_token_exchanges_total",
				Help: "Counts RFC 8693 token exchanges by outcome.",
			},
			[]string{"outcome"},
		),
		exchangeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name: "delego_token_exchange_duration_seconds",
				Help: "Measures the latency of token-exchange round trips.",
				// lowest bucket 1ms, highest 32.768s
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
			},
		),
		cacheEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delego_token_cache_events_total",
				Help: "Counts token cache hits, misses, and evictions.",
			},
			[]string{"event"},
		),
		delegations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delego_delegations_total",
				Help: "Counts delegation dispatches by module and outcome.",
			},
			[]string{"module", "outcome"},
		),
		delegationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "delego_delegation_duration_seconds",
				Help:    "Measures the latency of delegation module calls.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
			},
			[]string{"module"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.authResults,
		m.tokenExchanges,
		m.exchangeDuration,
		m.cacheEvents,
		m.delegations,
		m.delegationDuration,
	)
	return m
}

// MetricsPath returns the configured metrics path or DefaultPath.
func (c Config) MetricsPath() string {
	if c.Path == "" {
		return DefaultPath
	}
	return c.Path
}

// RecordAuthResult counts one authentication outcome
// ("authenticated", "rejected", or "error").
func (m *Metrics) RecordAuthResult(result, idp string) {
	if m == nil {
		return
	}
	m.authResults.WithLabelValues(result, idp).Inc()
}

// RecordTokenExchange counts one exchange and observes its latency.
func (m *Metrics) RecordTokenExchange(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.tokenExchanges.WithLabelValues(outcome).Inc()
	m.exchangeDuration.Observe(seconds)
}

// RecordCacheEvent counts one token-cache event
// ("hit", "miss", or "eviction").
func (m *Metrics) RecordCacheEvent(event string) {
	if m == nil {
		return
	}
	m.cacheEvents.WithLabelValues(event).Inc()
}

// RecordDelegation counts one delegation dispatch and observes its latency.
func (m *Metrics) RecordDelegation(module, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.delegations.WithLabelValues(module, outcome).Inc()
	m.delegationDuration.WithLabelValues(module).Observe(seconds)
}

// Handler returns the Prometheus scrape handler, or nil when telemetry is
// disabled; callers skip the mount on nil.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
