// Copyright (C) 2026 SEALMit Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "sealmit"
	storeSubsystem   = "store"
)

// Metrics holds Prometheus instruments for store operations. All
// operations are thread-safe via Prometheus's internal locking. A nil
// *Metrics disables recording, so the store never nil-checks at call
// sites.
type Metrics struct {
	// DraftSavesTotal counts successful draft saves.
	DraftSavesTotal prometheus.Counter

	// CommitsTotal counts commit attempts by outcome.
	// Labels: status (success, conflict, error)
	CommitsTotal *prometheus.CounterVec

	// CommitDurationSeconds measures end-to-end commit latency,
	// lock wait included.
	CommitDurationSeconds prometheus.Histogram

	// RestoresTotal counts destructive restores.
	RestoresTotal prometheus.Counter

	// LockBusyTotal counts per-project lock acquisition timeouts.
	LockBusyTotal prometheus.Counter
}

// NewMetrics registers the store instruments on reg. Pass
// prometheus.DefaultRegisterer for the process-wide registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DraftSavesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: storeSubsystem,
			Name:      "draft_saves_total",
			Help:      "Number of successful draft saves.",
		}),
		CommitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: storeSubsystem,
			Name:      "commits_total",
			Help:      "Number of commit attempts by outcome.",
		}, []string{"status"}),
		CommitDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: storeSubsystem,
			Name:      "commit_duration_seconds",
			Help:      "Commit latency including lock wait.",
			Buckets:   prometheus.DefBuckets,
		}),
		RestoresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: storeSubsystem,
			Name:      "restores_total",
			Help:      "Number of destructive restores to an earlier revision.",
		}),
		LockBusyTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: storeSubsystem,
			Name:      "lock_busy_total",
			Help:      "Number of per-project lock acquisition timeouts.",
		}),
	}
}

func (m *Metrics) draftSaved() {
	if m == nil {
		return
	}
	m.DraftSavesTotal.Inc()
}

func (m *Metrics) commitFinished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.CommitsTotal.WithLabelValues(status).Inc()
	m.CommitDurationSeconds.Observe(elapsed.Seconds())
}

func (m *Metrics) restored() {
	if m == nil {
		return
	}
	m.RestoresTotal.Inc()
}

func (m *Metrics) lockBusy() {
	if m == nil {
		return
	}
	m.LockBusyTotal.Inc()
}
