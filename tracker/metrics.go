// Copyright 2024 The Crest Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the tracker's Prometheus metrics.
type Metrics struct {
	// SamplesTaken counts samples accepted into the shared mapping.
	SamplesTaken prometheus.Counter
	// SamplesRejected counts samples the mapping rejected as redundant or
	// out of order.
	SamplesRejected prometheus.Counter
	// MappingPairs reports the current size of the shared mapping.
	MappingPairs prometheus.Gauge
}

// NewMetrics returns unregistered metrics; call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		SamplesTaken: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crest_seqno_time_samples_taken_total",
			Help: "Seqno-time samples accepted into the process-wide mapping.",
		}),
		SamplesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crest_seqno_time_samples_rejected_total",
			Help: "Seqno-time samples rejected as redundant or out of order.",
		}),
		MappingPairs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crest_seqno_time_mapping_pairs",
			Help: "Pairs currently held by the process-wide seqno-time mapping.",
		}),
	}
}

// Register registers the metrics with r.
func (m *Metrics) Register(r prometheus.Registerer) {
	r.MustRegister(m.SamplesTaken, m.SamplesRejected, m.MappingPairs)
}
