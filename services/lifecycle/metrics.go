// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/automaton/services/lifecycle/phase"
)

// Metrics is the lifecycle Prometheus metric set.
//
// Metrics are operator-facing only; nothing here reaches the agent's
// prompt.
type Metrics struct {
	registry *prometheus.Registry

	phaseGauge       *prometheus.GaugeVec
	moodValue        prometheus.Gauge
	degradation      prometheus.Gauge
	shedIndex        prometheus.Gauge
	heartbeatTicks   prometheus.Counter
	soulWriteRejects prometheus.Counter
	phaseTransitions prometheus.Counter
}

// NewMetrics creates and registers the metric set on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		phaseGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "automaton_lifecycle_phase",
			Help: "Current lifecycle phase (1 for the active phase).",
		}, []string{"phase"}),
		moodValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "automaton_mood_value",
			Help: "Current mood scalar in [-1, 1].",
		}),
		degradation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "automaton_degradation_coefficient",
			Help: "Current degradation coefficient in [0, 1].",
		}),
		shedIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "automaton_shed_sequence_index",
			Help: "Number of capabilities shed.",
		}),
		heartbeatTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "automaton_heartbeat_ticks_total",
			Help: "Heartbeat daemon ticks.",
		}),
		soulWriteRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "automaton_soul_write_rejections_total",
			Help: "Soul writes rejected by the phase lock.",
		}),
		phaseTransitions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "automaton_phase_transitions_total",
			Help: "Executed lifecycle phase transitions.",
		}),
	}
	registry.MustRegister(
		m.phaseGauge,
		m.moodValue,
		m.degradation,
		m.shedIndex,
		m.heartbeatTicks,
		m.soulWriteRejects,
		m.phaseTransitions,
	)
	return m
}

// Registry returns the prometheus registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe records a state snapshot.
func (m *Metrics) Observe(st State) {
	for _, p := range phase.All() {
		value := 0.0
		if p == st.Phase {
			value = 1.0
		}
		m.phaseGauge.WithLabelValues(string(p)).Set(value)
	}
	m.moodValue.Set(st.Mood.Value)
	m.degradation.Set(st.Degradation)
	m.shedIndex.Set(float64(st.ShedSequenceIndex))
}

// HeartbeatTick counts one daemon tick.
func (m *Metrics) HeartbeatTick() {
	m.heartbeatTicks.Inc()
}

// SoulWriteRejected counts one phase-lock rejection.
func (m *Metrics) SoulWriteRejected() {
	m.soulWriteRejects.Inc()
}

// PhaseTransition counts one executed transition.
func (m *Metrics) PhaseTransition() {
	m.phaseTransitions.Inc()
}
