// Package metrics gathers the small set of in-process counters
// SPEC_FULL.md's domain-stack table earmarks for prometheus/client_golang:
// circuit-breaker state and rate-limit rejections, surfaced through `mc
// status --json` rather than served over HTTP — this core has no
// embedded web UI (a stated Non-goal), so there is no /metrics endpoint,
// only an in-process registry gathered on demand.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns a private prometheus.Registry (never the global
// DefaultRegisterer) so gathering it can't be polluted by something
// else in the process registering under the same names.
type Collector struct {
	registry          *prometheus.Registry
	rateLimitDenials  *prometheus.CounterVec
	circuitState      *prometheus.GaugeVec
}

// New builds a Collector with its counters/gauges registered.
func New() *Collector {
	registry := prometheus.NewRegistry()
	denials := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "masterclaw_rate_limit_denials_total",
		Help: "Count of admission denials from the L8 rate limiter, by category.",
	}, []string{"category"})
	circuits := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "masterclaw_circuit_state",
		Help: "Current L7 circuit breaker state per name: 0=closed, 1=half-open, 2=open.",
	}, []string{"name"})
	registry.MustRegister(denials, circuits)
	return &Collector{registry: registry, rateLimitDenials: denials, circuitState: circuits}
}

// RecordRateLimitDenial increments the denial counter for category.
func (c *Collector) RecordRateLimitDenial(category string) {
	if c == nil {
		return
	}
	c.rateLimitDenials.WithLabelValues(category).Inc()
}

// SetCircuitState records name's current state as a small ordinal so it
// can ride a prometheus Gauge.
func (c *Collector) SetCircuitState(name, state string) {
	if c == nil {
		return
	}
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	default:
		v = 0 // closed
	}
	c.circuitState.WithLabelValues(name).Set(v)
}

// Sample is one gathered metric family's scalar value, flattened for the
// `mc status --json` rendering (which has no use for the full
// prometheus text-exposition format).
type Sample struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// Gather flattens the registry's current metric families into Samples.
func (c *Collector) Gather() ([]Sample, error) {
	families, err := c.registry.Gather()
	if err != nil {
		return nil, err
	}
	var samples []Sample
	for _, family := range families {
		for _, m := range family.GetMetric() {
			labels := make(map[string]string, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			value := m.GetCounter().GetValue()
			if m.GetGauge() != nil {
				value = m.GetGauge().GetValue()
			}
			samples = append(samples, Sample{Name: family.GetName(), Labels: labels, Value: value})
		}
	}
	return samples, nil
}
