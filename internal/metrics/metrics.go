// Package metrics counts registry and ledger outcomes with Prometheus
// collectors.
//
// Collectors live on a private prometheus.Registry rather than the default
// one, so independent Metrics values never collide.
package metrics

import (
	"fmt"
	"io"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const namespace = "sigil"

// Metrics implements registry.Observer and ledger.Observer.
type Metrics struct {
	reg *prometheus.Registry

	declarations  *prometheus.CounterVec
	evolutions    *prometheus.CounterVec
	verifications *prometheus.CounterVec
}

// New creates the collectors and registers them.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		declarations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "declarations_total",
			Help:      "Declare calls by outcome.",
		}, []string{"outcome"}),
		evolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "evolutions_total",
			Help:      "Evolve calls by outcome.",
		}, []string{"outcome"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "verifications_total",
			Help:      "Chain verifications by result.",
		}, []string{"ok"}),
	}
	m.reg.MustRegister(m.declarations, m.evolutions, m.verifications)
	return m
}

// ObserveDeclare counts one Declare call.
func (m *Metrics) ObserveDeclare(outcome string) {
	m.declarations.WithLabelValues(outcome).Inc()
}

// ObserveEvolve counts one Evolve call.
func (m *Metrics) ObserveEvolve(outcome string) {
	m.evolutions.WithLabelValues(outcome).Inc()
}

// ObserveVerify counts one verification.
func (m *Metrics) ObserveVerify(ok bool) {
	m.verifications.WithLabelValues(strconv.FormatBool(ok)).Inc()
}

// Gatherer exposes the collectors, e.g. for promhttp.HandlerFor.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.reg
}

// WriteText writes every metric family in the Prometheus text format.
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.reg.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
