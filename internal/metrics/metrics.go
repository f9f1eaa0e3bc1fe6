// Package metrics exposes Prometheus collectors for license activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "keyserver"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	validations   *prometheus.CounterVec
	mutations     *prometheus.CounterVec
	keyCollisions prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		validations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "license_validations_total",
			Help:      "License validations by outcome (valid, not found, revoked, expired).",
		}, []string{"outcome"}),
		mutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "license_mutations_total",
			Help:      "Administrative license mutations by operation.",
		}, []string{"operation"}),
		keyCollisions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "license_key_collisions_total",
			Help:      "Generated license keys rejected by the store as duplicates.",
		}),
	}
}

func (m *Metrics) ObserveValidation(outcome string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveMutation(operation string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(operation).Inc()
}

func (m *Metrics) ObserveKeyCollision() {
	if m == nil {
		return
	}
	m.keyCollisions.Inc()
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
