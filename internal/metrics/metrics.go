// Package metrics exposes Prometheus collectors for key derivation, slug
// resolution, serialization and session operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "batteries"

// Collectors implements keys.Observer and slug.Observer.
type Collectors struct {
	keysDerived         *prometheus.CounterVec
	slugProbes          *prometheus.CounterVec
	slugCollisions      *prometheus.CounterVec
	slugExhausted       *prometheus.CounterVec
	serializationErrors *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec
}

// New registers the collectors with reg. A nil reg registers nothing, which
// suits tests that only read values back.
func New(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		keysDerived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keys_derived_total",
			Help:      "Record keys assigned, by type and derivation mode",
		}, []string{"type", "mode"}),
		slugProbes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slug_probes_total",
			Help:      "Slug candidates checked against the store",
		}, []string{"type"}),
		slugCollisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slug_collisions_total",
			Help:      "Slug candidates already taken",
		}, []string{"type"}),
		slugExhausted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slug_exhausted_total",
			Help:      "Slug resolutions that ran out of candidates",
		}, []string{"type"}),
		serializationErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serialization_errors_total",
			Help:      "Records that failed to serialize",
		}, []string{"type"}),
		operationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_operation_duration_seconds",
			Help:      "Duration of session operations",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"op", "outcome"}),
	}
}

// KeyDerived counts one key assignment.
func (c *Collectors) KeyDerived(typeName string, fromUUID bool) {
	mode := "attributes"
	if fromUUID {
		mode = "uuid"
	}
	c.keysDerived.WithLabelValues(typeName, mode).Inc()
}

// SlugProbed counts one candidate lookup.
func (c *Collectors) SlugProbed(typeName string) {
	c.slugProbes.WithLabelValues(typeName).Inc()
}

// SlugCollided counts one taken candidate.
func (c *Collectors) SlugCollided(typeName string) {
	c.slugCollisions.WithLabelValues(typeName).Inc()
}

// SlugExhausted counts one failed resolution.
func (c *Collectors) SlugExhausted(typeName string) {
	c.slugExhausted.WithLabelValues(typeName).Inc()
}

// SerializationFailed counts one failed serialization.
func (c *Collectors) SerializationFailed(typeName string) {
	c.serializationErrors.WithLabelValues(typeName).Inc()
}

// ObserveOperation records the duration of a session operation.
func (c *Collectors) ObserveOperation(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.operationDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}
