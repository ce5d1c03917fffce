// Package prometheus records statement latency in a Prometheus histogram
// labelled by statement kind and outcome.
package prometheus

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gandaldf/sqlmap"
)

type MiddlewareBuilder struct {
	Namespace string
	Subsystem string
	Name      string
	Help      string
	// Buckets defaults to prometheus.DefBuckets.
	Buckets []float64
	// Registerer defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// Build registers the histogram and returns the middleware. It panics if
// the collector cannot be registered, like prometheus.MustRegister.
func (m MiddlewareBuilder) Build() sqlmap.Middleware {
	name := m.Name
	if name == "" {
		name = "statement_duration_seconds"
	}
	vector := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.Namespace,
		Subsystem: m.Subsystem,
		Name:      name,
		Help:      m.Help,
		Buckets:   m.Buckets,
	}, []string{"kind", "status"})

	reg := m.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(vector)

	return func(next sqlmap.Handler) sqlmap.Handler {
		return func(ctx context.Context, st *sqlmap.Statement) *sqlmap.Outcome {
			startTime := time.Now()
			out := next(ctx, st)
			status := "ok"
			if out.Err != nil {
				status = "error"
			}
			vector.WithLabelValues(string(st.Kind), status).Observe(time.Since(startTime).Seconds())
			return out
		}
	}
}
