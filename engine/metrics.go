package engine

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requests *prometheus.CounterVec
	retries  *prometheus.CounterVec
	capacity *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dql_backend_requests_total",
				Help: "DynamoDB requests issued by the engine",
			},
			[]string{"operation", "outcome"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dql_backend_retries_total",
				Help: "Throttled DynamoDB requests that were retried",
			},
			[]string{"operation"},
		),
		capacity: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dql_consumed_capacity_units_total",
				Help: "Capacity units reported by DynamoDB",
			},
			[]string{"table"},
		),
	}

	if reg == nil {
		return m
	}

	m.requests = register(reg, m.requests)
	m.retries = register(reg, m.retries)
	m.capacity = register(reg, m.capacity)

	return m
}

// register reuses the collector already registered under the same name, so
// several engines can share one registry
func register(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	err := reg.Register(c)
	if err == nil {
		return c
	}

	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
			return existing
		}
	}

	panic(err)
}

func (m *metrics) request(operation, outcome string) {
	m.requests.With(prometheus.Labels{"operation": operation, "outcome": outcome}).Inc()
}

func (m *metrics) retry(operation string) {
	m.retries.With(prometheus.Labels{"operation": operation}).Inc()
}

func (m *metrics) consumed(table string, units float64) {
	if units <= 0 {
		return
	}

	m.capacity.With(prometheus.Labels{"table": table}).Add(units)
}
