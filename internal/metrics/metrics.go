// Package metrics exports per-invocation stress statistics to prometheus
// by tailing the stress tool's log output.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Gauge value kinds parsed from stress output.
const (
	TypeOps     = "ops"
	TypeLatMean = "lat_mean"
	TypeLatP99  = "lat_perc_99"
	TypeErrors  = "errors"
)

// StressMetrics owns the collectors every stress exporter writes into.
// Created once per registry; exporters share the vectors and fan out by
// label so concurrent invocations never collide on registration.
type StressMetrics struct {
	gauge *prometheus.GaugeVec
}

// NewStressMetrics registers the stress collectors on the registry.
func NewStressMetrics(reg prometheus.Registerer) (*StressMetrics, error) {
	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sct_cql_stress_cassandra_stress_gauge",
			Help: "cql-stress-cassandra-stress progress values parsed from the run log",
		},
		[]string{"instance", "loader_idx", "cpu_idx", "operation", "type"},
	)
	if err := reg.Register(gauge); err != nil {
		return nil, fmt.Errorf("metrics: register stress gauge: %w", err)
	}
	return &StressMetrics{gauge: gauge}, nil
}

func (m *StressMetrics) set(instance string, loaderIdx, cpuIdx int, operation, typ string, v float64) {
	m.gauge.WithLabelValues(instance, fmt.Sprint(loaderIdx), fmt.Sprint(cpuIdx), operation, typ).Set(v)
}

func (m *StressMetrics) delete(instance string, loaderIdx, cpuIdx int, operation string) {
	for _, typ := range []string{TypeOps, TypeLatMean, TypeLatP99, TypeErrors} {
		m.gauge.DeleteLabelValues(instance, fmt.Sprint(loaderIdx), fmt.Sprint(cpuIdx), operation, typ)
	}
}
