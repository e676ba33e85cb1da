package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveNegotiation(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewPeeringMetrics(registry, Config{ServiceName: "ocpilink", Environment: "test"})

	m.ObserveNegotiation("", 150*time.Millisecond)
	m.ObserveNegotiation("unsupported_version", time.Second)
	m.ObserveNegotiation("unsupported_version", time.Second)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.negotiations.WithLabelValues(OutcomeSuccess, "none")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.negotiations.WithLabelValues(OutcomeFailure, "unsupported_version")))

	families, err := registry.Gather()
	require.NoError(t, err)
	var histogram *dto.Histogram
	for _, family := range families {
		if family.GetName() != "ocpilink_negotiation_duration_seconds" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "outcome" && label.GetValue() == OutcomeFailure {
					histogram = metric.GetHistogram()
				}
			}
		}
	}
	require.NotNil(t, histogram)
	assert.Equal(t, uint64(2), histogram.GetSampleCount())
}

func TestIncCredentialsExchange(t *testing.T) {
	m := NewPeeringMetrics(prometheus.NewRegistry(), Config{})

	m.IncCredentialsExchange(OperationInitiate, nil)
	m.IncCredentialsExchange(OperationUpdate, errors.New("boom"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.credentials.WithLabelValues(OperationInitiate, OutcomeSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.credentials.WithLabelValues(OperationUpdate, OutcomeFailure)))
}

func TestIncTransitionIgnoresNoop(t *testing.T) {
	m := NewPeeringMetrics(prometheus.NewRegistry(), Config{})

	m.IncTransition("PENDING", "PENDING")
	m.IncTransition("PENDING", "REGISTERED")

	assert.Equal(t, 1, testutil.CollectAndCount(m.transitions))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *PeeringMetrics
	m.ObserveNegotiation("x", time.Second)
	m.IncWorkerRun()
	m.IncInboundAuthFailure()
}
