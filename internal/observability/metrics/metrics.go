package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

const (
	OperationInitiate = "initiate"
	OperationUpdate   = "update"
	OperationDelete   = "delete"
)

const (
	WorkerDeferredBusy        = "busy"
	WorkerDeferredRateLimited = "rate_limited"
	WorkerDeferredExhausted   = "attempts_exhausted"
)

// Config labels every series with the emitting service.
type Config struct {
	ServiceName string
	Environment string
}

// PeeringMetrics captures negotiation and credentials exchange health.
type PeeringMetrics struct {
	negotiations        *prometheus.CounterVec
	negotiationDuration *prometheus.HistogramVec
	credentials         *prometheus.CounterVec
	transitions         *prometheus.CounterVec
	workerRuns          prometheus.Counter
	workerProcessed     prometheus.Counter
	workerDeferred      *prometheus.CounterVec
	inboundAuthFailures prometheus.Counter
}

var (
	peeringMetricsOnce sync.Once
	peeringMetrics     *PeeringMetrics
)

// Peering returns the process-wide peering metrics registered on the default registerer.
func Peering(cfg Config) *PeeringMetrics {
	peeringMetricsOnce.Do(func() {
		peeringMetrics = NewPeeringMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return peeringMetrics
}

// ResetPeeringMetricsForTest resets the singleton for tests.
func ResetPeeringMetricsForTest() {
	peeringMetricsOnce = sync.Once{}
	peeringMetrics = nil
}

// NewPeeringMetrics registers the peering series on registerer.
func NewPeeringMetrics(registerer prometheus.Registerer, cfg Config) *PeeringMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "ocpilink"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &PeeringMetrics{
		negotiations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "ocpilink_negotiations_total",
			Help:        "Version negotiations by outcome and failure kind.",
			ConstLabels: constLabels,
		}, []string{"outcome", "kind"}),
		negotiationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "ocpilink_negotiation_duration_seconds",
			Help:        "Wall time of a full version negotiation against a peer.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		credentials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "ocpilink_credentials_exchanges_total",
			Help:        "Credentials exchanges by operation and outcome.",
			ConstLabels: constLabels,
		}, []string{"operation", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "ocpilink_peer_transitions_total",
			Help:        "Peer lifecycle transitions.",
			ConstLabels: constLabels,
		}, []string{"from", "to"}),
		workerRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "ocpilink_registration_worker_runs_total",
			Help:        "Registration retry worker sweeps.",
			ConstLabels: constLabels,
		}),
		workerProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "ocpilink_registration_worker_processed_total",
			Help:        "Peers retried by the registration worker.",
			ConstLabels: constLabels,
		}),
		workerDeferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "ocpilink_registration_worker_deferred_total",
			Help:        "Peers skipped by the registration worker by reason.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		inboundAuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "ocpilink_inbound_auth_failures_total",
			Help:        "Inbound OCPI requests rejected for an unknown token.",
			ConstLabels: constLabels,
		}),
	}

	registerer.MustRegister(
		m.negotiations,
		m.negotiationDuration,
		m.credentials,
		m.transitions,
		m.workerRuns,
		m.workerProcessed,
		m.workerDeferred,
		m.inboundAuthFailures,
	)
	return m
}

// ObserveNegotiation records one negotiation. kind is empty on success.
func (m *PeeringMetrics) ObserveNegotiation(kind string, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if kind != "" {
		outcome = OutcomeFailure
	} else {
		kind = "none"
	}
	m.negotiations.WithLabelValues(outcome, kind).Inc()
	m.negotiationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *PeeringMetrics) IncCredentialsExchange(operation string, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.credentials.WithLabelValues(operation, outcome).Inc()
}

func (m *PeeringMetrics) IncTransition(from, to string) {
	if m == nil || from == to {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *PeeringMetrics) IncWorkerRun() {
	if m == nil {
		return
	}
	m.workerRuns.Inc()
}

func (m *PeeringMetrics) IncWorkerProcessed() {
	if m == nil {
		return
	}
	m.workerProcessed.Inc()
}

func (m *PeeringMetrics) IncWorkerDeferred(reason string) {
	if m == nil {
		return
	}
	m.workerDeferred.WithLabelValues(reason).Inc()
}

func (m *PeeringMetrics) IncInboundAuthFailure() {
	if m == nil {
		return
	}
	m.inboundAuthFailures.Inc()
}
