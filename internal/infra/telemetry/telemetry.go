package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arklim/dispense-auth/internal/core/domain"
	"github.com/arklim/dispense-auth/internal/core/port"
)

// AuthMetricsOptions configures the authentication collectors.
type AuthMetricsOptions struct {
	Registerer prometheus.Registerer
	Namespace  string
	Buckets    []float64
}

// AuthMetrics implements port.AuthMetrics with Prometheus collectors.
type AuthMetrics struct {
	Outcomes         *prometheus.CounterVec
	Fallbacks        *prometheus.CounterVec
	PolicyCache      *prometheus.CounterVec
	DirectoryLatency *prometheus.HistogramVec
}

// NewAuthMetrics constructs and registers the collectors. Collectors already registered under the same
// name are reused so the constructor may be called more than once per process.
func NewAuthMetrics(opts AuthMetricsOptions) (*AuthMetrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "dispense_auth"
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	buckets := opts.Buckets
	if len(buckets) == 0 {
		buckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	}

	outcomes, err := registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "authentication_outcomes_total",
		Help:      "Authentication results partitioned by backend and outcome.",
	}, []string{"backend", "outcome"})
	if err != nil {
		return nil, err
	}

	fallbacks, err := registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "directory_fallbacks_total",
		Help:      "Directory failures answered from the cached local credential, by directory outcome.",
	}, []string{"outcome"})
	if err != nil {
		return nil, err
	}

	policyCache, err := registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "policy_cache_lookups_total",
		Help:      "Directory password policy cache lookups by result.",
	}, []string{"result"})
	if err != nil {
		return nil, err
	}

	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "directory_request_duration_seconds",
		Help:      "Latency of directory and identity server calls.",
		Buckets:   buckets,
	}, []string{"backend"})
	if err := reg.Register(latency); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, fmt.Errorf("register directory latency collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return nil, fmt.Errorf("existing latency collector has unexpected type %T", already.ExistingCollector)
		}
		latency = existing
	}

	return &AuthMetrics{
		Outcomes:         outcomes,
		Fallbacks:        fallbacks,
		PolicyCache:      policyCache,
		DirectoryLatency: latency,
	}, nil
}

func registerCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels []string) (*prometheus.CounterVec, error) {
	vec := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, fmt.Errorf("register %s collector: %w", opts.Name, err)
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, fmt.Errorf("existing %s collector has unexpected type %T", opts.Name, already.ExistingCollector)
		}
		return existing, nil
	}
	return vec, nil
}

func (m *AuthMetrics) ObserveOutcome(backend domain.BackendKind, outcome domain.Outcome) {
	m.Outcomes.WithLabelValues(string(backend), string(outcome)).Inc()
}

func (m *AuthMetrics) IncFallback(outcome domain.Outcome) {
	m.Fallbacks.WithLabelValues(string(outcome)).Inc()
}

func (m *AuthMetrics) IncPolicyCacheHit() {
	m.PolicyCache.WithLabelValues("hit").Inc()
}

func (m *AuthMetrics) IncPolicyCacheMiss() {
	m.PolicyCache.WithLabelValues("miss").Inc()
}

func (m *AuthMetrics) ObserveDirectoryLatency(backend domain.BackendKind, duration time.Duration) {
	m.DirectoryLatency.WithLabelValues(string(backend)).Observe(duration.Seconds())
}

var _ port.AuthMetrics = (*AuthMetrics)(nil)
