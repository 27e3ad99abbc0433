package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	reloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ferryman_reloads_total",
		Help: "Webserver reload attempts by trigger and result",
	}, []string{"trigger", "result"})
	issuancesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ferryman_certificate_issuances_total",
		Help: "Certificate issuance attempts by result",
	}, []string{"result"})
	renewalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ferryman_certificate_renewals_total",
		Help: "Certificate renewal attempts by result",
	}, []string{"result"})
	sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ferryman_renewal_sweep_duration_seconds",
		Help:    "Duration of renewal sweeps",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 1800},
	})
	sweepCandidates = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ferryman_renewal_candidates",
		Help: "Certificates selected for renewal by the most recent sweep",
	})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry prometheus.Registerer) {
	registry.MustRegister(reloadsTotal, issuancesTotal, renewalsTotal, sweepDuration, sweepCandidates)
}

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

// ObserveReload counts a reload attempt.
func ObserveReload(trigger string, err error) { reloadsTotal.WithLabelValues(trigger, result(err)).Inc() }

// ObserveIssuance counts an issuance attempt.
func ObserveIssuance(err error) { issuancesTotal.WithLabelValues(result(err)).Inc() }

// ObserveRenewal counts a renewal attempt.
func ObserveRenewal(err error) { renewalsTotal.WithLabelValues(result(err)).Inc() }

// ObserveSweep records a finished sweep.
func ObserveSweep(candidates int, d time.Duration) {
	sweepCandidates.Set(float64(candidates))
	sweepDuration.Observe(d.Seconds())
}
