package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for issuance and verification outcomes.
type Metrics struct {
	CodesIssued      prometheus.Counter
	DeliveryFailures prometheus.Counter
	Verifications    *prometheus.CounterVec
}

// New registers the OTP service collectors with the default registerer.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "otp"
	}

	return &Metrics{
		CodesIssued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "codes_issued_total",
			Help:      "Total number of one-time codes issued.",
		}),
		DeliveryFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Total number of notifications that failed after a successful persist.",
		}),
		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Total number of verification attempts partitioned by outcome.",
		}, []string{"outcome"}),
	}
}
