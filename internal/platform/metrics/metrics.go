package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the issuer.
type Metrics struct {
	ProceduresCreated *prometheus.CounterVec
	CredentialsIssued *prometheus.CounterVec
	PolicyDenials     *prometheus.CounterVec
	SignerRetries     prometheus.Counter
	SignerFailures    *prometheus.CounterVec
	EmailsSent        *prometheus.CounterVec
	EmailFailures     prometheus.Counter
	OffersRedeemed    prometheus.Counter
	EndpointLatency   *prometheus.HistogramVec
	SigningLatency    *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ProceduresCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vcissuer_procedures_created_total",
			Help: "Total number of credential procedures created, labeled by credential type",
		}, []string{"credential_type"}),
		CredentialsIssued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vcissuer_credentials_issued_total",
			Help: "Total number of credentials signed and delivered, labeled by type and format",
		}, []string{"credential_type", "format"}),
		PolicyDenials: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vcissuer_policy_denials_total",
			Help: "Total number of issuance requests denied by the policy engine, labeled by reason",
		}, []string{"reason"}),
		SignerRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vcissuer_signer_retries_total",
			Help: "Total number of retried calls against the remote signer",
		}),
		SignerFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vcissuer_signer_failures_total",
			Help: "Total number of remote signer failures, labeled by recoverability",
		}, []string{"recoverable"}),
		EmailsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vcissuer_emails_sent_total",
			Help: "Total number of notification emails sent, labeled by kind",
		}, []string{"kind"}),
		EmailFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vcissuer_email_failures_total",
			Help: "Total number of notification emails that failed to send",
		}),
		OffersRedeemed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vcissuer_offers_redeemed_total",
			Help: "Total number of credential offers redeemed",
		}),
		EndpointLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vcissuer_endpoint_latency_seconds",
			Help:    "Latency of endpoints in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		SigningLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vcissuer_signing_latency_seconds",
			Help:    "Latency of the signing pipeline in seconds, labeled by format",
			Buckets: prometheus.DefBuckets,
		}, []string{"format"}),
	}
}

// IncrementProceduresCreated increments the procedures created metric.
func (m *Metrics) IncrementProceduresCreated(credentialType string) {
	m.ProceduresCreated.WithLabelValues(credentialType).Inc()
}

// IncrementCredentialsIssued increments the credentials issued metric.
func (m *Metrics) IncrementCredentialsIssued(credentialType, format string) {
	m.CredentialsIssued.WithLabelValues(credentialType, format).Inc()
}

// IncrementPolicyDenials increments the policy denial metric.
func (m *Metrics) IncrementPolicyDenials(reason string) {
	m.PolicyDenials.WithLabelValues(reason).Inc()
}
