package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CampaignsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "campaign_engine_campaigns_started_total",
		Help: "Total number of dispatch loops started",
	})
	DeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "campaign_engine_deliveries_total",
		Help: "Total delivery attempts by classified outcome",
	}, []string{"outcome"})
	ActiveLoops = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "campaign_engine_active_dispatch_loops",
		Help: "Number of dispatch loops currently running",
	})
	RecoveryErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "campaign_engine_recovery_errors_total",
		Help: "Total number of recovery evaluations downgraded to error",
	})
	MailVerifyFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "campaign_engine_mail_verify_failure_total",
		Help: "Total number of failed transport verifications",
	}, []string{"host"})
)

func init() {
	prometheus.MustRegister(CampaignsStarted)
	prometheus.MustRegister(DeliveriesTotal)
	prometheus.MustRegister(ActiveLoops)
	prometheus.MustRegister(RecoveryErrors)
	prometheus.MustRegister(MailVerifyFailure)
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
