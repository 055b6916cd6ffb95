// internal/metrics/metrics.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	UpdatesProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_updates_processed_total",
		Help: "Total number of inbound Telegram updates processed",
	})

	GreetingsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_greetings_sent_total",
		Help: "Total number of first-contact greetings sent",
	})

	StepsConfirmed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_steps_confirmed_total",
		Help: "Total number of verification steps confirmed, by step",
	}, []string{"step"})

	PayoutTagsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_payout_tags_accepted_total",
		Help: "Total number of accepted payout request tags",
	})

	RequisiteFieldsExtracted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_requisite_fields_extracted_total",
		Help: "Total number of requisite fields extracted from messages, by field",
	}, []string{"field"})

	ExternalCallErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_external_call_errors_total",
		Help: "Total number of failed calls to external collaborators",
	}, []string{"collaborator"})
)

// Register registers all collectors. Call once at startup.
func Register() {
	prometheus.MustRegister(
		UpdatesProcessed,
		GreetingsSent,
		StepsConfirmed,
		PayoutTagsAccepted,
		RequisiteFieldsExtracted,
		ExternalCallErrors,
	)
}

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
