// Package metrics registers the Prometheus instrumentation for the gateway.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const metricPrefix = "alarmgate_"

// Escalation outcomes reported on EscalationsTotal.
const (
	OutcomeSent       = "sent"
	OutcomeSuppressed = "suppressed"
	OutcomeFailed     = "failed"
)

var (
	// ConnectionsTotal counts accepted recorder connections.
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: metricPrefix + "connections_total",
		Help: "Accepted recorder connections",
	})

	// MessagesTotal counts decoded device messages by kind.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricPrefix + "messages_total",
		Help: "Decoded device messages by kind",
	}, []string{"kind"})

	// DecodeErrorsTotal counts payloads rejected by the decoder.
	DecodeErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: metricPrefix + "decode_errors_total",
		Help: "Payloads the decoder could not parse",
	})

	// AlarmRecordsTotal counts decoded alarm records.
	AlarmRecordsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: metricPrefix + "alarm_records_total",
		Help: "Decoded alarm records",
	})

	// EscalationsTotal counts escalation decisions by outcome.
	EscalationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricPrefix + "escalations_total",
		Help: "Escalation decisions by outcome",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		MessagesTotal,
		DecodeErrorsTotal,
		AlarmRecordsTotal,
		EscalationsTotal,
	)
}
