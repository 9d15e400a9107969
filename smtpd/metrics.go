package smtpd

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "heralding_smtp_connections_total",
			Help: "Incoming SMTP connections.",
		},
	)
	metricCommands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heralding_smtp_commands_total",
			Help: "SMTP commands received outside of AUTH rounds, unknown verbs are counted as other.",
		},
		[]string{
			"cmd",
		},
	)
	metricAuth = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heralding_smtp_auth_total",
			Help: "Finished AUTH exchanges. Result values: rejected, malformed, cancelled.",
		},
		[]string{
			"mechanism", // "LOGIN" or "PLAIN"
			"result",
		},
	)
	metricDenied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "heralding_smtp_denied_total",
			Help: "Connections closed for using a command that requires authentication.",
		},
	)
)
