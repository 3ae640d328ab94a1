// Package metrics defines Prometheus collectors for the relite server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values for ReliteRequestsTotal outcomes.
const (
	Fail = "fail"
	Ok   = "ok"
)

// Collectors for the connection and session layers.
var (
	LiveInstances = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relite_live_instances",
		Help: "Number of live instances by category (conn, db, stmt).",
	}, []string{"category"})

	ConnsAcceptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relite_conns_accepted_total",
		Help: "Cumulative number of accepted client connections.",
	})
	ConnsAbortedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relite_conns_aborted_total",
		Help: "Cumulative number of client connections torn down by abort.",
	})
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relite_requests_total",
		Help: "Cumulative number of handled requests by type and outcome.",
	}, []string{"type", "outcome"})
	FailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relite_failures_total",
		Help: "Cumulative number of failure responses by error code.",
	}, []string{"code"})

	ReadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relite_read_bytes_total",
		Help: "Cumulative number of protocol bytes read from clients.",
	})
	WriteBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relite_write_bytes_total",
		Help: "Cumulative number of protocol bytes written to clients.",
	})
)
