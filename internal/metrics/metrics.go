// Package metrics exposes Prometheus counters for the ingestion pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsAccepted counts events that passed gating and were recorded.
	EventsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skopos_events_accepted_total",
		Help: "Events accepted by the pipeline, by event type.",
	}, []string{"type"})

	// EventsRejected counts events dropped before processing.
	EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skopos_events_rejected_total",
		Help: "Events rejected by the pipeline, by reason (bot, blacklist, archived, invalid).",
	}, []string{"reason"})

	// BatchesFlushed counts event batch flushes.
	BatchesFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skopos_batches_flushed_total",
		Help: "Event batch flushes performed.",
	})

	// SendFailures counts store delivery failures for queued events.
	SendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skopos_send_failures_total",
		Help: "Events dropped because delivery to the record store failed.",
	})

	// SessionsCreated counts new sessions.
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skopos_sessions_created_total",
		Help: "Sessions created.",
	})

	// VisitorsCreated counts new visitor records.
	VisitorsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skopos_visitors_created_total",
		Help: "Visitor records created.",
	})

	// ErrorsDeduplicated counts JavaScript error reports merged into an
	// existing in-memory entry instead of producing a new one.
	ErrorsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skopos_js_errors_deduplicated_total",
		Help: "JavaScript error reports merged into an existing entry.",
	})
)
