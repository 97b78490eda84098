// Package metrics defines the Prometheus collectors exported by phishbeads.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Inspection metrics
var (
	CandidatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phishbeads_candidates_total",
			Help: "Total number of candidate strings examined.",
		},
		[]string{"type"}, // type: email_from, email_link, ...
	)

	FilterChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phishbeads_filter_checks_total",
			Help: "Total number of prefilter checks.",
		},
		[]string{"result"}, // result: "miss", "maybe"
	)

	InspectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phishbeads_inspections_total",
			Help: "Total number of inspected emails by verdict.",
		},
		[]string{"verdict"}, // verdict: "suspicious", "clean", "cached"
	)
)

// Incident metrics
var (
	IncidentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phishbeads_incidents_created_total",
			Help: "Total number of resolved tags recorded as incidents.",
		},
		[]string{"source"}, // source: "inspect", "rescan"
	)

	ReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phishbeads_reports_total",
			Help: "Total number of incident report attempts.",
		},
		[]string{"outcome"}, // outcome: "success", "failure"
	)
)

// Feed metrics
var (
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phishbeads_sync_runs_total",
			Help: "Total number of indicator feed synchronisations.",
		},
		[]string{"outcome"}, // outcome: "success", "failure"
	)

	IndicatorsLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "phishbeads_indicators",
			Help: "Number of stored indicators.",
		},
	)
)
