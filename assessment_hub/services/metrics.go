package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	issuesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assessment_hub_issues_created_total",
		Help: "Number of issues created.",
	})

	issueDraftRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assessment_hub_issue_draft_requests_total",
		Help: "Number of AI issue draft requests, by outcome.",
	}, []string{"outcome"})

	vpatRowUpserts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assessment_hub_vpat_row_upserts_total",
		Help: "Number of vpat draft row upserts, manual and generated.",
	})

	vpatPublishes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assessment_hub_vpat_publishes_total",
		Help: "Number of vpat versions published.",
	})

	vpatExports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assessment_hub_vpat_exports_total",
		Help: "Number of vpat export downloads, by format.",
	}, []string{"format"})

	shareReads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assessment_hub_share_reads_total",
		Help: "Number of successful public share reads.",
	})
)
