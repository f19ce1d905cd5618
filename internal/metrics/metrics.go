package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RegisteredClients = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushrelay_registered_clients_total",
			Help: "Client registrations and re-registrations by provider type",
		},
		[]string{"type"},
	)

	ClientsRemoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushrelay_clients_removed_total",
			Help: "Client registrations removed, by cause",
		},
		[]string{"cause"}, // api|bad_token
	)

	ReceivedNotifications = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pushrelay_received_notifications_total",
			Help: "Echo triggers accepted for dispatch",
		},
	)

	DispatchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushrelay_dispatch_attempts_total",
			Help: "Provider calls by provider type and outcome",
		},
		[]string{"type", "outcome"}, // delivered|transient|permanent
	)

	DispatchJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushrelay_dispatch_jobs_total",
			Help: "Finished dispatch jobs by terminal state and reason",
		},
		[]string{"state", "reason"},
	)

	TenantSuspensions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pushrelay_tenant_suspensions_total",
			Help: "Tenants suspended after their provider credentials were rejected",
		},
	)

	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushrelay_rate_limited_total",
			Help: "Requests rejected by the admission controller",
		},
		[]string{"dimension"}, // ip|tenant
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		RegisteredClients,
		ClientsRemoved,
		ReceivedNotifications,
		DispatchAttempts,
		DispatchJobs,
		TenantSuspensions,
		RateLimited,
	)
}
