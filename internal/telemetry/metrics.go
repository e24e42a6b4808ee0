// Package telemetry holds the Prometheus collectors exported on /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration by route template.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gogrow_auth_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method", "status"},
	)

	// OTPRequests counts issued challenges.
	OTPRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gogrow_auth_otp_requests_total",
			Help: "Number of OTP challenges issued",
		},
	)

	// OTPVerifications counts verification outcomes (success, invalid, expired, exhausted, not_found, ...).
	OTPVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gogrow_auth_otp_verifications_total",
			Help: "Number of OTP verification attempts by outcome",
		},
		[]string{"outcome"},
	)

	// SessionAuthentications counts gate decisions by outcome.
	SessionAuthentications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gogrow_auth_session_authentications_total",
			Help: "Number of bearer token authentications by outcome",
		},
		[]string{"outcome"},
	)

	// SessionsRevoked counts revocations by reason (logout, user_deleted, inactivity, account_deleted).
	SessionsRevoked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gogrow_auth_sessions_revoked_total",
			Help: "Number of sessions revoked by reason",
		},
		[]string{"reason"},
	)

	// ActiveRequests tracks in-flight requests.
	ActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gogrow_auth_active_requests",
			Help: "Number of in-flight HTTP requests",
		},
	)
)
