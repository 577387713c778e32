package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LoginRequestsTotal counts the login requests served, by outcome.
	//
	// Example usage:
	// metrics.LoginRequestsTotal.WithLabelValues("header", "OK", "302").Inc()
	LoginRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jwtlogin_requests_total",
			Help: "Number of login requests served by the jwtlogin service.",
		},
		[]string{"origin", "result", "status"},
	)

	// RequestHandlerDuration is a histogram that tracks the latency of each
	// request handler.
	RequestHandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "jwtlogin_request_handler_duration_seconds",
			Help: "A histogram of latencies for each request handler.",
		},
		[]string{"path", "code"},
	)

	// TokenVerificationDuration is a histogram that tracks the latency of
	// token verification, including the certificate read in certificate mode.
	TokenVerificationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jwtlogin_token_verification_duration_seconds",
			Help:    "A histogram of token verification latency.",
			Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		},
		[]string{"mode", "result"},
	)

	// CertificateCacheTotal counts certificate cache lookups.
	//
	// Example usage:
	// metrics.CertificateCacheTotal.WithLabelValues("hit").Inc()
	CertificateCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jwtlogin_certificate_cache_total",
			Help: "Number of signing certificate cache lookups.",
		},
		[]string{"result"},
	)

	// SessionStoreRequestDuration is a histogram that tracks the latency of
	// requests from jwtlogin to the session store.
	SessionStoreRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "jwtlogin_session_store_request_duration_seconds",
			Help: "A histogram of request latency to the session store.",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1,
				2.5, 5},
		},
		[]string{"type", "status"},
	)

	// SystemAccountsTotal counts local system account lookups and creations.
	SystemAccountsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jwtlogin_system_accounts_total",
			Help: "Number of local system account operations.",
		},
		[]string{"type", "status"},
	)

	// SecretLoadsTotal counts attempts to load the shared secret at startup.
	SecretLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jwtlogin_secret_loads_total",
			Help: "Number of attempts to load the shared signing secret.",
		},
		[]string{"source", "status"},
	)
)
