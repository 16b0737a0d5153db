package apiclient

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeOK              = "ok"
	outcomeClientError     = "client_error"
	outcomeServerError     = "server_error"
	outcomeNetwork         = "network_error"
	outcomeUnauthorized    = "unauthorized"
	outcomeAuthExpired     = "auth_expired"
	outcomeUnauthenticated = "unauthenticated"

	resultSuccess = "success"
	resultFailure = "failure"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tether_api_requests_total",
		Help: "Pipeline requests by final outcome",
	}, []string{"outcome"})

	refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tether_api_refresh_total",
		Help: "Network refresh calls by result",
	}, []string{"result"})

	refreshJoinedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tether_api_refresh_joined_total",
		Help: "Callers that waited on a refresh started by another caller",
	})

	sessionExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tether_api_session_expired_total",
		Help: "Sessions ended by an unrecoverable authentication failure",
	})
)

func outcomeFor(status int) string {
	switch {
	case status == 401:
		return outcomeUnauthorized
	case status >= 500:
		return outcomeServerError
	case status >= 400:
		return outcomeClientError
	default:
		return outcomeOK
	}
}
