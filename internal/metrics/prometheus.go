/*-------------------------------------------------------------------------
 *
 * prometheus.go
 *    Prometheus metrics for approvald
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/internal/metrics/prometheus.go
 *
 *-------------------------------------------------------------------------
 */

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	/* Request metrics */
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approvald_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "approvald_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	/* Approval metrics */
	approvalsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approvald_approvals_created_total",
			Help: "Total number of approval requests created",
		},
		[]string{"approval_type", "initial_status"},
	)

	approvalsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approvald_approvals_resolved_total",
			Help: "Total number of approval requests resolved",
		},
		[]string{"status", "method"},
	)

	ruleEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approvald_rule_evaluations_total",
			Help: "Total number of rule evaluations",
		},
		[]string{"approval_type", "decision"},
	)

	/* Webhook delivery metrics */
	webhookAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approvald_webhook_attempts_total",
			Help: "Total number of webhook delivery attempts",
		},
		[]string{"event_type", "outcome"},
	)

	webhookDeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "approvald_webhook_delivery_duration_seconds",
			Help:    "Webhook POST duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"event_type"},
	)

	deadLetteredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "approvald_webhook_dead_lettered_total",
			Help: "Total number of webhook deliveries moved to the dead letter state",
		},
	)

	/* Rate limiter metrics */
	rateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approvald_rate_limit_rejections_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"endpoint"},
	)

	rateLimitFailOpenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "approvald_rate_limit_fail_open_total",
			Help: "Total number of checks allowed because the rate limit store was unreachable",
		},
	)

	/* Sweeper metrics */
	sweepTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approvald_sweep_transitions_total",
			Help: "Total number of state transitions driven by periodic sweeps",
		},
		[]string{"transition"},
	)
)

/* RecordHTTPRequest records HTTP request metrics */
func RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, endpoint, httpStatusLabel(statusCode)).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

func httpStatusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

/* RecordApprovalCreated records an approval request creation */
func RecordApprovalCreated(approvalType, initialStatus string) {
	approvalsCreatedTotal.WithLabelValues(approvalType, initialStatus).Inc()
}

/* RecordApprovalResolved records an approval resolution */
func RecordApprovalResolved(status, method string) {
	approvalsResolvedTotal.WithLabelValues(status, method).Inc()
}

/* RecordRuleEvaluation records a rule engine evaluation */
func RecordRuleEvaluation(approvalType, decision string) {
	ruleEvaluationsTotal.WithLabelValues(approvalType, decision).Inc()
}

/* RecordWebhookAttempt records a webhook delivery attempt */
func RecordWebhookAttempt(eventType, outcome string, duration time.Duration) {
	webhookAttemptsTotal.WithLabelValues(eventType, outcome).Inc()
	webhookDeliveryDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

/* RecordDeadLettered records a delivery moving to the dead letter state */
func RecordDeadLettered() {
	deadLetteredTotal.Inc()
}

/* RecordRateLimitRejection records a rate limiter rejection */
func RecordRateLimitRejection(endpoint string) {
	rateLimitRejectionsTotal.WithLabelValues(endpoint).Inc()
}

/* RecordRateLimitFailOpen records a fail-open allowance */
func RecordRateLimitFailOpen() {
	rateLimitFailOpenTotal.Inc()
}

/* RecordSweepTransition records a sweep-driven transition */
func RecordSweepTransition(transition string) {
	sweepTransitionsTotal.WithLabelValues(transition).Inc()
}

/* Handler returns the Prometheus metrics HTTP handler */
func Handler() http.Handler {
	return promhttp.Handler()
}
