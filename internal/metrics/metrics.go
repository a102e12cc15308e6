package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "callpanion"

// Metrics 服务指标；nil *Metrics 的所有方法都是空操作，测试中可直接传 nil
type Metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	rateLimitDenials *prometheus.CounterVec
	originRejections *prometheus.CounterVec

	pairingsIssued   prometheus.Counter
	claimResults     *prometheus.CounterVec
	callTransitions  *prometheus.CounterVec
	alertRulesFired  *prometheus.CounterVec
	dispatchFailures *prometheus.CounterVec
}

// New 在给定 registry 上注册所有指标
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		rateLimitDenials: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_denials_total",
				Help:      "Requests denied by the rate limiter",
			},
			[]string{"endpoint"},
		),
		originRejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "origin_rejections_total",
				Help:      "Requests rejected by the origin allow-list",
			},
			[]string{"endpoint"},
		),
		pairingsIssued: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pairings_issued_total",
				Help:      "Pairing codes issued",
			},
		),
		claimResults: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pairing_claims_total",
				Help:      "Pairing claim attempts by result",
			},
			[]string{"result"},
		),
		callTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "call_transitions_total",
				Help:      "Call session status updates by status and whether they were applied",
			},
			[]string{"status", "applied"},
		),
		alertRulesFired: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alert_rules_fired_total",
				Help:      "Alert rules that fired by rule type",
			},
			[]string{"rule_type"},
		),
		dispatchFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notification_dispatch_failures_total",
				Help:      "Notification sends that failed by source",
			},
			[]string{"source"},
		),
	}
}

func (m *Metrics) ObserveHTTP(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	code := statusLabel(status)
	m.httpRequestsTotal.WithLabelValues(method, path, code).Inc()
	m.httpRequestDuration.WithLabelValues(method, path, code).Observe(d.Seconds())
}

func (m *Metrics) RateLimited(endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitDenials.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) OriginRejected(endpoint string) {
	if m == nil {
		return
	}
	m.originRejections.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) PairingIssued() {
	if m == nil {
		return
	}
	m.pairingsIssued.Inc()
}

func (m *Metrics) ClaimResult(result string) {
	if m == nil {
		return
	}
	m.claimResults.WithLabelValues(result).Inc()
}

func (m *Metrics) CallTransition(status string, applied bool) {
	if m == nil {
		return
	}
	a := "false"
	if applied {
		a = "true"
	}
	m.callTransitions.WithLabelValues(status, a).Inc()
}

func (m *Metrics) AlertRuleFired(ruleType string) {
	if m == nil {
		return
	}
	m.alertRulesFired.WithLabelValues(ruleType).Inc()
}

func (m *Metrics) DispatchFailed(source string) {
	if m == nil {
		return
	}
	m.dispatchFailures.WithLabelValues(source).Inc()
}

func statusLabel(status int) string {
	if status == 0 {
		status = 200
	}
	return strconv.Itoa(status)
}
