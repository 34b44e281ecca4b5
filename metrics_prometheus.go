package authcore

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"
)

var metricNames = map[MetricID]string{
	MetricLoginSuccess:           "login_success",
	MetricLoginFailure:           "login_failure",
	MetricLoginThrottled:         "login_throttled",
	MetricAccountLocked:          "account_locked",
	MetricRegisterSuccess:        "register_success",
	MetricRegisterDuplicate:      "register_duplicate",
	MetricRefreshSuccess:         "refresh_success",
	MetricRefreshFailure:         "refresh_failure",
	MetricRefreshReuseDetected:   "refresh_reuse_detected",
	MetricMFAChallengeIssued:     "mfa_challenge_issued",
	MetricMFASuccess:             "mfa_success",
	MetricMFAFailure:             "mfa_failure",
	MetricMFAReplayAttempt:       "mfa_replay_attempt",
	MetricBackupCodeUsed:         "backup_code_used",
	MetricBackupCodesRegenerated: "backup_codes_regenerated",
	MetricAccessAllowed:          "access_allowed",
	MetricAccessDenied:           "access_denied",
	MetricTokenRejected:          "token_rejected",
	MetricSessionCreated:         "session_created",
	MetricSessionRevoked:         "session_revoked",
	MetricLogout:                 "logout",
	MetricPasswordChanged:        "password_changed",
	MetricAuditWriteRetry:        "audit_write_retry",
	MetricAuditWriteFailure:      "audit_write_failure",
}

// verifyLatencyBounds mirrors the upper edges of the internal histogram
// buckets, in seconds. The last bucket is open-ended.
var verifyLatencyBounds = []float64{0.005, 0.010, 0.025, 0.050, 0.100, 0.250, 0.500}

// PrometheusCollector exposes the engine's internal counters to a
// prometheus.Registry without adding any synchronization to the hot path.
type PrometheusCollector struct {
	metrics     *Metrics
	eventsDesc  *prometheus.Desc
	latencyDesc *prometheus.Desc
}

// NewPrometheusCollector wraps m for registration via prometheus.MustRegister.
func NewPrometheusCollector(m *Metrics) *PrometheusCollector {
	return &PrometheusCollector{
		metrics: m,
		eventsDesc: prometheus.NewDesc(
			"authcore_events_total",
			"Total engine events by kind.",
			[]string{"event"}, nil,
		),
		latencyDesc: prometheus.NewDesc(
			"authcore_verify_duration_seconds",
			"Access verification latencies in seconds.",
			nil, nil,
		),
	}
}

func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.eventsDesc
	ch <- c.latencyDesc
}

func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.metrics.Snapshot()
	for id, name := range metricNames {
		ch <- prometheus.MustNewConstMetric(
			c.eventsDesc, prometheus.CounterValue, float64(snap.Counters[id]), name,
		)
	}

	raw, ok := snap.Histograms[MetricVerifyLatency]
	if !ok {
		return
	}
	buckets := make(map[float64]uint64, len(verifyLatencyBounds))
	var count uint64
	for i, bound := range verifyLatencyBounds {
		count += raw[i]
		buckets[bound] = count
	}
	count += raw[len(raw)-1]
	buckets[math.Inf(1)] = count
	// The internal histogram does not track a sum; approximate with the
	// bucket upper bounds so rate() queries still work.
	var sum float64
	for i, bound := range verifyLatencyBounds {
		sum += bound * float64(raw[i])
	}
	sum += 1.0 * float64(raw[len(raw)-1])
	ch <- prometheus.MustNewConstHistogram(c.latencyDesc, count, sum, buckets)
}
