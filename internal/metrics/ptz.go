package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ptz_dispatch_total",
		Help: "Control requests by final path and result",
	}, []string{"path", "result"})

	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ptz_dispatch_duration_seconds",
		Help:    "Time from normalized command to protocol acceptance",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"path"})

	ProtocolAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ptz_protocol_attempts_total",
		Help: "Protocol branches tried, by protocol and outcome",
	}, []string{"protocol", "result"})

	VMSCandidatesTried = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ptz_vms_candidates_tried",
		Help:    "HTTP requests needed before a VMS accepted a command",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 216},
	})

	ONVIFAuthScheme = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ptz_onvif_auth_scheme_total",
		Help: "ONVIF requests accepted, by authentication scheme",
	}, []string{"scheme"})

	HanwhaBurstRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ptz_hanwha_burst_requests_total",
		Help: "Hanwha CGI requests issued in bursts",
	}, []string{"result"})

	AutoStopFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ptz_autostop_fired_total",
		Help: "Auto-stop commands fired, by result",
	}, []string{"result"})

	AutoStopPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ptz_autostop_pending",
		Help: "Auto-stop timers currently armed",
	})

	RateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ptz_ratelimit_decisions_total",
		Help: "Rate limit checks by scope and result",
	}, []string{"scope", "result"})

	RedisErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ptz_ratelimit_redis_errors_total",
		Help: "Rate limit checks that failed open because Redis was unavailable",
	})

	EventPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ptz_event_publish_failures_total",
		Help: "Command events that could not be published",
	})

	ConfigReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ptz_config_reloads_total",
		Help: "Config hot reloads by result",
	}, []string{"result"})
)

// Result labels.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultAllowed = "allowed"
	ResultBlocked = "blocked"
)

// ResultLabel maps an error to a result label.
func ResultLabel(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
