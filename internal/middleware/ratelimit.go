package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/technosupport/ts-ptz/internal/metrics"
	"github.com/technosupport/ts-ptz/internal/ratelimit"
)

// ClientLimiter is the part of ratelimit.Limiter the client check needs.
type ClientLimiter interface {
	CheckClient(ctx context.Context, ip string, cfg ratelimit.LimitConfig) (*ratelimit.Decision, error)
}

// ClientRateLimit limits motion requests per client IP. It runs inside the
// control handler once the event type is known, so releases are never limited.
type ClientRateLimit struct {
	limiter ClientLimiter
	cfg     ratelimit.LimitConfig
	logger  *zap.Logger
}

func NewClientRateLimit(l ClientLimiter, cfg ratelimit.LimitConfig, logger *zap.Logger) *ClientRateLimit {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClientRateLimit{limiter: l, cfg: cfg, logger: logger}
}

// Allow checks the caller's window and sets the rate limit headers. On false
// the caller writes the 429. Redis failures fail open.
func (m *ClientRateLimit) Allow(w http.ResponseWriter, r *http.Request) bool {
	if m == nil || !m.cfg.Enabled() {
		return true
	}

	decision, err := m.limiter.CheckClient(r.Context(), ClientIP(r), m.cfg)
	if err != nil {
		if errors.Is(err, ratelimit.ErrRedisUnavailable) {
			metrics.RedisErrors.Inc()
		}
		m.logger.Warn("rate limit check failed, allowing", zap.String("req_id", RequestID(r.Context())), zap.Error(err))
		return true
	}

	WriteRateLimitHeaders(w, decision)
	if !decision.Allowed {
		metrics.RateLimitDecisions.WithLabelValues(string(ratelimit.ScopeClient), metrics.ResultBlocked).Inc()
		return false
	}
	metrics.RateLimitDecisions.WithLabelValues(string(ratelimit.ScopeClient), metrics.ResultAllowed).Inc()
	return true
}

// ClientIP prefers the first X-Forwarded-For entry over RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func WriteRateLimitHeaders(w http.ResponseWriter, d *ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
	if !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
	}
}
