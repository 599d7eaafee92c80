package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/technosupport/ts-ptz/internal/metrics"
	"github.com/technosupport/ts-ptz/internal/middleware"
	"github.com/technosupport/ts-ptz/internal/ptz"
	"github.com/technosupport/ts-ptz/internal/ptz/adapters"
	"github.com/technosupport/ts-ptz/internal/ratelimit"
)

const maxControlBody = 64 << 10

type Dispatcher interface {
	Dispatch(ctx context.Context, req ptz.Request) (*ptz.Result, error)
}

// CameraLimiter is the part of ratelimit.Limiter used for per-camera limits.
type CameraLimiter interface {
	CheckCamera(ctx context.Context, cameraKey string, cfg ratelimit.LimitConfig) (*ratelimit.Decision, error)
}

type PTZHandler struct {
	Service     Dispatcher
	Limiter     CameraLimiter // nil disables the per-camera limit
	Limit       ratelimit.LimitConfig
	ClientLimit *middleware.ClientRateLimit // nil disables the per-client limit
	Logger      *zap.Logger
}

type errorResponse struct {
	Success  bool                     `json:"success"`
	Error    string                   `json:"error"`
	Kind     string                   `json:"kind,omitempty"`
	Status   int                      `json:"status,omitempty"`
	Attempts []adapters.AttemptResult `json:"attempts,omitempty"`
}

// POST /api/v1/ptz/control
func (h *PTZHandler) Control(w http.ResponseWriter, r *http.Request) {
	var req ptz.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxControlBody)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	// Only presses are limited; a stop must always get through.
	if adapters.IsPressEvent(req.EventType) {
		if !h.ClientLimit.Allow(w, r) {
			respondJSON(w, http.StatusTooManyRequests, errorResponse{Error: "client rate limit exceeded", Kind: "rate_limited"})
			return
		}
		if !h.allowCamera(w, r, req) {
			return
		}
	}

	res, err := h.Service.Dispatch(r.Context(), req)
	if err != nil {
		status, body := errorFor(err)
		if res != nil {
			body.Attempts = res.Attempts
		}
		h.Logger.Info("ptz control rejected",
			zap.String("req_id", middleware.RequestID(r.Context())),
			zap.Int("http_status", status),
			zap.Error(err))
		respondJSON(w, status, body)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *PTZHandler) allowCamera(w http.ResponseWriter, r *http.Request, req ptz.Request) bool {
	if h.Limiter == nil || !h.Limit.Enabled() {
		return true
	}
	decision, err := h.Limiter.CheckCamera(r.Context(), req.LimitKey(), h.Limit)
	if err != nil {
		if errors.Is(err, ratelimit.ErrRedisUnavailable) {
			metrics.RedisErrors.Inc()
		}
		h.Logger.Warn("camera rate limit check failed, allowing", zap.Error(err))
		return true
	}
	if !decision.Allowed {
		metrics.RateLimitDecisions.WithLabelValues(string(ratelimit.ScopeCamera), metrics.ResultBlocked).Inc()
		middleware.WriteRateLimitHeaders(w, decision)
		respondJSON(w, http.StatusTooManyRequests, errorResponse{Error: "camera rate limit exceeded", Kind: "rate_limited"})
		return false
	}
	metrics.RateLimitDecisions.WithLabelValues(string(ratelimit.ScopeCamera), metrics.ResultAllowed).Inc()
	return true
}

// errorFor maps a dispatch error to an HTTP status and body.
func errorFor(err error) (int, errorResponse) {
	body := errorResponse{Error: err.Error()}

	if errors.Is(err, ptz.ErrInvalidRequest) {
		body.Kind = "invalid_request"
		return http.StatusBadRequest, body
	}

	var perr *adapters.Error
	if !errors.As(err, &perr) {
		return http.StatusInternalServerError, body
	}
	body.Kind = string(perr.Kind)
	body.Status = perr.Status
	if perr.Kind == adapters.KindResolution {
		return http.StatusNotFound, body
	}
	return http.StatusBadGateway, body
}
