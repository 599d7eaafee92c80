package middleware

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/technosupport/ts-ptz/internal/tokens"
)

type TokenValidator interface {
	Validate(tokenString string) (*tokens.Claims, error)
}

type JWTAuth struct {
	tokens TokenValidator
	scope  string
	logger *zap.Logger
}

// NewJWTAuth requires a bearer token carrying scope on every request.
func NewJWTAuth(t TokenValidator, scope string, logger *zap.Logger) *JWTAuth {
	return &JWTAuth{tokens: t, scope: scope, logger: logger}
}

// Middleware verifies the JWT and injects AuthContext
func (m *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := m.tokens.Validate(strings.TrimSpace(parts[1]))
		if err != nil {
			m.logger.Debug("bearer token rejected", zap.String("req_id", RequestID(r.Context())), zap.Error(err))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if m.scope != "" && !claims.HasScope(m.scope) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		ac := &AuthContext{
			Operator: claims.Operator,
			TokenID:  claims.ID,
			Scopes:   claims.Scopes,
		}
		next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), ac)))
	})
}
