package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gogrow/backend/internal/principal"
	sessionservice "gogrow/backend/internal/session/service"
)

// Authenticator resolves an Authorization header into a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, authorization string) (principal.Principal, error)
}

// PublicPaths lists routes served without a session.
type PublicPaths struct {
	Exact    map[string]bool
	Prefixes []string
}

// DefaultPublicPaths returns the OTP bootstrap, logout, docs, health and metrics routes.
func DefaultPublicPaths() PublicPaths {
	return PublicPaths{
		Exact: map[string]bool{
			"/auth/request-otp": true,
			"/auth/verify-otp":  true,
			"/auth/logout":      true,
			"/health":           true,
			"/metrics":          true,
			"/swagger.json":     true,
		},
		Prefixes: []string{"/swagger/"},
	}
}

// IsPublic reports whether path skips authentication.
func (p PublicPaths) IsPublic(path string) bool {
	if p.Exact[path] {
		return true
	}
	for _, prefix := range p.Prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// SessionAuth authenticates every non-public request and stores the principal on the request context.
// Rejected requests get 401 {"error": message}; store failures get 500.
func SessionAuth(gate Authenticator, public PublicPaths, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		if public.IsPublic(c.Request.URL.Path) {
			c.Next()
			return
		}

		p, err := gate.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			status, message := http.StatusUnauthorized, err.Error()
			var rej *sessionservice.Rejection
			if !errors.As(err, &rej) {
				status, message = http.StatusInternalServerError, "internal server error"
				logger.Error("session gate failed",
					zap.String("request_id", RequestIDFromContext(c.Request.Context())),
					zap.Error(err),
				)
			}
			if !c.Writer.Written() {
				c.AbortWithStatusJSON(status, gin.H{"error": message})
				return
			}
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(principal.WithPrincipal(c.Request.Context(), p))
		c.Next()
	}
}
