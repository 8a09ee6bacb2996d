package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/pkg/jwt"
)

type authContextKey string

const contextKeyClaims authContextKey = "orchestrator-claims"

type clientSetter interface {
	SetClient(string)
}

// requireAuth ensures the request carries a valid bearer token before
// invoking the handler. With no API secret configured every request passes.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.secret == "" {
			next(w, req)
			return
		}
		token, err := bearerToken(req.Header.Get("Authorization"))
		if err != nil {
			r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		claims, err := jwt.Parse(token, r.secret)
		if err != nil {
			r.logger.Warn("token validation failed", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication failed")
			return
		}
		if setter, ok := w.(clientSetter); ok {
			setter.SetClient(claims.Client)
		}
		next(w, req.WithContext(context.WithValue(req.Context(), contextKeyClaims, claims)))
	}
}

// claimsFromContext returns the verified token claims, or nil when auth is
// disabled.
func claimsFromContext(ctx context.Context) *jwt.Claims {
	claims, _ := ctx.Value(contextKeyClaims).(*jwt.Claims)
	return claims
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}
