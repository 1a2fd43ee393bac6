package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ArthurBarre/site-forge-clone/internal/token"
)

type authContextKey string

type authInfo struct {
	UserID string
	Email  string
}

const contextKeyAuth authContextKey = "siteforge-auth-info"

type contextSetter interface {
	SetContext(context.Context)
}

// optionalAuth attaches identity when a valid bearer token is present.
// Anonymous requests pass through; ownership checks downstream decide
// what an anonymous caller may touch. A present-but-invalid token is
// still rejected.
func (r *Router) optionalAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		header := strings.TrimSpace(req.Header.Get("Authorization"))
		if header == "" || r.jwtSecret == "" {
			next(w, req)
			return
		}
		raw, err := bearerToken(header)
		if err != nil {
			r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication failed")
			return
		}
		claims, err := token.Parse(raw, r.jwtSecret)
		if err != nil {
			r.logger.Warn("token validation failed", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication failed")
			return
		}
		info := authInfo{UserID: claims.UserID, Email: claims.Email}
		ctx := context.WithValue(req.Context(), contextKeyAuth, info)
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// authInfoFromContext extracts auth metadata from context.
func authInfoFromContext(ctx context.Context) (authInfo, bool) {
	value := ctx.Value(contextKeyAuth)
	if value == nil {
		return authInfo{}, false
	}
	info, ok := value.(authInfo)
	return info, ok
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	tok := strings.TrimSpace(parts[1])
	if tok == "" {
		return "", errors.New("empty bearer token")
	}
	return tok, nil
}
