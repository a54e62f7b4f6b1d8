package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	jwtpkg "github.com/splax/deploywatch/pkg/jwt"
)

type authContextKey string

type authInfo struct {
	Subject string
	Scope   string
}

// ScopeReadOnly tokens may observe hooks but not change them.
const ScopeReadOnly = "read"

const contextKeyAuth authContextKey = "deploywatch-auth-info"

type contextSetter interface {
	SetContext(context.Context)
}

// requireAuth ensures the request has a valid bearer token before invoking the handler.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, _, ok := r.ensureAuth(w, req)
		if !ok {
			return
		}
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// ensureAuth validates the Authorization header and enriches the context.
// Streaming routes may pass the token as access_token since browsers cannot
// set headers on websocket upgrades.
func (r *Router) ensureAuth(w http.ResponseWriter, req *http.Request) (context.Context, authInfo, bool) {
	token, err := bearerToken(req.Header.Get("Authorization"))
	if err != nil {
		if q := strings.TrimSpace(req.URL.Query().Get("access_token")); q != "" && isStreamPath(req.URL.Path) {
			token, err = q, nil
		}
	}
	if err != nil {
		r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "authentication required")
		return req.Context(), authInfo{}, false
	}
	claims, err := jwtpkg.Parse(token, r.jwtSecret)
	if err != nil {
		r.logger.Warn("token validation failed", "error", err, "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "authentication failed")
		return req.Context(), authInfo{}, false
	}
	info := authInfo{Subject: claims.Subject, Scope: claims.Scope}
	ctx := context.WithValue(req.Context(), contextKeyAuth, info)
	return ctx, info, true
}

// requireWrite rejects read-only tokens on mutating requests.
func (r *Router) requireWrite(w http.ResponseWriter, req *http.Request) bool {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return false
	}
	if info.Scope == ScopeReadOnly {
		writeError(w, http.StatusForbidden, "token is read-only")
		return false
	}
	return true
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
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}

func isStreamPath(path string) bool {
	return path == "/ws/hooks" || path == "/events/hooks"
}
