package auth

import (
	"net/http"
	"strings"
)

const bearerPrefix = "bearer "

// Skipper reports whether a request may bypass authentication entirely,
// e.g. health and metrics endpoints.
type Skipper func(r *http.Request) bool

// Middleware validates bearer tokens and stashes the parsed claims on the
// request context for handlers to read back via FromContext.
type Middleware struct {
	Config  Config
	Skipper Skipper
}

// NewMiddleware builds a Middleware; skipper may be nil.
func NewMiddleware(cfg Config, skipper Skipper) Middleware {
	return Middleware{Config: cfg, Skipper: skipper}
}

// Wrap returns next guarded by token validation.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skipper != nil && m.Skipper(r) {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.parseRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// parseRequest extracts the bearer token from the Authorization header.
// The scheme comparison is case-insensitive per RFC 7235.
func (m Middleware) parseRequest(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, ErrMissingToken
	}
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return nil, ErrInvalidToken
	}
	return Parse(strings.TrimSpace(header[len(bearerPrefix):]), m.Config)
}
