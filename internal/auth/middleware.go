package auth

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// streamTokenParam carries the token for EventSource clients, which cannot
// set headers.
const streamTokenParam = "access_token"

// Middleware validates bearer JWTs and enforces the role policy.
type Middleware struct {
	Secret []byte
	Policy Policy
	logger *zap.Logger
}

// MiddlewareOption configures the middleware.
type MiddlewareOption func(*Middleware)

// WithMiddlewareLogger logs rejected requests.
func WithMiddlewareLogger(logger *zap.Logger) MiddlewareOption {
	return func(m *Middleware) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(secret []byte, policy Policy, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{Secret: secret, Policy: policy, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Wrap applies auth and role checks to next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		required, ok := m.Policy.RequiredRole(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := ParseJWT(tokenFromRequest(r), m.Secret)
		if err != nil {
			m.logger.Debug("auth rejected", zap.String("path", r.URL.Path), zap.Error(err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		role, _ := NormalizeRole(claims.Role)
		if !role.Satisfies(required) {
			m.logger.Info("auth forbidden",
				zap.String("path", r.URL.Path),
				zap.String("org_id", claims.OrgID),
				zap.String("role", string(role)),
				zap.String("required", string(required)))
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		ctx := WithIdentity(r.Context(), claims.OrgID, role, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tokenFromRequest(r *http.Request) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	if r.Method == http.MethodGet {
		return r.URL.Query().Get(streamTokenParam)
	}
	return ""
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
