package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ukydev/busflow/internal/auth"
	"github.com/ukydev/busflow/internal/models"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	UserContextKey contextKey = "user"
)

// SessionSource reports the user of the running session.
type SessionSource interface {
	Current() (models.User, bool)
}

// AuthMiddleware ties requests to the running session. Roles are trusted:
// a token only proves which session it was issued for.
type AuthMiddleware struct {
	authService *auth.Service
	sessions    SessionSource
}

// NewAuthMiddleware creates a new session middleware
func NewAuthMiddleware(authService *auth.Service, sessions SessionSource) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
		sessions:    sessions,
	}
}

// Authenticate validates the session token and adds its claims to the
// request context. Browsers cannot set headers on WebSocket upgrades, so the
// token may also arrive as the "token" query parameter.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSkipAuth(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		var token string
		if header := r.Header.Get("Authorization"); header != "" {
			t, err := m.authService.ExtractTokenFromHeader(header)
			if err != nil {
				http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
				return
			}
			token = t
		} else {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		claims, err := m.authService.ValidateToken(token)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		user, ok := m.sessions.Current()
		if !ok || user.ID != claims.UserID || user.Role != claims.Role {
			http.Error(w, "Session ended", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole selects handlers by the session's role.
func (m *AuthMiddleware) RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetUserFromContext(r.Context())
			if !ok {
				http.Error(w, "User context not found", http.StatusUnauthorized)
				return
			}

			if !slices.Contains(roles, claims.Role) {
				http.Error(w, "Not available for role "+string(claims.Role), http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetUserFromContext extracts user claims from request context
func GetUserFromContext(ctx context.Context) (*models.Claims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*models.Claims)
	return claims, ok
}

// shouldSkipAuth determines if authentication should be skipped for a given path
func shouldSkipAuth(path string) bool {
	skipPaths := []string{
		"/api/session/login",
		"/api/feed/",
		"/health",
	}

	for _, skipPath := range skipPaths {
		if strings.HasPrefix(path, skipPath) {
			return true
		}
	}
	return false
}

// RateLimitMiddleware provides sliding-window rate limiting
type RateLimitMiddleware struct {
	requests map[string][]time.Time // client key -> request times
	mu       sync.Mutex
	now      func() time.Time
}

// NewRateLimitMiddleware creates a new rate limiting middleware
func NewRateLimitMiddleware() *RateLimitMiddleware {
	return &RateLimitMiddleware{
		requests: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// RateLimit allows at most maxRequests per window for each client. Clients
// are keyed by session user when authenticated, by IP address otherwise.
// A non-positive maxRequests disables the limit.
func (m *RateLimitMiddleware) RateLimit(maxRequests int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxRequests <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			key := clientKey(r)

			m.mu.Lock()
			now := m.now()
			windowStart := now.Add(-window)
			valid := m.requests[key][:0]
			for _, ts := range m.requests[key] {
				if ts.After(windowStart) {
					valid = append(valid, ts)
				}
			}
			if len(valid) >= maxRequests {
				m.requests[key] = valid
				m.mu.Unlock()
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			m.requests[key] = append(valid, now)
			m.mu.Unlock()

			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if claims, ok := GetUserFromContext(r.Context()); ok {
		return "user:" + claims.UserID
	}
	return "ip:" + getClientIP(r)
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	ip := r.RemoteAddr
	if colonIndex := strings.LastIndex(ip, ":"); colonIndex != -1 {
		ip = ip[:colonIndex]
	}
	return ip
}
