package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

const userIDContextKey contextKey = "user_id"

// Auth checks the bearer token on /v1/ routes and resolves the caller's user
// id from X-User-Id. Browsers cannot set headers on WebSocket upgrades, so
// access_token and user_id query parameters are accepted as a fallback.
func Auth(requiredToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/v1/") {
				next.ServeHTTP(w, r)
				return
			}

			if requiredToken != "" {
				token := bearerToken(r)
				if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(requiredToken)) != 1 {
					writeAuthError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
					return
				}
			}

			userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
			if userID == "" {
				userID = strings.TrimSpace(r.URL.Query().Get("user_id"))
			}
			if userID == "" || len(userID) > 128 {
				writeAuthError(w, r, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
				return
			}

			ctx := context.WithValue(r.Context(), userIDContextKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetUserID(ctx context.Context) string {
	value, _ := ctx.Value(userIDContextKey).(string)
	return value
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	authorization := r.Header.Get("Authorization")
	if strings.HasPrefix(authorization, prefix) {
		return strings.TrimSpace(strings.TrimPrefix(authorization, prefix))
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

func writeAuthError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":{"code":"` + code + `","message":"` + message + `"},"request_id":"` + GetRequestID(r.Context()) + `"}`))
}
