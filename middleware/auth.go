package middleware

import (
	"context"
	"net/http"
	"strings"

	"docgraph/pkg/apperr"
	"docgraph/pkg/logger"
)

type contextKey string

const UserEmailKey contextKey = "userEmail"

// TokenVerifier turns a bearer token into the caller's verified email.
// Rejected tokens must match apperr.ErrUnauthorized; any other error is
// treated as the verifier being unavailable.
type TokenVerifier interface {
	VerifyEmail(token string) (string, error)
}

// AuthMiddleware rejects requests without a valid bearer token and stores
// the verified email in the request context.
func AuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := bearerToken(r)
			if tokenString == "" {
				WriteError(w, http.StatusUnauthorized, "No authorization token was found")
				return
			}

			email, err := verifier.VerifyEmail(tokenString)
			if err != nil {
				if !apperr.IsUnauthorized(err) {
					logger.Sugar.Errorf("Token verification unavailable: %v", err)
					WriteError(w, http.StatusServiceUnavailable, "Token verification is unavailable")
					return
				}
				logger.Sugar.Infof("Invalid token: %v", err)
				WriteError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), UserEmailKey, email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserEmail returns the verified email placed by AuthMiddleware.
func UserEmail(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(UserEmailKey).(string)
	return email, ok && email != ""
}

func bearerToken(r *http.Request) string {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	// Browsers cannot set headers on WebSocket handshakes.
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
