package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt"
)

const SubjectKey key = 1

// RequireAuth verifies the Authorization bearer token with the given HMAC
// secret and stores the subject claim in the request context. An empty
// secret disables verification, for local development.
func RequireAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAuthError(r.Context(), w, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeAuthError(r.Context(), w, "malformed authorization header")
				return
			}

			token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, errors.New("unexpected signing method")
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				slog.InfoContext(r.Context(), "rejected bearer token", "error", err)
				writeAuthError(r.Context(), w, "invalid token")
				return
			}

			sub := ""
			if claims, ok := token.Claims.(jwt.MapClaims); ok {
				sub, _ = claims["sub"].(string)
			}

			ctx := context.WithValue(r.Context(), SubjectKey, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetSubject(ctx context.Context) string {
	if sub, ok := ctx.Value(SubjectKey).(string); ok {
		return sub
	}
	return ""
}

func writeAuthError(ctx context.Context, w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    "UNAUTHORIZED",
			"message": message,
		},
		"correlationId": GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
