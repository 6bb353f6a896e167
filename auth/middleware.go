package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey string

const tokenContextKey contextKey = "auth_token"

// TokenFromContext retrieves the token that authenticated the current
// request, if any.
func TokenFromContext(ctx context.Context) (*Token, bool) {
	tok, ok := ctx.Value(tokenContextKey).(*Token)
	return tok, ok
}

// AccountFromContext is a convenience wrapper returning just the account id
// bound to the request's token.
func AccountFromContext(ctx context.Context) (string, bool) {
	tok, ok := TokenFromContext(ctx)
	if !ok {
		return "", false
	}
	return tok.AccountID, true
}

// Middleware returns an http middleware that resolves the bearer token in
// the Authorization header to an account id via store, and rejects the
// request if the token is missing, unknown, revoked, or expired.
func Middleware(store Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}

			secret := strings.TrimPrefix(header, "Bearer ")
			tok, ok := store.Identify(secret)
			if !ok {
				writeError(w, http.StatusUnauthorized, "invalid or revoked token")
				return
			}

			ctx := context.WithValue(r.Context(), tokenContextKey, tok)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
