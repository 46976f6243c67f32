package auth

import (
	"net/http"
	"strings"

	"booknet/internal/identity"
)

// TokenParser resolves a bearer token to an identity.
type TokenParser interface {
	Parse(raw string) (identity.Identity, error)
}

// RequireBearer rejects requests without a valid bearer token and stores the
// verified identity in the request context.
func RequireBearer(parser TokenParser, unauthorized func(w http.ResponseWriter, r *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				unauthorized(w, r)
				return
			}

			id, err := parser.Parse(raw)
			if err != nil {
				unauthorized(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), id)))
		})
	}
}
