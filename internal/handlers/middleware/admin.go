package middleware

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/raspadinha/raspadinha/internal/handlers/render"
)

// AdminMiddleware guards the manual-approval endpoints. The caller presents a
// static operator token in X-Admin-Token, checked against a bcrypt hash from
// config. bcrypt comparison is constant time.
func AdminMiddleware(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-Admin-Token")
			if token == "" || tokenHash == "" {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)); err != nil {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
