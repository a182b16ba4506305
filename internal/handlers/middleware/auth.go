package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/raspadinha/raspadinha/internal/handlers/render"
	"github.com/raspadinha/raspadinha/internal/handlers/userctx"
)

type tokenParser interface {
	Parse(access string) (uuid.UUID, error)
}

// AuthMiddleware validates the bearer token and puts the user id into the
// request context. Accounts are created lazily further down the stack.
func AuthMiddleware(parser tokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			userID, err := parser.Parse(token)
			if err != nil {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := userctx.New(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
