package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestAdminMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	hash, err := bcrypt.GenerateFromPassword([]byte("operator-token"), bcrypt.MinCost)
	require.NoError(t, err)

	do := func(t *testing.T, srv *httptest.Server, token string) int {
		t.Helper()
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/test", nil)
		require.NoError(t, err)
		if token != "" {
			req.Header.Set("X-Admin-Token", token)
		}

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close() // nolint:errcheck

		return resp.StatusCode
	}

	t.Run("valid token", func(t *testing.T) {
		srv := httptest.NewServer(AdminMiddleware(string(hash))(handler))
		defer srv.Close()

		require.Equal(t, http.StatusOK, do(t, srv, "operator-token"))
	})

	t.Run("wrong token", func(t *testing.T) {
		srv := httptest.NewServer(AdminMiddleware(string(hash))(handler))
		defer srv.Close()

		require.Equal(t, http.StatusUnauthorized, do(t, srv, "wrong-token"))
	})

	t.Run("missing token", func(t *testing.T) {
		srv := httptest.NewServer(AdminMiddleware(string(hash))(handler))
		defer srv.Close()

		require.Equal(t, http.StatusUnauthorized, do(t, srv, ""))
	})

	t.Run("empty hash disables access entirely", func(t *testing.T) {
		srv := httptest.NewServer(AdminMiddleware("")(handler))
		defer srv.Close()

		require.Equal(t, http.StatusUnauthorized, do(t, srv, "operator-token"))
	})
}
