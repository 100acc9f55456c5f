package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/rewards-engine/internal/middleware"
)

func TestRunToken(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runToken([]string{"-user", "42", "-role", "admin", "-s", "secret"}, &out))

	token := strings.TrimSpace(out.String())
	require.NotEmpty(t, token)

	auth := middleware.NewAuthMiddleware("secret")
	var gotID int64
	h := auth.Middleware(auth.AdminMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = middleware.GetUserIDFromContext(r.Context())
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(42), gotID)
}

func TestRunToken_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "no user", args: []string{"-s", "secret"}},
		{name: "bad role", args: []string{"-user", "1", "-role", "root", "-s", "secret"}},
		{name: "no secret", args: []string{"-user", "1", "-s", ""}},
		{name: "unknown flag", args: []string{"-x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			assert.Error(t, runToken(tt.args, &out))
			assert.Empty(t, out.String())
		})
	}
}
