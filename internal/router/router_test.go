package router_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/saulo-duarte/cbt-engine/internal/auth"
	"github.com/saulo-duarte/cbt-engine/internal/router"
	"github.com/saulo-duarte/cbt-engine/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter() http.Handler {
	auth.Init("router-test-secret")
	return router.New(router.RouterConfig{
		SessionHandler: session.NewHandler(nil),
		AuthHandler:    auth.NewHandler(auth.CookieConfig{Secure: true}),
		RequestTimeout: time.Second,
	})
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))
}

func TestLogoutExpiresCookie(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "jwt", cookies[0].Name)
	assert.True(t, cookies[0].MaxAge < 0)
}

func TestSessionRoutesRequireToken(t *testing.T) {
	h := newRouter()
	for _, path := range []string{
		"/tests/3f1c1f4e-8a53-4b53-9d3e-1c2b3a4d5e6f/attempts",
		"/attempts/3f1c1f4e-8a53-4b53-9d3e-1c2b3a4d5e6f/submit",
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}
