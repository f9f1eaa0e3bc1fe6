package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kiranshivaraju/keyserver/internal/api"
	mw "github.com/kiranshivaraju/keyserver/internal/api/middleware"
	"github.com/kiranshivaraju/keyserver/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func newTestRouter(t *testing.T, admin config.AdminConfig) http.Handler {
	t.Helper()
	auth, err := mw.NewAdminAuth(admin, mw.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)

	return api.NewRouter(api.Dependencies{
		AdminAuth:       auth,
		HealthHandler:   okHandler,
		ValidateHandler: okHandler,
		MetricsHandler:  http.HandlerFunc(okHandler),
		ListLicenses:    okHandler,
	})
}

var adminEndpoints = []struct {
	method string
	path   string
}{
	{"POST", "/api/licenses"},
	{"GET", "/api/licenses"},
	{"GET", "/api/licenses/ABCD-0123-FFFF"},
	{"POST", "/api/licenses/ABCD-0123-FFFF/revoke"},
	{"POST", "/api/licenses/ABCD-0123-FFFF/activate"},
	{"DELETE", "/api/licenses/ABCD-0123-FFFF"},
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"].(map[string]any)["code"].(string)
}

func TestRouter_PublicEndpoints(t *testing.T) {
	router := newTestRouter(t, config.AdminConfig{Username: "admin", Password: "s3cret"})

	for _, ep := range []struct{ method, path string }{
		{"GET", "/api/health"},
		{"POST", "/api/validate"},
		{"GET", "/metrics"},
	} {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}

func TestRouter_AdminEndpoints_RequireAuth(t *testing.T) {
	router := newTestRouter(t, config.AdminConfig{Username: "admin", Password: "s3cret"})

	for _, ep := range adminEndpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "UNAUTHORIZED", errorCode(t, w))
			assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
		})
	}
}

func TestRouter_AdminEndpoints_FailClosedWithoutSecret(t *testing.T) {
	router := newTestRouter(t, config.AdminConfig{Username: "admin"})

	for _, ep := range adminEndpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			req.SetBasicAuth("admin", "")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusServiceUnavailable, w.Code)
			assert.Equal(t, "ADMIN_NOT_CONFIGURED", errorCode(t, w))
		})
	}
}

func TestRouter_NilAdminAuthFailsClosed(t *testing.T) {
	router := api.NewRouter(api.Dependencies{ListLicenses: okHandler})

	req := httptest.NewRequest("GET", "/api/licenses", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRouter_AuthenticatedAdminRoute(t *testing.T) {
	router := newTestRouter(t, config.AdminConfig{Username: "admin", Password: "s3cret"})

	req := httptest.NewRequest("GET", "/api/licenses", nil)
	req.SetBasicAuth("admin", "s3cret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_UnwiredHandlerNotImplemented(t *testing.T) {
	router := newTestRouter(t, config.AdminConfig{Username: "admin", Password: "s3cret"})

	req := httptest.NewRequest("DELETE", "/api/licenses/ABCD-0123-FFFF", nil)
	req.SetBasicAuth("admin", "s3cret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotImplemented, w.Code)
	assert.Equal(t, "NOT_IMPLEMENTED", errorCode(t, w))
}

func TestRouter_NotFound(t *testing.T) {
	router := newTestRouter(t, config.AdminConfig{Username: "admin", Password: "s3cret"})

	req := httptest.NewRequest("GET", "/api/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
