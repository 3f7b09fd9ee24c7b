package core

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/scenefall/scenectl/internal/telemetry"
)

func opsGet(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestOpsRoutes(t *testing.T) {
	svc, err := NewService(testServiceConfig(), telemetry.NewStubSource(4500, true), zerolog.Nop())
	require.NoError(t, err)
	router := svc.opsRouter()

	w := opsGet(t, router, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	require.Equal(t, "ok", health["status"])

	w = opsGet(t, router, "/ready")
	require.Equal(t, http.StatusOK, w.Code)
	var ready map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ready))
	// Not running yet: no session bound.
	require.Equal(t, false, ready["ready"])

	w = opsGet(t, router, "/status")
	require.Equal(t, http.StatusOK, w.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.Equal(t, "live", status["scene"])
	require.Equal(t, "local", status["mode"])

	w = opsGet(t, router, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "scenectl_")
}

func opsPost(t *testing.T, router http.Handler, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(opsTokenHeader, token)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestControlRoutes(t *testing.T) {
	cfg := testServiceConfig()
	cfg.Ops.AdminToken = "adm"
	cfg.Ops.OperatorToken = "ops"
	cfg.Ops.ChatToken = "cht"
	svc, err := NewService(cfg, telemetry.NewStubSource(4500, true), zerolog.Nop())
	require.NoError(t, err)
	router := svc.opsRouter()

	// No token, wrong token, missing scene.
	require.Equal(t, http.StatusUnauthorized, opsPost(t, router, "/control/switch", "", `{"scene":"brb"}`).Code)
	require.Equal(t, http.StatusUnauthorized, opsPost(t, router, "/control/switch", "nope", `{"scene":"brb"}`).Code)
	require.Equal(t, http.StatusBadRequest, opsPost(t, router, "/control/switch", "ops", `{}`).Code)

	require.Equal(t, http.StatusAccepted, opsPost(t, router, "/control/switch", "ops", `{"scene":"brb"}`).Code)
	svc.mu.Lock()
	cmd := svc.shots.manual
	svc.mu.Unlock()
	require.NotNil(t, cmd)
	require.Equal(t, "brb", cmd.Scene)
	require.True(t, cmd.Authorized)
	require.False(t, cmd.AdminOverride)
	require.False(t, cmd.FromChat)

	require.Equal(t, http.StatusAccepted, opsPost(t, router, "/control/switch", "cht", `{"scene":"live"}`).Code)
	svc.mu.Lock()
	cmd = svc.shots.manual
	svc.mu.Unlock()
	require.True(t, cmd.FromChat)

	require.Equal(t, http.StatusAccepted, opsPost(t, router, "/control/switch", "adm", `{"scene":"live"}`).Code)
	svc.mu.Lock()
	cmd = svc.shots.manual
	svc.mu.Unlock()
	require.True(t, cmd.AdminOverride)

	// Only admins may ask the shim to shut down.
	require.Equal(t, http.StatusForbidden, opsPost(t, router, "/control/shutdown-shim", "ops", "").Code)
	require.Equal(t, http.StatusAccepted, opsPost(t, router, "/control/shutdown-shim", "adm", "").Code)

	// Chat callers cannot drive activation or overrides.
	require.Equal(t, http.StatusForbidden, opsPost(t, router, "/control/activate", "cht", "").Code)
	require.Equal(t, http.StatusAccepted, opsPost(t, router, "/control/activate", "ops", "").Code)
	require.Equal(t, http.StatusAccepted, opsPost(t, router, "/control/deactivate", "ops", "").Code)

	require.Equal(t, http.StatusOK, opsPost(t, router, "/control/override/on", "ops", "").Code)
	svc.mu.Lock()
	override := svc.manualOverride
	svc.mu.Unlock()
	require.True(t, override)
	require.Equal(t, http.StatusBadRequest, opsPost(t, router, "/control/override/sideways", "ops", "").Code)
}
