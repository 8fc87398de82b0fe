package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doRequest(t *testing.T, env *testEnv, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	return rec
}

func TestHealth_ReportsStats(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.relay.mu.Lock()
	env.relay.messages = 42
	env.relay.connected = true
	env.relay.lastMessage = time.Date(2025, 3, 14, 11, 0, 0, 987_654_321, time.FixedZone("CET", 3600))
	env.relay.mu.Unlock()

	rec := doRequest(t, env, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t,
		`{"status":"ok","clients":0,"messages":42,"connected":true,"lastMessage":"2025-03-14T10:00:00.987Z"}`,
		rec.Body.String())
}

func TestHealth_LastMessageDefaultsToStart(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := doRequest(t, env, http.MethodGet, "/health", nil)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "2025-03-14T09:26:53.589Z", body.LastMessage)
	assert.False(t, body.Connected)
	assert.Equal(t, uint64(0), body.Messages)
}

func TestRoot_PlainGetServesHealth(t *testing.T) {
	env := newTestEnv(t, testConfig())

	root := doRequest(t, env, http.MethodGet, "/", nil)
	health := doRequest(t, env, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, root.Code)
	assert.JSONEq(t, health.Body.String(), root.Body.String())
}

func TestHealth_CORS(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := doRequest(t, env, http.MethodGet, "/health", map[string]string{"Origin": "https://map.example.org"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPreflight_NoContent(t *testing.T) {
	env := newTestEnv(t, testConfig())

	for _, path := range []string{"/", "/health"} {
		t.Run(path, func(t *testing.T) {
			rec := doRequest(t, env, http.MethodOptions, path, map[string]string{
				"Origin":                        "https://map.example.org",
				"Access-Control-Request-Method": "GET",
			})

			assert.Equal(t, http.StatusNoContent, rec.Code)
			assert.Empty(t, rec.Body.String())
			assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

			methods := rec.Header().Get("Access-Control-Allow-Methods")
			assert.Contains(t, methods, "GET")
			assert.Contains(t, methods, "OPTIONS")

			allowed := rec.Header().Get("Access-Control-Allow-Headers")
			for _, h := range []string{"Content-Type", "Upgrade", "Connection"} {
				assert.Contains(t, allowed, h)
			}
		})
	}
}

func TestUnknownRoute_StructuredNotFound(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := doRequest(t, env, http.MethodGet, "/vessels", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_found", body["type"])
}

func TestLiveness(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.relay.clock.Advance(90 * time.Second)

	rec := doRequest(t, env, http.MethodGet, "/health/live", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.InDelta(t, 90.0, body["uptime"], 0.001)
}

func TestVersion(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := doRequest(t, env, http.MethodGet, "/version", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "aisrelay", body["service"])
}

func TestMetrics_Exposed(t *testing.T) {
	env := newTestEnv(t, testConfig())
	doRequest(t, env, http.MethodGet, "/health", nil)

	resp, err := http.Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	assert.True(t, strings.Contains(text, `aisrelay_http_requests_total{method="GET",route="/health",status_code="200"} 1`), text)
	assert.Contains(t, text, "aisrelay_websocket_active_connections")
}
