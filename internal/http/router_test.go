package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	platformmetrics "accessgate/internal/platform/metrics"
	"accessgate/pkg/platform/middleware/request"
	"accessgate/pkg/requestcontext"
)

type echoFeature struct{}

func (echoFeature) Register(r chi.Router) {
	r.Get("/admin/echo", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"actor":      requestcontext.ActorID(ctx),
			"superAdmin": requestcontext.IsSuperAdmin(ctx),
			"ip":         requestcontext.ClientIP(ctx),
			"requestId":  request.GetRequestID(ctx),
		})
	})
}

func newTestRouter(health map[string]HealthCheck) http.Handler {
	reg := prometheus.NewRegistry()
	return NewRouter(Deps{
		Logger:     slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
		AdminToken: "token",
		Metrics:    platformmetrics.NewWithRegisterer(reg, reg),
		Features:   []Registrar{echoFeature{}},
		Health:     health,
	})
}

func TestRouter_AdminChain(t *testing.T) {
	router := newTestRouter(nil)

	t.Run("populates request context", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin/echo", nil)
		req.Header.Set("X-Admin-Token", "token")
		req.Header.Set("X-Actor-ID", "admin-a")
		req.Header.Set("X-Super-Admin", "true")
		req.Header.Set("X-Request-ID", "req-7")
		req.RemoteAddr = "10.1.2.3:5555"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		var body map[string]any
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		assert.Equal(t, "admin-a", body["actor"])
		assert.Equal(t, true, body["superAdmin"])
		assert.Equal(t, "10.1.2.3", body["ip"])
		assert.Equal(t, "req-7", body["requestId"])
	})

	t.Run("rejects missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin/echo", nil)
		req.Header.Set("X-Actor-ID", "admin-a")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("metrics stay public", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestRouter_Health(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		router := newTestRouter(map[string]HealthCheck{
			"redis": func(context.Context) error { return nil },
		})
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

		require.Equal(t, http.StatusOK, rr.Code)
		var body healthResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		assert.Equal(t, "ok", body.Status)
		assert.Equal(t, "ok", body.Checks["redis"])
	})

	t.Run("degraded", func(t *testing.T) {
		router := newTestRouter(map[string]HealthCheck{
			"postgres": func(context.Context) error { return errors.New("connection refused") },
		})
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		var body healthResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		assert.Equal(t, "degraded", body.Status)
		assert.Equal(t, "connection refused", body.Checks["postgres"])
	})

	t.Run("reports backend implementations", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		router := NewRouter(Deps{
			Logger:   slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
			Metrics:  platformmetrics.NewWithRegisterer(reg, reg),
			Backends: map[string]string{"approvals": "memory", "resources": "memory:empty"},
		})
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

		require.Equal(t, http.StatusOK, rr.Code)
		var body healthResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		assert.Equal(t, "memory:empty", body.Backends["resources"])
		assert.Empty(t, body.Checks)
	})
}
