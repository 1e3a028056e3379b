package middleware_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"accessgate/pkg/platform/middleware/admin"
	"accessgate/pkg/platform/middleware/auth"
	"accessgate/pkg/platform/middleware/metadata"
	request "accessgate/pkg/platform/middleware/request"
	"accessgate/pkg/platform/middleware/requesttime"
	"accessgate/pkg/requestcontext"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func ok(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }

func TestRequireAdminToken(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		sent     string
		status   int
	}{
		{name: "matching token", expected: "s3cret", sent: "s3cret", status: http.StatusNoContent},
		{name: "wrong token", expected: "s3cret", sent: "guess", status: http.StatusUnauthorized},
		{name: "missing token", expected: "s3cret", sent: "", status: http.StatusUnauthorized},
		{name: "unconfigured token rejects all", expected: "", sent: "", status: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := admin.RequireAdminToken(tt.expected, discard)(http.HandlerFunc(ok))
			req := httptest.NewRequest(http.MethodGet, "/admin/x", nil)
			if tt.sent != "" {
				req.Header.Set("X-Admin-Token", tt.sent)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestRequireActor(t *testing.T) {
	var gotID string
	var gotSuper bool
	h := auth.RequireActor(discard)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = requestcontext.ActorID(r.Context())
		gotSuper = requestcontext.IsSuperAdmin(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("reads actor and capability", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(auth.HeaderActorID, " admin-a ")
		req.Header.Set(auth.HeaderSuperAdmin, "true")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "admin-a", gotID)
		assert.True(t, gotSuper)
	})

	t.Run("missing actor is unauthorized", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"error":"unauthorized","error_description":"Missing or invalid X-Actor-ID header"}`, w.Body.String())
	})

	t.Run("malformed capability is a bad request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(auth.HeaderActorID, "admin-a")
		req.Header.Set(auth.HeaderSuperAdmin, "maybe")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRequestID(t *testing.T) {
	var seen string
	h := request.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = request.GetRequestID(r.Context())
	}))

	t.Run("propagates inbound id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(request.HeaderRequestID, "abc-123")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, "abc-123", seen)
		assert.Equal(t, "abc-123", w.Header().Get(request.HeaderRequestID))
	})

	t.Run("generates when absent", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Len(t, seen, 36)
		assert.Equal(t, seen, w.Header().Get(request.HeaderRequestID))
	})
}

func TestClientMetadata(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		wantIP  string
	}{
		{name: "forwarded chain", headers: map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, wantIP: "203.0.113.7"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": " 198.51.100.2 "}, wantIP: "198.51.100.2"},
		{name: "remote ipv4", remote: "192.0.2.1:5555", wantIP: "192.0.2.1"},
		{name: "remote ipv6", remote: "[::1]:5555", wantIP: "::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ip, ua string
			h := metadata.ClientMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ip = requestcontext.ClientIP(r.Context())
				ua = requestcontext.UserAgent(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("User-Agent", "curl/8.5.0")
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if tt.remote != "" {
				req.RemoteAddr = tt.remote
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.wantIP, ip)
			assert.Equal(t, "curl/8.5.0", ua)
		})
	}
}

func TestRequestTime(t *testing.T) {
	var got time.Time
	h := requesttime.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = requestcontext.Now(r.Context())
	}))
	before := time.Now()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.WithinDuration(t, before, got, time.Second)
	assert.Equal(t, time.UTC, got.Location())
}
