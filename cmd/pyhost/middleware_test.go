package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/pyhost/config"
	"github.com/BaSui01/pyhost/internal/ctxkeys"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	return body.Error.Code
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
}

func TestRequestID(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ctxkeys.RequestID(r.Context())
	})
	handler := Chain(inner, SecurityHeaders(), RequestID())

	t.Run("generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
		id := w.Header().Get("X-Request-ID")
		assert.True(t, strings.HasPrefix(id, "req-"))
		assert.Equal(t, id, seen)
		assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	})

	t.Run("client provided", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/test", nil)
		r.Header.Set("X-Request-ID", "abc-123")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
		assert.Equal(t, "abc-123", seen)
	})

	t.Run("oversized is replaced", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/test", nil)
		r.Header.Set("X-Request-ID", strings.Repeat("x", 200))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.True(t, strings.HasPrefix(w.Header().Get("X-Request-ID"), "req-"))
	})
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/sessions/analyst-1/execute", "/api/v1/sessions/:id/execute"},
		{"/api/v1/sessions/abc", "/api/v1/sessions/:id"},
		{"/api/v1/sessions", "/api/v1/sessions"},
		{"/api/v1/environments/tools/modules/math.star", "/api/v1/environments/:id/modules/:name"},
		{"/api/v1/environments/tools/modules", "/api/v1/environments/:id/modules"},
		{"/api/v1/executions", "/api/v1/executions"},
		{"/health", "/health"},
		{"/things/12345", "/things/:id"},
		{"/things/550e8400-e29b-41d4-a716-446655440000/x", "/things/:id/x"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizePath(tt.path))
		})
	}
}

func TestRecovery(t *testing.T) {
	handler := Recovery(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", errorCode(t, w))
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"https://app.example.com"})(okHandler())

	t.Run("allowed preflight", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodOptions, "/api/v1/sessions", nil)
		r.Header.Set("Origin", "https://app.example.com")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("disallowed preflight", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodOptions, "/api/v1/sessions", nil)
		r.Header.Set("Origin", "https://evil.example.com")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("simple request passes", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ok", w.Body.String())
	})
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := RateLimiter(ctx, 0.001, 2, zap.NewNop())(okHandler())
	send := func(addr string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
		r.RemoteAddr = addr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:1000").Code)
	assert.Equal(t, http.StatusOK, send("10.0.0.1:1001").Code)

	w := send("10.0.0.1:1002")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", errorCode(t, w))

	// 其他 IP 不受影响
	assert.Equal(t, http.StatusOK, send("10.0.0.2:1000").Code)
}

func TestRateLimiter_DisabledIsPassThrough(t *testing.T) {
	handler := RateLimiter(context.Background(), 0, 0, zap.NewNop())(okHandler())
	for i := 0; i < 50; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestAuth(t *testing.T) {
	cfg := config.AuthConfig{
		Enabled: true,
		APIKeys: []string{"key-one", "key-two"},
		JWT:     config.JWTConfig{Secret: "s3cret", Issuer: "pyhost-test"},
	}
	var principal string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, _ = ctxkeys.Principal(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := Auth(cfg, publicPaths, zap.NewNop())(inner)

	valid := jwt.RegisteredClaims{
		Subject:   "alice",
		Issuer:    "pyhost-test",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	noExpiry := valid
	noExpiry.ExpiresAt = nil
	wrongIssuer := valid
	wrongIssuer.Issuer = "someone-else"

	tests := []struct {
		name          string
		path          string
		headers       map[string]string
		wantStatus    int
		wantPrincipal string
	}{
		{name: "api key", path: "/api/v1/sessions", headers: map[string]string{"X-API-Key": "key-two"},
			wantStatus: http.StatusOK, wantPrincipal: "apikey:"},
		{name: "wrong api key", path: "/api/v1/sessions", headers: map[string]string{"X-API-Key": "nope"},
			wantStatus: http.StatusUnauthorized},
		{name: "jwt", path: "/api/v1/sessions",
			headers:    map[string]string{"Authorization": "Bearer " + signToken(t, "s3cret", valid)},
			wantStatus: http.StatusOK, wantPrincipal: "jwt:alice"},
		{name: "jwt wrong secret", path: "/api/v1/sessions",
			headers:    map[string]string{"Authorization": "Bearer " + signToken(t, "other", valid)},
			wantStatus: http.StatusUnauthorized},
		{name: "jwt expired", path: "/api/v1/sessions",
			headers:    map[string]string{"Authorization": "Bearer " + signToken(t, "s3cret", expired)},
			wantStatus: http.StatusUnauthorized},
		{name: "jwt without expiry", path: "/api/v1/sessions",
			headers:    map[string]string{"Authorization": "Bearer " + signToken(t, "s3cret", noExpiry)},
			wantStatus: http.StatusUnauthorized},
		{name: "jwt wrong issuer", path: "/api/v1/sessions",
			headers:    map[string]string{"Authorization": "Bearer " + signToken(t, "s3cret", wrongIssuer)},
			wantStatus: http.StatusUnauthorized},
		{name: "missing credentials", path: "/api/v1/sessions", wantStatus: http.StatusUnauthorized},
		{name: "public path", path: "/health", wantStatus: http.StatusOK},
		{name: "metrics is public", path: "/metrics", wantStatus: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			principal = ""
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Equal(t, "UNAUTHORIZED", errorCode(t, w))
				assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
				return
			}
			assert.True(t, strings.HasPrefix(principal, tt.wantPrincipal), "principal %q", principal)
		})
	}
}

func TestAuth_DisabledIsPassThrough(t *testing.T) {
	handler := Auth(config.AuthConfig{}, nil, zap.NewNop())(okHandler())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMatchKey_DistinctPrincipals(t *testing.T) {
	keys := hashKeys([]string{"a", "", "b"})
	require.Len(t, keys, 2)

	pa, ok := matchKey(keys, "a")
	require.True(t, ok)
	pb, ok := matchKey(keys, "b")
	require.True(t, ok)
	assert.NotEqual(t, pa, pb)

	_, ok = matchKey(keys, "c")
	assert.False(t, ok)
}
