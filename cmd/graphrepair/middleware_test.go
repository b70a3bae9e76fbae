package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/graphrepair/config"
	"github.com/BaSui01/graphrepair/internal/ctxkeys"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
})

type errorBody struct {
	Success bool `json:"success"`
	Error   struct {
		Code string `json:"code"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

type httpRecord struct {
	method, path string
	status       int
	respSize     int64
}

type fakeHTTPRecorder struct {
	mu      sync.Mutex
	records []httpRecord
}

func (f *fakeHTTPRecorder) RecordHTTPRequest(method, path string, status int, _ time.Duration, _, respSize int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, httpRecord{method, path, status, respSize})
}

// =============================================================================
// 🛡️ SecurityHeaders / Chain
// =============================================================================

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(okHandler)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Chain(okHandler, mark("first"), mark("second"), mark("third"))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestSecurityHeaders_ChainedWithRequestID(t *testing.T) {
	handler := Chain(okHandler, SecurityHeaders(), RequestID())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

// =============================================================================
// 🆔 RequestID
// =============================================================================

func TestRequestID(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ctxkeys.RequestID(r.Context())
	})
	handler := RequestID()(inner)

	t.Run("generates when absent", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		id := w.Header().Get("X-Request-ID")
		assert.True(t, strings.HasPrefix(id, "req-"))
		assert.Equal(t, id, seen)
	})

	t.Run("keeps client id", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Request-ID", "client-42")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		assert.Equal(t, "client-42", w.Header().Get("X-Request-ID"))
		assert.Equal(t, "client-42", seen)
	})

	t.Run("replaces oversized id", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Request-ID", strings.Repeat("x", 200))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		assert.True(t, strings.HasPrefix(w.Header().Get("X-Request-ID"), "req-"))
	})
}

// =============================================================================
// 💥 Recovery
// =============================================================================

func TestRecovery(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	handler := Chain(panicking, RequestID(), Recovery(zap.NewNop()))

	w := httptest.NewRecorder()
	require.NotPanics(t, func() {
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/analyze", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeErrorBody(t, w)
	assert.False(t, body.Success)
	assert.Equal(t, "INTERNAL_ERROR", body.Error.Code)
	assert.Equal(t, w.Header().Get("X-Request-ID"), body.RequestID)
}

// =============================================================================
// 🌐 CORS
// =============================================================================

func TestCORS(t *testing.T) {
	handler := CORS([]string{"https://app.example.com"})(okHandler)

	tests := []struct {
		name        string
		method      string
		origin      string
		preflight   bool
		wantStatus  int
		wantAllowed string
	}{
		{"allowed origin", http.MethodGet, "https://app.example.com", false, http.StatusOK, "https://app.example.com"},
		{"unknown origin", http.MethodGet, "https://evil.example.com", false, http.StatusOK, ""},
		{"preflight allowed", http.MethodOptions, "https://app.example.com", true, http.StatusNoContent, "https://app.example.com"},
		{"preflight rejected", http.MethodOptions, "https://evil.example.com", true, http.StatusForbidden, ""},
		{"no origin", http.MethodGet, "", false, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, "/api/v1/analyze", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				r.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantAllowed, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

// =============================================================================
// 🚦 RateLimiter
// =============================================================================

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := RateLimiter(ctx, 1, 2, zap.NewNop())(okHandler)

	send := func(remote string) int {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/analyze", nil)
		r.RemoteAddr = remote
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:1234"))
	assert.Equal(t, http.StatusOK, send("10.0.0.1:1235"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:1236"))

	// 不同 IP 使用独立的令牌桶
	assert.Equal(t, http.StatusOK, send("10.0.0.2:1234"))
}

func TestRateLimiter_Disabled(t *testing.T) {
	handler := RateLimiter(context.Background(), 0, 0, zap.NewNop())(okHandler)
	for i := 0; i < 20; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}

// =============================================================================
// 🔐 JWTAuth
// =============================================================================

func TestJWTAuth(t *testing.T) {
	const secret = "test-secret"
	cfg := config.JWTConfig{Secret: secret, Issuer: "graphrepair-test"}

	var subject string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _ = ctxkeys.Subject(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := JWTAuth(cfg, []string{"/health"}, zap.NewNop())(inner)

	valid := signHS256(t, secret, jwt.MapClaims{
		"sub": "alice",
		"iss": "graphrepair-test",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	expired := signHS256(t, secret, jwt.MapClaims{
		"sub": "alice",
		"iss": "graphrepair-test",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	wrongIssuer := signHS256(t, secret, jwt.MapClaims{
		"sub": "alice",
		"iss": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	wrongKey := signHS256(t, "other-secret", jwt.MapClaims{
		"sub": "alice",
		"iss": "graphrepair-test",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	tests := []struct {
		name        string
		path        string
		header      string
		wantStatus  int
		wantSubject string
	}{
		{"valid token", "/api/v1/analyze", "Bearer " + valid, http.StatusOK, "alice"},
		{"missing header", "/api/v1/analyze", "", http.StatusUnauthorized, ""},
		{"malformed header", "/api/v1/analyze", "Token " + valid, http.StatusUnauthorized, ""},
		{"expired token", "/api/v1/analyze", "Bearer " + expired, http.StatusUnauthorized, ""},
		{"wrong issuer", "/api/v1/analyze", "Bearer " + wrongIssuer, http.StatusUnauthorized, ""},
		{"wrong key", "/api/v1/analyze", "Bearer " + wrongKey, http.StatusUnauthorized, ""},
		{"skip path", "/health", "", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject = ""
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantSubject, subject)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Equal(t, "UNAUTHORIZED", decodeErrorBody(t, w).Error.Code)
				assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")
			}
		})
	}
}

func TestJWTAuth_WebSocketQueryToken(t *testing.T) {
	const secret = "ws-secret"
	handler := JWTAuth(config.JWTConfig{Secret: secret}, nil, zap.NewNop())(okHandler)
	token := signHS256(t, secret, jwt.MapClaims{"sub": "bob", "exp": time.Now().Add(time.Hour).Unix()})

	r := httptest.NewRequest(http.MethodGet, "/api/v1/repair/ws?access_token="+token, nil)
	r.Header.Set("Upgrade", "websocket")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)

	// 普通请求不接受查询参数令牌
	r = httptest.NewRequest(http.MethodGet, "/api/v1/analyze?access_token="+token, nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuth_RejectsUnexpectedAlgorithm(t *testing.T) {
	handler := JWTAuth(config.JWTConfig{Secret: "s"}, nil, zap.NewNop())(okHandler)

	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "mallory"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/analyze", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// =============================================================================
// 📊 MetricsMiddleware / normalizePath
// =============================================================================

func TestMetricsMiddleware(t *testing.T) {
	rec := &fakeHTTPRecorder{}
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":7}`))
	})
	handler := MetricsMiddleware(rec)(inner)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/api/v1/checkpoints/7/mirror", nil))

	require.Len(t, rec.records, 1)
	assert.Equal(t, httpRecord{
		method:   http.MethodPut,
		path:     "/api/v1/checkpoints/:id/mirror",
		status:   http.StatusCreated,
		respSize: int64(len(`{"id":7}`)),
	}, rec.records[0])
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/health", "/health"},
		{"/api/v1/analyze", "/api/v1/analyze"},
		{"/api/v1/repair/stream", "/api/v1/repair/stream"},
		{"/api/v1/checkpoints/42", "/api/v1/checkpoints/:id"},
		{"/api/v1/checkpoints/42/mirror", "/api/v1/checkpoints/:id/mirror"},
		{"/api/v1/sessions/my-session/checkpoints", "/api/v1/sessions/:session/checkpoints"},
		{"/api/v1/sessions/demo/latest", "/api/v1/sessions/:session/latest"},
		{"/api/v1/checkpoints/550e8400-e29b-41d4-a716-446655440000", "/api/v1/checkpoints/:id"},
		{"/unknown/path", "/unknown/path"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizePath(tt.in))
		})
	}
}

// =============================================================================
// 🔌 ResponseWriter 能力透传
// =============================================================================

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

func TestMetricsResponseWriter_PassesThroughCapabilities(t *testing.T) {
	base := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	mrw := &metricsResponseWriter{ResponseWriter: base, statusCode: http.StatusOK}

	var w http.ResponseWriter = mrw
	_, ok := w.(http.Flusher)
	assert.True(t, ok)

	hj, ok := w.(http.Hijacker)
	require.True(t, ok)
	_, _, err := hj.Hijack()
	require.NoError(t, err)
	assert.True(t, base.hijacked)
	assert.Equal(t, http.StatusSwitchingProtocols, mrw.statusCode)

	assert.Equal(t, base, mrw.Unwrap())
}

func TestMetricsResponseWriter_HijackUnsupported(t *testing.T) {
	mrw := &metricsResponseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := mrw.Hijack()
	assert.Error(t, err)
}
