package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func setupTestRouter(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(mw)
	router.GET("/chats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"chats": []string{}})
	})
	router.GET("/ws/:id", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func serve(router *gin.Engine, method, path, remote, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if remote != "" {
		req.RemoteAddr = remote
	}
	if origin != "" {
		req.Header.Set("Origin", origin)
		if method == http.MethodOptions {
			req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		}
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCORS(t *testing.T) {
	router := setupTestRouter(CORS(NewCORSConfig([]string{"http://localhost:5173"})))

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{"allowed origin", http.MethodGet, "http://localhost:5173", http.StatusOK, "http://localhost:5173"},
		{"preflight", http.MethodOptions, "http://localhost:5173", http.StatusNoContent, "http://localhost:5173"},
		{"foreign origin", http.MethodGet, "https://evil.example", http.StatusForbidden, ""},
		{"no origin header", http.MethodGet, "", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(router, tt.method, "/chats", "", tt.origin)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantAllow, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestNewCORSConfigWithoutOrigins(t *testing.T) {
	cfg := NewCORSConfig(nil)

	assert.Equal(t, []string{"*"}, cfg.AllowOrigins)
	assert.False(t, cfg.AllowCredentials)
	assert.Contains(t, cfg.AllowMethods, "POST")
	assert.Equal(t, 12*time.Hour, cfg.MaxAge)

	router := setupTestRouter(CORS(cfg))
	w := serve(router, http.MethodGet, "/chats", "", "https://anywhere.example")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	router := setupTestRouter(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 2}))

	for i := 0; i < 2; i++ {
		w := serve(router, http.MethodGet, "/chats", "192.168.1.1:1234", "")
		assert.Equal(t, http.StatusOK, w.Code, "request %d should succeed", i+1)
	}

	w := serve(router, http.MethodGet, "/chats", "192.168.1.1:1234", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimitDifferentClients(t *testing.T) {
	router := setupTestRouter(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 1}))

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/chats", "192.168.1.1:1234", "").Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/chats", "192.168.1.2:1234", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(router, http.MethodGet, "/chats", "192.168.1.1:1234", "").Code)
}

func TestRateLimitSkipsPrefixes(t *testing.T) {
	router := setupTestRouter(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, Skip: []string{"/ws/"}}))

	for i := 0; i < 5; i++ {
		w := serve(router, http.MethodGet, "/ws/abc", "192.168.1.1:1234", "")
		assert.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/chats", "192.168.1.1:1234", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(router, http.MethodGet, "/chats", "192.168.1.1:1234", "").Code)
}

func BenchmarkRateLimit(b *testing.B) {
	router := setupTestRouter(RateLimit(RateLimitConfig{RequestsPerSecond: 1 << 20, Burst: 1 << 20}))

	req := httptest.NewRequest(http.MethodGet, "/chats", nil)
	req.RemoteAddr = "192.168.1.1:1234"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
	}
}
