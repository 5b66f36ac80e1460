package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/notebook-lsp/internal/infrastructure/config"
	"github.com/GriffinCanCode/notebook-lsp/internal/infrastructure/logging"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Dir = t.TempDir()
	cfg.Kernel.Enabled = false
	cfg.Logging.Development = true

	srv, err := NewServer(cfg, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func TestRoutes(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		method string
		path   string
		code   int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/chats", http.StatusOK},
		{http.MethodPost, "/chats", http.StatusCreated},
		{http.MethodGet, "/chats/not-a-uuid", http.StatusBadRequest},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/nowhere", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.code, w.Code)
			assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
		})
	}
}

func TestMetricsExposeRequests(t *testing.T) {
	srv := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `path="/health"`), "request counter labelled by route")
}

func TestRootURI(t *testing.T) {
	uri, err := rootURI("/srv/notebooks")
	require.NoError(t, err)
	assert.Equal(t, "file:///srv/notebooks", string(uri))

	uri, err = rootURI("")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(uri), "file:///"))
}

func TestNewServerRejectsMissingKernelDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Dir = t.TempDir()
	cfg.Kernel.Driver = filepath.Join(t.TempDir(), "missing.py")

	_, err := NewServer(cfg, logging.NewNop())
	assert.ErrorContains(t, err, "kernel driver")
}

func TestEnginesDisabled(t *testing.T) {
	fn, err := engines(config.KernelConfig{Enabled: false}, logging.NewNop(), nil)
	require.NoError(t, err)
	assert.Nil(t, fn)
}
