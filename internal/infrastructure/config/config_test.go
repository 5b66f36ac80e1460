package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	assert.Equal(t, "pyright-langserver", cfg.Analysis.Command)
	assert.Equal(t, []string{"--stdio"}, cfg.Analysis.Args)
	assert.Equal(t, 30*time.Second, cfg.Analysis.InitTimeout.Std())
	assert.Equal(t, 10*time.Second, cfg.Analysis.RequestTimeout.Std())

	assert.True(t, cfg.Kernel.Enabled)
	assert.Equal(t, "python3", cfg.Kernel.Command)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)

	assert.NoError(t, cfg.Validate())
}

func TestLoadOrDefault(t *testing.T) {
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                     "9000",
		"HOST":                     "127.0.0.1",
		"ANALYSIS_CMD":             "pylsp",
		"ANALYSIS_ARGS":            "-v,--check-parent-process",
		"ANALYSIS_INIT_TIMEOUT":    "5s",
		"ANALYSIS_REQUEST_TIMEOUT": "750ms",
		"KERNEL_ENABLED":           "false",
		"KERNEL_DRIVER":            "/etc/notebook/driver.py",
		"STORE_DIR":                "/var/lib/chats",
		"LOG_LEVEL":                "debug",
		"LOG_DEV":                  "true",
		"RATE_LIMIT_RPS":           "500",
		"RATE_LIMIT_BURST":         "1000",
		"RATE_LIMIT_ENABLED":       "false",
		"LSP_RPS":                  "5",
		"CORS_ORIGINS":             "http://a.test,http://b.test",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)

	assert.Equal(t, "pylsp", cfg.Analysis.Command)
	assert.Equal(t, []string{"-v", "--check-parent-process"}, cfg.Analysis.Args)
	assert.Equal(t, 5*time.Second, cfg.Analysis.InitTimeout.Std())
	assert.Equal(t, 750*time.Millisecond, cfg.Analysis.RequestTimeout.Std())

	assert.False(t, cfg.Kernel.Enabled)
	assert.Equal(t, "/etc/notebook/driver.py", cfg.Kernel.Driver)
	assert.Equal(t, "/var/lib/chats", cfg.Store.Dir)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)

	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 1000, cfg.RateLimit.Burst)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 5, cfg.RateLimit.LSPRequestsPerSecond)
	assert.Equal(t, 40, cfg.RateLimit.LSPBurst)

	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORS.Origins)
}

func TestLoadWithPartialEnvironmentVariables(t *testing.T) {
	t.Setenv("PORT", "3000")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "pyright-langserver", cfg.Analysis.Command)
	assert.True(t, cfg.Kernel.Enabled)
}

func TestLoadTOMLFile(t *testing.T) {
	path := writeFile(t, "bridge.toml", `
[server]
port = "7000"

[analysis]
command = "basedpyright-langserver"
args = ["--stdio"]
init_timeout = "45s"

[rate_limit]
lsp_rps = 3
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "basedpyright-langserver", cfg.Analysis.Command)
	assert.Equal(t, 45*time.Second, cfg.Analysis.InitTimeout.Std())
	assert.Equal(t, 10*time.Second, cfg.Analysis.RequestTimeout.Std())
	assert.Equal(t, 3, cfg.RateLimit.LSPRequestsPerSecond)
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeFile(t, "bridge.yaml", `
kernel:
  command: python3.12
  timeout: 90s
store:
  dir: /tmp/chats
cors:
  origins:
    - https://notebook.example
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "python3.12", cfg.Kernel.Command)
	assert.Equal(t, 90*time.Second, cfg.Kernel.Timeout.Std())
	assert.Equal(t, "/tmp/chats", cfg.Store.Dir)
	assert.Equal(t, []string{"https://notebook.example"}, cfg.CORS.Origins)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, "bridge.yml", "server:\n  port: \"7000\"\n  host: 10.0.0.1\n")
	t.Setenv("PORT", "7100")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7100", cfg.Server.Port)
	assert.Equal(t, "10.0.0.1", cfg.Server.Host)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
		env  map[string]string
	}{
		{
			name: "missing file",
			path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.toml") },
		},
		{
			name: "unsupported extension",
			path: func(t *testing.T) string { return writeFile(t, "bridge.ini", "port=1") },
		},
		{
			name: "malformed toml",
			path: func(t *testing.T) string { return writeFile(t, "bridge.toml", "[server\nport=") },
		},
		{
			name: "bad duration",
			path: func(t *testing.T) string { return "" },
			env:  map[string]string{"ANALYSIS_INIT_TIMEOUT": "soon"},
		},
		{
			name: "empty analysis command",
			path: func(t *testing.T) string { return writeFile(t, "bridge.toml", "[analysis]\ncommand = \"\"\n") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(tt.path(t))
			assert.Error(t, err)
		})
	}
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Std())

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("90")))
}
