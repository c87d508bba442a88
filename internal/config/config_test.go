package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "offlinegate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "origin:\n  url: http://localhost:9000\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 10*time.Second, cfg.Origin.Timeout)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, 1000, cfg.Storage.MaxEntries)
	assert.Equal(t, int64(1<<20), cfg.Storage.MaxBodyBytes)
	assert.Equal(t, "vibe-news-v1", cfg.Agent.Generation)
	assert.Equal(t, "/news", cfg.Agent.APIPrefix)
	assert.Equal(t, "/index.html", cfg.Agent.ShellPath)
	assert.Equal(t, []string{"/", "/index.html", "/style.css", "/manifest.json"}, cfg.Agent.Manifest)
	assert.Equal(t, 3, cfg.Agent.InstallAttempts)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9443"
origin:
  url: https://news.example.com
  timeout: 3s
storage:
  driver: sqlite
  path: /var/lib/offlinegate/cache.db
  maxBodyBytes: 2048
agent:
  generation: vibe-news-v2
  manifest: ["/", "/index.html", "/app.css"]
log:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9443", cfg.Server.Address)
	assert.Equal(t, 3*time.Second, cfg.Origin.Timeout)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "vibe-news-v2", cfg.Agent.Generation)

	opts := cfg.AgentOptions()
	assert.Equal(t, "vibe-news-v2", opts.Generation)
	assert.Equal(t, []string{"/", "/index.html", "/app.css"}, opts.Manifest)
	assert.Equal(t, int64(2048), opts.MaxBodyBytes)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("OFFLINEGATE_ORIGIN_URL", "http://origin.internal:9000")
	t.Setenv("OFFLINEGATE_AGENT_GENERATION", "vibe-news-v10")
	t.Setenv("OFFLINEGATE_AGENT_MANIFEST", "/,/index.html")
	t.Setenv("OFFLINEGATE_STORAGE_MAX_ENTRIES", "50")

	cfg, err := Load(writeConfig(t, "origin:\n  url: http://localhost:9000\nagent:\n  generation: from-file\n"))
	require.NoError(t, err)

	assert.Equal(t, "http://origin.internal:9000", cfg.Origin.URL)
	assert.Equal(t, "vibe-news-v10", cfg.Agent.Generation)
	assert.Equal(t, []string{"/", "/index.html"}, cfg.Agent.Manifest)
	assert.Equal(t, 50, cfg.Storage.MaxEntries)
}

func TestLoad_CircuitBreaker(t *testing.T) {
	cfg, err := Load(writeConfig(t, "origin:\n  url: http://localhost:9000\n"))
	require.NoError(t, err)
	assert.Zero(t, cfg.Origin.CircuitBreaker.ConsecutiveFailures)
	assert.Zero(t, cfg.Origin.CircuitBreaker.Cooldown)

	t.Setenv("OFFLINEGATE_ORIGIN_CIRCUIT_BREAKER_CONSECUTIVE_FAILURES", "3")
	cfg, err = Load(writeConfig(t, "origin:\n  url: http://localhost:9000\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Origin.CircuitBreaker.ConsecutiveFailures)
	assert.Equal(t, 5*time.Second, cfg.Origin.CircuitBreaker.Cooldown)
}

func TestLoad_WithoutFile(t *testing.T) {
	t.Setenv("OFFLINEGATE_ORIGIN_URL", "http://localhost:9000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", cfg.Origin.URL)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"MissingOrigin", "server:\n  address: :8080\n", "origin.url is required"},
		{"RelativeOrigin", "origin:\n  url: /relative\n", "must be an absolute URL"},
		{"UnknownDriver", "origin:\n  url: http://o\nstorage:\n  driver: redis\n", "unknown storage.driver"},
		{"SQLiteWithoutPath", "origin:\n  url: http://o\nstorage:\n  driver: sqlite\n", "storage.path is required"},
		{"BadPrefix", "origin:\n  url: http://o\nagent:\n  apiPrefix: news\n", "apiPrefix"},
		{"BadManifest", "origin:\n  url: http://o\nagent:\n  manifest: [style.css]\n", "manifest entry"},
		{"TLSWithoutCert", "origin:\n  url: http://o\nserver:\n  tls:\n    enabled: true\n", "certFile"},
		{"MemoryTooSmall", "origin:\n  url: http://o\nstorage:\n  maxEntries: 3\n", "cannot hold the manifest and shell (4 entries)"},
		{"MemoryTooSmallForShell", "origin:\n  url: http://o\nstorage:\n  maxEntries: 2\nagent:\n  manifest: [/, /style.css]\n", "(3 entries)"},
		{"BadYAML", "origin: [", "unmarshal yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MemoryCapacityFitsManifest(t *testing.T) {
	cfg, err := Load(writeConfig(t, "origin:\n  url: http://o\nstorage:\n  maxEntries: 4\n"))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Storage.MaxEntries)

	t.Setenv("OFFLINEGATE_STORAGE_MAX_ENTRIES", "1")
	_, err = Load(writeConfig(t, "origin:\n  url: http://o\nstorage:\n  driver: sqlite\n  path: /tmp/cache.db\n"))
	require.NoError(t, err, "capacity only bounds the memory driver")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")
}
