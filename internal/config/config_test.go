package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.WorkerPool.Workers)
	assert.Equal(t, "http", cfg.Vision.Completer)
	assert.Equal(t, "https://openrouter.ai/api/v1/chat/completions", cfg.Vision.CompletionsURL())

	b := cfg.Budget()
	assert.Equal(t, 30*time.Second, b.Submit)
	assert.Equal(t, 30*time.Second, b.Encode)
	assert.Equal(t, 60*time.Second, b.Network)
	assert.Equal(t, 120*time.Second, b.Total)
}

func TestLoadFromFile(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.json"))

		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().WorkerPool, cfg.WorkerPool)
	})

	t.Run("reads JSON", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"workerPool": {"workers": 8, "queueSize": 16},
			"timeouts": {"network": "45s"},
			"vision": {"model": "some/model"}
		}`), 0o600))

		cfg, err := LoadFromFile(path)

		require.NoError(t, err)
		assert.Equal(t, 8, cfg.WorkerPool.Workers)
		assert.Equal(t, 16, cfg.WorkerPool.QueueSize)
		assert.Equal(t, 45*time.Second, cfg.Budget().Network)
		assert.Equal(t, 120*time.Second, cfg.Budget().Total)
		assert.Equal(t, "some/model", cfg.Vision.Model)
	})

	t.Run("reads YAML", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
system:
  logLevel: debug
  logFormat: json
timeouts:
  submit: 5s
vision:
  completer: sdk
`), 0o600))

		cfg, err := LoadFromFile(path)

		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.System.LogLevel)
		assert.Equal(t, "json", cfg.System.LogFormat)
		assert.Equal(t, 5*time.Second, cfg.Budget().Submit)
		assert.Equal(t, "sdk", cfg.Vision.Completer)
	})

	t.Run("rejects malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"timeouts": {"total": "forever"}}`), 0o600))

		_, err := LoadFromFile(path)

		assert.ErrorContains(t, err, "error parsing config file")
	})

	t.Run("reads from environment variables", func(t *testing.T) {
		t.Setenv("VISIONRELAY_POOL_WORKERS", "3")
		t.Setenv("VISIONRELAY_TIMEOUT_TOTAL", "90s")
		t.Setenv("VISIONRELAY_SERVER_ADDR", ":8081")
		t.Setenv("VISIONRELAY_VISION_ALLOWED_IMAGE_HOSTS", "wms.example.org,.tiles.example.com")
		t.Setenv("OPENROUTER_API_KEY", "sk-test")

		cfg, err := LoadFromFile("")

		require.NoError(t, err)
		assert.Equal(t, 3, cfg.WorkerPool.Workers)
		assert.Equal(t, 90*time.Second, cfg.Budget().Total)
		assert.Equal(t, ":8081", cfg.Server.Addr)
		assert.Equal(t, []string{"wms.example.org", ".tiles.example.com"}, cfg.Vision.AllowedImageHosts)
		assert.Equal(t, "sk-test", cfg.Vision.APIKey)
	})

	t.Run("prefixed key wins over OPENROUTER_API_KEY", func(t *testing.T) {
		t.Setenv("VISIONRELAY_VISION_API_KEY", "sk-own")
		t.Setenv("OPENROUTER_API_KEY", "sk-test")

		cfg, err := LoadFromFile("")

		require.NoError(t, err)
		assert.Equal(t, "sk-own", cfg.Vision.APIKey)
	})
}

func TestSaveToFile(t *testing.T) {
	for _, name := range []string{"config.json", "config.yml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			cfg := DefaultConfig()
			cfg.WorkerPool.Workers = 7
			cfg.Timeouts.Encode = Duration(12 * time.Second)
			cfg.Vision.APIKey = "sk-secret"

			require.NoError(t, cfg.SaveToFile(path))

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.NotContains(t, string(data), "sk-secret")
			assert.Contains(t, string(data), "12s")

			t.Setenv("OPENROUTER_API_KEY", "")
			loaded, err := LoadFromFile(path)
			require.NoError(t, err)
			assert.Equal(t, 7, loaded.WorkerPool.Workers)
			assert.Equal(t, 12*time.Second, loaded.Budget().Encode)
			assert.Equal(t, "sk-secret", cfg.Vision.APIKey)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad log level", func(c *Config) { c.System.LogLevel = "trace" }, "logLevel"},
		{"bad log format", func(c *Config) { c.System.LogFormat = "xml" }, "logFormat"},
		{"bad tracing", func(c *Config) { c.System.Tracing = "jaeger" }, "tracing"},
		{"no workers", func(c *Config) { c.WorkerPool.Workers = 0 }, "workers must be at least 1"},
		{"no queue", func(c *Config) { c.WorkerPool.QueueSize = 0 }, "queueSize"},
		{"cpu threshold above one", func(c *Config) { c.WorkerPool.CPUThreshold = 1.5 }, "load thresholds"},
		{"zero mem threshold", func(c *Config) { c.WorkerPool.MemThreshold = 0 }, "load thresholds"},
		{"zero timeout", func(c *Config) { c.Timeouts.Network = 0 }, "network timeout must be positive"},
		{"no relay buffer", func(c *Config) { c.Relay.BufferSize = 0 }, "relay bufferSize"},
		{"unknown completer", func(c *Config) { c.Vision.Completer = "grpc" }, "completer"},
		{"no base url", func(c *Config) { c.Vision.BaseURL = "" }, "baseURL"},
		{"negative history", func(c *Config) { c.Vision.MaxHistory = -1 }, "maxHistory"},
		{"url as image host", func(c *Config) { c.Vision.AllowedImageHosts = []string{"https://x.org/"} }, "allowedImageHosts"},
		{"no bus buffer", func(c *Config) { c.EventBus.BufferSize = 0 }, "eventBus bufferSize"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}
