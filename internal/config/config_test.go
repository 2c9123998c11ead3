package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/flow/internal/config"
)

func TestLoad(t *testing.T) {
	t.Run("should load config with defaults", func(t *testing.T) {
		os.Clearenv()

		cfg := config.Load()

		require.NotNil(t, cfg)

		require.Equal(t, "127.0.0.1", cfg.Server.Host)
		require.Equal(t, 8080, cfg.Server.Port)
		require.Equal(t, 30, cfg.Server.ReadTimeout)
		require.Equal(t, 0, cfg.Server.WriteTimeout)
		require.Equal(t, "https://api.openai.com/v1", cfg.OpenAI.BaseURL)
		require.Equal(t, 30, cfg.OpenAI.ListTimeout)
		require.Equal(t, 2, cfg.OpenAI.MaxRetries)
		require.Empty(t, cfg.OpenAI.APIKey)
		require.Equal(t, config.TransportOpenAI, cfg.Completion.Transport)
		require.InDelta(t, 4.0, cfg.Completion.CharsPerToken, 0.0001)
		require.Equal(t, 4, cfg.Completion.MessageOverhead)
		require.Empty(t, cfg.Completion.CatalogFile)
		require.Empty(t, cfg.Usage.RedisAddr)
		require.Equal(t, 86400, cfg.Usage.SessionTTL)
		require.Equal(t, []string{"X-Session-Id", "X-Request-Id"}, cfg.CORS.ExposedHeaders)
		require.Equal(t, "info", cfg.Log.Level)
		require.Equal(t, "json", cfg.Log.Format)
	})

	t.Run("should load config from environment variables", func(t *testing.T) {
		t.Setenv("SERVER_HOST", "0.0.0.0")
		t.Setenv("SERVER_PORT", "9000")
		t.Setenv("SERVER_WRITE_TIMEOUT", "60")
		t.Setenv("OPENAI_API_KEY", "sk-test-key")
		t.Setenv("OPENAI_BASE_URL", "https://test.openai.com")
		t.Setenv("OPENAI_MAX_RETRIES", "5")
		t.Setenv("COMPLETION_TRANSPORT", "echo")
		t.Setenv("COMPLETION_CHARS_PER_TOKEN", "3.5")
		t.Setenv("COMPLETION_MESSAGE_OVERHEAD", "0")
		t.Setenv("MODEL_CATALOG_FILE", "/etc/flow/models.yaml")
		t.Setenv("REDIS_ADDR", "localhost:6379")
		t.Setenv("REDIS_DB", "2")
		t.Setenv("LOG_LEVEL", "debug")

		cfg := config.Load()

		require.NotNil(t, cfg)

		require.Equal(t, "0.0.0.0", cfg.Server.Host)
		require.Equal(t, 9000, cfg.Server.Port)
		require.Equal(t, 60, cfg.Server.WriteTimeout)
		require.Equal(t, "sk-test-key", cfg.OpenAI.APIKey)
		require.Equal(t, "https://test.openai.com", cfg.OpenAI.BaseURL)
		require.Equal(t, 5, cfg.OpenAI.MaxRetries)
		require.Equal(t, config.TransportEcho, cfg.Completion.Transport)
		require.InDelta(t, 3.5, cfg.Completion.CharsPerToken, 0.0001)
		require.Equal(t, 0, cfg.Completion.MessageOverhead)
		require.Equal(t, "/etc/flow/models.yaml", cfg.Completion.CatalogFile)
		require.Equal(t, "localhost:6379", cfg.Usage.RedisAddr)
		require.Equal(t, 2, cfg.Usage.RedisDB)
		require.Equal(t, "debug", cfg.Log.Level)
	})
}

func TestParseDependenciesConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.Port = 1234

	deps := config.ParseDependenciesConfig(cfg)

	require.Same(t, &cfg.Server, deps.ServerConfig)
	require.Same(t, &cfg.Completion, deps.CompletionConfig)
	require.Same(t, &cfg.Usage, deps.UsageConfig)
	require.Same(t, &cfg.Log, deps.LogConfig)
	require.Equal(t, 1234, deps.ServerConfig.Port)
}
