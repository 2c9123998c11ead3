package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/dig"

	"github.com/davidbz/flow/internal/observability"
	"github.com/davidbz/flow/internal/provider/openai"
)

// Transport names accepted by COMPLETION_TRANSPORT.
const (
	TransportOpenAI = "openai"
	TransportEcho   = "echo"
)

// Config represents the bridge configuration.
type Config struct {
	Server     ServerConfig
	CORS       CORSConfig
	OpenAI     openai.Config
	Completion CompletionConfig
	Usage      UsageConfig
	Log        observability.LogConfig
}

// ServerConfig contains local HTTP bridge settings. A WriteTimeout of 0 leaves
// streams unbounded; they end when the completion ends or the client goes away.
type ServerConfig struct {
	Host         string `env:"SERVER_HOST"          envDefault:"127.0.0.1"`
	Port         int    `env:"SERVER_PORT"          envDefault:"8080"`
	ReadTimeout  int    `env:"SERVER_READ_TIMEOUT"  envDefault:"30"`
	WriteTimeout int    `env:"SERVER_WRITE_TIMEOUT" envDefault:"0"`
}

// CORSConfig contains CORS policy settings.
type CORSConfig struct {
	AllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS"   envSeparator:"," envDefault:"*"`
	AllowedMethods   []string `env:"CORS_ALLOWED_METHODS"   envSeparator:"," envDefault:"GET,POST,DELETE,OPTIONS"`
	AllowedHeaders   []string `env:"CORS_ALLOWED_HEADERS"   envSeparator:"," envDefault:"Content-Type,Authorization"`
	ExposedHeaders   []string `env:"CORS_EXPOSED_HEADERS"   envSeparator:"," envDefault:"X-Session-Id,X-Request-Id"`
	AllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS"                  envDefault:"false"`
	MaxAge           int      `env:"CORS_MAX_AGE"                            envDefault:"86400"`
}

// CompletionConfig controls the completion pipeline.
//   - Transport: "openai" streams from OPENAI_BASE_URL, "echo" answers locally
//   - CharsPerToken: ratio used by the token estimator
//   - MessageOverhead: tokens added per message on top of its content estimate
//   - CatalogFile: optional YAML file with extra or overriding model entries
type CompletionConfig struct {
	Transport       string  `env:"COMPLETION_TRANSPORT"        envDefault:"openai"`
	CharsPerToken   float64 `env:"COMPLETION_CHARS_PER_TOKEN"  envDefault:"4"`
	MessageOverhead int     `env:"COMPLETION_MESSAGE_OVERHEAD" envDefault:"4"`
	CatalogFile     string  `env:"MODEL_CATALOG_FILE"`
}

// UsageConfig selects the usage store. An empty RedisAddr keeps usage in memory.
type UsageConfig struct {
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"          envDefault:"0"`
	SessionTTL    int    `env:"USAGE_SESSION_TTL" envDefault:"86400"`
}

// DepConfig is used for dependency injection with dig.
type DepConfig struct {
	dig.Out
	*ServerConfig
	*CORSConfig
	*openai.Config
	*CompletionConfig
	*UsageConfig
	*observability.LogConfig
}

// Load loads environment files and parses configuration.
func Load() *Config {
	for _, file := range []string{".env"} {
		_ = godotenv.Load(file)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		panic(err)
	}

	return &cfg
}

// ParseDependenciesConfig returns pointers to sub-configs for dependency injection.
func ParseDependenciesConfig(cfg *Config) DepConfig {
	return DepConfig{
		dig.Out{},
		&cfg.Server,
		&cfg.CORS,
		&cfg.OpenAI,
		&cfg.Completion,
		&cfg.Usage,
		&cfg.Log,
	}
}
