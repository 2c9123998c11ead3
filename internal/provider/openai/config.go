package openai

// Config contains OpenAI provider configuration.
//   - APIKey: fallback bearer key when the caller supplies none
//   - BaseURL: endpoint root; the transport posts to BaseURL + "/chat/completions"
//   - ListTimeout: request timeout for model listing, in seconds. Streaming requests have
//     no timeout; callers cancel them through their context.
//   - MaxRetries: retries for model listing (option.WithMaxRetries). Streaming is never retried.
//   - ModelCacheSize: number of API keys whose model lists are cached
type Config struct {
	APIKey         string `env:"OPENAI_API_KEY"`
	BaseURL        string `env:"OPENAI_BASE_URL"         envDefault:"https://api.openai.com/v1"`
	ListTimeout    int    `env:"OPENAI_LIST_TIMEOUT"     envDefault:"30"`
	MaxRetries     int    `env:"OPENAI_MAX_RETRIES"      envDefault:"2"`
	ModelCacheSize int    `env:"OPENAI_MODEL_CACHE_SIZE" envDefault:"16"`
}
