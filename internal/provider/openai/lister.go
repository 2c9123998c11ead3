package openai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/davidbz/flow/internal/observability"
)

// ModelLister enumerates remote models and verifies API keys with GET {BaseURL}/models.
// Model lists are cached per key fingerprint.
type ModelLister struct {
	config Config
	cache  *lru.Cache[string, []string]
}

// NewModelLister creates a new model lister.
func NewModelLister(config Config) (*ModelLister, error) {
	size := config.ModelCacheSize
	if size <= 0 {
		size = 1
	}

	cache, err := lru.New[string, []string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create model cache: %w", err)
	}

	return &ModelLister{
		config: config,
		cache:  cache,
	}, nil
}

// List returns the ids of the models the key can use, sorted.
func (l *ModelLister) List(ctx context.Context, apiKey string) ([]string, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	fingerprint := keyFingerprint(apiKey)
	if ids, ok := l.cache.Get(fingerprint); ok {
		return ids, nil
	}

	logger := observability.FromContext(ctx)
	logger.Debug("listing OpenAI models")

	client := l.newClient(apiKey)
	page, err := client.Models.List(ctx)
	if err != nil {
		logger.Warn("OpenAI model listing failed", observability.Error(err))
		return nil, fmt.Errorf("OpenAI model listing failed: %w", err)
	}

	ids := make([]string, 0, len(page.Data))
	for _, model := range page.Data {
		ids = append(ids, model.ID)
	}
	sort.Strings(ids)

	l.cache.Add(fingerprint, ids)

	return ids, nil
}

// Verify reports whether the key is accepted. An authentication failure is (false, nil);
// other failures are returned as errors.
func (l *ModelLister) Verify(ctx context.Context, apiKey string) (bool, error) {
	if apiKey == "" {
		return false, nil
	}

	_, err := l.List(ctx, apiKey)
	if err == nil {
		return true, nil
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) &&
		(apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
		return false, nil
	}

	return false, err
}

func (l *ModelLister) newClient(apiKey string) openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(l.config.MaxRetries),
	}

	if l.config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(l.config.BaseURL))
	}

	if l.config.ListTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(time.Duration(l.config.ListTimeout)*time.Second))
	}

	return openai.NewClient(opts...)
}

func keyFingerprint(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}
