// Package redis stores usage totals in Redis hashes.
//
// Per model:   usage:model:<id>     requests, prompt_tokens, completion_tokens, total_tokens, cost
// Per session: usage:session:<id>   the usage record, expiring after the configured TTL
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/davidbz/flow/internal/domain"
	"github.com/davidbz/flow/internal/observability"
	"github.com/davidbz/flow/internal/usage"
)

const (
	modelKeyPrefix   = "usage:model:"
	sessionKeyPrefix = "usage:session:"
)

// Ledger implements usage.Store on Redis.
type Ledger struct {
	client     redis.Cmdable
	sessionTTL time.Duration
}

// NewLedger creates a new Redis usage ledger.
func NewLedger(client redis.Cmdable, sessionTTL time.Duration) *Ledger {
	return &Ledger{
		client:     client,
		sessionTTL: sessionTTL,
	}
}

// ModelKey returns the hash key holding a model's totals.
func ModelKey(model string) string {
	return modelKeyPrefix + model
}

// SessionKey returns the hash key holding one session's usage.
func SessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

// Record increments the model totals and stores the session record atomically.
func (l *Ledger) Record(ctx context.Context, u domain.Usage) error {
	if u.Model == "" {
		return errors.New("model cannot be empty")
	}

	logger := observability.FromContext(ctx)

	pipe := l.client.TxPipeline()

	modelKey := ModelKey(u.Model)
	pipe.HIncrBy(ctx, modelKey, "requests", 1)
	pipe.HIncrBy(ctx, modelKey, "prompt_tokens", int64(u.PromptTokens))
	pipe.HIncrBy(ctx, modelKey, "completion_tokens", int64(u.CompletionTokens))
	pipe.HIncrBy(ctx, modelKey, "total_tokens", int64(u.TotalTokens))
	pipe.HIncrByFloat(ctx, modelKey, "cost", u.Cost)

	if u.SessionID != "" {
		sessionKey := SessionKey(u.SessionID)
		pipe.HSet(ctx, sessionKey,
			"model", u.Model,
			"prompt_tokens", u.PromptTokens,
			"completion_tokens", u.CompletionTokens,
			"total_tokens", u.TotalTokens,
			"cost", u.Cost,
			"recorded_at", time.Now().Unix(),
		)
		if l.sessionTTL > 0 {
			pipe.Expire(ctx, sessionKey, l.sessionTTL)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		logger.Error("usage record failed", observability.Error(err))
		return fmt.Errorf("failed to record usage: %w", err)
	}

	logger.Debug("usage recorded", observability.Int("total_tokens", u.TotalTokens))
	return nil
}

// Totals reads a model's totals.
func (l *Ledger) Totals(ctx context.Context, model string) (usage.Totals, error) {
	fields, err := l.client.HGetAll(ctx, ModelKey(model)).Result()
	if err != nil {
		return usage.Totals{}, fmt.Errorf("failed to read usage: %w", err)
	}

	return ParseTotals(model, fields)
}

// ParseTotals converts a model hash into Totals. Missing fields count as zero.
func ParseTotals(model string, fields map[string]string) (usage.Totals, error) {
	totals := usage.Totals{Model: model}

	ints := []struct {
		field string
		dst   *int64
	}{
		{"requests", &totals.Requests},
		{"prompt_tokens", &totals.PromptTokens},
		{"completion_tokens", &totals.CompletionTokens},
		{"total_tokens", &totals.TotalTokens},
	}

	for _, f := range ints {
		raw, ok := fields[f.field]
		if !ok {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return usage.Totals{}, fmt.Errorf("field %s: %w", f.field, err)
		}
		*f.dst = v
	}

	if raw, ok := fields["cost"]; ok {
		cost, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return usage.Totals{}, fmt.Errorf("field cost: %w", err)
		}
		totals.Cost = cost
	}

	return totals, nil
}
