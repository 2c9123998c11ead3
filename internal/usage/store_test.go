package usage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/flow/internal/domain"
	"github.com/davidbz/flow/internal/usage"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := usage.NewMemoryStore()

	require.NoError(t, store.Record(ctx, domain.Usage{Model: "gpt-4", PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, Cost: 0.5}))
	require.NoError(t, store.Record(ctx, domain.Usage{Model: "gpt-4", PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3, Cost: 0.25}))

	totals, err := store.Totals(ctx, "gpt-4")
	require.NoError(t, err)
	require.Equal(t, usage.Totals{
		Model:            "gpt-4",
		Requests:         2,
		PromptTokens:     11,
		CompletionTokens: 7,
		TotalTokens:      18,
		Cost:             0.75,
	}, totals)

	t.Run("unknown model has zero totals", func(t *testing.T) {
		totals, err := store.Totals(ctx, "other")
		require.NoError(t, err)
		require.Equal(t, usage.Totals{Model: "other"}, totals)
	})

	t.Run("empty model is rejected", func(t *testing.T) {
		require.Error(t, store.Record(ctx, domain.Usage{}))
	})
}
