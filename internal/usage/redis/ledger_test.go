package redis_test

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/davidbz/flow/internal/domain"
	"github.com/davidbz/flow/internal/usage"
	"github.com/davidbz/flow/internal/usage/redis"
)

func TestKeys(t *testing.T) {
	require.Equal(t, "usage:model:gpt-4", redis.ModelKey("gpt-4"))
	require.Equal(t, "usage:session:abc", redis.SessionKey("abc"))
}

func TestParseTotals(t *testing.T) {
	tests := []struct {
		name        string
		fields      map[string]string
		expected    usage.Totals
		expectError bool
	}{
		{
			name: "all fields",
			fields: map[string]string{
				"requests":          "3",
				"prompt_tokens":     "120",
				"completion_tokens": "80",
				"total_tokens":      "200",
				"cost":              "0.0125",
			},
			expected: usage.Totals{
				Model:            "gpt-4",
				Requests:         3,
				PromptTokens:     120,
				CompletionTokens: 80,
				TotalTokens:      200,
				Cost:             0.0125,
			},
		},
		{
			name:     "missing hash",
			fields:   map[string]string{},
			expected: usage.Totals{Model: "gpt-4"},
		},
		{
			name:        "corrupt counter",
			fields:      map[string]string{"requests": "many"},
			expectError: true,
		},
		{
			name:        "corrupt cost",
			fields:      map[string]string{"cost": "free"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			totals, err := redis.ParseTotals("gpt-4", tt.fields)

			if tt.expectError {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tt.expected, totals)
		})
	}
}

func TestLedger_Record_UnreachableServer(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	ledger := redis.NewLedger(client, time.Hour)

	err := ledger.Record(context.Background(), domain.Usage{SessionID: "s", Model: "gpt-4", TotalTokens: 1})
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to record usage")

	require.Error(t, ledger.Record(context.Background(), domain.Usage{}))
}
