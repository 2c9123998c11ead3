package openai

import (
	"context"
	"fmt"

	"github.com/davidbz/flow/internal/domain"
)

const (
	// GPT-4 pricing per 1K tokens
	gpt4InputCostPer1K  = 0.03
	gpt4OutputCostPer1K = 0.06

	// GPT-4 32K pricing per 1K tokens
	gpt432kInputCostPer1K  = 0.06
	gpt432kOutputCostPer1K = 0.12

	// GPT-4 Turbo pricing per 1K tokens
	gpt4TurboInputCostPer1K  = 0.01
	gpt4TurboOutputCostPer1K = 0.03

	// GPT-4o pricing per 1K tokens
	gpt4oInputCostPer1K  = 0.0025
	gpt4oOutputCostPer1K = 0.01

	// GPT-4o mini pricing per 1K tokens
	gpt4oMiniInputCostPer1K  = 0.00015
	gpt4oMiniOutputCostPer1K = 0.0006

	// GPT-3.5 Turbo pricing per 1K tokens
	gpt35TurboInputCostPer1K  = 0.0005
	gpt35TurboOutputCostPer1K = 0.0015
)

// DefaultModels returns the built-in context windows and pricing.
func DefaultModels() []domain.ModelInfo {
	return []domain.ModelInfo{
		{ID: "gpt-3.5-turbo", MaxContextTokens: 16385, InputCostPer1K: gpt35TurboInputCostPer1K, OutputCostPer1K: gpt35TurboOutputCostPer1K},
		{ID: "gpt-3.5-turbo-16k", MaxContextTokens: 16385, InputCostPer1K: gpt35TurboInputCostPer1K, OutputCostPer1K: gpt35TurboOutputCostPer1K},
		{ID: "gpt-4", MaxContextTokens: 8192, InputCostPer1K: gpt4InputCostPer1K, OutputCostPer1K: gpt4OutputCostPer1K},
		{ID: "gpt-4-32k", MaxContextTokens: 32768, InputCostPer1K: gpt432kInputCostPer1K, OutputCostPer1K: gpt432kOutputCostPer1K},
		{ID: "gpt-4-turbo", MaxContextTokens: 128000, InputCostPer1K: gpt4TurboInputCostPer1K, OutputCostPer1K: gpt4TurboOutputCostPer1K},
		{ID: "gpt-4-turbo-preview", MaxContextTokens: 128000, InputCostPer1K: gpt4TurboInputCostPer1K, OutputCostPer1K: gpt4TurboOutputCostPer1K},
		{ID: "gpt-4o", MaxContextTokens: 128000, InputCostPer1K: gpt4oInputCostPer1K, OutputCostPer1K: gpt4oOutputCostPer1K},
		{ID: "gpt-4o-mini", MaxContextTokens: 128000, InputCostPer1K: gpt4oMiniInputCostPer1K, OutputCostPer1K: gpt4oMiniOutputCostPer1K},
	}
}

// RegisterModels registers the built-in OpenAI models with the catalog.
func RegisterModels(ctx context.Context, catalog domain.ModelCatalog) error {
	for _, info := range DefaultModels() {
		if err := catalog.Register(ctx, info); err != nil {
			return fmt.Errorf("failed to register model %s: %w", info.ID, err)
		}
	}

	return nil
}
