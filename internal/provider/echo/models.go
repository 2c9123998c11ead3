package echo

import (
	"context"
	"fmt"

	"github.com/davidbz/flow/internal/domain"
)

// ModelName is the only model the echo transport accepts.
const ModelName = "echo4"

const (
	echo4ContextTokens   = 4096
	echo4InputCostPer1K  = 0.0
	echo4OutputCostPer1K = 0.0
)

// RegisterModels registers the echo model with the catalog.
// Echo models have zero cost as they are for testing purposes only.
func RegisterModels(ctx context.Context, catalog domain.ModelCatalog) error {
	if err := catalog.Register(ctx, domain.ModelInfo{
		ID:               ModelName,
		MaxContextTokens: echo4ContextTokens,
		InputCostPer1K:   echo4InputCostPer1K,
		OutputCostPer1K:  echo4OutputCostPer1K,
	}); err != nil {
		return fmt.Errorf("failed to register echo model: %w", err)
	}
	return nil
}
