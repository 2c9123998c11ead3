package domain

import (
	"context"
	"errors"
)

// UsageCost prices usage at the model's per-1K token rates.
func UsageCost(info ModelInfo, usage Usage) float64 {
	input := float64(usage.PromptTokens) * info.InputCostPer1K
	output := float64(usage.CompletionTokens) * info.OutputCostPer1K
	return (input + output) / 1000
}

// CatalogCostCalculator prices usage with the rates stored in the model catalog.
type CatalogCostCalculator struct {
	catalog ModelCatalog
}

// NewCatalogCostCalculator creates a cost calculator backed by catalog.
func NewCatalogCostCalculator(catalog ModelCatalog) *CatalogCostCalculator {
	return &CatalogCostCalculator{catalog: catalog}
}

// Calculate returns the cost of usage on model. Models missing from the catalog are free;
// pricing never fails a completed session.
func (c *CatalogCostCalculator) Calculate(ctx context.Context, model string, usage Usage) (float64, error) {
	if model == "" {
		return 0, invalidParamsf("model is required for pricing")
	}

	info, err := c.catalog.Lookup(ctx, model)
	switch {
	case errors.Is(err, ErrUnknownModel):
		return 0, nil
	case err != nil:
		return 0, err
	}

	return UsageCost(info, usage), nil
}
