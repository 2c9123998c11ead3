package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// InMemoryModelCatalog stores model entries in memory.
type InMemoryModelCatalog struct {
	mu     sync.RWMutex
	models map[string]ModelInfo
}

// NewInMemoryModelCatalog creates a new in-memory model catalog.
func NewInMemoryModelCatalog() *InMemoryModelCatalog {
	return &InMemoryModelCatalog{
		mu:     sync.RWMutex{},
		models: make(map[string]ModelInfo),
	}
}

// Lookup retrieves the entry for a model. Unknown ids fail closed.
func (c *InMemoryModelCatalog) Lookup(
	_ context.Context,
	modelID string,
) (ModelInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info, exists := c.models[modelID]
	if !exists {
		return ModelInfo{}, fmt.Errorf("%w: %q", ErrUnknownModel, modelID)
	}

	return info, nil
}

// Register adds or replaces the entry for a model.
func (c *InMemoryModelCatalog) Register(
	_ context.Context,
	info ModelInfo,
) error {
	if info.ID == "" {
		return errors.New("model id cannot be empty")
	}

	if info.MaxContextTokens <= 0 {
		return fmt.Errorf("model %s: max context tokens must be positive", info.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.models[info.ID] = info
	return nil
}

// List returns the registered model ids, sorted.
func (c *InMemoryModelCatalog) List(_ context.Context) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.models))
	for id := range c.models {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}
