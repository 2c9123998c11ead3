// Package usage keeps per-model token accounting for completed sessions.
package usage

import (
	"context"
	"errors"
	"sync"

	"github.com/davidbz/flow/internal/domain"
)

// Totals aggregates usage for one model.
type Totals struct {
	Model            string  `json:"model"`
	Requests         int64   `json:"requests"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	Cost             float64 `json:"cost"`
}

// Add folds one usage record into the totals.
func (t *Totals) Add(u domain.Usage) {
	t.Requests++
	t.PromptTokens += int64(u.PromptTokens)
	t.CompletionTokens += int64(u.CompletionTokens)
	t.TotalTokens += int64(u.TotalTokens)
	t.Cost += u.Cost
}

// Store records usage and reports totals.
type Store interface {
	domain.UsageRecorder

	// Totals returns the accumulated usage for a model. Unknown models yield zero totals.
	Totals(ctx context.Context, model string) (Totals, error)
}

// MemoryStore keeps totals in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	totals map[string]Totals
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu:     sync.RWMutex{},
		totals: make(map[string]Totals),
	}
}

// Record adds usage to the model's totals.
func (s *MemoryStore) Record(_ context.Context, u domain.Usage) error {
	if u.Model == "" {
		return errors.New("model cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	totals := s.totals[u.Model]
	totals.Model = u.Model
	totals.Add(u)
	s.totals[u.Model] = totals

	return nil
}

// Totals returns the model's totals.
func (s *MemoryStore) Totals(_ context.Context, model string) (Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals, ok := s.totals[model]
	if !ok {
		return Totals{Model: model}, nil
	}
	return totals, nil
}
