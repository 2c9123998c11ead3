// Package catalog loads model catalog entries from a YAML file.
//
//	models:
//	  - id: gpt-4o
//	    max_context_tokens: 128000
//	    input_cost_per_1k: 0.0025
//	    output_cost_per_1k: 0.01
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/davidbz/flow/internal/domain"
	"github.com/davidbz/flow/internal/observability"
)

type file struct {
	Models []domain.ModelInfo `yaml:"models"`
}

// Parse decodes catalog YAML. Unknown keys are rejected so typos do not silently
// leave a model without a window.
func Parse(data []byte) ([]domain.ModelInfo, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var parsed file
	if err := decoder.Decode(&parsed); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	seen := make(map[string]struct{}, len(parsed.Models))
	for i, info := range parsed.Models {
		if info.ID == "" {
			return nil, fmt.Errorf("catalog entry %d: id is required", i)
		}
		if info.MaxContextTokens <= 0 {
			return nil, fmt.Errorf("catalog entry %s: max_context_tokens must be positive", info.ID)
		}
		if _, dup := seen[info.ID]; dup {
			return nil, fmt.Errorf("catalog entry %s: duplicate id", info.ID)
		}
		seen[info.ID] = struct{}{}
	}

	return parsed.Models, nil
}

// LoadFile reads and parses a catalog file.
func LoadFile(path string) ([]domain.ModelInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return Parse(data)
}

// RegisterFile registers every entry of the file, overriding built-in entries with the
// same id. An empty path is a no-op.
func RegisterFile(ctx context.Context, catalog domain.ModelCatalog, path string) error {
	if path == "" {
		return nil
	}

	models, err := LoadFile(path)
	if err != nil {
		return err
	}

	for _, info := range models {
		if err := catalog.Register(ctx, info); err != nil {
			return fmt.Errorf("failed to register model %s: %w", info.ID, err)
		}
	}

	observability.FromContext(ctx).Info("loaded model catalog file",
		observability.String("path", path),
		observability.Int("models", len(models)))

	return nil
}
