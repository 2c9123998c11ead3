package domain

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// DefaultModel is used when the settings do not name a model.
const DefaultModel = "gpt-3.5-turbo"

const (
	minTemperature = 0.0
	maxTemperature = 2.0
	minPenalty     = -2.0
	maxPenalty     = 2.0
	maxLogitBias   = 100.0
)

// ChatCompletionParams are the sampling parameters for one request.
// MaxTokens of 0 means unbounded; LogitBias is raw JSON text ("" means none).
type ChatCompletionParams struct {
	Model            string  `json:"model"`
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"top_p"`
	N                int     `json:"n"`
	Stop             string  `json:"stop"`
	MaxTokens        int     `json:"max_tokens"`
	PresencePenalty  float64 `json:"presence_penalty"`
	FrequencyPenalty float64 `json:"frequency_penalty"`
	LogitBias        string  `json:"logit_bias"`
}

// ParamKeys is the allow-list of parameter keys forwarded to the remote service.
//
//nolint:gochecknoglobals // read-only allow-list
var ParamKeys = []string{
	"model",
	"temperature",
	"top_p",
	"n",
	"stop",
	"max_tokens",
	"presence_penalty",
	"frequency_penalty",
	"logit_bias",
}

// DefaultParams returns the parameters used for a fresh settings form.
func DefaultParams() ChatCompletionParams {
	return ChatCompletionParams{
		Model:            DefaultModel,
		Temperature:      1,
		TopP:             1,
		N:                1,
		Stop:             "",
		MaxTokens:        0,
		PresencePenalty:  0,
		FrequencyPenalty: 0,
		LogitBias:        "",
	}
}

// Validate checks ranges and the logit bias text. Errors wrap ErrInvalidParams.
func (p ChatCompletionParams) Validate() error {
	if p.Model == "" {
		return invalidParamsf("model is required")
	}
	if p.Temperature < minTemperature || p.Temperature > maxTemperature {
		return invalidParamsf("temperature must be within [%g, %g], got %g", minTemperature, maxTemperature, p.Temperature)
	}
	if p.TopP < 0 || p.TopP > 1 {
		return invalidParamsf("top_p must be within [0, 1], got %g", p.TopP)
	}
	if p.N < 1 {
		return invalidParamsf("n must be at least 1, got %d", p.N)
	}
	if p.MaxTokens < 0 {
		return invalidParamsf("max_tokens must not be negative, got %d", p.MaxTokens)
	}
	if p.PresencePenalty < minPenalty || p.PresencePenalty > maxPenalty {
		return invalidParamsf("presence_penalty must be within [%g, %g], got %g", minPenalty, maxPenalty, p.PresencePenalty)
	}
	if p.FrequencyPenalty < minPenalty || p.FrequencyPenalty > maxPenalty {
		return invalidParamsf("frequency_penalty must be within [%g, %g], got %g", minPenalty, maxPenalty, p.FrequencyPenalty)
	}
	if _, err := ParseLogitBias(p.LogitBias); err != nil {
		return err
	}
	return nil
}

// ParseLogitBias parses the textual logit bias into a token-id to bias map.
// Blank text yields an empty map. Keys must be non-negative integers and values
// numbers within [-100, 100].
func ParseLogitBias(raw string) (map[string]float64, error) {
	bias := map[string]float64{}
	if strings.TrimSpace(raw) == "" {
		return bias, nil
	}

	var parsed map[string]json.Number
	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&parsed); err != nil {
		return nil, invalidParamsf("logit_bias is not a JSON object of numbers: %v", err)
	}
	if decoder.More() {
		return nil, invalidParamsf("logit_bias has trailing data")
	}

	for key, value := range parsed {
		if _, err := strconv.ParseUint(key, 10, 64); err != nil {
			return nil, invalidParamsf("logit_bias key %q is not a token id", key)
		}
		f, err := value.Float64()
		if err != nil {
			return nil, invalidParamsf("logit_bias value for %q is not a number", key)
		}
		if f < -maxLogitBias || f > maxLogitBias {
			return nil, invalidParamsf("logit_bias value for %q must be within [-100, 100], got %g", key, f)
		}
		bias[key] = f
	}

	return bias, nil
}

// ParamsFromSettings projects a settings form onto ChatCompletionParams. Only keys in
// ParamKeys are read; the remaining keys are returned, sorted, as ignored. Missing keys keep
// their defaults. logit_bias may be given as JSON text or as an inline object.
func ParamsFromSettings(settings map[string]json.RawMessage) (ChatCompletionParams, []string, error) {
	params := DefaultParams()
	ignored := make([]string, 0)

	allowed := make(map[string]struct{}, len(ParamKeys))
	for _, key := range ParamKeys {
		allowed[key] = struct{}{}
	}

	for key, raw := range settings {
		if _, ok := allowed[key]; !ok {
			ignored = append(ignored, key)
			continue
		}
		if err := assignParam(&params, key, raw); err != nil {
			return ChatCompletionParams{}, nil, err
		}
	}
	sort.Strings(ignored)

	return params, ignored, nil
}

func assignParam(params *ChatCompletionParams, key string, raw json.RawMessage) error {
	var target any
	switch key {
	case "model":
		target = &params.Model
	case "temperature":
		target = &params.Temperature
	case "top_p":
		target = &params.TopP
	case "n":
		target = &params.N
	case "stop":
		target = &params.Stop
	case "max_tokens":
		target = &params.MaxTokens
	case "presence_penalty":
		target = &params.PresencePenalty
	case "frequency_penalty":
		target = &params.FrequencyPenalty
	case "logit_bias":
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) > 0 && trimmed[0] == '{' {
			params.LogitBias = string(trimmed)
			return nil
		}
		target = &params.LogitBias
	default:
		return invalidParamsf("unsupported parameter %q", key)
	}

	if err := json.Unmarshal(raw, target); err != nil {
		return invalidParamsf("%s: %v", key, err)
	}
	return nil
}
