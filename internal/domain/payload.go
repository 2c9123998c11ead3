package domain

import (
	"encoding/json"
	"fmt"
)

type wireMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// PayloadBuilder assembles the wire request body.
type PayloadBuilder struct{}

// NewPayloadBuilder creates a payload builder.
func NewPayloadBuilder() *PayloadBuilder {
	return &PayloadBuilder{}
}

// Build projects messages to {role, content}, copies the allow-listed parameters, parses
// logit_bias into a numeric map, drops max_tokens when it is 0 and always sets stream.
// Invalid logit bias fails here even if validation was skipped upstream.
func (b *PayloadBuilder) Build(truncated TruncatedRequest, params ChatCompletionParams) ([]byte, error) {
	payload, err := b.Fields(truncated, params)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	return body, nil
}

// Fields returns the payload as a map before serialisation.
func (b *PayloadBuilder) Fields(truncated TruncatedRequest, params ChatCompletionParams) (map[string]any, error) {
	messages := make([]wireMessage, len(truncated.Messages))
	for i, msg := range truncated.Messages {
		if !msg.Role.Valid() {
			return nil, invalidParamsf("message %d has unknown role %q", i, msg.Role)
		}
		messages[i] = wireMessage{Role: msg.Role, Content: msg.Content}
	}

	payload := make(map[string]any, len(ParamKeys)+2)
	payload["messages"] = messages
	payload["stream"] = true

	for _, key := range ParamKeys {
		switch key {
		case "model":
			payload[key] = params.Model
		case "temperature":
			payload[key] = params.Temperature
		case "top_p":
			payload[key] = params.TopP
		case "n":
			payload[key] = params.N
		case "stop":
			if params.Stop != "" {
				payload[key] = params.Stop
			}
		case "max_tokens":
			if params.MaxTokens > 0 {
				payload[key] = params.MaxTokens
			}
		case "presence_penalty":
			payload[key] = params.PresencePenalty
		case "frequency_penalty":
			payload[key] = params.FrequencyPenalty
		case "logit_bias":
			bias, err := ParseLogitBias(params.LogitBias)
			if err != nil {
				return nil, err
			}
			payload[key] = bias
		}
	}

	return payload, nil
}
