package domain

import "context"

// TokenEstimator approximates the token cost of text.
type TokenEstimator interface {
	// Estimate returns the estimated token count. It must be monotonic in text length.
	Estimate(text string) int
}

// ModelCatalog maps model ids to their context windows.
type ModelCatalog interface {
	// Lookup returns the model info or an error wrapping ErrUnknownModel.
	Lookup(ctx context.Context, modelID string) (ModelInfo, error)

	// Register adds or replaces a model entry.
	Register(ctx context.Context, info ModelInfo) error

	// List returns all registered model ids in sorted order.
	List(ctx context.Context) []string
}

// Transport opens one streaming request against the completion endpoint.
type Transport interface {
	// Open posts payload with the bearer key. A non-2xx response is returned as
	// *RemoteRejectedError. On success the channel yields raw body chunks in order and is
	// closed when the body ends; a read failure arrives as a final Chunk with Err set.
	// Cancelling ctx tears down the connection.
	Open(ctx context.Context, payload []byte, apiKey string) (<-chan Chunk, error)

	// Name returns the transport identifier.
	Name() string
}

// StreamDecoder incrementally decodes raw chunks into delta events.
type StreamDecoder interface {
	// Feed consumes one chunk and returns the deltas completed by it. done reports that
	// the end-of-stream sentinel was seen; no deltas after it are returned.
	Feed(chunk []byte) (deltas []DeltaEvent, done bool)

	// Flush decodes a final unterminated frame at end of body.
	Flush() (deltas []DeltaEvent, done bool)
}

// DecoderFactory creates one decoder per session.
type DecoderFactory func(ctx context.Context) StreamDecoder

// CredentialSupplier returns the bearer token used for a request.
type CredentialSupplier interface {
	APIKey(ctx context.Context) (string, error)
}

// StaticCredential is a CredentialSupplier backed by a fixed key.
type StaticCredential string

// APIKey returns the key, or ErrInvalidParams when it is empty.
func (c StaticCredential) APIKey(_ context.Context) (string, error) {
	if c == "" {
		return "", invalidParamsf("API key is required")
	}
	return string(c), nil
}

// UsageRecorder persists usage for completed sessions.
type UsageRecorder interface {
	Record(ctx context.Context, usage Usage) error
}

// CostCalculator calculates cost based on token usage.
type CostCalculator interface {
	// Calculate returns the total cost for a given model and usage.
	Calculate(ctx context.Context, model string, usage Usage) (float64, error)
}

// EventPublisher publishes events for observability.
type EventPublisher interface {
	// Publish publishes an event with the given type and data.
	Publish(ctx context.Context, eventType string, data map[string]interface{})
}
