// Package echo provides a transport that echoes the request back as an event stream.
// It makes no external calls. The stream is split into small fixed-size chunks so frames
// straddle chunk boundaries, which keeps the decoder honest during development.
package echo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/davidbz/flow/internal/domain"
	"github.com/davidbz/flow/internal/observability"
)

const (
	transportName    = "echo"
	defaultChunkSize = 7
)

// Transport implements domain.Transport without network access.
type Transport struct {
	name       string
	chunkSize  int
	chunkDelay time.Duration
}

// Option configures a Transport.
type Option func(*Transport)

// WithChunkSize sets the number of bytes per emitted chunk.
func WithChunkSize(size int) Option {
	return func(t *Transport) {
		if size > 0 {
			t.chunkSize = size
		}
	}
}

// WithChunkDelay sets a pause between chunks.
func WithChunkDelay(delay time.Duration) Option {
	return func(t *Transport) {
		t.chunkDelay = delay
	}
}

// NewTransport creates a new echo transport.
// No configuration is required as this transport operates entirely in-memory.
func NewTransport(opts ...Option) *Transport {
	t := &Transport{
		name:      transportName,
		chunkSize: defaultChunkSize,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the transport identifier.
func (t *Transport) Name() string {
	return t.name
}

type echoRequest struct {
	Model    string           `json:"model"`
	Messages []domain.Message `json:"messages"`
	Stream   bool             `json:"stream"`
}

// Open validates the payload like the remote service would and streams the echo back.
func (t *Transport) Open(ctx context.Context, payload []byte, apiKey string) (<-chan domain.Chunk, error) {
	if apiKey == "" {
		return nil, &domain.RemoteRejectedError{Status: http.StatusUnauthorized, Body: `{"error":{"message":"missing API key"}}`}
	}

	var req echoRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, &domain.RemoteRejectedError{Status: http.StatusBadRequest, Body: fmt.Sprintf(`{"error":{"message":%q}}`, err.Error())}
	}

	if req.Model != ModelName {
		return nil, &domain.RemoteRejectedError{
			Status: http.StatusNotFound,
			Body:   fmt.Sprintf(`{"error":{"message":"model %s is not supported by echo transport"}}`, req.Model),
		}
	}

	logger := observability.FromContext(ctx)
	logger.Debug("streaming echo request")

	body := buildEventStream(buildEchoContent(req.Messages))
	chunks := make(chan domain.Chunk)

	go func() {
		defer close(chunks)

		for start := 0; start < len(body); start += t.chunkSize {
			end := min(start+t.chunkSize, len(body))

			select {
			case <-ctx.Done():
				return
			case chunks <- domain.Chunk{Data: []byte(body[start:end])}:
			}

			if t.chunkDelay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(t.chunkDelay):
				}
			}
		}
	}()

	return chunks, nil
}

// buildEchoContent constructs the echo response from request messages.
func buildEchoContent(messages []domain.Message) string {
	if len(messages) == 0 {
		return ""
	}

	var builder strings.Builder
	for _, msg := range messages {
		builder.WriteString(fmt.Sprintf("[%s]: %s\n", msg.Role, msg.Content))
	}
	return builder.String()
}

type streamChunk struct {
	Choices []streamChoice `json:"choices"`
}

type streamChoice struct {
	Delta        map[string]string `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

// buildEventStream renders content as a role frame, one frame per word and a finish frame.
func buildEventStream(content string) string {
	var builder strings.Builder

	writeFrame := func(chunk streamChunk) {
		data, _ := json.Marshal(chunk)
		builder.WriteString("data: ")
		builder.Write(data)
		builder.WriteString("\n\n")
	}

	writeFrame(streamChunk{Choices: []streamChoice{{Delta: map[string]string{"role": string(domain.RoleAssistant)}}}})

	words := strings.Fields(content)
	for i, word := range words {
		delta := word
		if i < len(words)-1 {
			delta += " " // Add space between words
		}
		writeFrame(streamChunk{Choices: []streamChoice{{Delta: map[string]string{"content": delta}}}})
	}

	stop := "stop"
	writeFrame(streamChunk{Choices: []streamChoice{{Delta: map[string]string{}, FinishReason: &stop}}})
	builder.WriteString("data: [DONE]\n\n")

	return builder.String()
}
