// Package openai talks to an OpenAI-compatible chat completion endpoint. Client is the
// streaming transport; ModelLister enumerates remote models and verifies keys through the
// official SDK.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/davidbz/flow/internal/domain"
	"github.com/davidbz/flow/internal/observability"
)

const (
	transportName  = "openai"
	readBufferSize = 4096
)

// Client is the streaming transport for POST {BaseURL}/chat/completions.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new OpenAI HTTP client. The http.Client carries no timeout because a
// stream may legitimately stay open indefinitely.
func NewClient(config Config) *Client {
	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{},
	}
}

// Name returns the transport identifier.
func (c *Client) Name() string {
	return transportName
}

// Open sends the request and returns the body as a channel of raw chunks.
func (c *Client) Open(ctx context.Context, payload []byte, apiKey string) (<-chan domain.Chunk, error) {
	if apiKey == "" {
		return nil, errors.New("API key is not configured")
	}

	//nolint:bodyclose // Response body is closed in processStreamResponse goroutine
	resp, err := c.executeStreamRequest(ctx, payload, apiKey)
	if err != nil {
		return nil, err
	}

	chunks := make(chan domain.Chunk)
	go c.processStreamResponse(ctx, resp, chunks)

	return chunks, nil
}

// executeStreamRequest creates and executes the HTTP request for streaming.
func (c *Client) executeStreamRequest(ctx context.Context, payload []byte, apiKey string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/chat/completions",
		bytes.NewReader(payload),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %w", domain.ErrTransportFailure, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, fmt.Errorf("%w: reading error body for status %d: %w",
				domain.ErrTransportFailure, resp.StatusCode, readErr)
		}
		return nil, &domain.RemoteRejectedError{Status: resp.StatusCode, Body: string(body)}
	}

	return resp, nil
}

// processStreamResponse forwards body reads until EOF, a read error or cancellation.
func (c *Client) processStreamResponse(ctx context.Context, resp *http.Response, chunks chan<- domain.Chunk) {
	defer close(chunks)
	defer resp.Body.Close()

	logger := observability.FromContext(ctx)
	buf := make([]byte, readBufferSize)

	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])

			select {
			case chunks <- domain.Chunk{Data: data}:
			case <-ctx.Done():
				return
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Debug("OpenAI stream body ended")
				return
			}

			select {
			case chunks <- domain.Chunk{Err: fmt.Errorf("failed to read stream: %w", err)}:
			case <-ctx.Done():
			}
			return
		}
	}
}
