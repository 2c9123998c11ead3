package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/davidbz/flow/internal/observability"
)

// ChatServiceConfig collects the collaborators of ChatService.
type ChatServiceConfig struct {
	Catalog        ModelCatalog
	Estimator      TokenEstimator
	Truncator      *MessageTruncator
	Builder        *PayloadBuilder
	Transport      Transport
	NewDecoder     DecoderFactory
	CostCalculator CostCalculator
	Recorder       UsageRecorder
	Events         EventPublisher
}

// ChatService starts and tracks completion sessions.
type ChatService struct {
	catalog        ModelCatalog
	estimator      TokenEstimator
	truncator      *MessageTruncator
	builder        *PayloadBuilder
	transport      Transport
	newDecoder     DecoderFactory
	costCalculator CostCalculator
	recorder       UsageRecorder
	events         EventPublisher

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewChatService creates a new chat service (DI constructor).
func NewChatService(cfg ChatServiceConfig) (*ChatService, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("model catalog is required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if cfg.NewDecoder == nil {
		return nil, errors.New("decoder factory is required")
	}

	estimator := cfg.Estimator
	if estimator == nil {
		estimator = NewCharEstimator(DefaultCharsPerToken)
	}
	truncator := cfg.Truncator
	if truncator == nil {
		truncator = NewMessageTruncator(estimator, DefaultMessageOverhead)
	}
	builder := cfg.Builder
	if builder == nil {
		builder = NewPayloadBuilder()
	}

	return &ChatService{
		catalog:        cfg.Catalog,
		estimator:      estimator,
		truncator:      truncator,
		builder:        builder,
		transport:      cfg.Transport,
		newDecoder:     cfg.NewDecoder,
		costCalculator: cfg.CostCalculator,
		recorder:       cfg.Recorder,
		events:         cfg.Events,
		sessions:       make(map[string]*Session),
	}, nil
}

// StartCompletion validates the request, truncates history to the model's window, builds the
// payload and starts a session. Anything that prevents a well-formed request is returned here;
// later failures go through callbacks. Cancelling ctx aborts the session.
func (c *ChatService) StartCompletion(
	ctx context.Context,
	history []Message,
	params ChatCompletionParams,
	credentials CredentialSupplier,
	callbacks Callbacks,
) (*Session, error) {
	if len(history) == 0 {
		return nil, invalidParamsf("history cannot be empty")
	}

	if credentials == nil {
		return nil, invalidParamsf("credentials are required")
	}

	if err := params.Validate(); err != nil {
		return nil, err
	}

	sessionID := observability.GenerateSessionID()
	ctx = observability.WithSessionID(ctx, sessionID)
	ctx = observability.WithModel(ctx, params.Model)
	logger := observability.FromContext(ctx)

	modelInfo, err := c.catalog.Lookup(ctx, params.Model)
	if err != nil {
		return nil, fmt.Errorf("model lookup failed: %w", err)
	}

	apiKey, err := credentials.APIKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("credential lookup failed: %w", err)
	}

	truncated, err := c.truncator.Truncate(ctx, history, modelInfo, params.MaxTokens)
	if err != nil {
		return nil, err
	}

	if truncated.Oversized {
		warning := fmt.Errorf("%w: most recent message costs %d tokens, window %d, reserved %d",
			ErrOversizedMessage, truncated.EstimatedTokens, modelInfo.MaxContextTokens, params.MaxTokens)
		logger.Warn("sending oversized message", observability.Error(warning))
		if callbacks.OnWarning != nil {
			callbacks.OnWarning(KindOversizedMessage, warning)
		}
	}

	payload, err := c.builder.Build(truncated, params)
	if err != nil {
		return nil, fmt.Errorf("failed to build payload: %w", err)
	}

	session := newSession(sessionConfig{
		id:        sessionID,
		model:     params.Model,
		payload:   payload,
		inputText: joinContents(truncated.Messages),
		transport: c.transport,
		decoder:   c.newDecoder(ctx),
		estimator: c.estimator,
		callbacks: callbacks,
		onFinish:  c.sessionFinished,
	})

	c.mu.Lock()
	c.sessions[sessionID] = session
	c.mu.Unlock()

	c.publish(ctx, "session.started", map[string]interface{}{
		"model":            params.Model,
		"history_messages": len(history),
		"sent_messages":    len(truncated.Messages),
		"input_tokens":     truncated.EstimatedTokens,
	})

	if err := session.Start(ctx, apiKey); err != nil {
		c.forget(sessionID)
		return nil, err
	}

	return session, nil
}

// Cancel aborts the session with the given handle.
func (c *ChatService) Cancel(_ context.Context, sessionID string) error {
	session, ok := c.Session(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	session.Cancel()
	return nil
}

// Session returns a live session by handle.
func (c *ChatService) Session(sessionID string) (*Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	session, ok := c.sessions[sessionID]
	return session, ok
}

// ActiveSessions returns the number of sessions not yet terminated.
func (c *ChatService) ActiveSessions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

func (c *ChatService) sessionFinished(ctx context.Context, session *Session) {
	c.forget(session.ID())

	result, err := session.Result()
	logger := observability.FromContext(ctx)

	switch result.TerminationReason {
	case TerminationCompleted:
		usage := Usage{
			SessionID:        result.SessionID,
			Model:            result.Model,
			PromptTokens:     result.PromptTokens,
			CompletionTokens: result.CompletionTokens,
			TotalTokens:      result.TokensUsed,
		}
		if c.costCalculator != nil {
			usage.Cost, _ = c.costCalculator.Calculate(ctx, usage.Model, usage)
		}
		if c.recorder != nil {
			if recordErr := c.recorder.Record(ctx, usage); recordErr != nil {
				logger.Warn("failed to record usage", observability.Error(recordErr))
			}
		}
		c.publish(ctx, "session.completed", map[string]interface{}{
			"tokens_used": usage.TotalTokens,
			"cost":        usage.Cost,
		})
	case TerminationAborted:
		c.publish(ctx, "session.aborted", map[string]interface{}{
			"partial_length": len(result.FullText),
		})
	default:
		logger.Error("session failed", observability.Error(err))
		c.publish(ctx, "session.errored", map[string]interface{}{
			"kind": string(KindOf(err)),
		})
	}
}

func (c *ChatService) forget(sessionID string) {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()
}

func (c *ChatService) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if c.events != nil {
		c.events.Publish(ctx, eventType, data)
	}
}

func joinContents(messages []Message) string {
	contents := make([]string, len(messages))
	for i, msg := range messages {
		contents[i] = msg.Content
	}
	return strings.Join(contents, "\n")
}
