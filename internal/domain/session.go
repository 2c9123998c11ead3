package domain

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/davidbz/flow/internal/observability"
)

// Callbacks receive a session's events. All are optional. OnDelta is called from the
// session's goroutine in wire order; it must not block for long.
type Callbacks struct {
	OnDelta   func(fragment string)
	OnEnd     func(result CompletionResult)
	OnError   func(kind ErrorKind, err error)
	OnWarning func(kind ErrorKind, err error)
}

// Session owns one in-flight completion request.
type Session struct {
	id        string
	model     string
	payload   []byte
	inputText string
	transport Transport
	decoder   StreamDecoder
	estimator TokenEstimator
	callbacks Callbacks
	onFinish  func(ctx context.Context, s *Session)

	mu     sync.Mutex
	state  SessionState
	buffer strings.Builder
	result CompletionResult
	err    error
	cancel context.CancelFunc
	done   chan struct{}
}

type sessionConfig struct {
	id        string
	model     string
	payload   []byte
	inputText string
	transport Transport
	decoder   StreamDecoder
	estimator TokenEstimator
	callbacks Callbacks
	onFinish  func(ctx context.Context, s *Session)
}

func newSession(cfg sessionConfig) *Session {
	return &Session{
		id:        cfg.id,
		model:     cfg.model,
		payload:   cfg.payload,
		inputText: cfg.inputText,
		transport: cfg.transport,
		decoder:   cfg.decoder,
		estimator: cfg.estimator,
		callbacks: cfg.callbacks,
		onFinish:  cfg.onFinish,
		state:     StateIdle,
		done:      make(chan struct{}),
	}
}

// ID returns the session handle.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session reached a terminal state and all callbacks returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Result returns the terminal result and, for errored sessions, the error.
// Before the session terminates it returns a zero result.
func (s *Session) Result() (CompletionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}

// PartialText returns the text accumulated so far.
func (s *Session) PartialText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.String()
}

// Start moves the session from Idle to Sending and drives the request in the background.
// Cancelling ctx, or calling Cancel, aborts it. A second Start returns ErrSessionStarted.
func (s *Session) Start(ctx context.Context, apiKey string) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("%w: session %s is %s", ErrSessionStarted, s.id, s.state)
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = StateSending
	s.mu.Unlock()

	go s.run(ctx, apiKey)

	return nil
}

// Cancel aborts the session. It is a no-op on a terminal session.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		s.finish(context.Background(), StateAborted, nil)
		return
	}
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (s *Session) run(ctx context.Context, apiKey string) {
	defer s.cancel()

	logger := observability.FromContext(ctx)

	chunks, err := s.transport.Open(ctx, s.payload, apiKey)
	if err != nil {
		if ctx.Err() != nil {
			s.finish(ctx, StateAborted, nil)
			return
		}
		s.finish(ctx, StateErrored, err)
		return
	}

	s.mu.Lock()
	if s.state == StateSending {
		s.state = StateStreaming
	}
	s.mu.Unlock()

	logger.Debug("stream opened", observability.String("transport", s.transport.Name()))

	for {
		select {
		case <-ctx.Done():
			s.finish(ctx, StateAborted, nil)
			return
		case chunk, ok := <-chunks:
			if !ok {
				deltas, done := s.decoder.Flush()
				if !s.deliver(ctx, deltas) {
					s.finish(ctx, StateAborted, nil)
					return
				}
				if !done {
					logger.Warn("stream ended without end-of-stream marker")
				}
				s.finish(ctx, StateCompleted, nil)
				return
			}

			if chunk.Err != nil {
				if ctx.Err() != nil {
					s.finish(ctx, StateAborted, nil)
					return
				}
				s.finish(ctx, StateErrored, fmt.Errorf("%w: %w", ErrTransportFailure, chunk.Err))
				return
			}

			deltas, done := s.decoder.Feed(chunk.Data)
			if !s.deliver(ctx, deltas) {
				s.finish(ctx, StateAborted, nil)
				return
			}
			if done {
				s.finish(ctx, StateCompleted, nil)
				return
			}
		}
	}
}

// deliver appends and dispatches deltas in order. It returns false once ctx is cancelled,
// and no delta is dispatched after that point.
func (s *Session) deliver(ctx context.Context, deltas []DeltaEvent) bool {
	for _, delta := range deltas {
		if ctx.Err() != nil {
			return false
		}

		s.mu.Lock()
		s.buffer.WriteString(delta.Content)
		s.mu.Unlock()

		if s.callbacks.OnDelta != nil {
			s.callbacks.OnDelta(delta.Content)
		}
	}
	return ctx.Err() == nil
}

// finish sets the terminal state exactly once, then runs the finish hook and callbacks.
func (s *Session) finish(ctx context.Context, state SessionState, err error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = state

	result := CompletionResult{
		SessionID:  s.id,
		Model:      s.model,
		FullText:   s.buffer.String(),
		FinishTime: time.Now(),
	}

	switch state {
	case StateCompleted:
		result.TerminationReason = TerminationCompleted
		result.PromptTokens = s.estimator.Estimate(s.inputText)
		result.CompletionTokens = s.estimator.Estimate(result.FullText)
		result.TokensUsed = result.PromptTokens + result.CompletionTokens
	case StateAborted:
		result.TerminationReason = TerminationAborted
	default:
		result.TerminationReason = TerminationErrored
	}

	s.result = result
	s.err = err
	s.mu.Unlock()

	defer close(s.done)

	if s.onFinish != nil {
		s.onFinish(context.WithoutCancel(ctx), s)
	}

	switch state {
	case StateCompleted, StateAborted:
		if s.callbacks.OnEnd != nil {
			s.callbacks.OnEnd(result)
		}
	default:
		if s.callbacks.OnError != nil {
			s.callbacks.OnError(KindOf(err), err)
		}
	}
}
