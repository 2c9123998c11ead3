package domain_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/davidbz/flow/internal/domain"
	"github.com/davidbz/flow/internal/sse"
)

const testModel = "test-model"

func frame(content string) string {
	return `data: {"choices":[{"delta":{"content":"` + content + `"}}]}` + "\n\n"
}

// scriptedTransport replays chunks. With hold set it keeps the stream open after the
// script until the context is cancelled.
type scriptedTransport struct {
	chunks  []domain.Chunk
	openErr error
	hold    bool

	mu       sync.Mutex
	payloads [][]byte
	apiKeys  []string
}

func (s *scriptedTransport) Name() string {
	return "scripted"
}

func (s *scriptedTransport) Open(ctx context.Context, payload []byte, apiKey string) (<-chan domain.Chunk, error) {
	s.mu.Lock()
	s.payloads = append(s.payloads, payload)
	s.apiKeys = append(s.apiKeys, apiKey)
	s.mu.Unlock()

	if s.openErr != nil {
		return nil, s.openErr
	}

	chunks := make(chan domain.Chunk)
	go func() {
		defer close(chunks)
		for _, chunk := range s.chunks {
			select {
			case <-ctx.Done():
				return
			case chunks <- chunk:
			}
		}
		if s.hold {
			<-ctx.Done()
		}
	}()
	return chunks, nil
}

func (s *scriptedTransport) opened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

func textChunks(parts ...string) []domain.Chunk {
	chunks := make([]domain.Chunk, len(parts))
	for i, part := range parts {
		chunks[i] = domain.Chunk{Data: []byte(part)}
	}
	return chunks
}

type MockUsageRecorder struct {
	mock.Mock
}

func (m *MockUsageRecorder) Record(ctx context.Context, usage domain.Usage) error {
	args := m.Called(ctx, usage)
	return args.Error(0)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, _ map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
}

func (p *recordingPublisher) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

// recorder collects callbacks from the session goroutine.
type recorder struct {
	mu       sync.Mutex
	deltas   []string
	results  []domain.CompletionResult
	errors   []domain.ErrorKind
	warnings []domain.ErrorKind
	first    chan struct{}
}

func newRecorder() *recorder {
	return &recorder{first: make(chan struct{}, 1)}
}

func (r *recorder) callbacks() domain.Callbacks {
	return domain.Callbacks{
		OnDelta: func(fragment string) {
			r.mu.Lock()
			r.deltas = append(r.deltas, fragment)
			r.mu.Unlock()
			select {
			case r.first <- struct{}{}:
			default:
			}
		},
		OnEnd: func(result domain.CompletionResult) {
			r.mu.Lock()
			r.results = append(r.results, result)
			r.mu.Unlock()
		},
		OnError: func(kind domain.ErrorKind, _ error) {
			r.mu.Lock()
			r.errors = append(r.errors, kind)
			r.mu.Unlock()
		},
		OnWarning: func(kind domain.ErrorKind, _ error) {
			r.mu.Lock()
			r.warnings = append(r.warnings, kind)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) Deltas() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.deltas...)
}

func waitDone(t *testing.T, session *domain.Session) {
	t.Helper()
	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
}

type serviceFixture struct {
	service   *domain.ChatService
	transport *scriptedTransport
	usage     *MockUsageRecorder
	events    *recordingPublisher
	estimator domain.TokenEstimator
}

func newServiceFixture(t *testing.T, transport *scriptedTransport, window int) *serviceFixture {
	t.Helper()
	ctx := context.Background()

	catalog := domain.NewInMemoryModelCatalog()
	require.NoError(t, catalog.Register(ctx, domain.ModelInfo{
		ID:               testModel,
		MaxContextTokens: window,
		InputCostPer1K:   1,
		OutputCostPer1K:  2,
	}))

	estimator := domain.NewCharEstimator(domain.DefaultCharsPerToken)
	usage := &MockUsageRecorder{}
	events := &recordingPublisher{}

	service, err := domain.NewChatService(domain.ChatServiceConfig{
		Catalog:        catalog,
		Estimator:      estimator,
		Transport:      transport,
		NewDecoder:     sse.Factory(sse.Options{}),
		CostCalculator: domain.NewCatalogCostCalculator(catalog),
		Recorder:       usage,
		Events:         events,
	})
	require.NoError(t, err)

	return &serviceFixture{
		service:   service,
		transport: transport,
		usage:     usage,
		events:    events,
		estimator: estimator,
	}
}

func testParams() domain.ChatCompletionParams {
	params := domain.DefaultParams()
	params.Model = testModel
	return params
}

func TestNewChatService_RequiresCollaborators(t *testing.T) {
	catalog := domain.NewInMemoryModelCatalog()
	transport := &scriptedTransport{}
	decoders := sse.Factory(sse.Options{})

	_, err := domain.NewChatService(domain.ChatServiceConfig{Transport: transport, NewDecoder: decoders})
	require.Error(t, err)

	_, err = domain.NewChatService(domain.ChatServiceConfig{Catalog: catalog, NewDecoder: decoders})
	require.Error(t, err)

	_, err = domain.NewChatService(domain.ChatServiceConfig{Catalog: catalog, Transport: transport})
	require.Error(t, err)

	service, err := domain.NewChatService(domain.ChatServiceConfig{Catalog: catalog, Transport: transport, NewDecoder: decoders})
	require.NoError(t, err)
	require.NotNil(t, service)
}

func TestStartCompletion_Completes(t *testing.T) {
	transport := &scriptedTransport{
		chunks: textChunks(frame("Hel"), frame("lo")+"data: [DONE]\n\n"),
	}
	f := newServiceFixture(t, transport, 1000)

	history := []domain.Message{
		{ID: "1", Role: domain.RoleSystem, Content: "You are terse."},
		{ID: "2", Role: domain.RoleUser, Content: "Say hello"},
	}
	expectedPrompt := f.estimator.Estimate("You are terse.\nSay hello")
	expectedCompletion := f.estimator.Estimate("Hello")

	f.usage.On("Record", mock.Anything, mock.MatchedBy(func(u domain.Usage) bool {
		return u.Model == testModel &&
			u.PromptTokens == expectedPrompt &&
			u.CompletionTokens == expectedCompletion &&
			u.TotalTokens == expectedPrompt+expectedCompletion &&
			u.Cost > 0
	})).Return(nil).Once()

	rec := newRecorder()
	session, err := f.service.StartCompletion(context.Background(), history, testParams(), domain.StaticCredential("sk-test"), rec.callbacks())
	require.NoError(t, err)
	require.NotEmpty(t, session.ID())

	waitDone(t, session)

	require.Equal(t, domain.StateCompleted, session.State())
	require.Equal(t, []string{"Hel", "lo"}, rec.Deltas())
	require.Empty(t, rec.errors)
	require.Len(t, rec.results, 1)

	result := rec.results[0]
	require.Equal(t, domain.TerminationCompleted, result.TerminationReason)
	require.Equal(t, "Hello", result.FullText)
	require.Equal(t, session.ID(), result.SessionID)
	require.Equal(t, expectedPrompt+expectedCompletion, result.TokensUsed)

	stored, sessionErr := session.Result()
	require.NoError(t, sessionErr)
	require.Equal(t, result, stored)

	require.Equal(t, []string{"sk-test"}, transport.apiKeys)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(transport.payloads[0], &payload))
	require.Equal(t, testModel, payload["model"])
	require.Equal(t, true, payload["stream"])

	require.Zero(t, f.service.ActiveSessions())
	require.Equal(t, []string{"session.started", "session.completed"}, f.events.Events())
	f.usage.AssertExpectations(t)
}

func TestStartCompletion_EndOfStreamWithoutSentinelCompletes(t *testing.T) {
	transport := &scriptedTransport{chunks: textChunks(frame("partial"))}
	f := newServiceFixture(t, transport, 1000)
	f.usage.On("Record", mock.Anything, mock.Anything).Return(nil)

	rec := newRecorder()
	session, err := f.service.StartCompletion(context.Background(), []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
		testParams(), domain.StaticCredential("sk-test"), rec.callbacks())
	require.NoError(t, err)

	waitDone(t, session)

	require.Equal(t, domain.StateCompleted, session.State())
	require.Equal(t, []string{"partial"}, rec.Deltas())
}

func TestStartCompletion_CancelMidStream(t *testing.T) {
	tests := []struct {
		name   string
		cancel func(f *serviceFixture, session *domain.Session, cancelCtx context.CancelFunc)
	}{
		{
			name: "via service handle",
			cancel: func(f *serviceFixture, session *domain.Session, _ context.CancelFunc) {
				require.NoError(t, f.service.Cancel(context.Background(), session.ID()))
			},
		},
		{
			name: "via session",
			cancel: func(_ *serviceFixture, session *domain.Session, _ context.CancelFunc) {
				session.Cancel()
			},
		},
		{
			name: "via caller context",
			cancel: func(_ *serviceFixture, _ *domain.Session, cancelCtx context.CancelFunc) {
				cancelCtx()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &scriptedTransport{chunks: textChunks(frame("Hel")), hold: true}
			f := newServiceFixture(t, transport, 1000)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			rec := newRecorder()
			session, err := f.service.StartCompletion(ctx, []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
				testParams(), domain.StaticCredential("sk-test"), rec.callbacks())
			require.NoError(t, err)

			select {
			case <-rec.first:
			case <-time.After(2 * time.Second):
				t.Fatal("no delta received")
			}

			tt.cancel(f, session, cancel)
			waitDone(t, session)

			require.Equal(t, domain.StateAborted, session.State())
			require.Equal(t, []string{"Hel"}, rec.Deltas())
			require.Equal(t, "Hel", session.PartialText())
			require.Len(t, rec.results, 1)
			require.Equal(t, domain.TerminationAborted, rec.results[0].TerminationReason)
			require.Zero(t, rec.results[0].TokensUsed)
			require.Empty(t, rec.errors)

			f.usage.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
			require.Equal(t, []string{"session.started", "session.aborted"}, f.events.Events())

			// Cancelling a terminal session is a no-op.
			session.Cancel()
			require.Equal(t, domain.StateAborted, session.State())
		})
	}
}

func TestStartCompletion_StreamFailures(t *testing.T) {
	tests := []struct {
		name       string
		transport  *scriptedTransport
		expectKind domain.ErrorKind
		expectText string
	}{
		{
			name: "remote rejected",
			transport: &scriptedTransport{
				openErr: &domain.RemoteRejectedError{Status: http.StatusTooManyRequests, Body: `{"error":"rate limited"}`},
			},
			expectKind: domain.KindRemoteRejected,
		},
		{
			name: "connection dropped mid-stream",
			transport: &scriptedTransport{
				chunks: []domain.Chunk{{Data: []byte(frame("Hel"))}, {Err: io.ErrUnexpectedEOF}},
			},
			expectKind: domain.KindTransportFailure,
			expectText: "Hel",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t, tt.transport, 1000)

			rec := newRecorder()
			session, err := f.service.StartCompletion(context.Background(), []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
				testParams(), domain.StaticCredential("sk-test"), rec.callbacks())
			require.NoError(t, err)

			waitDone(t, session)

			require.Equal(t, domain.StateErrored, session.State())
			require.Equal(t, []domain.ErrorKind{tt.expectKind}, rec.errors)
			require.Empty(t, rec.results)
			require.Equal(t, tt.expectText, session.PartialText())

			result, sessionErr := session.Result()
			require.Error(t, sessionErr)
			require.Equal(t, domain.TerminationErrored, result.TerminationReason)
			require.Equal(t, tt.expectKind, domain.KindOf(sessionErr))

			f.usage.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
			require.Equal(t, []string{"session.started", "session.errored"}, f.events.Events())
		})
	}

	t.Run("remote rejection keeps status and body", func(t *testing.T) {
		transport := &scriptedTransport{openErr: &domain.RemoteRejectedError{Status: 401, Body: "bad key"}}
		f := newServiceFixture(t, transport, 1000)

		session, err := f.service.StartCompletion(context.Background(), []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
			testParams(), domain.StaticCredential("sk-test"), domain.Callbacks{})
		require.NoError(t, err)
		waitDone(t, session)

		_, sessionErr := session.Result()
		var rejected *domain.RemoteRejectedError
		require.ErrorAs(t, sessionErr, &rejected)
		require.Equal(t, 401, rejected.Status)
		require.Equal(t, "bad key", rejected.Body)
	})
}

type credentialFunc func(ctx context.Context) (string, error)

func (f credentialFunc) APIKey(ctx context.Context) (string, error) {
	return f(ctx)
}

func TestStartCompletion_RejectedBeforeSending(t *testing.T) {
	hello := []domain.Message{{Role: domain.RoleUser, Content: "hi"}}

	tests := []struct {
		name        string
		history     []domain.Message
		params      func() domain.ChatCompletionParams
		credentials domain.CredentialSupplier
		expectErr   error
	}{
		{
			name:        "empty history",
			history:     nil,
			params:      testParams,
			credentials: domain.StaticCredential("sk-test"),
			expectErr:   domain.ErrInvalidParams,
		},
		{
			name:        "missing credentials",
			history:     hello,
			params:      testParams,
			credentials: nil,
			expectErr:   domain.ErrInvalidParams,
		},
		{
			name:        "empty API key",
			history:     hello,
			params:      testParams,
			credentials: domain.StaticCredential(""),
			expectErr:   domain.ErrInvalidParams,
		},
		{
			name:    "credential supplier failure",
			history: hello,
			params:  testParams,
			credentials: credentialFunc(func(context.Context) (string, error) {
				return "", errors.New("keychain locked")
			}),
		},
		{
			name:    "unknown model",
			history: hello,
			params: func() domain.ChatCompletionParams {
				p := testParams()
				p.Model = "missing"
				return p
			},
			credentials: domain.StaticCredential("sk-test"),
			expectErr:   domain.ErrUnknownModel,
		},
		{
			name:    "malformed logit bias",
			history: hello,
			params: func() domain.ChatCompletionParams {
				p := testParams()
				p.LogitBias = "{"
				return p
			},
			credentials: domain.StaticCredential("sk-test"),
			expectErr:   domain.ErrInvalidParams,
		},
		{
			name:        "unknown role",
			history:     []domain.Message{{Role: "narrator", Content: "hi"}},
			params:      testParams,
			credentials: domain.StaticCredential("sk-test"),
			expectErr:   domain.ErrInvalidParams,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &scriptedTransport{}
			f := newServiceFixture(t, transport, 1000)

			session, err := f.service.StartCompletion(context.Background(), tt.history, tt.params(), tt.credentials, domain.Callbacks{})

			require.Error(t, err)
			require.Nil(t, session)
			if tt.expectErr != nil {
				require.ErrorIs(t, err, tt.expectErr)
			}
			require.Zero(t, transport.opened())
			require.Zero(t, f.service.ActiveSessions())
		})
	}
}

func TestStartCompletion_OversizedMessageWarns(t *testing.T) {
	transport := &scriptedTransport{chunks: textChunks(frame("ok") + "data: [DONE]\n\n")}
	f := newServiceFixture(t, transport, 10)
	f.usage.On("Record", mock.Anything, mock.Anything).Return(nil)

	history := []domain.Message{
		{Role: domain.RoleUser, Content: "earlier"},
		{Role: domain.RoleUser, Content: strings.Repeat("long ", 40)},
	}

	rec := newRecorder()
	session, err := f.service.StartCompletion(context.Background(), history, testParams(), domain.StaticCredential("sk-test"), rec.callbacks())
	require.NoError(t, err)
	waitDone(t, session)

	require.Equal(t, []domain.ErrorKind{domain.KindOversizedMessage}, rec.warnings)
	require.Equal(t, domain.StateCompleted, session.State())

	var payload struct {
		Messages []map[string]string `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(transport.payloads[0], &payload))
	require.Len(t, payload.Messages, 1)
	require.Equal(t, history[1].Content, payload.Messages[0]["content"])
}

func TestSession_StartTwiceIsRejected(t *testing.T) {
	transport := &scriptedTransport{chunks: textChunks("data: [DONE]\n\n")}
	f := newServiceFixture(t, transport, 1000)
	f.usage.On("Record", mock.Anything, mock.Anything).Return(nil)

	session, err := f.service.StartCompletion(context.Background(), []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
		testParams(), domain.StaticCredential("sk-test"), domain.Callbacks{})
	require.NoError(t, err)

	err = session.Start(context.Background(), "sk-test")
	require.ErrorIs(t, err, domain.ErrSessionStarted)

	waitDone(t, session)
	require.ErrorIs(t, session.Start(context.Background(), "sk-test"), domain.ErrSessionStarted)
	require.Equal(t, 1, transport.opened())
}

func TestChatService_CancelUnknownSession(t *testing.T) {
	f := newServiceFixture(t, &scriptedTransport{}, 1000)

	err := f.service.Cancel(context.Background(), "does-not-exist")

	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestStartCompletion_RecorderFailureDoesNotFailSession(t *testing.T) {
	transport := &scriptedTransport{chunks: textChunks(frame("x") + "data: [DONE]\n\n")}
	f := newServiceFixture(t, transport, 1000)
	f.usage.On("Record", mock.Anything, mock.Anything).Return(errors.New("redis down")).Once()

	rec := newRecorder()
	session, err := f.service.StartCompletion(context.Background(), []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
		testParams(), domain.StaticCredential("sk-test"), rec.callbacks())
	require.NoError(t, err)
	waitDone(t, session)

	require.Equal(t, domain.StateCompleted, session.State())
	require.Len(t, rec.results, 1)
	f.usage.AssertExpectations(t)
}
