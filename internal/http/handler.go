package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/davidbz/flow/internal/domain"
	"github.com/davidbz/flow/internal/observability"
	"github.com/davidbz/flow/internal/provider/openai"
	"github.com/davidbz/flow/internal/usage"
)

const (
	sessionHeader    = "X-Session-Id"
	eventBufferSize  = 16
	maxRequestBytes  = 8 << 20
	bearerAuthPrefix = "Bearer "
)

// ModelLister lists the models an API key can use and checks keys.
type ModelLister interface {
	List(ctx context.Context, apiKey string) ([]string, error)
	Verify(ctx context.Context, apiKey string) (bool, error)
}

// Handler handles HTTP requests.
type Handler struct {
	chat       *domain.ChatService
	catalog    domain.ModelCatalog
	lister     ModelLister
	usage      usage.Store
	defaultKey string
}

// NewHandler creates a new HTTP handler (DI constructor).
func NewHandler(
	chat *domain.ChatService,
	catalog domain.ModelCatalog,
	lister ModelLister,
	store usage.Store,
	openaiConfig *openai.Config,
) *Handler {
	defaultKey := ""
	if openaiConfig != nil {
		defaultKey = openaiConfig.APIKey
	}

	return &Handler{
		chat:       chat,
		catalog:    catalog,
		lister:     lister,
		usage:      store,
		defaultKey: defaultKey,
	}
}

type streamRequest struct {
	Messages []domain.Message          `json:"messages"`
	Settings map[string]json.RawMessage `json:"settings"`
}

type errorBody struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
	Status  int              `json:"status,omitempty"`
}

// streamEvent is one server-sent event written to the client. An empty name is a delta.
type streamEvent struct {
	name string
	data any
}

// HandleStream starts a completion session and relays it as server-sent events:
// "warning" and "error" events, unnamed delta events, and a final "end" event.
// The session handle is returned in the X-Session-Id header. A client disconnect aborts
// the session.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx)

	var req streamRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body: %w", domain.ErrInvalidParams, err))
		return
	}

	params, ignored, err := domain.ParamsFromSettings(req.Settings)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(ignored) > 0 {
		logger.Debug("ignoring settings", zap.Strings("keys", ignored))
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.Error("streaming not supported")
		writeError(w, errors.New("streaming not supported"))
		return
	}

	events := make(chan streamEvent, eventBufferSize)
	callbacks := domain.Callbacks{
		OnDelta: func(fragment string) {
			events <- streamEvent{data: domain.DeltaEvent{Content: fragment}}
		},
		OnEnd: func(result domain.CompletionResult) {
			events <- streamEvent{name: "end", data: result}
		},
		OnError: func(kind domain.ErrorKind, err error) {
			events <- streamEvent{name: "error", data: newErrorBody(kind, err)}
		},
		OnWarning: func(kind domain.ErrorKind, err error) {
			events <- streamEvent{name: "warning", data: newErrorBody(kind, err)}
		},
	}

	session, err := h.chat.StartCompletion(ctx, req.Messages, params, h.credentials(r), callbacks)
	if err != nil {
		logger.Warn("completion rejected", zap.Error(err))
		writeError(w, err)
		return
	}

	logger = logger.With(zap.String("session_id", session.ID()))
	logger.Info("stream started", zap.String("model", params.Model))

	w.Header().Set(sessionHeader, session.ID())
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case ev := <-events:
			writeEvent(w, flusher, ev)
		case <-session.Done():
			for {
				select {
				case ev := <-events:
					writeEvent(w, flusher, ev)
				default:
					logger.Info("stream finished", zap.Stringer("state", session.State()))
					return
				}
			}
		}
	}
}

// HandleCancel aborts a running session.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.Cancel(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleModels lists the local model catalog.
func (h *Handler) HandleModels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ids := h.catalog.List(ctx)
	models := make([]domain.ModelInfo, 0, len(ids))
	for _, id := range ids {
		info, err := h.catalog.Lookup(ctx, id)
		if err != nil {
			continue
		}
		models = append(models, info)
	}

	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

// HandleRemoteModels lists the models the caller's key can use on the remote service.
func (h *Handler) HandleRemoteModels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	apiKey := h.apiKey(r)
	if apiKey == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody{Kind: domain.KindInvalidParams, Message: "API key is required"})
		return
	}

	ids, err := h.lister.List(ctx, apiKey)
	if err != nil {
		observability.FromContext(ctx).Warn("remote model listing failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, errorBody{Kind: domain.KindTransportFailure, Message: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"models": ids})
}

// HandleVerifyCredentials reports whether a key is accepted. The key is read from the
// optional JSON body, then from the Authorization header.
func (h *Handler) HandleVerifyCredentials(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		APIKey string `json:"api_key"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&body); err != nil {
			writeError(w, fmt.Errorf("%w: invalid request body: %w", domain.ErrInvalidParams, err))
			return
		}
	}

	apiKey := strings.TrimSpace(body.APIKey)
	if apiKey == "" {
		apiKey = bearerToken(r)
	}

	valid, err := h.lister.Verify(ctx, apiKey)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, errorBody{Kind: domain.KindTransportFailure, Message: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

// HandleUsage returns the accumulated usage for one model.
func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	totals, err := h.usage.Totals(r.Context(), r.PathValue("model"))
	if err != nil {
		observability.FromContext(r.Context()).Error("usage lookup failed", zap.Error(err))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, totals)
}

// HandleHealth handles health check requests.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"active_sessions": h.chat.ActiveSessions(),
	})
}

// credentials resolves the key for a request: the bearer token, else the configured fallback.
func (h *Handler) credentials(r *http.Request) domain.CredentialSupplier {
	return domain.StaticCredential(h.apiKey(r))
}

func (h *Handler) apiKey(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	return h.defaultKey
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerAuthPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, bearerAuthPrefix))
}

func newErrorBody(kind domain.ErrorKind, err error) errorBody {
	body := errorBody{Kind: kind}
	if err != nil {
		body.Message = err.Error()
	}

	var rejected *domain.RemoteRejectedError
	if errors.As(err, &rejected) {
		body.Status = rejected.Status
	}
	return body
}

// statusFor maps synchronous failures to HTTP statuses.
func statusFor(kind domain.ErrorKind, err error) int {
	switch kind {
	case domain.KindInvalidParams, domain.KindOversizedMessage:
		return http.StatusBadRequest
	case domain.KindUnknownModel:
		return http.StatusNotFound
	case domain.KindRemoteRejected, domain.KindTransportFailure, domain.KindDecodeFault:
		return http.StatusBadGateway
	}
	if errors.Is(err, domain.ErrSessionNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, domain.ErrSessionStarted) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	writeJSON(w, statusFor(kind, err), newErrorBody(kind, err))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Already written status, can't change it, just log.
		observability.FromContext(context.Background()).Debug("failed to encode response", zap.Error(err))
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, ev streamEvent) {
	data, err := json.Marshal(ev.data)
	if err != nil {
		observability.FromContext(context.Background()).Error("failed to encode event", zap.Error(err))
		return
	}

	if ev.name != "" {
		fmt.Fprintf(w, "event: %s\n", ev.name)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
