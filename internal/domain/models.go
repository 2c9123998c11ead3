package domain

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Message represents a chat message in the conversation history.
type Message struct {
	ID        string    `json:"id,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// ModelInfo describes a model's context window and optional pricing.
type ModelInfo struct {
	ID               string  `json:"id"                            yaml:"id"`
	MaxContextTokens int     `json:"max_context_tokens"            yaml:"max_context_tokens"`
	InputCostPer1K   float64 `json:"input_cost_per_1k,omitempty"  yaml:"input_cost_per_1k"`  // USD per 1K input tokens
	OutputCostPer1K  float64 `json:"output_cost_per_1k,omitempty" yaml:"output_cost_per_1k"` // USD per 1K output tokens
}

// TruncatedRequest is the contiguous trailing run of the history chosen for sending.
type TruncatedRequest struct {
	Messages []Message
	// EstimatedTokens includes the per-message framing overhead.
	EstimatedTokens int
	// Dropped is the number of leading history messages left out.
	Dropped int
	// Oversized is set when the single most recent message alone exceeds the budget.
	Oversized bool
}

// DeltaEvent is one incremental fragment of assistant output.
type DeltaEvent struct {
	Content string `json:"delta"`
}

// TerminationReason records how a session ended.
type TerminationReason string

const (
	TerminationCompleted TerminationReason = "completed"
	TerminationAborted   TerminationReason = "aborted"
	TerminationErrored   TerminationReason = "errored"
)

// CompletionResult is produced once per session when it reaches a terminal state.
type CompletionResult struct {
	SessionID         string            `json:"session_id"`
	Model             string            `json:"model"`
	FullText          string            `json:"full_text"`
	TokensUsed        int               `json:"tokens_used"`
	PromptTokens      int               `json:"prompt_tokens"`
	CompletionTokens  int               `json:"completion_tokens"`
	TerminationReason TerminationReason `json:"termination_reason"`
	FinishTime        time.Time         `json:"finish_time"`
}

// Usage is the accounting record written for a completed session.
type Usage struct {
	SessionID        string  `json:"session_id"`
	Model            string  `json:"model"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost,omitempty"`
}

// Chunk is one raw read from the transport. Err is set on the final chunk of a failed stream.
type Chunk struct {
	Data []byte
	Err  error
}

// SessionState is the lifecycle state of a CompletionSession.
type SessionState int

const (
	StateIdle SessionState = iota
	StateSending
	StateStreaming
	StateCompleted
	StateAborted
	StateErrored
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateAborted || s == StateErrored
}
