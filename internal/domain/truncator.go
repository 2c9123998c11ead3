package domain

import (
	"context"

	"github.com/davidbz/flow/internal/observability"
)

// DefaultMessageOverhead is the per-message framing cost (role tag, separators) in tokens.
// The exact figure is service specific, so it is configurable.
const DefaultMessageOverhead = 4

// MessageTruncator picks the longest trailing run of a history that fits a model's window.
type MessageTruncator struct {
	estimator TokenEstimator
	overhead  int
}

// NewMessageTruncator creates a truncator. A negative overhead is treated as zero.
func NewMessageTruncator(estimator TokenEstimator, overhead int) *MessageTruncator {
	if overhead < 0 {
		overhead = 0
	}
	return &MessageTruncator{
		estimator: estimator,
		overhead:  overhead,
	}
}

// MessageCost returns the estimated cost of one message including framing overhead.
func (t *MessageTruncator) MessageCost(msg Message) int {
	return t.estimator.Estimate(msg.Content) + t.overhead
}

// Truncate walks history newest to oldest and keeps messages while the running cost stays
// within MaxContextTokens - reservedOutputTokens. It stops at the first message that does
// not fit, so the result is always contiguous. A reservation of 0 leaves the whole window to
// input. If the most recent message alone does not fit it is returned anyway with Oversized set.
func (t *MessageTruncator) Truncate(
	ctx context.Context,
	history []Message,
	model ModelInfo,
	reservedOutputTokens int,
) (TruncatedRequest, error) {
	if reservedOutputTokens < 0 {
		return TruncatedRequest{}, invalidParamsf("reserved output tokens must not be negative, got %d", reservedOutputTokens)
	}

	if len(history) == 0 {
		return TruncatedRequest{Messages: []Message{}}, nil
	}

	budget := model.MaxContextTokens - reservedOutputTokens

	total := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := t.MessageCost(history[i])
		if total+cost > budget {
			break
		}
		total += cost
		start = i
	}

	oversized := false
	if start == len(history) {
		start = len(history) - 1
		total = t.MessageCost(history[start])
		oversized = true
	}

	kept := make([]Message, len(history)-start)
	copy(kept, history[start:])

	result := TruncatedRequest{
		Messages:        kept,
		EstimatedTokens: total,
		Dropped:         start,
		Oversized:       oversized,
	}

	if result.Dropped > 0 || oversized {
		observability.FromContext(ctx).Debug("history truncated",
			observability.Int("history_messages", len(history)),
			observability.Int("kept_messages", len(kept)),
			observability.Int("estimated_tokens", total),
			observability.Int("budget", budget),
			observability.Bool("oversized", oversized),
		)
	}

	return result, nil
}
