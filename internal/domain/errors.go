package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownModel is returned when the model id is not in the catalog.
	ErrUnknownModel = errors.New("unknown model")

	// ErrOversizedMessage is reported as a warning when the most recent message alone
	// exceeds the input budget. The request is still attempted.
	ErrOversizedMessage = errors.New("message exceeds token budget")

	// ErrInvalidParams is returned for malformed sampling parameters or history.
	ErrInvalidParams = errors.New("invalid params")

	// ErrTransportFailure wraps connection-level failures.
	ErrTransportFailure = errors.New("transport failure")

	// ErrDecodeFault is returned when the event stream cannot be read any further.
	ErrDecodeFault = errors.New("decode fault")

	// ErrSessionStarted is returned by Start on a session that already left Idle.
	ErrSessionStarted = errors.New("session already started")

	// ErrSessionNotFound is returned by Cancel for an unknown handle.
	ErrSessionNotFound = errors.New("session not found")
)

// RemoteRejectedError carries a non-2xx response read to completion.
type RemoteRejectedError struct {
	Status int
	Body   string
}

func (e *RemoteRejectedError) Error() string {
	return fmt.Sprintf("remote rejected request: status %d: %s", e.Status, e.Body)
}

// ErrorKind classifies errors for the caller-facing onError callback.
type ErrorKind string

const (
	KindUnknownModel     ErrorKind = "unknown_model"
	KindOversizedMessage ErrorKind = "oversized_message"
	KindInvalidParams    ErrorKind = "invalid_params"
	KindRemoteRejected   ErrorKind = "remote_rejected"
	KindTransportFailure ErrorKind = "transport_failure"
	KindDecodeFault      ErrorKind = "decode_fault"
	KindInternal         ErrorKind = "internal"
)

// KindOf maps an error to its ErrorKind.
func KindOf(err error) ErrorKind {
	var rejected *RemoteRejectedError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &rejected):
		return KindRemoteRejected
	case errors.Is(err, ErrUnknownModel):
		return KindUnknownModel
	case errors.Is(err, ErrOversizedMessage):
		return KindOversizedMessage
	case errors.Is(err, ErrInvalidParams):
		return KindInvalidParams
	case errors.Is(err, ErrTransportFailure):
		return KindTransportFailure
	case errors.Is(err, ErrDecodeFault):
		return KindDecodeFault
	default:
		return KindInternal
	}
}

func invalidParamsf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParams, fmt.Sprintf(format, args...))
}
