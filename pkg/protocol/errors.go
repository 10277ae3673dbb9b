package protocol

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a turn failure per the propagation policy: transient
// kinds are retried or degraded locally, terminal kinds surface once on the
// stream.
type ErrorKind string

const (
	ErrValidation         ErrorKind = "validation"
	ErrAuthorization      ErrorKind = "authorization"
	ErrRetrievalTransient ErrorKind = "retrieval_transient"
	ErrTool               ErrorKind = "tool"
	ErrModelTransient     ErrorKind = "model_transient"
	ErrModelTerminal      ErrorKind = "model_terminal"
	ErrMemory             ErrorKind = "memory"
	ErrCancelled          ErrorKind = "cancelled"
	ErrInternal           ErrorKind = "internal"
)

// TurnError is a classified error carrying the component that produced it.
type TurnError struct {
	Kind      ErrorKind
	Component string
	Message   string
	Err       error
}

func (e *TurnError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Kind, e.Message)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

// NewTurnError builds a classified error.
func NewTurnError(kind ErrorKind, component, message string, err error) *TurnError {
	return &TurnError{Kind: kind, Component: component, Message: message, Err: err}
}

// KindOf extracts the error kind, defaulting to internal for unclassified
// errors and cancelled for context cancellation.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var te *TurnError
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, ErrStreamClosed) {
		return ErrCancelled
	}
	return ErrInternal
}

// IsRetryable reports whether an error kind warrants another attempt.
func (k ErrorKind) IsRetryable() bool {
	switch k {
	case ErrRetrievalTransient, ErrModelTransient:
		return true
	default:
		return false
	}
}

// ErrStreamClosed signals that the outbound event stream consumer went away.
var ErrStreamClosed = errors.New("event stream closed")
