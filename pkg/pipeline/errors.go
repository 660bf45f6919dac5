package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstreamTimeout marks a mandatory stage whose external call ran out of budget.
	ErrUpstreamTimeout = errors.New("upstream timeout")
	ErrInvalidRequest  = errors.New("invalid request")
)

// Code is the machine-readable error code returned to callers.
type Code string

const (
	CodeAnchorNotFound         Code = "anchor_not_found"
	CodeUpstreamTimeout        Code = "upstream_timeout"
	CodeTimeout                Code = "timeout"
	CodeAnswerProductionFailed Code = "answer_production_failed"
	CodeInvalidRequest         Code = "invalid_request"
	CodeCanceled               Code = "canceled"
	CodeInternal               Code = "internal"
)

// Error is a typed, user-visible pipeline failure.
type Error struct {
	Code      Code
	Message   string
	RequestID string
	Stage     Stage
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

type ErrorBody struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// ErrorEnvelope is the JSON shape of a hard failure.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

func (e *Error) Envelope() ErrorEnvelope {
	return ErrorEnvelope{Error: ErrorBody{Code: e.Code, Message: e.Message, RequestID: e.RequestID}}
}

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
