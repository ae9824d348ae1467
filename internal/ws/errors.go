package ws

import (
	"errors"
	"fmt"

	"github.com/journeyman/messaging/internal/storage"
)

var (
	// ErrValidation marks a malformed or incomplete inbound frame.
	ErrValidation = errors.New("validation failed")
	// ErrUnknownRecipient is returned when the recipient id does not resolve to a user.
	ErrUnknownRecipient = errors.New("unknown recipient")
	// ErrConnectionLimit is returned by Register when the server is full.
	ErrConnectionLimit = errors.New("connection limit reached")
)

type ErrorCode string

const (
	CodeValidation       ErrorCode = "validation"
	CodeUnknownRecipient ErrorCode = "unknown_recipient"
	CodeNotFound         ErrorCode = "not_found"
	CodeInternal         ErrorCode = "internal"
)

// FrameError is an error that is reported to the client as an error frame.
type FrameError struct {
	Code ErrorCode
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error { return e.Err }

func validationError(format string, args ...any) error {
	return &FrameError{Code: CodeValidation, Msg: fmt.Sprintf(format, args...), Err: ErrValidation}
}

// frameErrorFor maps any handler error to the frame sent back to the client.
// Internal details are not exposed.
func frameErrorFor(err error) ErrorFrame {
	var fe *FrameError
	if errors.As(err, &fe) {
		return ErrorFrame{Type: EventError, Code: fe.Code, Error: fe.Msg}
	}
	switch {
	case errors.Is(err, ErrUnknownRecipient):
		return ErrorFrame{Type: EventError, Code: CodeUnknownRecipient, Error: "recipient not found"}
	case errors.Is(err, storage.ErrNotFound):
		return ErrorFrame{Type: EventError, Code: CodeNotFound, Error: "not found"}
	case errors.Is(err, ErrValidation):
		return ErrorFrame{Type: EventError, Code: CodeValidation, Error: err.Error()}
	}
	return ErrorFrame{Type: EventError, Code: CodeInternal, Error: "internal error"}
}
