// Package service implements the sync mapping core: versioned sentence
// mappings with an audit trail, the session registry, and the event outbox
// that feeds real-time room broadcasts.
package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Error kinds.  Match with errors.Is; the message text doubles as the
// machine-readable code sent to clients.
var (
	ErrValidation = errors.New("validation_error")
	ErrNotFound   = errors.New("not_found")
	ErrPermission = errors.New("permission_denied")
	ErrConflict   = errors.New("conflict")
	ErrInternal   = errors.New("internal_error")
)

// Error is a classified service failure.  Kind is one of the Err* values
// above, Message is safe to show to clients, Err is the optional cause.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Code returns the client-facing code of err ("internal_error" for
// unclassified errors).
func Code(err error) string {
	var se *Error
	if errors.As(err, &se) && se.Kind != nil {
		return se.Kind.Error()
	}
	return ErrInternal.Error()
}

// Message returns the client-facing message of err.
func Message(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Message
	}
	return "internal error"
}

func validationError(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

func notFoundError(msg string) error {
	return &Error{Kind: ErrNotFound, Message: msg}
}

func conflictError(msg string, cause error) error {
	return &Error{Kind: ErrConflict, Message: msg, Err: cause}
}

func internalError(msg string, cause error) error {
	return &Error{Kind: ErrInternal, Message: msg, Err: cause}
}

var validate = validator.New()

// checkStruct runs validate tags on v and folds field errors into one
// ValidationError.
func checkStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fe validator.ValidationErrors
	if !errors.As(err, &fe) {
		return validationError("%v", err)
	}
	msgs := make([]string, 0, len(fe))
	for _, f := range fe {
		if f.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", f.Field(), f.Tag(), f.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", f.Field(), f.Tag()))
		}
	}
	return &Error{Kind: ErrValidation, Message: strings.Join(msgs, "; "), Err: err}
}
