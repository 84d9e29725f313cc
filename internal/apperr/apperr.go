// Package apperr defines the error taxonomy shared by the services and the
// HTTP layer. Services wrap these sentinels with fmt.Errorf("...: %w"), and
// handlers map them back to status codes with Status.
package apperr

import (
	"errors"
	"net/http"
	"strings"
)

var (
	ErrValidation   = errors.New("validation error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")

	// remote trading platform
	ErrProvisioning = errors.New("account provisioning failed")
	ErrSettlement   = errors.New("balance adjustment rejected")

	// tokens and one-time codes
	ErrExpired         = errors.New("expired")
	ErrMismatch        = errors.New("code mismatch")
	ErrAlreadyConsumed = errors.New("already consumed")
)

// publicError carries a message that is safe to show to the client
// alongside a sentinel used for classification.
type publicError struct {
	kind error
	msg  string
}

func (e *publicError) Error() string { return e.msg }
func (e *publicError) Unwrap() error { return e.kind }

// New returns an error that matches kind under errors.Is and whose text is
// returned verbatim by Message.
func New(kind error, msg string) error {
	return &publicError{kind: kind, msg: msg}
}

// Status maps an error to an HTTP status code.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation), errors.Is(err, ErrExpired):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-facing text for err. Messages built with New
// are passed through; remote and internal failures collapse to a generic
// string so platform details never leak.
func Message(err error, fallback string) string {
	var pe *publicError
	if errors.As(err, &pe) {
		return pe.msg
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrNotFound):
		return "Not found."
	case errors.Is(err, ErrExpired):
		return "Expired."
	case errors.Is(err, ErrValidation):
		// validation errors carry their reason after the sentinel text
		if msg := strings.TrimPrefix(err.Error(), ErrValidation.Error()+": "); msg != err.Error() {
			return msg
		}
	}
	return fallback
}
