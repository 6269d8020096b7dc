package models

import (
	"context"
	"errors"
)

var (
	// ErrValidation marks bad input shape or size. Not retried.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks an unknown document id.
	ErrNotFound = errors.New("not found")

	// ErrDimensionMismatch marks vectors of unequal or unexpected length.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrProviderAuth marks a credential failure at an embedding or generation
	// provider. Never retried.
	ErrProviderAuth = errors.New("provider authentication failed")

	// ErrProviderTransient marks a retryable provider fault.
	ErrProviderTransient = errors.New("provider temporarily unavailable")

	// ErrParse marks corrupt or unreadable uploaded content.
	ErrParse = errors.New("parse error")

	// ErrNoTextFound marks an extraction that yielded no non-empty page.
	ErrNoTextFound = errors.New("no text found")
)

// ErrorMessage maps err to the human-readable text carried by a terminal
// error event.
func ErrorMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "Invalid request: " + err.Error()
	case errors.Is(err, ErrNotFound):
		return "Document not found. Upload it again before asking questions."
	case errors.Is(err, ErrProviderAuth):
		return "The language model provider rejected our credentials."
	case errors.Is(err, ErrProviderTransient):
		return "The language model provider is unavailable right now. Please try again."
	case errors.Is(err, ErrDimensionMismatch):
		return "The document index and the embedding model disagree on vector size."
	case errors.Is(err, ErrParse):
		return "The document could not be read."
	case errors.Is(err, ErrNoTextFound):
		return "No text could be extracted from the document."
	case errors.Is(err, context.DeadlineExceeded):
		return "The request timed out."
	case errors.Is(err, context.Canceled):
		return "The request was cancelled."
	default:
		return "Something went wrong while answering: " + err.Error()
	}
}
