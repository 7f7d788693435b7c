// Package apperr defines the error taxonomy shared across the pipeline and
// the HTTP layer. Stage-local recoverable failures (a single provider giving
// up) never become apperr values; they are demoted to diagnostics. Only
// validation, parse, and internal errors escape to the caller.
package apperr

import "fmt"

// Kind classifies an error for the HTTP layer.
type Kind string

const (
	// KindValidation is malformed or out-of-range input, rejected before the
	// pipeline runs.
	KindValidation Kind = "validation-error"
	// KindParse is an unusable upstream intent structure. Fatal.
	KindParse Kind = "parse-error"
	// KindProvider is per-provider retry exhaustion. Degrades, never aborts a
	// request on its own; it surfaces as an apperr only when every provider
	// failed and there is nothing to return.
	KindProvider Kind = "provider-error"
	// KindInternal is an unexpected failure inside fusion/join/ranking.
	KindInternal Kind = "internal-error"
)

// Error is a classified application error.
type Error struct {
	Kind       Kind
	Message    string
	Extensions map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Validation builds a KindValidation error for the given field.
func Validation(field, format string, args ...any) *Error {
	return &Error{
		Kind:       KindValidation,
		Message:    fmt.Sprintf(format, args...),
		Extensions: map[string]any{"field": field},
	}
}

// Parse builds a KindParse error.
func Parse(format string, args ...any) *Error {
	return &Error{Kind: KindParse, Message: fmt.Sprintf(format, args...)}
}

// Provider builds a KindProvider error.
func Provider(provider, format string, args ...any) *Error {
	return &Error{
		Kind:       KindProvider,
		Message:    fmt.Sprintf(format, args...),
		Extensions: map[string]any{"provider": provider},
	}
}

// Internal builds a KindInternal error. The message is surfaced to callers,
// so it must not leak internal state; wrap the cause with eris and log it
// instead.
func Internal(format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...)}
}
