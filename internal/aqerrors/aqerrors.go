// Package aqerrors defines the error taxonomy shared by every pipeline
// component and used by the protocol layer to classify failures without
// string matching.
package aqerrors

import (
	"errors"
	"fmt"
	"regexp"
)

// Category discriminates the kind of failure a pipeline run can end with.
type Category string

const (
	Config           Category = "config"
	Template         Category = "template"
	SchemaValidation Category = "schema_validation"
	Source           Category = "source"
	DataProcessing   Category = "data_processing"
	Storage          Category = "storage"
	Destination      Category = "destination"
	Protocol         Category = "protocol"
	Cancelled        Category = "cancelled"
	Internal         Category = "internal"
)

// Error wraps an underlying error with a Category so callers can classify
// it with errors.As without parsing message text.
type Error struct {
	Category Category
	Stage    string
	Err      error
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err in a categorized Error. If err is nil, New returns nil.
func New(cat Category, stage string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Category: cat, Stage: stage, Err: err}
}

// Newf is like New but builds the underlying error with fmt.Errorf,
// supporting %w for further wrapping.
func Newf(cat Category, stage, format string, args ...any) error {
	return &Error{Category: cat, Stage: stage, Err: fmt.Errorf(format, args...)}
}

// CategoryOf returns the Category of err, or Internal if err was never
// categorized.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return Internal
}

// secretPatterns redacts credential-shaped substrings from error text before
// it crosses a process boundary (logs, wire messages).
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(password|passwd|pwd|secret|token|api_key|apikey)=([^&\s]+)`),
	regexp.MustCompile(`://[^:@/\s]+:[^@/\s]+@`), // userinfo in URIs
}

// Redact scrubs credential-shaped substrings out of a message before it is
// logged or sent over the wire.
func Redact(msg string) string {
	out := msg
	for _, p := range secretPatterns {
		switch p {
		case secretPatterns[0]:
			out = p.ReplaceAllString(out, "$1=***")
		default:
			out = p.ReplaceAllString(out, "://***:***@")
		}
	}
	return out
}

// RedactError returns a string representation of err with secrets redacted,
// suitable for inclusion in a wire message or log line.
func RedactError(err error) string {
	if err == nil {
		return ""
	}
	return Redact(err.Error())
}
