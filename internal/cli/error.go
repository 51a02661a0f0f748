// Package cli holds the exit-code conventions shared by scrapewatch commands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/url"
)

// Exit codes for scripted callers.
const (
	ExitOK         = 0
	ExitInternal   = 1
	ExitUsage      = 2
	ExitNotFound   = 3
	ExitPermission = 4
	ExitNetwork    = 5
	ExitDegraded   = 6
)

// CLIError is a structured error with a category for scripted callers.
type CLIError struct {
	Code    int    `json:"exit_code"`
	Type    string `json:"error"`
	Message string `json:"message"`
	Recover bool   `json:"recoverable"`
	Err     error  `json:"-"`
}

func (e *CLIError) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *CLIError) Unwrap() error { return e.Err }

// NewUsageError creates an error for invalid arguments.
func NewUsageError(msg string) *CLIError {
	return &CLIError{Code: ExitUsage, Type: "invalid_args", Message: msg}
}

// NewNotFoundError creates an error for missing resources.
func NewNotFoundError(msg string) *CLIError {
	return &CLIError{Code: ExitNotFound, Type: "not_found", Message: msg}
}

// NewPermissionError creates an error for access denied.
func NewPermissionError(msg string) *CLIError {
	return &CLIError{Code: ExitPermission, Type: "permission", Message: msg}
}

// NewNetworkError creates a recoverable network error.
func NewNetworkError(msg string) *CLIError {
	return &CLIError{Code: ExitNetwork, Type: "network", Message: msg, Recover: true}
}

// NewDegradedError reports a backend that answered but is not fully usable,
// e.g. polling works while the socket endpoint does not.
func NewDegradedError(msg string) *CLIError {
	return &CLIError{Code: ExitDegraded, Type: "degraded", Message: msg, Recover: true}
}

// NewInternalError creates an error for unexpected failures.
func NewInternalError(msg string) *CLIError {
	return &CLIError{Code: ExitInternal, Type: "internal", Message: msg}
}

// Classify wraps err in a CLIError whose category is derived from the cause.
// Errors that already carry a CLIError are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ce *CLIError
	if errors.As(err, &ce) {
		return err
	}

	c := &CLIError{Code: ExitInternal, Type: "internal", Message: err.Error(), Err: err}
	var netErr net.Error
	var urlErr *url.Error
	switch {
	case errors.Is(err, fs.ErrNotExist):
		c.Code, c.Type = ExitNotFound, "not_found"
	case errors.Is(err, fs.ErrPermission):
		c.Code, c.Type = ExitPermission, "permission"
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr),
		errors.As(err, &urlErr):
		c.Code, c.Type, c.Recover = ExitNetwork, "network", true
	}
	return c
}

// ExitCode extracts the exit code from an error.
// Returns ExitInternal (1) for non-CLIError errors, ExitOK (0) for nil.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ce *CLIError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ExitInternal
}

// FormatError writes the error to w. In JSON mode, it writes structured JSON.
// In text mode, it writes "error: <message>".
func FormatError(w io.Writer, err error, jsonMode bool) {
	if err == nil {
		return
	}

	if jsonMode {
		var ce *CLIError
		if !errors.As(err, &ce) {
			ce = &CLIError{
				Code:    ExitInternal,
				Type:    "internal",
				Message: err.Error(),
			}
		}
		data, _ := json.Marshal(ce)
		_, _ = fmt.Fprintln(w, string(data))
		return
	}

	_, _ = fmt.Fprintf(w, "error: %v\n", err)
}
