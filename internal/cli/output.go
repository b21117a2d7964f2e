package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/batteries/internal/model"
	"github.com/roach88/batteries/internal/serial"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Validation or record operation failure
	ExitCommandError = 2 // Command error (invalid paths, unreachable store, etc.)
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E001", "E201", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	fmt.Fprintln(f.Writer, data)
	return nil
}

// Tree outputs a serialized record. Text format prints its canonical JSON
// so output is byte-stable; JSON format wraps it in the response envelope.
func (f *OutputFormatter) Tree(tree map[string]any) error {
	if f.Format == "json" {
		return f.Success(tree)
	}
	b, err := serial.MarshalCanonical(tree)
	if err != nil {
		return err
	}
	fmt.Fprintln(f.Writer, string(b))
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err with the code matching its category and returns the
// ExitError the command should return.
func (f *OutputFormatter) Fail(message string, err error) error {
	code, exit := classify(err)
	_ = f.Error(code, fmt.Sprintf("%s: %v", message, err), details(err))
	return WrapExitError(exit, message, err)
}

// classify maps record errors to CLI codes. Record-level failures exit 1,
// anything else (store unreachable, bad paths) exits 2.
func classify(err error) (string, int) {
	var loadErr *LoadError
	switch {
	case errors.As(err, &loadErr):
		return loadErr.Code, ExitCommandError
	case model.IsConfigurationError(err):
		return ErrCodeConfiguration, ExitFailure
	case model.IsResourceExhausted(err):
		return ErrCodeResourceExhausted, ExitFailure
	case model.IsSerializationError(err):
		return ErrCodeSerialization, ExitFailure
	case model.IsLogRequired(err):
		return ErrCodeLogRequired, ExitFailure
	case model.IsInvalidValue(err):
		return ErrCodeInvalidValue, ExitFailure
	case errors.Is(err, model.ErrNotFound):
		return ErrCodeRecordNotFound, ExitFailure
	case errors.Is(err, model.ErrConflict):
		return ErrCodeConflict, ExitFailure
	default:
		return ErrCodeStore, ExitCommandError
	}
}

func details(err error) any {
	var me *model.Error
	if !errors.As(err, &me) {
		return nil
	}
	d := map[string]string{"category": string(me.Code)}
	if me.Type != "" {
		d["type"] = me.Type
	}
	if me.Attribute != "" {
		d["attribute"] = me.Attribute
	}
	return d
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
