package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/sigil/internal/ledger"
	"github.com/roach88/sigil/internal/manifest"
	"github.com/roach88/sigil/internal/registry"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Rejected operation or failed check (regression, corruption, failed scenario)
	ExitCommandError = 2 // Command error (bad input, unreadable database, etc.)
)

// Error code constants, unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeOpenFailed  = "E002" // Backend could not be opened
	ErrCodeManifest    = "E003" // Manifest could not be read or compiled
	ErrCodeLoadFailed  = "E004" // Stored state could not be loaded
	ErrCodeNotFound    = "E005" // Path or record not found
	ErrCodeBadInput    = "E006" // Malformed flag or argument
	ErrCodeWriteFailed = "E007" // Backend or file write error

	// Registry errors
	ErrCodeDuplicate    = "E101"
	ErrCodeUnknown      = "E102"
	ErrCodeInvalidValue = "E103"

	// Ledger errors
	ErrCodeRegression    = "E201"
	ErrCodeOutOfRange    = "E202"
	ErrCodeSerialization = "E203"
	ErrCodeNotTracked    = "E204"
	ErrCodeCorruption    = "E205"
	ErrCodeUnknownEntity = "E206"
	ErrCodeHeadMismatch  = "E207"

	ErrCodeTestFailed = "E301" // One or more scenarios failed
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

// ErrorCodeFor maps a library error to its CLI error code.
func ErrorCodeFor(err error) string {
	var (
		invalidErr    *registry.InvalidValueError
		rangeErr      *ledger.MetricRangeError
		notTrackedErr *ledger.NotTrackedError
		manifestErr   *manifest.Error
	)
	switch {
	case registry.IsDuplicate(err):
		return ErrCodeDuplicate
	case registry.IsUnknown(err):
		return ErrCodeUnknown
	case errors.As(err, &invalidErr),
		errors.Is(err, registry.ErrEmptyName),
		errors.Is(err, registry.ErrEmptyOwner):
		return ErrCodeInvalidValue
	case ledger.IsRegression(err):
		return ErrCodeRegression
	case errors.As(err, &rangeErr):
		return ErrCodeOutOfRange
	case ledger.IsSerialization(err):
		return ErrCodeSerialization
	case errors.As(err, &notTrackedErr):
		return ErrCodeNotTracked
	case ledger.IsCorruption(err):
		return ErrCodeCorruption
	case errors.Is(err, ledger.ErrUnknownEntity):
		return ErrCodeUnknownEntity
	case errors.Is(err, ledger.ErrEmptyEntityID):
		return ErrCodeBadInput
	case errors.As(err, &manifestErr):
		return ErrCodeManifest
	default:
		return ErrCodeGeneric
	}
}

// exitCodeFor returns ExitFailure for rejected operations and
// ExitCommandError for everything else.
func exitCodeFor(code string) int {
	switch code {
	case ErrCodeDuplicate, ErrCodeUnknown, ErrCodeInvalidValue,
		ErrCodeRegression, ErrCodeOutOfRange, ErrCodeSerialization,
		ErrCodeNotTracked, ErrCodeCorruption, ErrCodeUnknownEntity,
		ErrCodeHeadMismatch, ErrCodeTestFailed:
		return ExitFailure
	default:
		return ExitCommandError
	}
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
	Code    string `json:"code"`              // "E001", "E101", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
// In text mode data is printed with its String method when it has one.
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

	fmt.Fprintf(f.GetErrWriter(), "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.GetErrWriter(), "Details: %v\n", details)
	}
	return nil
}

// Fail reports err under code and returns the matching ExitError.
// A code of "" is derived from err with ErrorCodeFor.
func (f *OutputFormatter) Fail(code, message string, err error) error {
	if code == "" {
		code = ErrorCodeFor(err)
	}
	text := message
	if err != nil {
		text = fmt.Sprintf("%s: %v", message, err)
	}
	if outErr := f.Error(code, text, nil); outErr != nil {
		return outErr
	}
	return WrapExitError(exitCodeFor(code), message, err)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
