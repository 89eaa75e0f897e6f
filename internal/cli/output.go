package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Process exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // a check ran and failed: invalid API, incompatible device, device fault
	ExitCommandError = 2 // the command could not run: bad config, layout drift, unreachable device
)

// ExitError ends a command with a specific process exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError returns an ExitError caused by err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps err to a process exit code. Errors that carry no
// ExitError exit with ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &exitErr):
		return exitErr.Code
	default:
		return ExitFailure
	}
}

// OutputFormatter writes command results either as one JSON envelope per
// command or as text for a terminal.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // verbose logging; keeps Writer parseable in json mode
	Verbose   bool
}

// CLIResponse is the JSON envelope.
type CLIResponse struct {
	Status string    `json:"status"` // ok | error
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error part of the envelope. Code is one of the ErrCode
// constants.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (f *OutputFormatter) isJSON() bool {
	return f.Format == "json"
}

func (f *OutputFormatter) emit(resp CLIResponse) error {
	return json.NewEncoder(f.Writer).Encode(resp)
}

// Success writes data as an ok envelope, or prints it.
func (f *OutputFormatter) Success(data any) error {
	if f.isJSON() {
		return f.emit(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Render is Success with a custom text form.
func (f *OutputFormatter) Render(data any, text func(w io.Writer)) error {
	if f.isJSON() {
		return f.Success(data)
	}
	text(f.Writer)
	return nil
}

// Error writes an error envelope, or an "Error [code]" line. Details are
// printed in text mode only when verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.isJSON() {
		return f.emit(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail writes the error and returns an ExitError whose message starts with
// code.
func (f *OutputFormatter) Fail(exit int, code, message string, err error, details any) error {
	shown := message
	if err != nil {
		shown = fmt.Sprintf("%s: %v", message, err)
	}
	_ = f.Error(code, shown, details)
	return WrapExitError(exit, code+": "+message, err)
}

// Report is Fail for commands that still have a result to show: the JSON
// envelope carries both data and error, text mode prints the result before
// the error line.
func (f *OutputFormatter) Report(data any, code, message string, text func(w io.Writer)) error {
	if f.isJSON() {
		resp := CLIResponse{Status: "error", Data: data, Error: &CLIError{Code: code, Message: message}}
		if err := f.emit(resp); err != nil {
			return err
		}
	} else {
		text(f.Writer)
		_ = f.Error(code, message, nil)
	}
	return NewExitError(ExitFailure, code+": "+message)
}

// VerboseLog prints a line to the error writer when verbose.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if f.Verbose {
		fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
	}
}

// GetErrWriter returns ErrWriter, falling back to Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter == nil {
		return f.Writer
	}
	return f.ErrWriter
}
