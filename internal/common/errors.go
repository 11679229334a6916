package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrTooLarge     = errors.New("payload too large")
	ErrValidation   = errors.New("validation failed")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// ErrorKind classifies a per-file pipeline failure.
type ErrorKind string

const (
	KindConversion ErrorKind = "ConversionError"
	KindOCR        ErrorKind = "OCRError"
	KindTimeout    ErrorKind = "TimeoutError"
	KindExtraction ErrorKind = "ExtractionError"
	KindCancelled  ErrorKind = "CancelledError"
	KindPackaging  ErrorKind = "PackagingError"
)

// Sentinels matched by errors.Is against a *StageError of the same kind.
var (
	ErrConversion = errors.New("conversion failed")
	ErrOCR        = errors.New("ocr failed")
	ErrTimeout    = errors.New("stage timed out")
	ErrExtraction = errors.New("no extractable text")
	ErrCancelled  = errors.New("batch cancelled before job started")
	ErrPackaging  = errors.New("packaging failed")
)

var kindSentinels = map[ErrorKind]error{
	KindConversion: ErrConversion,
	KindOCR:        ErrOCR,
	KindTimeout:    ErrTimeout,
	KindExtraction: ErrExtraction,
	KindCancelled:  ErrCancelled,
	KindPackaging:  ErrPackaging,
}

// StageError is the diagnostic attached to a failed file: which stage
// failed, which external tool (if any) and what that tool reported.
type StageError struct {
	Kind       ErrorKind `json:"kind"`
	Stage      string    `json:"stage"`
	Tool       string    `json:"tool,omitempty"`
	Diagnostic string    `json:"diagnostic"`
	Cause      error     `json:"-"`
}

func (e *StageError) Error() string {
	msg := string(e.Kind) + " at " + e.Stage
	if e.Tool != "" {
		msg += " (" + e.Tool + ")"
	}
	if e.Diagnostic != "" {
		msg += ": " + e.Diagnostic
	}
	return msg
}

func (e *StageError) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, ErrTimeout) match any StageError of that kind.
func (e *StageError) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// NewConversionError reports a normalizer failure.
func NewConversionError(tool, message string, cause error) *StageError {
	return &StageError{Kind: KindConversion, Stage: "normalize", Tool: tool, Diagnostic: message, Cause: cause}
}

// NewOCRError reports an OCR engine failure.
func NewOCRError(tool, message string, cause error) *StageError {
	return &StageError{Kind: KindOCR, Stage: "ocr", Tool: tool, Diagnostic: message, Cause: cause}
}

// NewTimeoutError reports a stage that exceeded its budget.
func NewTimeoutError(stage, tool, message string, cause error) *StageError {
	return &StageError{Kind: KindTimeout, Stage: stage, Tool: tool, Diagnostic: message, Cause: cause}
}

// NewExtractionError reports that neither extraction strategy produced text.
func NewExtractionError(tool, message string, cause error) *StageError {
	return &StageError{Kind: KindExtraction, Stage: "extract", Tool: tool, Diagnostic: message, Cause: cause}
}

// NewCancelledError marks a job that never started.
func NewCancelledError() *StageError {
	return &StageError{Kind: KindCancelled, Stage: "schedule", Diagnostic: "batch cancelled before the file was processed"}
}

// NewPackagingError reports an archive or report write failure.
func NewPackagingError(message string, cause error) *StageError {
	return &StageError{Kind: KindPackaging, Stage: "package", Diagnostic: message, Cause: cause}
}

// AsStageError extracts a *StageError from err, if present.
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
