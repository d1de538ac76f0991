package session

import "errors"

// ErrorCode is the closed set of failure categories surfaced by this
// package. Every error returned by a public operation is an *Error carrying
// one of these codes, so callers branch on the code rather than on message
// text or error identity.
type ErrorCode string

const (
	CodeModelNotFound         ErrorCode = "model_not_found"
	CodeModelLoadFailed       ErrorCode = "model_load_failed"
	CodeModelInvalid          ErrorCode = "model_invalid"
	CodeMmprojNotFound        ErrorCode = "mmproj_not_found"
	CodeMmprojLoadFailed      ErrorCode = "mmproj_load_failed"
	CodeMmprojInvalid         ErrorCode = "mmproj_invalid"
	CodeContextInitFailed     ErrorCode = "context_init_failed"
	CodeInsufficientMemory    ErrorCode = "insufficient_memory"
	CodeTokenizationFailed    ErrorCode = "tokenization_failed"
	CodeEvaluationFailed      ErrorCode = "evaluation_failed"
	CodeSamplingFailed        ErrorCode = "sampling_failed"
	CodeImageProcessingFailed ErrorCode = "image_processing_failed"
	CodeInvalidParameters     ErrorCode = "invalid_parameters"
	CodeNotInitialized        ErrorCode = "not_initialized"
	CodeAlreadyInitialized    ErrorCode = "already_initialized"
	CodeOperationCancelled    ErrorCode = "operation_cancelled"
	CodeUnknown               ErrorCode = "unknown_error"
)

// Error is the only error type produced by this package.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return describe(e.Code)
	}
	return e.Message
}

// newError builds an *Error; an empty message falls back to the generic
// description for the code.
func newError(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// CodeOf extracts the error code from err. Errors that did not originate in
// this package report CodeUnknown; nil reports the empty code.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeUnknown
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

func describe(code ErrorCode) string {
	switch code {
	case CodeModelNotFound:
		return "model file not found"
	case CodeModelLoadFailed:
		return "failed to load model"
	case CodeModelInvalid:
		return "invalid model format"
	case CodeMmprojNotFound:
		return "multimodal projector file not found"
	case CodeMmprojLoadFailed:
		return "failed to load multimodal projector"
	case CodeMmprojInvalid:
		return "invalid multimodal projector format"
	case CodeContextInitFailed:
		return "failed to initialize context"
	case CodeInsufficientMemory:
		return "insufficient memory"
	case CodeTokenizationFailed:
		return "text tokenization failed"
	case CodeEvaluationFailed:
		return "model evaluation failed"
	case CodeSamplingFailed:
		return "token sampling failed"
	case CodeImageProcessingFailed:
		return "image processing failed"
	case CodeInvalidParameters:
		return "invalid parameters"
	case CodeNotInitialized:
		return "session not initialized"
	case CodeAlreadyInitialized:
		return "session already initialized"
	case CodeOperationCancelled:
		return "operation was cancelled"
	}
	return "unknown error"
}
