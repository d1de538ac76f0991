package session

import (
	"fmt"

	"inferd/internal/common/fsutil"
	"inferd/pkg/types"
)

// defaultMaxTokens bounds a generation when the effective sampling
// parameters request an unlimited run and the session configured no
// explicit ceiling.
const defaultMaxTokens = 4096

// ValidateSamplingParams checks the sampling value ranges. Returns
// CodeInvalidParameters on the first violation.
func ValidateSamplingParams(p types.SamplingParams) error {
	switch {
	case p.Temperature < 0 || p.Temperature > 2:
		return newError(CodeInvalidParameters, "temperature must be between 0.0 and 2.0")
	case p.TopP < 0 || p.TopP > 1:
		return newError(CodeInvalidParameters, "top_p must be between 0.0 and 1.0")
	case p.TopK < 0:
		return newError(CodeInvalidParameters, "top_k must be non-negative")
	case p.MinP < 0 || p.MinP > 1:
		return newError(CodeInvalidParameters, "min_p must be between 0.0 and 1.0")
	case p.RepeatPenalty < 0:
		return newError(CodeInvalidParameters, "repeat_penalty must be non-negative")
	case p.RepeatLastN < 0:
		return newError(CodeInvalidParameters, "repeat_last_n must be non-negative")
	}
	return nil
}

// ValidateSessionParams checks session parameters, including on-disk
// existence of the model and projector files. It runs before any native
// resource is touched.
func ValidateSessionParams(p types.SessionParams) error {
	if p.ModelPath == "" {
		return newError(CodeInvalidParameters, "model path cannot be empty")
	}
	if !fsutil.PathExists(p.ModelPath) {
		return newError(CodeModelNotFound, fmt.Sprintf("model file not found: %s", p.ModelPath))
	}
	if p.MmprojPath != "" && !fsutil.PathExists(p.MmprojPath) {
		return newError(CodeMmprojNotFound, fmt.Sprintf("multimodal projector file not found: %s", p.MmprojPath))
	}
	if p.ContextSize <= 0 {
		return newError(CodeInvalidParameters, "context size must be positive")
	}
	if p.BatchSize <= 0 {
		return newError(CodeInvalidParameters, "batch size must be positive")
	}
	if p.Threads <= 0 {
		return newError(CodeInvalidParameters, "thread count must be positive")
	}
	return ValidateSamplingParams(p.Sampling)
}

// maxTokenCeiling resolves the per-call loop bound from the effective
// sampling parameters and the session configuration.
func maxTokenCeiling(sampling types.SamplingParams, params types.SessionParams) int32 {
	if sampling.MaxTokens > 0 {
		return sampling.MaxTokens
	}
	if params.DefaultMaxTokens > 0 {
		return params.DefaultMaxTokens
	}
	return defaultMaxTokens
}
