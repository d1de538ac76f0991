package types

// GenerateRequest is the payload for POST /v1/generate.
type GenerateRequest struct {
	// Ordered chat history; must be non-empty.
	Conversation []Message `json:"conversation"`
	// Optional per-call sampling override. When present it replaces the
	// session defaults for this call only.
	Sampling *SamplingParams `json:"sampling,omitempty"`
	// Stream token NDJSON lines as they are produced (default true).
	Stream *bool `json:"stream,omitempty"`
}

// TokenChunk is one streamed NDJSON line of a generation response.
type TokenChunk struct {
	Token string `json:"token"`
}

// GenerateResult is the final NDJSON line of a generation response.
type GenerateResult struct {
	Done         bool            `json:"done"`
	Content      string          `json:"content"`
	FinishReason string          `json:"finish_reason"`
	Stats        GenerationStats `json:"stats"`
}

// CompleteRequest is the payload for POST /v1/complete (raw prompt, no chat
// template, served by the coarse predictor backend).
type CompleteRequest struct {
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float32  `json:"temperature,omitempty"`
	TopP        float32  `json:"top_p,omitempty"`
	TopK        int      `json:"top_k,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	Seed        int      `json:"seed,omitempty"`
}

// CompleteResponse is the body returned by POST /v1/complete.
type CompleteResponse struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"`
}

// StatusResponse reports daemon and session state for GET /status.
type StatusResponse struct {
	State       GenerationState `json:"state"`
	Initialized bool            `json:"initialized"`
	ModelPath   string          `json:"model_path,omitempty"`
	MmprojPath  string          `json:"mmproj_path,omitempty"`
	QueueLen    int             `json:"queue_len"`
	Inflight    int             `json:"inflight"`
	MaxQueue    int             `json:"max_queue_depth"`
	UptimeSec   int64           `json:"uptime_seconds"`
	Error       string          `json:"error,omitempty"`
}

// ErrorResponse is the uniform JSON error body. Code carries the session
// error code string when the failure originated in the session layer.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ValidateRequest asks for a lightweight model or projector check.
type ValidateRequest struct {
	Path string `json:"path"`
	// Check the file as a multimodal projector instead of a language model.
	Mmproj bool `json:"mmproj,omitempty"`
}

// ValidateResponse is the body returned by POST /v1/validate.
type ValidateResponse struct {
	Valid bool       `json:"valid"`
	Model *ModelInfo `json:"model,omitempty"`
}
