package types

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ImageData carries raw encoded image bytes (PNG, JPEG or BMP).
type ImageData struct {
	Data []byte `json:"data"`
}

// Message is a single entry in a conversation. Order of messages is
// significant and is preserved into the model's chat template.
type Message struct {
	Role    Role        `json:"role"`
	Content string      `json:"content"`
	Images  []ImageData `json:"images,omitempty"`
}

// SamplingParams configures the token-selection chain for one generation.
// MaxTokens <= 0 means "no explicit limit"; the session falls back to its
// configured default ceiling.
type SamplingParams struct {
	Temperature      float32 `json:"temperature" yaml:"temperature" toml:"temperature"`
	TopP             float32 `json:"top_p" yaml:"top_p" toml:"top_p"`
	TopK             int32   `json:"top_k" yaml:"top_k" toml:"top_k"`
	MinP             float32 `json:"min_p" yaml:"min_p" toml:"min_p"`
	TypicalP         float32 `json:"typical_p" yaml:"typical_p" toml:"typical_p"`
	RepeatPenalty    float32 `json:"repeat_penalty" yaml:"repeat_penalty" toml:"repeat_penalty"`
	RepeatLastN      int32   `json:"repeat_last_n" yaml:"repeat_last_n" toml:"repeat_last_n"`
	FrequencyPenalty float32 `json:"frequency_penalty" yaml:"frequency_penalty" toml:"frequency_penalty"`
	PresencePenalty  float32 `json:"presence_penalty" yaml:"presence_penalty" toml:"presence_penalty"`
	MaxTokens        int32   `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
}

// DefaultSamplingParams returns the stock sampling configuration.
func DefaultSamplingParams() SamplingParams {
	return SamplingParams{
		Temperature:   0.7,
		TopP:          0.9,
		TopK:          40,
		MinP:          0.05,
		TypicalP:      1.0,
		RepeatPenalty: 1.1,
		RepeatLastN:   64,
		MaxTokens:     -1,
	}
}

// SessionParams configures a session. It is treated as immutable once passed
// to Controller.Initialize.
type SessionParams struct {
	ModelPath  string `json:"model_path" yaml:"model_path" toml:"model_path"`
	MmprojPath string `json:"mmproj_path,omitempty" yaml:"mmproj_path" toml:"mmproj_path"`

	ContextSize int  `json:"context_size" yaml:"context_size" toml:"context_size"`
	BatchSize   int  `json:"batch_size" yaml:"batch_size" toml:"batch_size"`
	GPULayers   int  `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`
	MmprojGPU   bool `json:"mmproj_gpu" yaml:"mmproj_gpu" toml:"mmproj_gpu"`
	Threads     int  `json:"threads" yaml:"threads" toml:"threads"`
	Verbosity   int  `json:"verbosity" yaml:"verbosity" toml:"verbosity"`

	// DefaultMaxTokens bounds a generation whose sampling parameters request
	// an unlimited run (MaxTokens <= 0). Zero picks the package default.
	DefaultMaxTokens int32 `json:"default_max_tokens" yaml:"default_max_tokens" toml:"default_max_tokens"`

	Sampling SamplingParams `json:"sampling" yaml:"sampling" toml:"sampling"`
}

// DefaultSessionParams returns session parameters with stock sizes and
// sampling defaults; the model path must still be filled in.
func DefaultSessionParams() SessionParams {
	return SessionParams{
		ContextSize: 16000,
		BatchSize:   4096,
		Threads:     6,
		Verbosity:   1,
		Sampling:    DefaultSamplingParams(),
	}
}

// GenerationState tracks what the session controller is doing.
type GenerationState string

const (
	StateIdle             GenerationState = "idle"
	StateInitializing     GenerationState = "initializing"
	StateTokenizingPrompt GenerationState = "tokenizing_prompt"
	StateProcessingImages GenerationState = "processing_images"
	StateGenerating       GenerationState = "generating"
	StateFinished         GenerationState = "finished"
	StateCancelled        GenerationState = "cancelled"
	StateError            GenerationState = "error"
)

// GenerationStats is a snapshot of the in-flight or most recent generation.
type GenerationStats struct {
	TokensGenerated int32           `json:"tokens_generated"`
	TokensPerSecond float64         `json:"tokens_per_second"`
	TimeElapsed     float64         `json:"time_elapsed_seconds"`
	State           GenerationState `json:"state"`
	Sampling        SamplingParams  `json:"sampling"`
}

// ModelInfo describes a loaded (or validated) model.
type ModelInfo struct {
	Name           string   `json:"name"`
	ParameterCount int64    `json:"parameter_count"`
	ContextSize    int32    `json:"context_size"`
	SupportsVision bool     `json:"supports_vision"`
	Capabilities   []string `json:"capabilities"`
}

// MemoryInfo reports approximate memory use of the native session.
type MemoryInfo struct {
	ModelMemoryMB   uint64 `json:"model_memory_mb"`
	ContextMemoryMB uint64 `json:"context_memory_mb"`
	TotalMemoryMB   uint64 `json:"total_memory_mb"`
}

// Model describes a GGUF file discovered on disk.
type Model struct {
	// Stable identifier; the file name.
	// example: tinyllama-q4.gguf
	ID string `json:"id" example:"tinyllama-q4.gguf"`
	// Absolute path on disk.
	Path string `json:"path" example:"/home/user/models/tinyllama-q4.gguf"`
	// True when the file looks like a multimodal projector rather than a
	// language model.
	Projector bool `json:"projector,omitempty"`
}
