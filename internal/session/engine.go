package session

import "inferd/pkg/types"

// Token is a vocabulary token id.
type Token int32

// Opaque resource references owned by an Engine implementation. The
// controller never inspects them; it only threads them between engine calls
// and hands them to the matching Free method, exactly once.
type (
	ModelRef     any
	ContextRef   any
	ProjectorRef any
	BitmapsRef   any
	ChunksRef    any
	SamplerRef   any
)

// Engine is the boundary to the native inference runtime. Implementations
// wrap llama.cpp (or a test double); tokenizer, sampler math and image
// embedding all live behind this interface.
//
// Engine calls are not safe for concurrent use on the same refs; the
// controller serializes access.
type Engine interface {
	// InitBackend prepares process-global runtime state. Paired with
	// FreeBackend.
	InitBackend()
	FreeBackend()

	LoadModel(path string, gpuLayers int) (ModelRef, error)
	FreeModel(m ModelRef)

	InitContext(m ModelRef, ctxSize, batchSize, threads int) (ContextRef, error)
	FreeContext(c ContextRef)

	LoadProjector(path string, m ModelRef, useGPU bool, threads, verbosity int) (ProjectorRef, error)
	FreeProjector(p ProjectorRef)

	// NewSampler instantiates the given ordered stage chain.
	NewSampler(m ModelRef, chain SamplerChain) (SamplerRef, error)
	FreeSampler(s SamplerRef)

	// ApplyChatTemplate renders the conversation into a single prompt using
	// the model's chat template, with the generation prompt appended.
	ApplyChatTemplate(m ModelRef, messages []types.Message) (string, error)

	// Tokenize splits prompt text without adding BOS; special tokens from
	// the template are parsed.
	Tokenize(m ModelRef, text string) ([]Token, error)

	// ImageMarker returns the placeholder inserted into the prompt for each
	// image before multimodal tokenization.
	ImageMarker(p ProjectorRef) string

	MakeBitmaps(p ProjectorRef, images [][]byte) (BitmapsRef, error)
	FreeBitmaps(b BitmapsRef)

	TokenizeMultimodal(p ProjectorRef, text string, bitmaps BitmapsRef) (ChunksRef, error)
	FreeChunks(ch ChunksRef)

	// EvalChunks evaluates tokenized multimodal input and returns the
	// context position after evaluation.
	EvalChunks(p ProjectorRef, c ContextRef, ch ChunksRef, nPast int32, batchSize int) (int32, error)

	// Decode evaluates tokens starting at pos; logits are produced for the
	// last token.
	Decode(c ContextRef, tokens []Token, pos int32) error

	// Sample draws and accepts the next token from the sampler chain.
	Sample(c ContextRef, s SamplerRef) (Token, error)

	TokenText(m ModelRef, tok Token) string
	IsEndOfGeneration(m ModelRef, tok Token) bool

	// ResetContext clears sequence state so a new call does not see a
	// previous call's tokens.
	ResetContext(c ContextRef) error

	ModelDescription(m ModelRef) string
	ParamCount(m ModelRef) int64
	TrainedContextSize(m ModelRef) int32
	ModelSizeBytes(m ModelRef) uint64
	ContextStateSizeBytes(c ContextRef) uint64
}
