//go:build !llama

package llamacpp

// This file provides a no-CGO stub for the llama engine. It is compiled when
// the 'llama' build tag is NOT set, keeping default builds and CI CGO-free.
// The real engine lives in engine.go (tagged 'llama').

import (
	"inferd/internal/session"
	"inferd/pkg/types"
)

var llamaBuilt = false

// Engine is a stub that satisfies session.Engine but refuses to load a
// model without the 'llama' build tag. This avoids any mocked behavior in
// production binaries built without CGO support.
type Engine struct{}

var _ session.Engine = (*Engine)(nil)

func New() *Engine { return &Engine{} }

func errNotBuilt() error {
	return &session.Error{
		Code:    session.CodeModelLoadFailed,
		Message: "llama support not built (missing 'llama' build tag)",
	}
}

func (e *Engine) InitBackend() {}
func (e *Engine) FreeBackend() {}

// LoadModel fails fast; every session path goes through it first, so the
// remaining methods are unreachable in stub builds.
func (e *Engine) LoadModel(path string, gpuLayers int) (session.ModelRef, error) {
	return nil, errNotBuilt()
}
func (e *Engine) FreeModel(m session.ModelRef) {}

func (e *Engine) InitContext(m session.ModelRef, ctxSize, batchSize, threads int) (session.ContextRef, error) {
	return nil, errNotBuilt()
}
func (e *Engine) FreeContext(c session.ContextRef) {}

func (e *Engine) LoadProjector(path string, m session.ModelRef, useGPU bool, threads, verbosity int) (session.ProjectorRef, error) {
	return nil, errNotBuilt()
}
func (e *Engine) FreeProjector(p session.ProjectorRef) {}

func (e *Engine) NewSampler(m session.ModelRef, chain session.SamplerChain) (session.SamplerRef, error) {
	return nil, errNotBuilt()
}
func (e *Engine) FreeSampler(s session.SamplerRef) {}

func (e *Engine) ApplyChatTemplate(m session.ModelRef, messages []types.Message) (string, error) {
	return "", errNotBuilt()
}

func (e *Engine) Tokenize(m session.ModelRef, text string) ([]session.Token, error) {
	return nil, errNotBuilt()
}

func (e *Engine) ImageMarker(p session.ProjectorRef) string { return "" }

func (e *Engine) MakeBitmaps(p session.ProjectorRef, images [][]byte) (session.BitmapsRef, error) {
	return nil, errNotBuilt()
}
func (e *Engine) FreeBitmaps(b session.BitmapsRef) {}

func (e *Engine) TokenizeMultimodal(p session.ProjectorRef, text string, bitmaps session.BitmapsRef) (session.ChunksRef, error) {
	return nil, errNotBuilt()
}
func (e *Engine) FreeChunks(ch session.ChunksRef) {}

func (e *Engine) EvalChunks(p session.ProjectorRef, c session.ContextRef, ch session.ChunksRef, nPast int32, batchSize int) (int32, error) {
	return 0, errNotBuilt()
}

func (e *Engine) Decode(c session.ContextRef, tokens []session.Token, pos int32) error {
	return errNotBuilt()
}

func (e *Engine) Sample(c session.ContextRef, s session.SamplerRef) (session.Token, error) {
	return 0, errNotBuilt()
}

func (e *Engine) TokenText(m session.ModelRef, tok session.Token) string { return "" }

func (e *Engine) IsEndOfGeneration(m session.ModelRef, tok session.Token) bool { return true }

func (e *Engine) ResetContext(c session.ContextRef) error { return errNotBuilt() }

func (e *Engine) ModelDescription(m session.ModelRef) string  { return "" }
func (e *Engine) ParamCount(m session.ModelRef) int64         { return 0 }
func (e *Engine) TrainedContextSize(m session.ModelRef) int32 { return 0 }
func (e *Engine) ModelSizeBytes(m session.ModelRef) uint64    { return 0 }
func (e *Engine) ContextStateSizeBytes(c session.ContextRef) uint64 {
	return 0
}
