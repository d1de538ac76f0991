package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"inferd/pkg/types"
)

// eogToken is what the fake sampler returns once its script is exhausted.
const eogToken Token = -1

// fakeEngine is an in-memory Engine with scriptable failures. It records
// every Free* call so tests can assert teardown order and idempotence.
type fakeEngine struct {
	mu    sync.Mutex
	freed []string
	calls []string

	// scripted token pieces emitted before end-of-generation
	pieces []string
	next   int

	failLoadModel     bool
	failInitContext   bool
	failLoadProjector bool
	failSampler       bool
	failTemplate      bool
	failTokenize      bool
	failBitmaps       bool
	failTokenizeMM    bool
	failEvalChunks    bool
	failSample        bool
	// fail the Nth Decode call (1-based); 0 disables
	failDecodeAt int
	decodeCalls  int

	lastPrompt string
	lastChain  SamplerChain
}

type fakeModel struct{}
type fakeContext struct{}
type fakeProjector struct{}
type fakeBitmaps struct{}
type fakeChunks struct{}
type fakeSampler struct{}

func newFakeEngine(pieces ...string) *fakeEngine {
	return &fakeEngine{pieces: pieces}
}

func (e *fakeEngine) record(name string) {
	e.mu.Lock()
	e.calls = append(e.calls, name)
	e.mu.Unlock()
}

func (e *fakeEngine) recordFree(name string) {
	e.mu.Lock()
	e.freed = append(e.freed, name)
	e.mu.Unlock()
}

func (e *fakeEngine) called(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.calls {
		if c == name {
			return true
		}
	}
	return false
}

func (e *fakeEngine) InitBackend() { e.record("init_backend") }
func (e *fakeEngine) FreeBackend() { e.recordFree("backend") }

func (e *fakeEngine) LoadModel(path string, gpuLayers int) (ModelRef, error) {
	e.record("load_model")
	if e.failLoadModel {
		return nil, errors.New("load failed")
	}
	return &fakeModel{}, nil
}
func (e *fakeEngine) FreeModel(m ModelRef) { e.recordFree("model") }

func (e *fakeEngine) InitContext(m ModelRef, ctxSize, batchSize, threads int) (ContextRef, error) {
	e.record("init_context")
	if e.failInitContext {
		return nil, errors.New("context init failed")
	}
	return &fakeContext{}, nil
}
func (e *fakeEngine) FreeContext(c ContextRef) { e.recordFree("context") }

func (e *fakeEngine) LoadProjector(path string, m ModelRef, useGPU bool, threads, verbosity int) (ProjectorRef, error) {
	e.record("load_projector")
	if e.failLoadProjector {
		return nil, errors.New("projector load failed")
	}
	return &fakeProjector{}, nil
}
func (e *fakeEngine) FreeProjector(p ProjectorRef) { e.recordFree("projector") }

func (e *fakeEngine) NewSampler(m ModelRef, chain SamplerChain) (SamplerRef, error) {
	e.record("new_sampler")
	if e.failSampler {
		return nil, errors.New("sampler init failed")
	}
	e.mu.Lock()
	e.lastChain = chain
	e.mu.Unlock()
	return &fakeSampler{}, nil
}
func (e *fakeEngine) FreeSampler(s SamplerRef) { e.recordFree("sampler") }

func (e *fakeEngine) ApplyChatTemplate(m ModelRef, messages []types.Message) (string, error) {
	e.record("apply_template")
	if e.failTemplate {
		return "", errors.New("template failed")
	}
	var b strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&b, "<%s>%s</%s>\n", msg.Role, msg.Content, msg.Role)
	}
	b.WriteString("<assistant>")
	return b.String(), nil
}

func (e *fakeEngine) Tokenize(m ModelRef, text string) ([]Token, error) {
	e.record("tokenize")
	if e.failTokenize {
		return nil, errors.New("tokenize failed")
	}
	e.mu.Lock()
	e.lastPrompt = text
	e.mu.Unlock()
	toks := make([]Token, 0, len(text)/4+1)
	for i := 0; i <= len(text)/4; i++ {
		toks = append(toks, Token(i+100))
	}
	return toks, nil
}

func (e *fakeEngine) ImageMarker(p ProjectorRef) string { return "<image>" }

func (e *fakeEngine) MakeBitmaps(p ProjectorRef, images [][]byte) (BitmapsRef, error) {
	e.record("make_bitmaps")
	if e.failBitmaps {
		return nil, errors.New("bitmap failed")
	}
	return &fakeBitmaps{}, nil
}
func (e *fakeEngine) FreeBitmaps(b BitmapsRef) { e.recordFree("bitmaps") }

func (e *fakeEngine) TokenizeMultimodal(p ProjectorRef, text string, bitmaps BitmapsRef) (ChunksRef, error) {
	e.record("tokenize_multimodal")
	if e.failTokenizeMM {
		return nil, errors.New("mm tokenize failed")
	}
	e.mu.Lock()
	e.lastPrompt = text
	e.mu.Unlock()
	return &fakeChunks{}, nil
}
func (e *fakeEngine) FreeChunks(ch ChunksRef) { e.recordFree("chunks") }

func (e *fakeEngine) EvalChunks(p ProjectorRef, c ContextRef, ch ChunksRef, nPast int32, batchSize int) (int32, error) {
	e.record("eval_chunks")
	if e.failEvalChunks {
		return 0, errors.New("eval failed")
	}
	return nPast + 8, nil
}

func (e *fakeEngine) Decode(c ContextRef, tokens []Token, pos int32) error {
	e.record("decode")
	e.mu.Lock()
	e.decodeCalls++
	n := e.decodeCalls
	e.mu.Unlock()
	if e.failDecodeAt > 0 && n == e.failDecodeAt {
		return errors.New("decode failed")
	}
	return nil
}

func (e *fakeEngine) Sample(c ContextRef, s SamplerRef) (Token, error) {
	e.record("sample")
	if e.failSample {
		return 0, errors.New("no token")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.next >= len(e.pieces) {
		return eogToken, nil
	}
	tok := Token(e.next)
	e.next++
	return tok, nil
}

func (e *fakeEngine) TokenText(m ModelRef, tok Token) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if int(tok) >= 0 && int(tok) < len(e.pieces) {
		return e.pieces[tok]
	}
	return ""
}

func (e *fakeEngine) IsEndOfGeneration(m ModelRef, tok Token) bool { return tok == eogToken }

func (e *fakeEngine) ResetContext(c ContextRef) error {
	e.record("reset_context")
	return nil
}

func (e *fakeEngine) ModelDescription(m ModelRef) string  { return "fake model 7B" }
func (e *fakeEngine) ParamCount(m ModelRef) int64         { return 7_000_000_000 }
func (e *fakeEngine) TrainedContextSize(m ModelRef) int32 { return 8192 }
func (e *fakeEngine) ModelSizeBytes(m ModelRef) uint64    { return 4 << 30 }
func (e *fakeEngine) ContextStateSizeBytes(c ContextRef) uint64 {
	return 512 << 20
}

// helpers

func testLogger() zerolog.Logger { return zerolog.Nop() }

// writeGGUF creates a file with a GGUF header under dir.
func writeGGUF(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, append([]byte("GGUF"), make([]byte, 64)...), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

// testSessionParams returns valid params pointing at a fresh temp model.
func testSessionParams(t *testing.T) types.SessionParams {
	t.Helper()
	p := types.DefaultSessionParams()
	p.ModelPath = writeGGUF(t, t.TempDir(), "model.gguf")
	return p
}

// initController builds and initializes a controller over eng.
func initController(t *testing.T, eng Engine, params types.SessionParams) *Controller {
	t.Helper()
	c := NewController(eng, testLogger())
	if err := c.Initialize(params, nil, nil); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return c
}
