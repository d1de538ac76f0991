package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/session"
	"inferd/pkg/types"
)

// scriptEngine is a minimal in-memory session.Engine emitting a fixed token
// script. Controller behavior is covered in the session package; here it
// only has to complete a generation end to end.
type scriptEngine struct {
	pieces []string
	next   int
}

type ref struct{}

func (e *scriptEngine) InitBackend() {}
func (e *scriptEngine) FreeBackend() {}

func (e *scriptEngine) LoadModel(path string, gpuLayers int) (session.ModelRef, error) {
	return &ref{}, nil
}
func (e *scriptEngine) FreeModel(session.ModelRef) {}

func (e *scriptEngine) InitContext(m session.ModelRef, ctxSize, batchSize, threads int) (session.ContextRef, error) {
	return &ref{}, nil
}
func (e *scriptEngine) FreeContext(session.ContextRef) {}

func (e *scriptEngine) LoadProjector(path string, m session.ModelRef, useGPU bool, threads, verbosity int) (session.ProjectorRef, error) {
	return &ref{}, nil
}
func (e *scriptEngine) FreeProjector(session.ProjectorRef) {}

func (e *scriptEngine) NewSampler(m session.ModelRef, chain session.SamplerChain) (session.SamplerRef, error) {
	return &ref{}, nil
}
func (e *scriptEngine) FreeSampler(session.SamplerRef) {}

func (e *scriptEngine) ApplyChatTemplate(m session.ModelRef, messages []types.Message) (string, error) {
	return "prompt", nil
}

func (e *scriptEngine) Tokenize(m session.ModelRef, text string) ([]session.Token, error) {
	return []session.Token{100, 101}, nil
}

func (e *scriptEngine) ImageMarker(session.ProjectorRef) string { return "<image>" }

func (e *scriptEngine) MakeBitmaps(p session.ProjectorRef, images [][]byte) (session.BitmapsRef, error) {
	return &ref{}, nil
}
func (e *scriptEngine) FreeBitmaps(session.BitmapsRef) {}

func (e *scriptEngine) TokenizeMultimodal(p session.ProjectorRef, text string, bitmaps session.BitmapsRef) (session.ChunksRef, error) {
	return &ref{}, nil
}
func (e *scriptEngine) FreeChunks(session.ChunksRef) {}

func (e *scriptEngine) EvalChunks(p session.ProjectorRef, c session.ContextRef, ch session.ChunksRef, nPast int32, batchSize int) (int32, error) {
	return nPast + 4, nil
}

func (e *scriptEngine) Decode(c session.ContextRef, tokens []session.Token, pos int32) error {
	return nil
}

func (e *scriptEngine) Sample(c session.ContextRef, s session.SamplerRef) (session.Token, error) {
	if e.next >= len(e.pieces) {
		return -1, nil
	}
	tok := session.Token(e.next)
	e.next++
	return tok, nil
}

func (e *scriptEngine) TokenText(m session.ModelRef, tok session.Token) string {
	if int(tok) >= 0 && int(tok) < len(e.pieces) {
		return e.pieces[tok]
	}
	return ""
}

func (e *scriptEngine) IsEndOfGeneration(m session.ModelRef, tok session.Token) bool {
	return tok == -1
}

func (e *scriptEngine) ResetContext(session.ContextRef) error { return nil }

func (e *scriptEngine) ModelDescription(session.ModelRef) string  { return "script model" }
func (e *scriptEngine) ParamCount(session.ModelRef) int64         { return 1 }
func (e *scriptEngine) TrainedContextSize(session.ModelRef) int32 { return 2048 }
func (e *scriptEngine) ModelSizeBytes(session.ModelRef) uint64    { return 1 << 20 }
func (e *scriptEngine) ContextStateSizeBytes(session.ContextRef) uint64 {
	return 1 << 20
}

// fakeCompleter records what it was asked and returns a scripted result.
type fakeCompleter struct {
	lastPrompt   string
	lastSampling types.SamplingParams
	out          string
	err          error
	closed       bool
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string, sampling types.SamplingParams, onToken func(string) error) (string, error) {
	f.lastPrompt = prompt
	f.lastSampling = sampling
	return f.out, f.err
}

func (f *fakeCompleter) Close() { f.closed = true }

func writeModelFile(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "model.gguf")
	if err := os.WriteFile(p, append([]byte("GGUF"), make([]byte, 64)...), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func newTestService(t *testing.T, eng session.Engine, completer Completer) *Service {
	t.Helper()
	params := types.DefaultSessionParams()
	params.ModelPath = writeModelFile(t)
	svc := New(eng, completer, Options{
		Session: params,
		Models:  []types.Model{{ID: "model.gguf", Path: params.ModelPath}},
		MaxWait: 50 * time.Millisecond,
	}, zerolog.Nop())
	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	t.Cleanup(svc.Shutdown)
	return svc
}

func generateRequest(content string) types.GenerateRequest {
	return types.GenerateRequest{
		Conversation: []types.Message{{Role: types.RoleUser, Content: content}},
	}
}

func TestGenerateStreamsNDJSON(t *testing.T) {
	eng := &scriptEngine{pieces: []string{"Hello", ",", " world"}}
	svc := newTestService(t, eng, &fakeCompleter{})

	var buf bytes.Buffer
	if err := svc.Generate(context.Background(), generateRequest("hi"), &buf, nil); err != nil {
		t.Fatalf("generate: %v", err)
	}

	var lines []string
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if len(lines) != 4 {
		t.Fatalf("expected 3 token lines and a final line, got %d: %v", len(lines), lines)
	}

	var assembled string
	for _, line := range lines[:3] {
		var chunk types.TokenChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			t.Fatalf("bad token line %q: %v", line, err)
		}
		assembled += chunk.Token
	}
	var final types.GenerateResult
	if err := json.Unmarshal([]byte(lines[3]), &final); err != nil {
		t.Fatalf("bad final line %q: %v", lines[3], err)
	}
	if !final.Done || final.Content != "Hello, world" || assembled != final.Content {
		t.Fatalf("unexpected final result: %+v (assembled %q)", final, assembled)
	}
	if final.FinishReason != "stop" {
		t.Fatalf("finish reason %q", final.FinishReason)
	}
	if final.Stats.TokensGenerated != 3 {
		t.Fatalf("stats tokens = %d", final.Stats.TokensGenerated)
	}
}

func TestGenerateNoStream(t *testing.T) {
	eng := &scriptEngine{pieces: []string{"a", "b"}}
	svc := newTestService(t, eng, &fakeCompleter{})

	off := false
	req := generateRequest("hi")
	req.Stream = &off

	var buf bytes.Buffer
	if err := svc.Generate(context.Background(), req, &buf, nil); err != nil {
		t.Fatalf("generate: %v", err)
	}
	sc := bufio.NewScanner(&buf)
	var lines int
	var final types.GenerateResult
	for sc.Scan() {
		lines++
		if err := json.Unmarshal(sc.Bytes(), &final); err != nil {
			t.Fatalf("bad line: %v", err)
		}
	}
	if lines != 1 || final.Content != "ab" {
		t.Fatalf("expected single final line with full content, got %d lines, %+v", lines, final)
	}
}

func TestGenerateLengthFinishReason(t *testing.T) {
	eng := &scriptEngine{pieces: []string{"a", "b", "c", "d"}}
	svc := newTestService(t, eng, &fakeCompleter{})

	req := generateRequest("hi")
	sampling := types.DefaultSamplingParams()
	sampling.MaxTokens = 2
	req.Sampling = &sampling

	var buf bytes.Buffer
	if err := svc.Generate(context.Background(), req, &buf, nil); err != nil {
		t.Fatalf("generate: %v", err)
	}
	sc := bufio.NewScanner(&buf)
	var final types.GenerateResult
	for sc.Scan() {
		_ = json.Unmarshal(sc.Bytes(), &final)
	}
	if final.FinishReason != "length" || final.Content != "ab" {
		t.Fatalf("expected length finish at 2 tokens, got %+v", final)
	}
}

func TestGenerateRejectsWhenSaturated(t *testing.T) {
	eng := &scriptEngine{}
	svc := newTestService(t, eng, &fakeCompleter{})

	// Occupy the in-flight slot and the whole wait queue.
	svc.genCh <- struct{}{}
	for i := 0; i < cap(svc.queueCh); i++ {
		svc.queueCh <- struct{}{}
	}

	var buf bytes.Buffer
	err := svc.Generate(context.Background(), generateRequest("hi"), &buf, nil)
	if !IsTooBusy(err) {
		t.Fatalf("expected busy error, got %v", err)
	}
}

func TestGenerateCancelledContext(t *testing.T) {
	eng := &scriptEngine{pieces: []string{"never"}}
	svc := newTestService(t, eng, &fakeCompleter{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	err := svc.Generate(ctx, generateRequest("hi"), &buf, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("wrote output for cancelled request: %q", buf.String())
	}
}

func TestGenerateBeforeInitialize(t *testing.T) {
	params := types.DefaultSessionParams()
	params.ModelPath = "/nonexistent/model.gguf"
	svc := New(&scriptEngine{}, &fakeCompleter{}, Options{Session: params}, zerolog.Nop())

	var buf bytes.Buffer
	err := svc.Generate(context.Background(), generateRequest("hi"), &buf, nil)
	if !session.IsCode(err, session.CodeNotInitialized) {
		t.Fatalf("expected not_initialized, got %v", err)
	}
}

func TestCompleteAppliesOverrides(t *testing.T) {
	fc := &fakeCompleter{out: "done"}
	svc := newTestService(t, &scriptEngine{}, fc)

	resp, err := svc.Complete(context.Background(), types.CompleteRequest{
		Prompt:      "raw prompt",
		Temperature: 1.2,
		TopK:        17,
		MaxTokens:   99,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Content != "done" || resp.FinishReason != "stop" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if fc.lastPrompt != "raw prompt" {
		t.Fatalf("prompt not forwarded: %q", fc.lastPrompt)
	}
	if fc.lastSampling.Temperature != 1.2 || fc.lastSampling.TopK != 17 || fc.lastSampling.MaxTokens != 99 {
		t.Fatalf("overrides not applied: %+v", fc.lastSampling)
	}
	// Unset fields keep session defaults.
	if fc.lastSampling.TopP != types.DefaultSamplingParams().TopP {
		t.Fatalf("top_p default lost: %v", fc.lastSampling.TopP)
	}
}

type unavailableErr struct{}

func (unavailableErr) Error() string { return "runtime missing" }

func (unavailableErr) DependencyUnavailable() bool { return true }

func TestCompleteDependencyUnavailable(t *testing.T) {
	fc := &fakeCompleter{err: unavailableErr{}}
	svc := newTestService(t, &scriptEngine{}, fc)

	_, err := svc.Complete(context.Background(), types.CompleteRequest{Prompt: "p"})
	if !IsDependencyUnavailable(err) {
		t.Fatalf("expected dependency-unavailable, got %v", err)
	}
}

func TestValidateModelAndMmproj(t *testing.T) {
	eng := &scriptEngine{pieces: []string{"x"}}
	svc := newTestService(t, eng, &fakeCompleter{})

	path := writeModelFile(t)
	resp, err := svc.Validate(types.ValidateRequest{Path: path})
	if err != nil {
		t.Fatalf("validate model: %v", err)
	}
	if !resp.Valid || resp.Model == nil {
		t.Fatalf("unexpected response %+v", resp)
	}

	resp, err = svc.Validate(types.ValidateRequest{Path: path, Mmproj: true})
	if err != nil {
		t.Fatalf("validate mmproj: %v", err)
	}
	if !resp.Valid || resp.Model != nil {
		t.Fatalf("unexpected response %+v", resp)
	}

	_, err = svc.Validate(types.ValidateRequest{Path: "/nonexistent.gguf"})
	if !session.IsCode(err, session.CodeModelNotFound) {
		t.Fatalf("want model_not_found, got %v", err)
	}
}

func TestStatusReportsQueueAndSession(t *testing.T) {
	svc := newTestService(t, &scriptEngine{}, &fakeCompleter{})

	st := svc.Status()
	if !st.Initialized || st.State != types.StateIdle {
		t.Fatalf("unexpected status: %+v", st)
	}
	if st.MaxQueue != 8 || st.QueueLen != 0 || st.Inflight != 0 {
		t.Fatalf("unexpected queue numbers: %+v", st)
	}
	if st.ModelPath == "" {
		t.Fatal("model path missing from status")
	}
}

func TestShutdownClosesCompleter(t *testing.T) {
	fc := &fakeCompleter{}
	svc := newTestService(t, &scriptEngine{}, fc)
	svc.Shutdown()
	if !fc.closed {
		t.Fatal("completer not closed")
	}
	if svc.Ready() {
		t.Fatal("still ready after shutdown")
	}
}

func TestListModelsCopies(t *testing.T) {
	svc := newTestService(t, &scriptEngine{}, &fakeCompleter{})
	models := svc.ListModels()
	if len(models) != 1 || models[0].ID != "model.gguf" {
		t.Fatalf("unexpected models: %+v", models)
	}
	models[0].ID = "mutated"
	if svc.ListModels()[0].ID != "model.gguf" {
		t.Fatal("ListModels exposed internal slice")
	}
}
