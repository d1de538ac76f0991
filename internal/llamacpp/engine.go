//go:build llama

package llamacpp

/*
#cgo CFLAGS: -I${SRCDIR}/../../native/include
#include <stdlib.h>
#include "llama.h"
#include "mtmd.h"
#include "mtmd-helper.h"
*/
import "C"

import (
	"errors"
	"fmt"
	"unsafe"

	"inferd/internal/session"
	"inferd/pkg/types"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = true

// Engine implements session.Engine over the llama.cpp C API, with mtmd for
// multimodal input. All refs handed out wrap raw C pointers; the session
// controller serializes access so no locking happens here.
type Engine struct{}

var _ session.Engine = (*Engine)(nil)

// New returns the in-process llama.cpp engine.
func New() *Engine { return &Engine{} }

type model struct {
	ptr   *C.struct_llama_model
	vocab *C.struct_llama_vocab
}

type llamaContext struct {
	ptr *C.struct_llama_context
}

type projector struct {
	ptr *C.mtmd_context
}

type bitmapSet struct {
	ptrs []*C.mtmd_bitmap
}

type chunkSet struct {
	ptr *C.mtmd_input_chunks
}

type sampler struct {
	ptr *C.struct_llama_sampler
}

func (e *Engine) InitBackend() { C.llama_backend_init() }
func (e *Engine) FreeBackend() { C.llama_backend_free() }

func (e *Engine) LoadModel(path string, gpuLayers int) (session.ModelRef, error) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	params := C.llama_model_default_params()
	params.n_gpu_layers = C.int32_t(gpuLayers)

	ptr := C.llama_model_load_from_file(cPath, params)
	if ptr == nil {
		return nil, fmt.Errorf("llama_model_load_from_file returned null for %s", path)
	}
	return &model{ptr: ptr, vocab: C.llama_model_get_vocab(ptr)}, nil
}

func (e *Engine) FreeModel(m session.ModelRef) {
	mm := m.(*model)
	if mm.ptr != nil {
		C.llama_model_free(mm.ptr)
		mm.ptr = nil
	}
}

func (e *Engine) InitContext(m session.ModelRef, ctxSize, batchSize, threads int) (session.ContextRef, error) {
	mm := m.(*model)

	params := C.llama_context_default_params()
	params.n_ctx = C.uint32_t(ctxSize)
	params.n_batch = C.uint32_t(batchSize)
	params.n_threads = C.int32_t(threads)
	params.n_threads_batch = C.int32_t(threads)

	ptr := C.llama_init_from_model(mm.ptr, params)
	if ptr == nil {
		return nil, errors.New("llama_init_from_model returned null")
	}
	return &llamaContext{ptr: ptr}, nil
}

func (e *Engine) FreeContext(c session.ContextRef) {
	cc := c.(*llamaContext)
	if cc.ptr != nil {
		C.llama_free(cc.ptr)
		cc.ptr = nil
	}
}

func (e *Engine) LoadProjector(path string, m session.ModelRef, useGPU bool, threads, verbosity int) (session.ProjectorRef, error) {
	mm := m.(*model)
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	params := C.mtmd_context_params_default()
	params.use_gpu = C.bool(useGPU)
	params.n_threads = C.int(threads)
	params.verbosity = C.enum_ggml_log_level(verbosity)

	ptr := C.mtmd_init_from_file(cPath, mm.ptr, params)
	if ptr == nil {
		return nil, fmt.Errorf("mtmd_init_from_file returned null for %s", path)
	}
	return &projector{ptr: ptr}, nil
}

func (e *Engine) FreeProjector(p session.ProjectorRef) {
	pp := p.(*projector)
	if pp.ptr != nil {
		C.mtmd_free(pp.ptr)
		pp.ptr = nil
	}
}

func (e *Engine) NewSampler(m session.ModelRef, chain session.SamplerChain) (session.SamplerRef, error) {
	ptr := C.llama_sampler_chain_init(C.llama_sampler_chain_default_params())
	if ptr == nil {
		return nil, errors.New("llama_sampler_chain_init returned null")
	}
	for _, stage := range chain {
		var s *C.struct_llama_sampler
		switch stage.Kind {
		case session.StagePenalties:
			s = C.llama_sampler_init_penalties(
				C.int32_t(stage.RepeatLastN),
				C.float(stage.RepeatPenalty),
				C.float(stage.FrequencyPenalty),
				C.float(stage.PresencePenalty),
			)
		case session.StageGreedy:
			s = C.llama_sampler_init_greedy()
		case session.StageTopK:
			s = C.llama_sampler_init_top_k(C.int32_t(stage.K))
		case session.StageTypical:
			s = C.llama_sampler_init_typical(C.float(stage.P), 1)
		case session.StageTopP:
			s = C.llama_sampler_init_top_p(C.float(stage.P), 1)
		case session.StageMinP:
			s = C.llama_sampler_init_min_p(C.float(stage.P), 1)
		case session.StageTemp:
			s = C.llama_sampler_init_temp(C.float(stage.Temp))
		case session.StageDist:
			s = C.llama_sampler_init_dist(C.LLAMA_DEFAULT_SEED)
		}
		if s == nil {
			C.llama_sampler_free(ptr)
			return nil, fmt.Errorf("failed to build sampler stage %s", stage.Kind)
		}
		C.llama_sampler_chain_add(ptr, s)
	}
	return &sampler{ptr: ptr}, nil
}

func (e *Engine) FreeSampler(s session.SamplerRef) {
	ss := s.(*sampler)
	if ss.ptr != nil {
		C.llama_sampler_free(ss.ptr)
		ss.ptr = nil
	}
}

func (e *Engine) ApplyChatTemplate(m session.ModelRef, messages []types.Message) (string, error) {
	mm := m.(*model)

	cMsgs := make([]C.struct_llama_chat_message, len(messages))
	for i, msg := range messages {
		cMsgs[i].role = C.CString(string(msg.Role))
		cMsgs[i].content = C.CString(msg.Content)
	}
	defer func() {
		for i := range cMsgs {
			C.free(unsafe.Pointer(cMsgs[i].role))
			C.free(unsafe.Pointer(cMsgs[i].content))
		}
	}()

	tmpl := C.llama_model_chat_template(mm.ptr, nil)

	// First pass sizes the buffer; a negative result means the template
	// could not be applied at all.
	size := C.llama_chat_apply_template(tmpl, &cMsgs[0], C.size_t(len(cMsgs)), true, nil, 0)
	if size < 0 {
		return "", errors.New("llama_chat_apply_template failed")
	}
	buf := make([]C.char, int(size)+1)
	size = C.llama_chat_apply_template(tmpl, &cMsgs[0], C.size_t(len(cMsgs)), true, &buf[0], C.int32_t(len(buf)))
	if size < 0 {
		return "", errors.New("llama_chat_apply_template failed")
	}
	return C.GoStringN(&buf[0], size), nil
}

func (e *Engine) Tokenize(m session.ModelRef, text string) ([]session.Token, error) {
	mm := m.(*model)
	cText := C.CString(text)
	defer C.free(unsafe.Pointer(cText))

	// A negative return carries the required token count.
	n := C.llama_tokenize(mm.vocab, cText, C.int32_t(len(text)), nil, 0, false, true)
	if n >= 0 {
		return nil, errors.New("llama_tokenize produced no tokens")
	}
	tokens := make([]session.Token, -n)
	n = C.llama_tokenize(mm.vocab, cText, C.int32_t(len(text)),
		(*C.llama_token)(unsafe.Pointer(&tokens[0])), C.int32_t(len(tokens)), false, true)
	if n < 0 {
		return nil, errors.New("llama_tokenize failed")
	}
	return tokens[:n], nil
}

func (e *Engine) ImageMarker(p session.ProjectorRef) string {
	return C.GoString(C.mtmd_default_marker())
}

func (e *Engine) MakeBitmaps(p session.ProjectorRef, images [][]byte) (session.BitmapsRef, error) {
	pp := p.(*projector)
	set := &bitmapSet{ptrs: make([]*C.mtmd_bitmap, 0, len(images))}
	for i, img := range images {
		bmp := C.mtmd_helper_bitmap_init_from_buf(pp.ptr,
			(*C.uchar)(unsafe.Pointer(&img[0])), C.size_t(len(img)))
		if bmp == nil {
			e.FreeBitmaps(set)
			return nil, fmt.Errorf("failed to decode image %d", i)
		}
		set.ptrs = append(set.ptrs, bmp)
	}
	return set, nil
}

func (e *Engine) FreeBitmaps(b session.BitmapsRef) {
	set := b.(*bitmapSet)
	for _, bmp := range set.ptrs {
		C.mtmd_bitmap_free(bmp)
	}
	set.ptrs = nil
}

func (e *Engine) TokenizeMultimodal(p session.ProjectorRef, text string, bitmaps session.BitmapsRef) (session.ChunksRef, error) {
	pp := p.(*projector)
	set := bitmaps.(*bitmapSet)

	chunks := C.mtmd_input_chunks_init()
	if chunks == nil {
		return nil, errors.New("mtmd_input_chunks_init returned null")
	}

	cText := C.CString(text)
	defer C.free(unsafe.Pointer(cText))
	input := C.mtmd_input_text{
		text:          cText,
		add_special:   true,
		parse_special: true,
	}

	var bmpPtr **C.mtmd_bitmap
	if len(set.ptrs) > 0 {
		bmpPtr = &set.ptrs[0]
	}
	if res := C.mtmd_tokenize(pp.ptr, chunks, &input, bmpPtr, C.size_t(len(set.ptrs))); res != 0 {
		C.mtmd_input_chunks_free(chunks)
		return nil, fmt.Errorf("mtmd_tokenize failed with status %d", int(res))
	}
	return &chunkSet{ptr: chunks}, nil
}

func (e *Engine) FreeChunks(ch session.ChunksRef) {
	cc := ch.(*chunkSet)
	if cc.ptr != nil {
		C.mtmd_input_chunks_free(cc.ptr)
		cc.ptr = nil
	}
}

func (e *Engine) EvalChunks(p session.ProjectorRef, c session.ContextRef, ch session.ChunksRef, nPast int32, batchSize int) (int32, error) {
	pp := p.(*projector)
	cc := c.(*llamaContext)
	chunks := ch.(*chunkSet)

	newPast := C.llama_pos(nPast)
	res := C.mtmd_helper_eval_chunks(pp.ptr, cc.ptr, chunks.ptr,
		C.llama_pos(nPast), 0, C.int32_t(batchSize), true, &newPast)
	if res != 0 {
		return 0, fmt.Errorf("mtmd_helper_eval_chunks failed with status %d", int(res))
	}
	return int32(newPast), nil
}

func (e *Engine) Decode(c session.ContextRef, tokens []session.Token, pos int32) error {
	cc := c.(*llamaContext)
	n := len(tokens)
	if n == 0 {
		return errors.New("decode called with no tokens")
	}

	batch := C.llama_batch_init(C.int32_t(n), 0, 1)
	defer C.llama_batch_free(batch)

	bTokens := unsafe.Slice(batch.token, n)
	bPos := unsafe.Slice(batch.pos, n)
	bNSeq := unsafe.Slice(batch.n_seq_id, n)
	bSeq := unsafe.Slice(batch.seq_id, n)
	bLogits := unsafe.Slice(batch.logits, n)
	for i, tok := range tokens {
		bTokens[i] = C.llama_token(tok)
		bPos[i] = C.llama_pos(pos + int32(i))
		bNSeq[i] = 1
		unsafe.Slice(bSeq[i], 1)[0] = 0
		bLogits[i] = 0
	}
	bLogits[n-1] = 1
	batch.n_tokens = C.int32_t(n)

	if res := C.llama_decode(cc.ptr, batch); res != 0 {
		return fmt.Errorf("llama_decode failed with status %d", int(res))
	}
	return nil
}

func (e *Engine) Sample(c session.ContextRef, s session.SamplerRef) (session.Token, error) {
	cc := c.(*llamaContext)
	ss := s.(*sampler)

	tok := C.llama_sampler_sample(ss.ptr, cc.ptr, -1)
	if tok < 0 {
		return 0, errors.New("llama_sampler_sample returned no token")
	}
	C.llama_sampler_accept(ss.ptr, tok)
	return session.Token(tok), nil
}

func (e *Engine) TokenText(m session.ModelRef, tok session.Token) string {
	mm := m.(*model)
	var buf [256]C.char
	n := C.llama_token_to_piece(mm.vocab, C.llama_token(tok), &buf[0], C.int32_t(len(buf)), 0, true)
	if n <= 0 {
		return ""
	}
	return C.GoStringN(&buf[0], n)
}

func (e *Engine) IsEndOfGeneration(m session.ModelRef, tok session.Token) bool {
	mm := m.(*model)
	return bool(C.llama_vocab_is_eog(mm.vocab, C.llama_token(tok)))
}

func (e *Engine) ResetContext(c session.ContextRef) error {
	cc := c.(*llamaContext)
	if !bool(C.llama_memory_seq_rm(C.llama_get_memory(cc.ptr), -1, -1, -1)) {
		return errors.New("llama_memory_seq_rm failed")
	}
	return nil
}

func (e *Engine) ModelDescription(m session.ModelRef) string {
	mm := m.(*model)
	var buf [256]C.char
	n := C.llama_model_desc(mm.ptr, &buf[0], C.size_t(len(buf)))
	if n <= 0 {
		return ""
	}
	return C.GoStringN(&buf[0], n)
}

func (e *Engine) ParamCount(m session.ModelRef) int64 {
	return int64(C.llama_model_n_params(m.(*model).ptr))
}

func (e *Engine) TrainedContextSize(m session.ModelRef) int32 {
	return int32(C.llama_model_n_ctx_train(m.(*model).ptr))
}

func (e *Engine) ModelSizeBytes(m session.ModelRef) uint64 {
	return uint64(C.llama_model_size(m.(*model).ptr))
}

func (e *Engine) ContextStateSizeBytes(c session.ContextRef) uint64 {
	return uint64(C.llama_state_get_size(c.(*llamaContext).ptr))
}
