package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"inferd/pkg/types"
)

// Controller owns a single native inference session: one model, one context,
// an optional multimodal projector and the sampler chain of the current
// call. Operations run synchronously on the caller's goroutine and block
// until completion, cancellation or error.
//
// The controller follows a single-writer discipline: callers must not invoke
// two operations concurrently. Overlapping GenerateResponse calls are
// rejected by the state machine; Initialize/Close concurrent with an
// in-flight generation must be serialized by the caller. Reads
// (GenerationStats, IsInitialized) are safe from any goroutine, as is
// cancelling the token.
type Controller struct {
	eng Engine
	log zerolog.Logger

	params      types.SessionParams
	handles     *handleSet
	initialized bool

	// statsMu guards state, stats and genStart; they are read concurrently
	// with an in-flight generation.
	statsMu  sync.Mutex
	state    types.GenerationState
	stats    types.GenerationStats
	genStart time.Time
}

// NewController builds a controller over the given engine. No native
// resources are acquired until Initialize.
func NewController(eng Engine, log zerolog.Logger) *Controller {
	return &Controller{
		eng:   eng,
		log:   log.With().Str("component", "session").Logger(),
		state: types.StateIdle,
		stats: types.GenerationStats{State: types.StateIdle},
	}
}

// IsInitialized reports whether a native handle is live.
func (c *Controller) IsInitialized() bool {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.initialized
}

// Initialize validates params, acquires the native handle and loads the
// model (and projector, when configured). A second call without an
// intervening Close fails with CodeAlreadyInitialized and leaves the first
// handle untouched. Any load failure rolls back every resource acquired so
// far before the error is returned.
func (c *Controller) Initialize(params types.SessionParams, progress ProgressFunc, cancel *CancelToken) error {
	if c.IsInitialized() {
		return newError(CodeAlreadyInitialized, "")
	}
	if err := ValidateSessionParams(params); err != nil {
		return err
	}

	bridge := newCallbackBridge(progress, nil, c.log)
	defer bridge.Release()

	c.setState(types.StateInitializing)
	bridge.emitProgress(0.0, "initializing backend")

	if cancel.IsCancelled() {
		c.setState(types.StateCancelled)
		return newError(CodeOperationCancelled, "")
	}

	handles := newHandleSet(c.eng)
	handles.acquireBackend()

	fail := func(err error) error {
		handles.close()
		if IsCode(err, CodeOperationCancelled) {
			c.setState(types.StateCancelled)
		} else {
			c.setState(types.StateError)
		}
		return err
	}

	bridge.emitProgress(0.1, "loading model")
	model, err := c.eng.LoadModel(params.ModelPath, params.GPULayers)
	if err != nil {
		return fail(coded(err, CodeModelLoadFailed, "failed to load model from: "+params.ModelPath))
	}
	handles.setModel(model)

	if cancel.IsCancelled() {
		return fail(newError(CodeOperationCancelled, ""))
	}

	bridge.emitProgress(0.4, "initializing context")
	ctx, err := c.eng.InitContext(model, params.ContextSize, params.BatchSize, params.Threads)
	if err != nil {
		return fail(coded(err, CodeContextInitFailed, "failed to initialize context"))
	}
	handles.setContext(ctx)
	bridge.emitProgress(0.6, "model loaded")

	if params.MmprojPath != "" {
		if cancel.IsCancelled() {
			return fail(newError(CodeOperationCancelled, ""))
		}
		bridge.emitProgress(0.7, "loading vision model")
		proj, err := c.eng.LoadProjector(params.MmprojPath, model, params.MmprojGPU, params.Threads, params.Verbosity)
		if err != nil {
			return fail(coded(err, CodeMmprojLoadFailed, "failed to load vision model from: "+params.MmprojPath))
		}
		handles.setProjector(proj)
		bridge.emitProgress(0.9, "vision model loaded")
	}

	c.statsMu.Lock()
	c.params = params
	c.handles = handles
	c.initialized = true
	c.statsMu.Unlock()
	c.setState(types.StateIdle)
	bridge.emitProgress(1.0, "initialization complete")
	c.log.Info().Str("model", params.ModelPath).Bool("vision", params.MmprojPath != "").Msg("session initialized")
	return nil
}

// Close tears down the native handle and resets the controller to idle.
// Idempotent; closing an uninitialized controller is a no-op.
func (c *Controller) Close() {
	c.statsMu.Lock()
	handles := c.handles
	c.handles = nil
	c.initialized = false
	c.statsMu.Unlock()
	if handles != nil {
		handles.close()
		c.log.Info().Msg("session closed")
	}
	c.setState(types.StateIdle)
}

// GenerateResponse runs the full generate pipeline for a conversation:
// sampler configuration, context reset, chat templating, (multimodal)
// tokenization and evaluation, then the per-token decode loop with streaming
// callbacks and cooperative cancellation. A sampling override replaces the
// session defaults for this call only. On mid-generation failure the handle
// stays valid for the next call; only the in-flight generation aborts.
func (c *Controller) GenerateResponse(
	conversation []types.Message,
	override *types.SamplingParams,
	token TokenFunc,
	progress ProgressFunc,
	cancel *CancelToken,
) (string, error) {
	// Request-shape checks run before the state machine is claimed: a
	// malformed request must leave the session state untouched.
	if len(conversation) == 0 {
		return "", newError(CodeInvalidParameters, "conversation cannot be empty")
	}
	images := collectImages(conversation)
	for _, img := range images {
		if _, err := ValidateImageData(img); err != nil {
			return "", err
		}
	}

	c.statsMu.Lock()
	if !c.initialized {
		c.statsMu.Unlock()
		return "", newError(CodeNotInitialized, "session must be initialized before use")
	}
	switch c.state {
	case types.StateIdle, types.StateFinished, types.StateCancelled, types.StateError:
	default:
		c.statsMu.Unlock()
		return "", newError(CodeInvalidParameters, "generation already in progress")
	}
	params := c.params
	handles := c.handles
	if len(images) > 0 && handles.proj == nil {
		c.statsMu.Unlock()
		return "", newError(CodeInvalidParameters, "images provided but multimodal projector not loaded")
	}
	sampling := params.Sampling
	if override != nil {
		sampling = *override
	}
	if err := ValidateSamplingParams(sampling); err != nil {
		c.statsMu.Unlock()
		return "", err
	}
	// Claim the state machine before releasing the lock so a concurrent
	// call observes the in-flight generation.
	c.state = types.StateInitializing
	c.stats.State = types.StateInitializing
	c.statsMu.Unlock()

	out, err := c.generate(handles, params, conversation, images, sampling, token, progress, cancel)
	if err != nil {
		c.log.Debug().Str("code", string(CodeOf(err))).Err(err).Msg("generation failed")
	}
	return out, err
}

func (c *Controller) generate(
	handles *handleSet,
	params types.SessionParams,
	conversation []types.Message,
	images [][]byte,
	sampling types.SamplingParams,
	token TokenFunc,
	progress ProgressFunc,
	cancel *CancelToken,
) (out string, err error) {
	// Engine faults must not escape as panics across the boundary.
	defer func() {
		if r := recover(); r != nil {
			c.setState(types.StateError)
			out, err = "", newError(CodeUnknown, fmt.Sprint(r))
		}
	}()

	failState := func(code ErrorCode, msg string) (string, error) {
		c.setState(types.StateError)
		return "", newError(code, msg)
	}
	cancelled := func() (string, error) {
		c.setState(types.StateCancelled)
		return "", newError(CodeOperationCancelled, "")
	}

	// First cancellation checkpoint: a pre-set token aborts before any
	// native work and before any callback fires.
	if cancel.IsCancelled() {
		return cancelled()
	}

	sampler, err := c.eng.NewSampler(handles.model, buildSamplerChain(sampling))
	if err != nil {
		c.setState(types.StateError)
		return "", coded(err, CodeSamplingFailed, "failed to create sampler chain")
	}
	handles.swapSampler(sampler)

	bridge := newCallbackBridge(progress, token, c.log)
	defer bridge.Release()

	c.resetStats(sampling)

	if err := c.eng.ResetContext(handles.context); err != nil {
		return failState(CodeEvaluationFailed, "failed to reset context state")
	}

	prompt, err := c.eng.ApplyChatTemplate(handles.model, conversation)
	if err != nil {
		return failState(CodeTokenizationFailed, "failed to apply chat template: "+err.Error())
	}

	var past int32
	if len(images) > 0 {
		c.setState(types.StateProcessingImages)
		bridge.emitProgress(0.1, "processing images")

		marker := c.eng.ImageMarker(handles.proj)
		prompt = strings.Repeat(marker, len(images)) + "\n" + prompt

		bitmaps, err := c.eng.MakeBitmaps(handles.proj, images)
		if err != nil {
			return failState(CodeImageProcessingFailed, "failed to create bitmap from image data")
		}
		defer c.eng.FreeBitmaps(bitmaps)

		c.setState(types.StateTokenizingPrompt)
		bridge.emitProgress(0.3, "tokenizing multimodal prompt")
		chunks, err := c.eng.TokenizeMultimodal(handles.proj, prompt, bitmaps)
		if err != nil {
			return failState(CodeTokenizationFailed, "failed to tokenize multimodal input")
		}
		defer c.eng.FreeChunks(chunks)

		if cancel.IsCancelled() {
			return cancelled()
		}

		bridge.emitProgress(0.5, "evaluating multimodal prompt")
		past, err = c.eng.EvalChunks(handles.proj, handles.context, chunks, 0, params.BatchSize)
		if err != nil {
			return failState(CodeEvaluationFailed, "failed to evaluate multimodal prompt")
		}
	} else {
		c.setState(types.StateTokenizingPrompt)
		bridge.emitProgress(0.2, "tokenizing text prompt")

		tokens, err := c.eng.Tokenize(handles.model, prompt)
		if err != nil || len(tokens) == 0 {
			return failState(CodeTokenizationFailed, "failed to tokenize text prompt")
		}

		if cancel.IsCancelled() {
			return cancelled()
		}

		bridge.emitProgress(0.4, "evaluating text prompt")
		if err := c.eng.Decode(handles.context, tokens, 0); err != nil {
			return failState(CodeEvaluationFailed, "failed to evaluate text prompt")
		}
		past = int32(len(tokens))
	}

	if cancel.IsCancelled() {
		return cancelled()
	}

	c.setState(types.StateGenerating)
	bridge.emitProgress(0.6, "generating response")

	var response strings.Builder
	maxTokens := maxTokenCeiling(sampling, params)
	var count int32

	for count < maxTokens {
		if cancel.IsCancelled() {
			return cancelled()
		}

		tok, err := c.eng.Sample(handles.context, handles.sampler)
		if err != nil {
			return failState(CodeSamplingFailed, "sampler returned no token")
		}
		if c.eng.IsEndOfGeneration(handles.model, tok) {
			break
		}

		piece := c.eng.TokenText(handles.model, tok)
		response.WriteString(piece)
		bridge.emitToken(piece)

		count++
		c.updateStats(count)

		if err := c.eng.Decode(handles.context, []Token{tok}, past); err != nil {
			return failState(CodeEvaluationFailed, "failed to decode token")
		}
		past++

		if sampling.MaxTokens > 0 {
			bridge.emitProgress(0.6+0.4*float32(count)/float32(maxTokens), "generating tokens")
		}
	}

	c.setState(types.StateFinished)
	bridge.emitProgress(1.0, "generation complete")
	return response.String(), nil
}

// ModelInfo reports metadata for the loaded model.
func (c *Controller) ModelInfo() (types.ModelInfo, error) {
	c.statsMu.Lock()
	handles := c.handles
	initialized := c.initialized
	c.statsMu.Unlock()
	if !initialized {
		return types.ModelInfo{}, newError(CodeNotInitialized, "session must be initialized before use")
	}

	info := types.ModelInfo{
		Name:           c.eng.ModelDescription(handles.model),
		ParameterCount: c.eng.ParamCount(handles.model),
		ContextSize:    c.eng.TrainedContextSize(handles.model),
		SupportsVision: handles.proj != nil,
		Capabilities:   []string{"text_generation"},
	}
	if info.Name == "" {
		info.Name = "Unknown Model"
	}
	if info.SupportsVision {
		info.Capabilities = append(info.Capabilities, "vision", "multimodal")
	}
	return info, nil
}

// MemoryInfo reports approximate memory use of the loaded session.
func (c *Controller) MemoryInfo() (types.MemoryInfo, error) {
	c.statsMu.Lock()
	handles := c.handles
	initialized := c.initialized
	c.statsMu.Unlock()
	if !initialized {
		return types.MemoryInfo{}, newError(CodeNotInitialized, "session must be initialized before use")
	}

	const mb = 1024 * 1024
	info := types.MemoryInfo{
		ModelMemoryMB:   c.eng.ModelSizeBytes(handles.model) / mb,
		ContextMemoryMB: c.eng.ContextStateSizeBytes(handles.context) / mb,
	}
	info.TotalMemoryMB = info.ModelMemoryMB + info.ContextMemoryMB
	return info, nil
}

// GenerationStats returns a snapshot of the in-flight or most recent
// generation. Safe to call concurrently with generation.
func (c *Controller) GenerationStats() (types.GenerationStats, error) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	if !c.initialized {
		return types.GenerationStats{}, newError(CodeNotInitialized, "session must be initialized before use")
	}
	return c.stats, nil
}

// State returns the current generation state.
func (c *Controller) State() types.GenerationState {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.state
}

// Params returns the session parameters the controller was initialized with.
func (c *Controller) Params() types.SessionParams {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.params
}

// setState is the single authoritative state setter; the state is mirrored
// into the stats snapshot.
func (c *Controller) setState(s types.GenerationState) {
	c.statsMu.Lock()
	c.state = s
	c.stats.State = s
	c.statsMu.Unlock()
}

func (c *Controller) resetStats(sampling types.SamplingParams) {
	c.statsMu.Lock()
	c.stats = types.GenerationStats{State: c.state, Sampling: sampling}
	c.genStart = time.Now()
	c.statsMu.Unlock()
}

// updateStats recomputes elapsed time and throughput after every token.
func (c *Controller) updateStats(tokens int32) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.stats.TokensGenerated = tokens
	c.stats.TimeElapsed = time.Since(c.genStart).Seconds()
	if c.stats.TimeElapsed > 0 {
		c.stats.TokensPerSecond = float64(tokens) / c.stats.TimeElapsed
	} else {
		c.stats.TokensPerSecond = 0
	}
}

// collectImages flattens image payloads in conversation order.
func collectImages(conversation []types.Message) [][]byte {
	var images [][]byte
	for _, msg := range conversation {
		for _, img := range msg.Images {
			images = append(images, img.Data)
		}
	}
	return images
}

// coded normalizes engine errors: errors already carrying a session code
// pass through, anything else is wrapped with the fallback code.
func coded(err error, code ErrorCode, msg string) error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	if err != nil {
		return newError(code, msg+": "+err.Error())
	}
	return newError(code, msg)
}
