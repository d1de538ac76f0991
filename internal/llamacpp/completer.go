//go:build llama

package llamacpp

import (
	"context"
	"errors"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"

	"inferd/pkg/types"
)

// Completer runs one-shot raw-prompt completions through the go-llama.cpp
// binding. It bypasses chat templating and the session state machine; the
// full conversation pipeline lives in the session package. A Completer owns
// its own model instance, loaded lazily on first use.
type Completer struct {
	modelPath string
	ctxSize   int
	threads   int

	mu    sync.Mutex
	model *llama.LLama
}

// NewCompleter prepares a completer for the given model. The model itself
// is not loaded until the first Complete call.
func NewCompleter(modelPath string, ctxSize, threads int) *Completer {
	return &Completer{modelPath: modelPath, ctxSize: ctxSize, threads: threads}
}

func (c *Completer) ensureModel() (*llama.LLama, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.model != nil {
		return c.model, nil
	}
	if strings.TrimSpace(c.modelPath) == "" {
		return nil, errors.New("model path is empty")
	}
	m, err := llama.New(c.modelPath, llama.SetContext(c.ctxSize))
	if err != nil {
		return nil, err
	}
	c.model = m
	return m, nil
}

// Complete generates a completion for prompt, streaming tokens to onToken
// when it is non-nil. Cancelling ctx stops generation at the next token.
func (c *Completer) Complete(ctx context.Context, prompt string, sampling types.SamplingParams, onToken func(string) error) (string, error) {
	m, err := c.ensureModel()
	if err != nil {
		return "", err
	}

	m.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if onToken != nil {
			if err := onToken(tok); err != nil {
				return false
			}
		}
		return true
	})

	text, err := m.Predict(prompt, predictOptions(sampling, c.threads)...)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	return text, nil
}

// Close frees the underlying model, if loaded.
func (c *Completer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.model != nil {
		c.model.Free()
		c.model = nil
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}

// predictOptions converts sampling parameters into go-llama.cpp options.
func predictOptions(sampling types.SamplingParams, threads int) []llama.PredictOption {
	maxTokens := int(sampling.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 512
	}
	topK := int(sampling.TopK)
	if topK <= 0 {
		topK = llama.DefaultOptions.TopK
	}
	return []llama.PredictOption{
		llama.SetTokens(maxInt(1, maxTokens)),
		llama.SetThreads(maxInt(1, threads)),
		llama.SetTopP(zf(sampling.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(topK),
		llama.SetTemperature(zf(sampling.Temperature, llama.DefaultOptions.Temperature)),
		llama.SetPenalty(zf(sampling.RepeatPenalty, llama.DefaultOptions.Penalty)),
	}
}
