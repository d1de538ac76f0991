//go:build !llama

package llamacpp

import (
	"context"

	"inferd/pkg/types"
)

// notBuiltError marks the missing native runtime so the service layer can
// surface it as a dependency problem rather than an internal fault.
type notBuiltError struct{}

func (notBuiltError) Error() string { return "llama support not built (missing 'llama' build tag)" }

func (notBuiltError) DependencyUnavailable() bool { return true }

// Completer is a stub for builds without the 'llama' tag. Complete fails
// fast so callers see a clear error instead of mocked output.
type Completer struct{}

func NewCompleter(modelPath string, ctxSize, threads int) *Completer {
	return &Completer{}
}

func (c *Completer) Complete(ctx context.Context, prompt string, sampling types.SamplingParams, onToken func(string) error) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", notBuiltError{}
}

func (c *Completer) Close() {}
