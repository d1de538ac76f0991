// Package llamacpp binds the native llama.cpp runtime. The token-level
// engine (engine.go) and the one-shot completer (completer.go) are compiled
// only with the 'llama' build tag; default builds get CGO-free stubs that
// fail fast.
package llamacpp

// Built reports whether this binary includes the native llama runtime.
func Built() bool { return llamaBuilt }
