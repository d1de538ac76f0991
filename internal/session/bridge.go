package session

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

// ProgressFunc receives load/generation progress in [0,1] with a short stage
// description. It may be invoked from a goroutine other than the one that
// started the operation.
type ProgressFunc func(progress float32, stage string)

// TokenFunc receives each generated token as it is produced.
type TokenFunc func(token string)

// callbackBridge wraps caller-supplied callbacks for invocation from the
// generation path. A panicking callback is logged and swallowed so it can
// never abort generation, and Release drops the callback references exactly
// once even when the normal return path and controller teardown race.
type callbackBridge struct {
	progress ProgressFunc
	token    TokenFunc
	log      zerolog.Logger
	released atomic.Bool
}

func newCallbackBridge(progress ProgressFunc, token TokenFunc, log zerolog.Logger) *callbackBridge {
	return &callbackBridge{progress: progress, token: token, log: log}
}

// emitProgress invokes the progress callback, best effort.
func (b *callbackBridge) emitProgress(progress float32, stage string) {
	if b == nil || b.released.Load() || b.progress == nil {
		return
	}
	defer b.recoverCallback("progress")
	b.progress(progress, stage)
}

// emitToken invokes the token callback, best effort.
func (b *callbackBridge) emitToken(token string) {
	if b == nil || b.released.Load() || b.token == nil {
		return
	}
	defer b.recoverCallback("token")
	b.token(token)
}

// Release detaches the callbacks. Idempotent; later emits are no-ops.
func (b *callbackBridge) Release() {
	if b == nil || !b.released.CompareAndSwap(false, true) {
		return
	}
	b.progress = nil
	b.token = nil
}

func (b *callbackBridge) recoverCallback(kind string) {
	if r := recover(); r != nil {
		b.log.Warn().Str("callback", kind).Interface("panic", r).
			Msg("callback panicked; continuing generation")
	}
}
