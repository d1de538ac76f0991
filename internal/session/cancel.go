package session

import "sync/atomic"

// CancelToken is a cooperative cancellation flag. It may be shared across
// goroutines and reused across calls; Cancel is idempotent and the flag is
// observed by the controller at fixed checkpoints (before heavy loads,
// before prompt evaluation and once per generated token). A nil token means
// "never cancel".
type CancelToken struct {
	cancelled atomic.Bool
}

// NewCancelToken returns a fresh, uncancelled token.
func NewCancelToken() *CancelToken { return &CancelToken{} }

// Cancel sets the flag. Safe to call from any goroutine, any number of times.
func (t *CancelToken) Cancel() { t.cancelled.Store(true) }

// IsCancelled reports the flag without blocking.
func (t *CancelToken) IsCancelled() bool {
	return t != nil && t.cancelled.Load()
}

// Reset clears the flag so the token can gate a new call.
func (t *CancelToken) Reset() { t.cancelled.Store(false) }
