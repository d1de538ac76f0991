package httpapi

import "context"

// serverBaseCtx is cancelled on process shutdown so in-flight generations
// stop even when their clients stay connected.
var serverBaseCtx = context.Background()

// SetBaseContext installs the process shutdown context used by handlers.
// A nil ctx resets to Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	serverBaseCtx = ctx
}

// joinContexts derives a context that ends when either parent does, letting
// a handler react to client disconnect and server shutdown at once. Callers
// must invoke cancel to release the watcher goroutine.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-a.Done():
		case <-b.Done():
		case <-ctx.Done():
		}
		cancel()
	}()
	return ctx, cancel
}
