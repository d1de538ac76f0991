package service

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"inferd/internal/session"
	"inferd/pkg/types"
)

// Generate runs one conversation through the session pipeline and streams
// NDJSON to w: one TokenChunk line per token (when streaming is on), then a
// final GenerateResult line. Cancelling ctx (client disconnect, server
// drain) cancels the generation at its next checkpoint.
func (s *Service) Generate(ctx context.Context, req types.GenerateRequest, w io.Writer, flush func()) error {
	// Admission: FIFO queue, single in-flight
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	tok := session.NewCancelToken()
	stop := context.AfterFunc(ctx, tok.Cancel)
	defer stop()

	stream := req.Stream == nil || *req.Stream
	enc := json.NewEncoder(w)

	var onToken session.TokenFunc
	if stream {
		onToken = func(piece string) {
			if err := enc.Encode(types.TokenChunk{Token: piece}); err != nil {
				// Writer gone; the context cancellation below stops the run.
				tok.Cancel()
				return
			}
			if flush != nil {
				flush()
			}
		}
	}

	start := time.Now()
	content, err := s.ctrl.GenerateResponse(req.Conversation, req.Sampling, onToken, nil, tok)
	generationDuration.Observe(time.Since(start).Seconds())

	stats, statsErr := s.ctrl.GenerationStats()
	if statsErr == nil {
		generationTokensTotal.Add(float64(stats.TokensGenerated))
	}

	if err != nil {
		if session.IsCode(err, session.CodeOperationCancelled) {
			generationsTotal.WithLabelValues("cancelled").Inc()
		} else {
			generationsTotal.WithLabelValues("error").Inc()
			s.setLastErr(err)
		}
		return err
	}
	generationsTotal.WithLabelValues("ok").Inc()

	final := types.GenerateResult{
		Done:         true,
		Content:      content,
		FinishReason: finishReason(stats),
		Stats:        stats,
	}
	if err := enc.Encode(final); err != nil {
		return err
	}
	if flush != nil {
		flush()
	}
	return nil
}

// finishReason distinguishes a natural stop from hitting the token ceiling.
func finishReason(stats types.GenerationStats) string {
	if stats.Sampling.MaxTokens > 0 && stats.TokensGenerated >= stats.Sampling.MaxTokens {
		return "length"
	}
	return "stop"
}

// Complete runs a raw-prompt completion through the coarse backend. It
// shares the admission queue with Generate so the native runtime still sees
// one request at a time.
func (s *Service) Complete(ctx context.Context, req types.CompleteRequest) (types.CompleteResponse, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return types.CompleteResponse{}, err
	}
	defer release()

	sampling := s.params.Sampling
	if req.Temperature > 0 {
		sampling.Temperature = req.Temperature
	}
	if req.TopP > 0 {
		sampling.TopP = req.TopP
	}
	if req.TopK > 0 {
		sampling.TopK = int32(req.TopK)
	}
	if req.MaxTokens > 0 {
		sampling.MaxTokens = int32(req.MaxTokens)
	}

	content, err := s.completer.Complete(ctx, req.Prompt, sampling, nil)
	if err != nil {
		return types.CompleteResponse{}, err
	}
	return types.CompleteResponse{Content: content, FinishReason: "stop"}, nil
}
