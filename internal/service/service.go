package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/session"
	"inferd/pkg/types"
)

// Completer runs raw-prompt completions outside the session pipeline. It is
// satisfied by llamacpp.Completer in both build variants.
type Completer interface {
	Complete(ctx context.Context, prompt string, sampling types.SamplingParams, onToken func(string) error) (string, error)
	Close()
}

// Options configures a Service.
type Options struct {
	// Session parameters handed to the controller on Initialize.
	Session types.SessionParams
	// Models discovered in the registry, reported by ListModels.
	Models []types.Model
	// MaxQueueDepth bounds the generation wait queue (default 8).
	MaxQueueDepth int
	// MaxWait bounds how long a request waits for a slot (default 30s).
	MaxWait time.Duration
}

// Service owns the single inference session and mediates all access to it:
// admission (one generation in flight, bounded FIFO queue), request-context
// cancellation wiring, and domain metrics. It is the layer the HTTP API
// talks to.
type Service struct {
	ctrl      *session.Controller
	eng       session.Engine
	completer Completer
	log       zerolog.Logger

	params types.SessionParams
	models []types.Model

	maxWait time.Duration
	genCh   chan struct{}
	queueCh chan struct{}

	start time.Time

	mu      sync.Mutex
	lastErr string
}

// New builds a Service over the given engine. Initialize must be called
// before generation endpoints work.
func New(eng session.Engine, completer Completer, opts Options, log zerolog.Logger) *Service {
	depth := opts.MaxQueueDepth
	if depth <= 0 {
		depth = 8
	}
	maxWait := opts.MaxWait
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}
	return &Service{
		ctrl:      session.NewController(eng, log),
		eng:       eng,
		completer: completer,
		log:       log.With().Str("component", "service").Logger(),
		params:    opts.Session,
		models:    append([]types.Model(nil), opts.Models...),
		maxWait:   maxWait,
		genCh:     make(chan struct{}, 1),
		queueCh:   make(chan struct{}, depth),
		start:     time.Now(),
	}
}

// Initialize loads the model into the session. Cancelling ctx aborts the
// load at its next checkpoint.
func (s *Service) Initialize(ctx context.Context) error {
	tok := session.NewCancelToken()
	stop := context.AfterFunc(ctx, tok.Cancel)
	defer stop()

	progress := func(p float32, stage string) {
		s.log.Debug().Float32("progress", p).Str("stage", stage).Msg("initialize")
	}
	if err := s.ctrl.Initialize(s.params, progress, tok); err != nil {
		s.setLastErr(err)
		return err
	}
	s.setLastErr(nil)
	return nil
}

// Shutdown releases the session and the completion backend.
func (s *Service) Shutdown() {
	s.ctrl.Close()
	if s.completer != nil {
		s.completer.Close()
	}
}

// Ready reports whether the session is initialized and can serve.
func (s *Service) Ready() bool { return s.ctrl.IsInitialized() }

// ListModels returns the registry snapshot taken at startup.
func (s *Service) ListModels() []types.Model {
	return append([]types.Model(nil), s.models...)
}

// ModelInfo reports metadata for the loaded model.
func (s *Service) ModelInfo() (types.ModelInfo, error) { return s.ctrl.ModelInfo() }

// MemoryInfo reports approximate memory use of the loaded session.
func (s *Service) MemoryInfo() (types.MemoryInfo, error) { return s.ctrl.MemoryInfo() }

// Stats returns a snapshot of the in-flight or most recent generation.
func (s *Service) Stats() (types.GenerationStats, error) { return s.ctrl.GenerationStats() }

// Validate runs the lightweight file checks without touching the loaded
// session. Model checks briefly load the file on a separate backend.
func (s *Service) Validate(req types.ValidateRequest) (types.ValidateResponse, error) {
	if req.Mmproj {
		if err := session.ValidateMmproj(req.Path); err != nil {
			return types.ValidateResponse{}, err
		}
		return types.ValidateResponse{Valid: true}, nil
	}
	info, err := session.ValidateModel(s.eng, req.Path)
	if err != nil {
		return types.ValidateResponse{}, err
	}
	return types.ValidateResponse{Valid: true, Model: &info}, nil
}

// Status reports daemon and session state for GET /status.
func (s *Service) Status() types.StatusResponse {
	s.mu.Lock()
	lastErr := s.lastErr
	s.mu.Unlock()
	return types.StatusResponse{
		State:       s.ctrl.State(),
		Initialized: s.ctrl.IsInitialized(),
		ModelPath:   s.params.ModelPath,
		MmprojPath:  s.params.MmprojPath,
		QueueLen:    len(s.queueCh),
		Inflight:    len(s.genCh),
		MaxQueue:    cap(s.queueCh),
		UptimeSec:   int64(time.Since(s.start).Seconds()),
		Error:       lastErr,
	}
}

func (s *Service) setLastErr(err error) {
	s.mu.Lock()
	if err == nil {
		s.lastErr = ""
	} else {
		s.lastErr = err.Error()
	}
	s.mu.Unlock()
}
