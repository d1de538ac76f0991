package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"inferd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.Model
	Status() types.StatusResponse
	Generate(ctx context.Context, req types.GenerateRequest, w io.Writer, flush func()) error
	Complete(ctx context.Context, req types.CompleteRequest) (types.CompleteResponse, error)
	ModelInfo() (types.ModelInfo, error)
	MemoryInfo() (types.MemoryInfo, error)
	Stats() (types.GenerationStats, error)
	Validate(req types.ValidateRequest) (types.ValidateResponse, error)
	Ready() bool
}

// NewMux builds the daemon's HTTP router.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Post("/v1/generate", func(w http.ResponseWriter, r *http.Request) { handleGenerate(svc, w, r) })
	r.Post("/v1/complete", func(w http.ResponseWriter, r *http.Request) { handleComplete(svc, w, r) })
	r.Post("/v1/validate", func(w http.ResponseWriter, r *http.Request) { handleValidate(svc, w, r) })

	// @Summary Loaded model metadata
	r.Get("/v1/model", func(w http.ResponseWriter, r *http.Request) {
		info, err := svc.ModelInfo()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, info)
	})

	r.Get("/v1/memory", func(w http.ResponseWriter, r *http.Request) {
		info, err := svc.MemoryInfo()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, info)
	})

	r.Get("/v1/stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.Stats()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, stats)
	})

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"models": svc.ListModels()})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Status())
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	// OpenAPI UI; doc.json comes from the generated docs package.
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}

// handleGenerate streams a conversation generation as NDJSON.
//
// @Summary Generate a chat response
// @Accept json
// @Produce application/x-ndjson
// @Router /v1/generate [post]
func handleGenerate(svc Service, w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[types.GenerateRequest](w, r)
	if !ok {
		return
	}
	if len(req.Conversation) == 0 {
		writeJSONError(w, http.StatusBadRequest, "conversation is required")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	start := time.Now()
	// Optional logging of NDJSON tokens
	writer := io.Writer(w)
	lvl := requestLogLevel(r)
	if lvl >= LevelDebug {
		writer = io.MultiWriter(w, &loggingLineWriter{})
	}
	logStart(r, lvl, "generate start")

	// Join server base context with request context so shutdown cancels work too.
	joinedCtx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	if err := svc.Generate(joinedCtx, req, writer, flush); err != nil {
		// If context was canceled (client disconnect), just return.
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		status := writeError(w, err)
		if status == http.StatusTooManyRequests {
			IncrementBackpressure("generate")
		}
		logEnd(r, lvl, "generate end", status, time.Since(start), err)
		return
	}
	logEnd(r, lvl, "generate end", http.StatusOK, time.Since(start), nil)
}

// handleComplete runs a raw-prompt completion.
//
// @Summary Raw prompt completion
// @Accept json
// @Produce json
// @Router /v1/complete [post]
func handleComplete(svc Service, w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[types.CompleteRequest](w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSONError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	joinedCtx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	resp, err := svc.Complete(joinedCtx, req)
	if err != nil {
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		if status := writeError(w, err); status == http.StatusTooManyRequests {
			IncrementBackpressure("complete")
		}
		return
	}
	writeJSON(w, resp)
}

// handleValidate checks a model or projector file without loading it into
// the running session.
//
// @Summary Validate a model or projector file
// @Accept json
// @Produce json
// @Router /v1/validate [post]
func handleValidate(svc Service, w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[types.ValidateRequest](w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeJSONError(w, http.StatusBadRequest, "path is required")
		return
	}
	resp, err := svc.Validate(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

// decodeJSON enforces content type and body size, then decodes the payload.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var req T
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return req, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// If exceeded size, MaxBytesReader may cause an error; still return 400 to avoid size leak details
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}

func logStart(r *http.Request, lvl LogLevel, msg string) {
	if lvl < LevelInfo || zlog == nil {
		return
	}
	z := zlog.Info().Str("path", r.URL.Path)
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		z = z.Str("request_id", rid)
	}
	z.Msg(msg)
}

func logEnd(r *http.Request, lvl LogLevel, msg string, status int, dur time.Duration, err error) {
	if lvl < LevelInfo || zlog == nil {
		return
	}
	z := zlog.Info().Int("status", status).Dur("dur", dur)
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		z = z.Str("request_id", rid)
	}
	if err != nil {
		z = z.Err(err)
	}
	z.Msg(msg)
}
