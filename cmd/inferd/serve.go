package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"inferd/internal/common/fsutil"
	"inferd/internal/config"
	"inferd/internal/httpapi"
	"inferd/internal/llamacpp"
	"inferd/internal/registry"
	"inferd/internal/service"
	"inferd/pkg/types"
)

func newServeCmd(root *rootOpts) *cobra.Command {
	var (
		addr      string
		modelsDir string
		modelPath string
		mmproj    string

		contextSize int
		batchSize   int
		threads     int
		gpuLayers   int
		mmprojGPU   bool

		maxQueueDepth int
		maxWait       time.Duration

		corsEnabled bool
		corsOrigins []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the inference daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			// Flags win over the config file.
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Addr = addr
			}
			if flags.Changed("models-dir") {
				cfg.ModelsDir = modelsDir
			}
			if flags.Changed("model") {
				cfg.Session.ModelPath = modelPath
			}
			if flags.Changed("mmproj") {
				cfg.Session.MmprojPath = mmproj
			}
			if flags.Changed("context-size") {
				cfg.Session.ContextSize = contextSize
			}
			if flags.Changed("batch-size") {
				cfg.Session.BatchSize = batchSize
			}
			if flags.Changed("threads") {
				cfg.Session.Threads = threads
			}
			if flags.Changed("gpu-layers") {
				cfg.Session.GPULayers = gpuLayers
			}
			if flags.Changed("mmproj-gpu") {
				cfg.Session.MmprojGPU = mmprojGPU
			}
			if flags.Changed("max-queue-depth") {
				cfg.MaxQueueDepth = maxQueueDepth
			}
			if flags.Changed("max-wait") {
				cfg.MaxWait = maxWait.String()
			}
			if flags.Changed("cors-enabled") {
				cfg.CORSEnabled = corsEnabled
			}
			if flags.Changed("cors-origins") {
				cfg.CORSOrigins = corsOrigins
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address, e.g. :8080")
	cmd.Flags().StringVar(&modelsDir, "models-dir", "~/models/llm", "Directory to scan for *.gguf model files")
	cmd.Flags().StringVar(&modelPath, "model", "", "Model file to load (id in models dir, or a path)")
	cmd.Flags().StringVar(&mmproj, "mmproj", "", "Multimodal projector file (optional)")
	cmd.Flags().IntVar(&contextSize, "context-size", 0, "Context window in tokens")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Prompt evaluation batch size")
	cmd.Flags().IntVar(&threads, "threads", 0, "Worker threads for the native runtime")
	cmd.Flags().IntVar(&gpuLayers, "gpu-layers", 0, "Layers to offload to the GPU")
	cmd.Flags().BoolVar(&mmprojGPU, "mmproj-gpu", false, "Run the projector on the GPU")
	cmd.Flags().IntVar(&maxQueueDepth, "max-queue-depth", 0, "Generation wait queue depth")
	cmd.Flags().DurationVar(&maxWait, "max-wait", 0, "Max time a request waits for a slot")
	cmd.Flags().BoolVar(&corsEnabled, "cors-enabled", false, "Enable CORS middleware")
	cmd.Flags().StringSliceVar(&corsOrigins, "cors-origins", nil, "Allowed CORS origins")
	return cmd
}

func runServe(cfg config.Config) error {
	log := newLogger(cfg.LogLevel)

	modelsDir, err := fsutil.ExpandHome(cfg.ModelsDir)
	if err != nil {
		return err
	}
	models, err := registry.LoadDir(modelsDir)
	if err != nil {
		log.Warn().Err(err).Str("dir", modelsDir).Msg("models dir not readable; registry empty")
	}

	resolveSessionPaths(&cfg.Session, models)

	eng := llamacpp.New()
	completer := llamacpp.NewCompleter(cfg.Session.ModelPath, cfg.Session.ContextSize, cfg.Session.Threads)
	svc := service.New(eng, completer, service.Options{
		Session:       cfg.Session,
		Models:        models,
		MaxQueueDepth: cfg.MaxQueueDepth,
		MaxWait:       cfg.MaxWaitDuration(),
	}, log)
	defer svc.Shutdown()

	baseCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	httpapi.SetBaseContext(baseCtx)
	httpapi.SetLogger(log)
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins,
		[]string{"GET", "POST", "OPTIONS"}, []string{"Content-Type", "X-Log-Level"})

	// Load the model in the background so health endpoints respond while
	// the session initializes; /readyz gates on it.
	go func() {
		if !llamacpp.Built() {
			log.Warn().Msg("built without llama support; generation endpoints will fail")
		}
		if cfg.Session.ModelPath == "" {
			log.Warn().Msg("no model configured; set --model or session.model_path")
			return
		}
		if err := svc.Initialize(baseCtx); err != nil {
			log.Error().Err(err).Msg("session initialization failed")
		}
	}()

	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(svc)}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("models_dir", modelsDir).Msg("inferd listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-baseCtx.Done():
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	return nil
}

// resolveSessionPaths lets --model name a registry entry by id; a matching
// projector from the same directory fills MmprojPath when unset.
func resolveSessionPaths(params *types.SessionParams, models []types.Model) {
	if m, ok := registry.Find(models, params.ModelPath); ok {
		params.ModelPath = m.Path
	}
	if m, ok := registry.Find(models, params.MmprojPath); ok {
		params.MmprojPath = m.Path
	}
}
