package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/spf13/cobra"

	"github.com/openkb/openkb/db"
	"github.com/openkb/openkb/internal/agent"
	"github.com/openkb/openkb/internal/api"
	"github.com/openkb/openkb/internal/ask"
	"github.com/openkb/openkb/internal/config"
	"github.com/openkb/openkb/internal/database"
	"github.com/openkb/openkb/internal/guardrail"
	"github.com/openkb/openkb/internal/ingest"
	"github.com/openkb/openkb/internal/kb"
	"github.com/openkb/openkb/internal/search"
	"github.com/openkb/openkb/internal/storage"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute // generation can take a while
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.Default()
	logger.Info("starting openkb", "version", Version, "provider", cfg.Provider)

	if err := db.Migrate(cfg.DatabaseURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	pool, closePool, err := database.Connect(ctx, cfg.DatabaseURL())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer closePool()

	g, embedder, err := initGenkit(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing genkit: %w", err)
	}

	kbs := kb.NewStore(pool, logger)
	jobs := ingest.NewStore(pool, logger)
	rails := guardrail.NewStore(pool, logger)
	agents := agent.NewStore(pool, logger)
	convs := ask.NewConversationStore(pool, logger)

	uploads, err := storage.NewLocal(
		cfg.UploadDir,
		[]byte(cfg.UploadSecret),
		time.Duration(cfg.UploadLinkTTLSec)*time.Second,
		logger,
	)
	if err != nil {
		return fmt.Errorf("initializing upload storage: %w", err)
	}

	searcher := search.NewSearcher(pool, embedder, cfg.SimilarityThreshold, logger)
	runner := ingest.NewRunner(jobs, kbs, uploads, searcher, logger)
	defer runner.Close()

	gate := guardrail.NewGate(searcher, logger)
	tools := ask.NewLayerTools(g, searcher, logger)
	answerer := ask.NewGenkitAnswerer(g, cfg.FullModelName(), tools, logger)
	svc := ask.NewService(searcher, gate, agents, rails, convs, answerer, logger)

	apiServer, err := api.NewServer(api.ServerConfig{
		Logger:      logger,
		KBs:         kbs,
		Uploads:     uploads,
		Jobs:        jobs,
		Runner:      runner,
		Guardrails:  rails,
		Agents:      agents,
		Ask:         svc,
		Pool:        pool,
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
		RateBurst:   cfg.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready",
		"addr", cfg.ListenAddr,
		"health", "/health, /ready",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}

// initGenkit initializes Genkit for the configured provider and returns the
// embedder used for both indexing and retrieval. Ollama requires explicit
// model and embedder registration; Google providers auto-discover.
func initGenkit(ctx context.Context, cfg *config.Config) (*genkit.Genkit, ai.Embedder, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		plugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g := genkit.Init(ctx, genkit.WithPlugins(plugin))
		if g == nil {
			return nil, nil, errors.New("initializing genkit with ollama provider")
		}
		plugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		plugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		return g, ollama.Embedder(g, cfg.OllamaHost), nil

	case config.ProviderGemini, config.ProviderGoogleAI:
		g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, nil, errors.New("initializing genkit with googleai provider")
		}
		return g, googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel), nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", config.ErrInvalidProvider, cfg.Provider)
	}
}
