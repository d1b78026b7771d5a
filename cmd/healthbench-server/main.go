package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/healthbench/healthbench/internal/config"
	"github.com/healthbench/healthbench/internal/domain/documents"
	"github.com/healthbench/healthbench/internal/domain/extraction"
	"github.com/healthbench/healthbench/internal/domain/rag"
	"github.com/healthbench/healthbench/internal/domain/summarize"
	"github.com/healthbench/healthbench/internal/platform/db"
	"github.com/healthbench/healthbench/internal/platform/middleware"
	"github.com/healthbench/healthbench/internal/platform/openai"
	"github.com/healthbench/healthbench/internal/platform/terminology"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "healthbench-server",
		Short: "Clinical document intelligence API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(embedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func embedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Embed all stored documents into the vector index",
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")

			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			oaiClient := newOpenAIClient(cfg)
			docsSvc := documents.NewService(documents.NewRepoPG(pool), logger)
			ragRepo := rag.NewEmbeddingRepoPG(pool)
			ragSvc := rag.NewService(ragRepo, docsSvc, oaiClient, oaiClient, ragOptions(cfg), logger)

			result, err := ragSvc.EmbedAll(ctx, force)
			if err != nil {
				return fmt.Errorf("embedding run failed: %w", err)
			}

			fmt.Printf("Documents: %d, embedded: %d, skipped: %d, failed: %d (%.1fs)\n",
				result.Documents, result.Embedded, result.Skipped, result.Failed,
				float64(result.ElapsedMS)/1000)
			for _, f := range result.Failures {
				fmt.Printf("  FAILED %s: %s\n", f.DocumentID, f.Error)
			}
			if result.Failed > 0 {
				return fmt.Errorf("%d document(s) failed to embed", result.Failed)
			}
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "Re-embed documents that already have vectors")
	return cmd
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func newOpenAIClient(cfg *config.Config) *openai.Client {
	return openai.NewClient(openai.Config{
		BaseURL:        cfg.OpenAIBaseURL,
		APIKey:         cfg.OpenAIAPIKey,
		DefaultModel:   cfg.OpenAIDefaultModel,
		EmbeddingModel: cfg.OpenAIEmbeddingModel,
		Dimension:      cfg.EmbeddingDimension,
		Timeout:        time.Duration(cfg.OpenAITimeoutSeconds) * time.Second,
		RPS:            cfg.OpenAIRPS,
	})
}

func ragOptions(cfg *config.Config) rag.Options {
	return rag.Options{
		Chunk: rag.ChunkOptions{
			Size:    cfg.ChunkSize,
			Overlap: cfg.ChunkOverlap,
		},
		TopK:      cfg.RAGTopK,
		Dimension: cfg.EmbeddingDimension,
	}
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Provider clients
	oaiClient := newOpenAIClient(cfg)
	var completer openai.Completer = oaiClient
	if cfg.CompletionCacheEnabled {
		completer = openai.NewCompletionCache(oaiClient, 0)
		logger.Info().Msg("completion cache enabled")
	}

	lookupTimeout := time.Duration(cfg.LookupTimeoutSeconds) * time.Second
	icd10Client := terminology.NewICD10Client(cfg.ICD10BaseURL, lookupTimeout, cfg.OpenAIRPS, logger)
	rxnormClient := terminology.NewRxNormClient(cfg.RxNormBaseURL, lookupTimeout, cfg.OpenAIRPS, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// API group
	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Extraction and retrieval make several provider calls per request, so
	// the request deadline has to outlive the slowest provider timeout.
	requestTimeout := time.Duration(cfg.OpenAITimeoutSeconds+30) * time.Second
	apiV1.Use(middleware.RequestTimeout(requestTimeout))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// -- Register Domain Handlers --

	// Documents domain
	docsRepo := documents.NewRepoPG(pool)
	docsSvc := documents.NewService(docsRepo, logger)
	docsHandler := documents.NewHandler(docsSvc)
	docsHandler.RegisterRoutes(apiV1)

	// Retrieval domain
	ragRepo := rag.NewEmbeddingRepoPG(pool)
	ragSvc := rag.NewService(ragRepo, docsSvc, oaiClient, completer, ragOptions(cfg), logger)
	ragHandler := rag.NewHandler(ragSvc)
	ragHandler.RegisterRoutes(apiV1)

	// Document updates drop stale vectors so retrieval never serves
	// chunks from a previous revision.
	docsSvc.SetEmbeddingInvalidator(ragRepo)

	// Summarization domain
	sumRepo := summarize.NewRepoPG(pool)
	sumSvc := summarize.NewService(sumRepo, docsSvc, completer, logger)
	sumHandler := summarize.NewHandler(sumSvc)
	sumHandler.RegisterRoutes(apiV1)

	// Extraction domain
	extSvc := extraction.NewService(completer, icd10Client, rxnormClient, logger)
	extHandler := extraction.NewHandler(extSvc)
	extHandler.RegisterRoutes(apiV1)

	// Start server
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
