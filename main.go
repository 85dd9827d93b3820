package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/AnTengye/contractrisk/config"
	"github.com/AnTengye/contractrisk/handler"
	"github.com/AnTengye/contractrisk/middleware"
	"github.com/AnTengye/contractrisk/pkg/logger"
	"github.com/AnTengye/contractrisk/service"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	envFile string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serve := newServeCmd()
	root := &cobra.Command{
		Use:   "contractrisk",
		Short: "Contract risk analysis service",
		Long: `contractrisk extracts the text of PDF and DOCX contracts, asks a language
model for a structured risk analysis and falls back to a rule-based review
when the model is unavailable.`,
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	root.AddCommand(serve, newAnalyzeCmd())
	return root
}

// loadConfig reads the dotenv file when present, then the YAML config, and
// initializes logging.
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			slog.Info("configuration loaded successfully")
			return serve(cmd.Context(), cfg)
		},
	}
}

// buildModel returns the configured model client, or nil when no backend can
// be built. Without a model every analysis is rule-based.
func buildModel(ctx context.Context, cfg *config.Config) service.Completer {
	client, err := service.NewModelClientFromConfig(ctx, &cfg.LLM)
	if err != nil {
		slog.Warn("model client unavailable, using rule-based analysis only", "error", err)
		return nil
	}
	return client
}

// buildRepository opens the configured database. The memory driver keeps
// records for the life of the process.
func buildRepository(ctx context.Context, cfg *config.Config) (service.Repository, func(), error) {
	if cfg.Database.Driver == "memory" {
		return service.NewMemoryStore(cfg.Store.MaxContracts), func() {}, nil
	}

	db, err := service.OpenDatabase(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	store, err := service.NewSQLStore(ctx, db, cfg.Database.Driver)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, func() { db.Close() }, nil
}

// buildLimiter shares rate limits through redis when it is configured.
func buildLimiter(ctx context.Context, cfg *config.Config) (middleware.Limiter, func()) {
	window := time.Duration(cfg.Redis.RateWindowSeconds) * time.Second
	if cfg.Redis.Addr == "" {
		return middleware.NewRateLimiter(cfg.Redis.RateLimit, window), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unreachable, rate limiter fails open until it recovers", "addr", cfg.Redis.Addr, "error", err)
	}
	return middleware.NewRedisLimiter(client, cfg.Redis.RateLimit, window), func() { client.Close() }
}

func serve(ctx context.Context, cfg *config.Config) error {
	repo, closeRepo, err := buildRepository(ctx, cfg)
	if err != nil {
		slog.Error("failed to open repository", "driver", cfg.Database.Driver, "error", err)
		return err
	}
	defer closeRepo()

	var storage service.ObjectStorage
	if cfg.Minio.Endpoint != "" {
		minioSvc, err := service.NewMinioService(&cfg.Minio)
		if err != nil {
			slog.Error("failed to initialize MINIO service", "error", err)
			return err
		}
		if err := minioSvc.EnsureBucket(ctx); err != nil {
			slog.Error("failed to ensure MINIO bucket", "error", err)
			return err
		}
		storage = minioSvc
	}

	analyzer, err := service.NewAnalyzer(service.AnalyzerDeps{
		Extractor:      service.NewExtractor(),
		Model:          buildModel(ctx, cfg),
		Repo:           repo,
		Storage:        storage,
		Timeout:        cfg.Analysis.Timeout(),
		MaxUploadBytes: cfg.Analysis.MaxUploadBytes(),
		MaxPromptChars: cfg.Analysis.MaxPromptChars,
	})
	if err != nil {
		return err
	}

	limiter, closeLimiter := buildLimiter(ctx, cfg)
	defer closeLimiter()

	router := newRouter(cfg, analyzer, limiter)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port, "database", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		slog.Error("failed to start server", "error", err)
		return err
	case <-quit:
	}
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		return err
	}

	slog.Info("server exited gracefully")
	return nil
}

func newRouter(cfg *config.Config, analyzer *service.Analyzer, limiter middleware.Limiter) *gin.Engine {
	authHandler := handler.NewAuthHandler(cfg)
	contractHandler := handler.NewContractHandler(analyzer, cfg.Analysis.MaxUploadBytes())

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.MaxMultipartMemory = cfg.Analysis.MaxUploadBytes()

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(corsMiddleware())
	router.Use(cacheMiddleware())
	router.Use(middleware.RateLimit(limiter))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	api := router.Group("/api")
	{
		api.POST("/auth/login", authHandler.Login)
	}

	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(&cfg.Auth))
	{
		protected.GET("/auth/me", authHandler.GetCurrentUser)
		protected.POST("/contracts/upload", contractHandler.Upload)
		protected.GET("/contracts", contractHandler.List)
		protected.GET("/contracts/:id", contractHandler.Get)
		protected.GET("/contracts/:id/status", contractHandler.GetStatus)
		protected.GET("/contracts/:id/analysis", contractHandler.GetAnalysis)
		protected.GET("/contracts/:id/export", contractHandler.Export)
		protected.POST("/contracts/:id/rerun", contractHandler.Rerun)
		protected.DELETE("/contracts/:id", contractHandler.Delete)
	}

	return router
}

// corsMiddleware handles CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, Content-Disposition")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// cacheMiddleware disables caching of API responses
func cacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
			c.Header("Pragma", "no-cache")
			c.Header("Expires", "0")
		}
		c.Next()
	}
}
