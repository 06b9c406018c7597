package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kailas-cloud/fwcache/internal/app"
	"github.com/kailas-cloud/fwcache/internal/config"
	logpkg "github.com/kailas-cloud/fwcache/internal/logger"
	"github.com/kailas-cloud/fwcache/internal/metrics"
	chiTransport "github.com/kailas-cloud/fwcache/internal/transport/chi"
	healthuc "github.com/kailas-cloud/fwcache/internal/usecase/health"
	"github.com/kailas-cloud/fwcache/internal/version"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting fwcache ops server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("persistence", cfg.Persistence.Driver),
	)

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterCacheMetrics()
	metrics.RegisterHTTPMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build components", zap.Error(err))
	}
	defer a.Close()

	go a.RunSweeper(ctx, cfg.Fingerprint.SweepInterval, logger)

	// Pass nil interfaces (not typed nil pointers!) for absent components.
	var pinger healthuc.DBPinger
	if a.Store != nil {
		pinger = a.Store
	}
	var embCheck healthuc.EmbeddingChecker
	if hc := a.HealthChecker(); hc != nil {
		embCheck = hc
	}
	healthSvc := healthuc.New(pinger, embCheck).
		WithCheck("knowledge_base", knowledgeBaseCheck(a))

	server := chiTransport.NewServer(a.Fingerprint, a.Semantic, a.Knowledge, healthSvc, logger)
	if a.Budget != nil {
		server.WithBudget(a.Budget)
	}

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Router(cfg.Auth.APIKeys),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	if a.Store != nil {
		if err := a.Knowledge.SaveState(shutdownCtx); err != nil {
			logger.Warn("Failed to save knowledge base state", zap.Error(err))
		}
	}

	logger.Info("Server stopped gracefully")
}

// knowledgeBaseCheck fails when the index has drifted from the stored chunks.
func knowledgeBaseCheck(a *app.App) healthuc.CheckFunc {
	return func(context.Context) error {
		st := a.Knowledge.Stats()
		if st.IndexRows != st.TotalChunks {
			return fmt.Errorf("index has %d rows for %d chunks", st.IndexRows, st.TotalChunks)
		}
		return nil
	}
}
