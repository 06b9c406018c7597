// Package app assembles the caches and the knowledge base from configuration.
// Both binaries share it so the CLI and the server see the same persisted state.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/fwcache/internal/chunker"
	"github.com/kailas-cloud/fwcache/internal/config"
	"github.com/kailas-cloud/fwcache/internal/db"
	"github.com/kailas-cloud/fwcache/internal/db/bolt"
	"github.com/kailas-cloud/fwcache/internal/db/memory"
	dbRedis "github.com/kailas-cloud/fwcache/internal/db/redis"
	"github.com/kailas-cloud/fwcache/internal/domain"
	"github.com/kailas-cloud/fwcache/internal/metrics"
	budgetrepo "github.com/kailas-cloud/fwcache/internal/repository/budget"
	"github.com/kailas-cloud/fwcache/internal/repository/embcache"
	"github.com/kailas-cloud/fwcache/internal/repository/ragstore"
	"github.com/kailas-cloud/fwcache/internal/transport/hashing"
	openaiEmb "github.com/kailas-cloud/fwcache/internal/transport/openai"
	embeddinguc "github.com/kailas-cloud/fwcache/internal/usecase/embedding"
	"github.com/kailas-cloud/fwcache/internal/usecase/fingerprint"
	"github.com/kailas-cloud/fwcache/internal/usecase/rag"
	"github.com/kailas-cloud/fwcache/internal/usecase/semantic"
)

// Budget counters outlive their period so a restart late in the day still sees them.
const (
	budgetDailyTTL   = 48 * time.Hour
	budgetMonthlyTTL = 62 * 24 * time.Hour
)

// App holds every long-lived component. Store and Budget are nil when not configured.
type App struct {
	Store         db.Store
	Embedder      domain.Embedder
	QueryEmbedder domain.Embedder
	Provider      string
	Model         string
	Budget        *embeddinguc.BudgetTracker
	Fingerprint   *fingerprint.Cache
	Semantic      *semantic.Cache
	Knowledge     *rag.Store

	provider domain.Embedder
}

// New opens the persistence backend, builds the embedder chain and the three
// stores, and restores the knowledge base from the backend.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := OpenStore(ctx, cfg.Persistence)
	if err != nil {
		return nil, err
	}
	a := &App{Store: store}

	if err := a.buildEmbedders(ctx, cfg, logger); err != nil {
		a.Close()
		return nil, err
	}

	a.Fingerprint = fingerprint.New(fingerprint.Config{
		MaxSize:      cfg.Fingerprint.MaxSize,
		TTL:          cfg.Fingerprint.TTL,
		KeepFraction: cfg.Fingerprint.KeepFraction,
	}, fingerprint.WithLogger(logger.Named("fingerprint")))

	a.Semantic = semantic.New(a.QueryEmbedder, semantic.Config{
		MaxEntries:   cfg.Semantic.MaxEntries,
		Threshold:    cfg.Semantic.Threshold,
		TopK:         cfg.Semantic.TopK,
		KeepFraction: cfg.Semantic.KeepFraction,
		PinnedUsage:  cfg.Semantic.PinnedUsage,
	}, semantic.WithModel(a.Model), semantic.WithLogger(logger.Named("semantic")))

	opts := []rag.Option{
		rag.WithQueryEmbedder(a.QueryEmbedder),
		rag.WithChunker(chunker.New(
			chunker.WithChunkSize(cfg.RAG.ChunkSize),
			chunker.WithOverlap(cfg.RAG.ChunkOverlap),
		)),
		rag.WithModel(a.Model),
		rag.WithDefaultLimit(cfg.RAG.DefaultLimit),
		rag.WithLogger(logger.Named("rag")),
	}
	if store != nil {
		opts = append(opts, rag.WithPersistence(ragstore.New(store, cfg.Persistence.Driver)))
	}
	a.Knowledge = rag.New(a.Embedder, opts...)

	if err := a.Knowledge.Load(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("load knowledge base: %w", err)
	}

	logger.Info("components ready",
		zap.String("provider", a.Provider),
		zap.String("model", a.Model),
		zap.String("persistence", cfg.Persistence.Driver),
		zap.Int("documents", a.Knowledge.Stats().TotalDocuments),
	)
	return a, nil
}

// Close releases the persistence backend.
func (a *App) Close() {
	if a.Store != nil {
		a.Store.Close()
	}
}

// OpenStore connects the configured backend. DriverNone returns a nil store.
func OpenStore(ctx context.Context, cfg config.PersistenceConfig) (db.Store, error) {
	var (
		store db.Store
		err   error
	)
	switch cfg.Driver {
	case config.DriverNone, "":
		return nil, nil
	case config.DriverMemory:
		return memory.NewStore(), nil
	case config.DriverBolt:
		store, err = bolt.NewStore(bolt.Config{Path: cfg.Path})
	case config.DriverRedis:
		store, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Addrs,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	default:
		return nil, fmt.Errorf("unknown persistence driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}

	if rw, ok := store.(db.ReadyWaiter); ok {
		if err := rw.WaitForReady(ctx, time.Duration(cfg.ReadinessTimeout)*time.Second); err != nil {
			store.Close()
			return nil, fmt.Errorf("%s store not ready: %w", cfg.Driver, err)
		}
	}
	return store, nil
}

// buildEmbedders assembles the decorator chain:
// provider -> cached -> instrumented -> instruction.
func (a *App) buildEmbedders(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	vecCfg, provCfg, err := cfg.ActiveVectorizer()
	if err != nil {
		return err
	}
	a.Provider = vecCfg.Provider

	var base domain.Embedder
	switch vecCfg.Provider {
	case config.ProviderHashing:
		base = hashing.New(vecCfg.Dimensions)
		a.Model = hashing.Model
	default:
		base = openaiEmb.NewEmbedder(&openaiEmb.Config{
			APIKey:     provCfg.APIKey,
			BaseURL:    provCfg.BaseURL,
			Model:      vecCfg.Model,
			Dimensions: vecCfg.Dimensions,
			Provider:   vecCfg.Provider,
			Timeout:    time.Duration(provCfg.TimeoutSec) * time.Second,
			Logger:     logger,
		})
		a.Model = vecCfg.Model
	}
	a.provider = base

	if a.Store != nil && cfg.Embedding.Cache.Enabled {
		base = embcache.New(base, a.Store, cfg.Embedding.Cache.TTL, metrics.EmbeddingCacheTotal, logger)
	}

	budget, err := newBudget(ctx, vecCfg.Provider, provCfg.Budget, a.Store, logger)
	if err != nil {
		return err
	}
	a.Budget = budget

	// Pass nil interface (not typed nil pointer!) if budget is not configured.
	var checker embeddinguc.BudgetChecker
	if budget != nil {
		checker = budget
	}
	instrumented := embeddinguc.NewInstrumentedEmbedder(base, vecCfg.Provider, a.Model, checker, logger)

	a.Embedder = withInstruction(instrumented, vecCfg.DocumentInstruction)
	a.QueryEmbedder = withInstruction(instrumented, vecCfg.QueryInstruction)
	return nil
}

func newBudget(
	ctx context.Context, provider string, cfg config.BudgetConfig,
	store db.Store, logger *zap.Logger,
) (*embeddinguc.BudgetTracker, error) {
	if cfg.DailyTokenLimit <= 0 && cfg.MonthlyTokenLimit <= 0 {
		return nil, nil
	}
	action, err := embeddinguc.ParseBudgetAction(cfg.Action)
	if err != nil {
		return nil, err
	}
	budget := embeddinguc.NewBudgetTracker(provider, cfg.DailyTokenLimit, cfg.MonthlyTokenLimit, action, logger)
	if store != nil {
		budget.WithStore(ctx, budgetrepo.New(store, budgetDailyTTL, budgetMonthlyTTL))
	}
	return budget, nil
}

// Instruction prefix is outermost so the cache key includes it.
func withInstruction(e domain.Embedder, instruction string) domain.Embedder {
	if instruction == "" {
		return e
	}
	return domain.NewInstructionEmbedder(e, instruction)
}

// HealthChecker returns the provider's health probe as an interface value,
// nil when the provider has none.
func (a *App) HealthChecker() domain.HealthChecker {
	if hc, ok := a.provider.(domain.HealthChecker); ok {
		return hc
	}
	return nil
}

// RunSweeper drops expired fingerprint entries every interval until ctx ends.
// A non-positive interval leaves expiry to lazy checks on Get.
func (a *App) RunSweeper(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := a.Fingerprint.Sweep(); n > 0 {
				logger.Debug("expired fingerprint entries swept", zap.Int("removed", n))
			}
		}
	}
}
