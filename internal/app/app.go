// Package app wires configuration into the services shared by the API, the
// worker and the CLI.
package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"studyflow/internal/api"
	"studyflow/internal/chat"
	"studyflow/internal/config"
	"studyflow/internal/embedcache"
	"studyflow/internal/extract"
	"studyflow/internal/filestore"
	"studyflow/internal/index"
	"studyflow/internal/models"
	"studyflow/internal/pipeline"
	"studyflow/internal/providers"
	"studyflow/internal/retrieval"
	"studyflow/internal/slides"
	"studyflow/internal/storage"
	"studyflow/internal/storage/memory"
	"studyflow/internal/util"
	"studyflow/internal/vector"
)

// ChatStore persists sessions and their turns.
type ChatStore interface {
	chat.HistoryStore
	CreateSession(ctx context.Context, sessionID string) error
}

type App struct {
	Config    config.Config
	DB        *storage.DB
	// Audit is nil unless storage is postgres.
	Audit     *storage.LLMAuditRepo
	Books     pipeline.BookStore
	Content   pipeline.ContentStore
	Chats     ChatStore
	Vectors   vector.Store
	Providers *providers.Manager
	Runner    *pipeline.Runner
	Retriever *retrieval.Retriever
	Chat      *chat.Orchestrator

	closers []func()
}

func InitLogger(cfg config.LogConfig) {
	logger.Init(cfg.File, cfg.Level, cfg.FileCount, cfg.FileSize, cfg.KeepDays, cfg.Console)
}

// Build opens storage, migrates the schema and assembles every service.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	locker := pipeline.Locker(pipeline.NewMemoryLocker())
	var recorder providers.CallRecorder
	switch cfg.Storage {
	case "postgres":
		db, err := storage.NewDB(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := db.Migrate(ctx, cfg.EmbedDim); err != nil {
			return nil, err
		}
		a.DB = db
		a.Books = storage.NewBookRepo(db)
		a.Content = storage.NewContentRepo(db)
		a.Chats = storage.NewChatRepo(db)
		a.Audit = storage.NewLLMAuditRepo(db)
		recorder = a.Audit
		locker = pipeline.ChainLockers(locker, storage.NewAdvisoryLocker(db))
	default:
		mem := memory.NewStore()
		a.Books, a.Content, a.Chats, recorder = mem, mem, mem, mem
	}

	vectors, err := openVectors(cfg, a)
	if err != nil {
		return nil, err
	}
	a.Vectors = vectors

	files, err := filestore.New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pm, err := providers.NewManager(cfg)
	if err != nil {
		return nil, err
	}
	pm.SetRecorder(recorder)
	a.Providers = pm

	embedder := pm.PrimaryEmbedder()
	queryEmbedder := embedcache.WrapLRU(embedder, cfg.EmbedCacheSize, cfg.EmbedCacheTTL(), cfg.EmbedVersion)

	synth := slides.NewSynthesizer(pm.LLM(), slides.Options{
		MaxInvalidRetries:   cfg.SlideInvalidRetries,
		MaxTransientRetries: cfg.ProviderRetries,
		BaseDelay:           cfg.RetryBaseDelay(),
		CallTimeout:         cfg.ProviderTimeout(),
	})
	indexer := index.NewIndexer(vectors, embedder, index.Options{
		EmbedVersion: cfg.EmbedVersion,
		Dimension:    cfg.EmbedDim,
		MaxRetries:   cfg.ProviderRetries,
		BaseDelay:    cfg.RetryBaseDelay(),
		CallTimeout:  cfg.ProviderTimeout(),
	})
	a.Runner = pipeline.NewRunner(pipeline.Deps{
		Books:     a.Books,
		Content:   a.Content,
		Files:     files,
		Vectors:   vectors,
		Extractor: extract.NewPDFExtractor(),
		Decks:     synth,
		Indexer:   indexer,
		Locker:    locker,
	}, pipeline.Options{
		MinSegmentChars:  cfg.MinSegmentChars,
		SlideConcurrency: cfg.SlideConcurrency,
		IndexDecks:       cfg.IndexDecks,
		ArtifactRoot:     cfg.DataOutRoot,
	})

	a.Retriever = retrieval.NewRetriever(vectors, queryEmbedder, retrieval.Options{
		TopK:           cfg.RetrievalTopK,
		DedupeSegments: true,
		Dimension:      cfg.EmbedDim,
		CallTimeout:    cfg.ProviderTimeout(),
	})
	a.Chat = chat.NewOrchestrator(pm.LLM(), a.Retriever, a.Content, a.Chats, chat.Options{
		Policy:          chat.Policy(cfg.ChatPolicy),
		TopK:            cfg.RetrievalTopK,
		HistoryWindow:   cfg.ChatHistoryWindow,
		CallTimeout:     cfg.ProviderTimeout(),
		MaxContextChars: 4000,
	})

	logutil.GetLogger(ctx).Info("services ready",
		zap.String("storage", cfg.Storage),
		zap.String("vector_backend", cfg.VectorBackend),
		zap.String("file_store", cfg.FileStore),
		zap.String("llm_providers", cfg.LLMProviders),
		zap.String("embed_providers", cfg.EmbedProviders),
	)
	ok = true
	return a, nil
}

func openVectors(cfg config.Config, a *App) (vector.Store, error) {
	switch cfg.VectorBackend {
	case "postgres":
		if a.DB == nil {
			return nil, fmt.Errorf("vector backend postgres needs postgres storage")
		}
		return vector.NewPGStore(a.DB.Pool), nil
	case "sqlite":
		if err := util.EnsureDir(filepath.Dir(cfg.SQLitePath)); err != nil {
			return nil, err
		}
		s, err := vector.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = s.Close() })
		return s, nil
	default:
		return vector.NewMemoryStore(), nil
	}
}

// APIServer builds the HTTP surface over a's services.
func (a *App) APIServer(exec api.StageExecutor) *api.Server {
	return api.NewServer(api.Deps{
		Books:          a.Books,
		Content:        a.Content,
		Pipeline:       a.Runner,
		Executor:       exec,
		Search:         a.Retriever,
		Chat:           a.Chat,
		Sessions:       a.Chats,
		RateLimitRPS:   a.Config.RateLimitRPS,
		RateLimitBurst: a.Config.RateLimitBurst,
	})
}

// RunPipelineAsync runs every stage of a freshly ingested book in the
// background, logging the outcome.
func (a *App) RunPipelineAsync(ctx context.Context, exec api.StageExecutor, book models.Book, skipSlides bool) {
	go func() {
		ctx := context.WithoutCancel(ctx)
		logger := logutil.GetLogger(ctx).With(zap.String("book_id", book.BookID))
		if _, err := exec.RunPipeline(ctx, book.BookID, skipSlides); err != nil {
			logger.Error("auto pipeline failed", zap.Error(err))
			return
		}
		logger.Info("auto pipeline finished")
	}()
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
