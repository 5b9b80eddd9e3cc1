package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appconfig "github.com/fedutinova/finsight/internal/config"
	"github.com/fedutinova/finsight/internal/database"
	"github.com/fedutinova/finsight/internal/extract"
	"github.com/fedutinova/finsight/internal/llm"
	"github.com/fedutinova/finsight/internal/memq"
	"github.com/fedutinova/finsight/internal/pipeline"
	"github.com/fedutinova/finsight/internal/queue"
	"github.com/fedutinova/finsight/internal/redis"
	"github.com/fedutinova/finsight/internal/repository"
	"github.com/fedutinova/finsight/internal/search"
	"github.com/fedutinova/finsight/internal/server"
	"github.com/fedutinova/finsight/internal/storage"
	httpapi "github.com/fedutinova/finsight/internal/transport/http"
	"github.com/fedutinova/finsight/internal/workers"
)

func main() {
	cfg := appconfig.Load()
	slog.Info("starting finsight", "addr", cfg.HTTPAddr, "workers", cfg.QueueWorkers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		slog.Error("failed to migrate database", "err", err)
		os.Exit(1)
	}

	storageService, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize storage", "err", err)
		os.Exit(1)
	}
	slog.Info("storage initialized", "type", storage.GetStorageType(cfg))

	repo := repository.New(db)

	// dev mode falls back to the in-memory queue when Redis is unreachable;
	// at-least-once across processes needs the stream queue
	var q memq.JobQueue
	redisService, err := redis.New(cfg.RedisURL)
	if err != nil {
		slog.Warn("Redis unavailable, using in-memory queue", "err", err)
		redisService = nil
		q = memq.NewMemoryQueue(cfg.QueueBuf, cfg.JobMaxDuration)
	} else {
		defer redisService.Close()
		q, err = queue.NewRedisQueue(redisService.Client(), queue.RedisQueueConfig{
			Stream:        cfg.QueueStream,
			Group:         cfg.QueueGroup,
			MaxJobTime:    cfg.JobMaxDuration,
			ClaimInterval: cfg.ClaimInterval,
			ClaimTimeout:  cfg.ClaimTimeout,
		})
		if err != nil {
			slog.Error("failed to initialize queue", "err", err)
			os.Exit(1)
		}
	}

	completer := llm.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
	extractor := extract.NewTikaExtractor(cfg.ExtractorURL)

	var searcher search.Searcher
	if cfg.SerperAPIKey != "" {
		searcher = search.NewSerperClient(cfg.SerperAPIKey, cfg.SerperURL)
	} else {
		slog.Warn("no search API key configured, analysis will run without market context")
	}

	executor := pipeline.NewExecutor(storageService, extractor, completer, searcher, cfg.StepTimeout)
	analysisHandler := workers.NewAnalysisHandler(repo, storageService, executor, redisService, cfg.ResultCacheTTL)

	q.StartConsumers(ctx, cfg.QueueWorkers, analysisHandler.HandleAnalysisJob)

	sweeper := workers.NewSweeper(repo, cfg.PendingStale, cfg.SweepInterval)
	sweeper.Start(ctx)

	handlers := &httpapi.Handlers{
		Q:       q,
		Repo:    repo,
		Storage: storageService,
		Redis:   redisService,
		Config:  cfg,
	}
	r := server.NewRouter(handlers)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
	slog.Info("shutting down")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	_ = srv.Shutdown(shCtx)
	_ = q.Close()
	cancel()
}
