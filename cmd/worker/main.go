package main

import (
	"context"

	"github.com/joho/godotenv"
	"github.com/xxxsen/common/logutil"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"studyflow/internal/activities"
	"studyflow/internal/api"
	"studyflow/internal/app"
	"studyflow/internal/config"
	"studyflow/internal/schedule"
	"studyflow/internal/workflows"
)

func main() {
	_ = godotenv.Load(".env")
	cfg, err := config.Load("")
	if err != nil {
		logutil.GetLogger(context.Background()).Fatal("load config", zap.Error(err))
	}
	app.InitLogger(cfg.Log)
	logger := logutil.GetLogger(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := app.Build(ctx, cfg)
	if err != nil {
		logger.Fatal("build services", zap.Error(err))
	}
	defer a.Close()

	c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		logger.Fatal("dial temporal", zap.Error(err))
	}
	defer c.Close()

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	workflows.Register(w)
	activities.Register(w, activities.New(a.Runner))

	stopBackground, err := a.StartBackground(ctx,
		api.NewTemporalExecutor(c, cfg.TemporalTaskQueue),
		schedule.NewTemporalReindexer(c, cfg.TemporalTaskQueue))
	if err != nil {
		logger.Fatal("start background jobs", zap.Error(err))
	}
	defer stopBackground()

	logger.Info("studyflow worker listening",
		zap.String("temporal", cfg.TemporalAddress),
		zap.String("queue", cfg.TemporalTaskQueue),
		zap.String("llm_providers", cfg.LLMProviders),
		zap.String("embed_providers", cfg.EmbedProviders))
	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Error("worker stopped", zap.Error(err))
	}
}
