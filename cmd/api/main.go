package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/xxxsen/common/logutil"
	tclient "go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"studyflow/internal/api"
	"studyflow/internal/app"
	"studyflow/internal/config"
)

func main() {
	_ = godotenv.Load(".env")
	cfg, err := config.Load("")
	if err != nil {
		logutil.GetLogger(context.Background()).Fatal("load config", zap.Error(err))
	}
	app.InitLogger(cfg.Log)
	logger := logutil.GetLogger(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		logger.Fatal("build services", zap.Error(err))
	}
	defer a.Close()

	var exec api.StageExecutor
	switch cfg.Executor {
	case "temporal":
		c, err := tclient.Dial(tclient.Options{HostPort: cfg.TemporalAddress})
		if err != nil {
			logger.Fatal("dial temporal", zap.Error(err))
		}
		defer c.Close()
		exec = api.NewTemporalExecutor(c, cfg.TemporalTaskQueue)
	default:
		exec = api.NewInlineExecutor(a.Runner)
		// Without a worker the API process owns the background jobs.
		stopBackground, err := a.StartBackground(ctx, exec, a.Runner)
		if err != nil {
			logger.Fatal("start background jobs", zap.Error(err))
		}
		defer stopBackground()
	}

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           a.APIServer(exec).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("studyflow api listening",
			zap.String("addr", cfg.APIAddr), zap.String("executor", cfg.Executor))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("server stopping...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}
