package app

import (
	"context"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"studyflow/internal/api"
	"studyflow/internal/models"
	"studyflow/internal/schedule"
	"studyflow/internal/watch"
)

// StartBackground starts the stale-reindex schedule and, when enabled, the
// inbox watcher. Newly ingested inbox books run through exec. The returned
// function stops both and waits for them.
func (a *App) StartBackground(ctx context.Context, exec api.StageExecutor, reindexer schedule.Reindexer) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	var sched *schedule.CronScheduler
	if a.Config.ReindexCron != "" {
		sched = schedule.NewCronScheduler()
		if err := sched.AddJob(schedule.NewReindexJob(reindexer, 0), a.Config.ReindexCron); err != nil {
			cancel()
			return nil, err
		}
		sched.Start(ctx)
	}

	if a.Config.WatchInbox {
		w := watch.New(a.Config.InboxDir, a.Runner, watch.Options{
			OnIngested: func(ctx context.Context, book models.Book, created bool) {
				if created {
					a.RunPipelineAsync(ctx, exec, book, false)
				}
			},
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				logutil.GetLogger(ctx).Error("inbox watcher exited", zap.Error(err))
			}
		}()
	}

	return func() {
		cancel()
		if sched != nil {
			sched.Stop()
		}
		wg.Wait()
	}, nil
}
