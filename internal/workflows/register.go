package workflows

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker) {
	w.RegisterWorkflow(BookStageWorkflow)
	w.RegisterWorkflow(BookPipelineWorkflow)
	w.RegisterWorkflow(ReindexStaleWorkflow)
}
