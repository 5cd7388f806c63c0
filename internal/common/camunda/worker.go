// internal/common/camunda/worker.go
package camunda

import (
	"sync"

	"followup-engine/internal/common/config"
	"followup-engine/internal/common/logger"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// JobHandler is implemented by every task handler. Handlers complete or fail
// the job themselves.
type JobHandler interface {
	Handle(client worker.JobClient, job entities.Job)
}

// JobWorkerFactory is the part of zbc.Client used to open workers.
type JobWorkerFactory interface {
	NewJobWorker() worker.JobWorkerBuilderStep1
}

var _ JobWorkerFactory = zbc.Client(nil)

// Workers opens and closes the job workers of one process.
type Workers struct {
	factory JobWorkerFactory
	logger  logger.Logger

	mu      sync.Mutex
	running map[string]worker.JobWorker
}

func NewWorkers(factory JobWorkerFactory, log logger.Logger) *Workers {
	return &Workers{
		factory: factory,
		logger:  log.WithFields(map[string]interface{}{"component": "zeebe-workers"}),
		running: make(map[string]worker.JobWorker),
	}
}

// Start opens a worker for taskType unless it is disabled in wcfg. It
// reports whether a worker was opened.
func (w *Workers) Start(taskType string, wcfg config.WorkerConfig, handler JobHandler) bool {
	if !wcfg.Enabled {
		w.logger.Info("worker disabled", map[string]interface{}{"taskType": taskType})
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.running[taskType]; ok {
		w.logger.Warn("worker already running", map[string]interface{}{"taskType": taskType})
		return false
	}

	jw := w.factory.NewJobWorker().
		JobType(taskType).
		Handler(handler.Handle).
		MaxJobsActive(wcfg.MaxJobsActive).
		Timeout(config.GetDuration(wcfg.Timeout)).
		Open()
	w.running[taskType] = jw

	w.logger.Info("worker started", map[string]interface{}{
		"taskType":      taskType,
		"maxJobsActive": wcfg.MaxJobsActive,
		"timeout_ms":    wcfg.Timeout,
	})
	return true
}

// Running returns the task types with an open worker.
func (w *Workers) Running() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.running))
	for t := range w.running {
		out = append(out, t)
	}
	return out
}

// Stop closes every worker and waits for in-flight jobs to finish.
func (w *Workers) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for taskType, jw := range w.running {
		jw.Close()
		jw.AwaitClose()
		w.logger.Info("worker stopped", map[string]interface{}{"taskType": taskType})
		delete(w.running, taskType)
	}
}
