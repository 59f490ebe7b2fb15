package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mohitkumar/mediaflow/config"
	"github.com/mohitkumar/mediaflow/logger"
	"github.com/mohitkumar/mediaflow/metrics"
	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/persistence"
	"github.com/mohitkumar/mediaflow/util"
	"go.uber.org/zap"
)

const REASON_STALLED = "stalled"

// Scheduler admits queued executions under the MaxConcurrentWorkflows cap and marks failed
// executions Error. Cycles are safe to run concurrently in any number of processes.
type Scheduler struct {
	definitions persistence.DefinitionStore
	executions  persistence.ExecutionStore
	queue       persistence.StageQueue
	conf        config.SchedulerConfig
	wg          *sync.WaitGroup
	stop        chan struct{}
	tw          *util.TickWorker
}

func NewScheduler(definitions persistence.DefinitionStore, executions persistence.ExecutionStore, queue persistence.StageQueue,
	conf config.SchedulerConfig, wg *sync.WaitGroup) *Scheduler {
	return &Scheduler{
		definitions: definitions,
		executions:  executions,
		queue:       queue,
		conf:        conf,
		wg:          wg,
		stop:        make(chan struct{}),
	}
}

func (s *Scheduler) Name() string {
	return "workflow-scheduler"
}

func (s *Scheduler) Start() error {
	fn := func() {
		if _, err := s.RunCycle(context.Background()); err != nil {
			logger.Error("error in scheduler cycle", zap.Error(err))
		}
	}
	s.tw = util.NewTickWorker("scheduler-worker", s.conf.Interval, s.stop, fn, s.wg)
	s.tw.Start()
	logger.Info("workflow scheduler started", zap.Duration("interval", s.conf.Interval))
	return nil
}

func (s *Scheduler) Stop() error {
	if s.tw != nil && s.tw.IsRunning() {
		s.tw.Stop()
	}
	return nil
}

// Trigger asks for a cycle ahead of the next tick. It never blocks.
func (s *Scheduler) Trigger() {
	if s.tw != nil {
		s.tw.Trigger()
	}
}

// RunCycle admits queued executions in creation order while the active count is below the cap.
func (s *Scheduler) RunCycle(ctx context.Context) (int, error) {
	sysConf, err := s.definitions.GetSystemConfig(ctx)
	if err != nil {
		return 0, err
	}
	limit := sysConf.MaxConcurrentWorkflows
	active, err := s.executions.CountByStatus(ctx, model.ActiveStatuses...)
	if err != nil {
		return 0, err
	}
	admitted := 0
	if active < limit {
		admitted, err = s.admit(ctx, limit, active)
		if err != nil {
			return admitted, err
		}
	}
	if s.conf.StallTimeout > 0 {
		if err := s.reconcileStalled(ctx, time.Now().UTC().Add(-s.conf.StallTimeout)); err != nil {
			logger.Error("error reconciling stalled executions", zap.Error(err))
		}
	}
	return admitted, nil
}

func (s *Scheduler) admit(ctx context.Context, limit int, active int) (int, error) {
	queued, err := s.executions.ListByStatus(ctx, model.EXECUTION_STATUS_QUEUED)
	if err != nil {
		return 0, err
	}
	admitted := 0
	for _, exec := range queued {
		if active >= limit {
			break
		}
		started, err := s.executions.Admit(ctx, exec.Id, exec.Version, limit)
		if err != nil {
			switch {
			case errors.Is(err, persistence.ErrCapacityReached):
				logger.Debug("max concurrent workflows reached", zap.Int("limit", limit))
				return admitted, nil
			case persistence.IsVersionConflict(err), errors.Is(err, persistence.ErrNotQueued), persistence.IsNotFound(err):
				continue
			default:
				return admitted, err
			}
		}
		admitted++
		active++
		metrics.RecordAdmitted(ctx, started.Workflow)
		logger.Info("execution admitted", zap.String("execution", started.Id), zap.String("workflow", started.Workflow),
			zap.String("stage", started.CurrentStage))
		msg := &model.StageMessage{
			ExecutionId: started.Id,
			Stage:       started.CurrentStage,
			Kind:        model.STAGE_MESSAGE_RUN,
		}
		if err := s.queue.Push(ctx, msg); err != nil {
			logger.Error("error enqueueing first stage", zap.String("execution", started.Id), zap.Error(err))
			if ferr := s.HandleFailure(ctx, started.Id, "could not enqueue stage "+started.CurrentStage+": "+err.Error()); ferr != nil {
				logger.Error("error failing execution", zap.String("execution", started.Id), zap.Error(ferr))
			}
		}
	}
	return admitted, nil
}

// HandleFailure marks an execution Error. Its concurrency slot is reclaimed by the next cycle.
func (s *Scheduler) HandleFailure(ctx context.Context, executionId string, reason string) error {
	retries := s.conf.ConflictRetries
	if retries < 1 {
		retries = 1
	}
	var err error
	for attempt := 0; attempt < retries; attempt++ {
		var exec *model.WorkflowExecution
		exec, err = s.executions.Get(ctx, executionId)
		if err != nil {
			return err
		}
		if exec.Status.IsTerminal() {
			return nil
		}
		_, err = s.executions.UpdateStatus(ctx, executionId, exec.Version, model.EXECUTION_STATUS_ERROR, model.END_STAGE, reason)
		if err == nil {
			logger.Info("execution failed", zap.String("execution", executionId), zap.String("reason", reason))
			metrics.RecordExecutionFinished(ctx, exec.Workflow, string(model.EXECUTION_STATUS_ERROR))
			s.Trigger()
			return nil
		}
		if !persistence.IsVersionConflict(err) {
			return err
		}
	}
	return err
}

func (s *Scheduler) reconcileStalled(ctx context.Context, before time.Time) error {
	for _, status := range model.ActiveStatuses {
		execs, err := s.executions.ListByStatus(ctx, status)
		if err != nil {
			return err
		}
		for _, exec := range execs {
			if !exec.UpdatedAt.Before(before) {
				continue
			}
			logger.Warn("execution stalled", zap.String("execution", exec.Id), zap.Time("updatedAt", exec.UpdatedAt))
			if err := s.HandleFailure(ctx, exec.Id, REASON_STALLED); err != nil {
				logger.Error("error failing stalled execution", zap.String("execution", exec.Id), zap.Error(err))
			}
		}
	}
	return nil
}
