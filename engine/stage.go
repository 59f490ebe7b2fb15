package engine

import (
	"context"
	"sort"
	"time"

	"github.com/mohitkumar/mediaflow/logger"
	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/persistence"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// runStage dispatches every operation of the message's stage that has not started or was
// interrupted by a lost delivery, then records their results.
func (e *Engine) runStage(ctx context.Context, msg *model.StageMessage) error {
	exec, err := e.executions.Get(ctx, msg.ExecutionId)
	if err != nil {
		if persistence.IsNotFound(err) {
			logger.Warn("execution not found, dropping stage message", zap.String("execution", msg.ExecutionId))
			return nil
		}
		return err
	}
	if !runnable(exec, msg.Stage) {
		logger.Info("execution is not running stage, dropping message", zap.String("execution", exec.Id),
			zap.String("stage", msg.Stage), zap.String("status", string(exec.Status)), zap.String("currentStage", exec.CurrentStage))
		return nil
	}
	plan, err := e.loadPlan(ctx, exec, msg.Stage)
	if err != nil {
		if persistence.IsDefinitionNotFound(err) {
			return e.fail(ctx, exec.Id, err.Error())
		}
		return err
	}

	var (
		toStart []string
		agg     *aggregation
	)
	dispatched, changed, err := e.commit(ctx, exec.Id, func(current *model.WorkflowExecution) (bool, error) {
		toStart = nil
		agg = nil
		if !runnable(current, msg.Stage) {
			return false, nil
		}
		now := e.now()
		se := stageExecution(current, msg.Stage)
		if se.StartedAt.IsZero() {
			se.StartedAt = now
		}
		for _, name := range plan.stage.Operations {
			oe, ok := se.Operations[name]
			if !ok {
				oe = &model.OperationExecution{Name: name, Status: model.OPERATION_STATUS_NOT_STARTED}
				se.Operations[name] = oe
			}
			switch oe.Status {
			case model.OPERATION_STATUS_NOT_STARTED:
				if plan.operations[name].skipped {
					oe.Status = model.OPERATION_STATUS_SKIPPED
					oe.CompletedAt = now
					continue
				}
				oe.Status = model.OPERATION_STATUS_STARTED
				oe.StartedAt = now
				toStart = append(toStart, name)
			case model.OPERATION_STATUS_STARTED:
				toStart = append(toStart, name)
			}
		}
		if len(toStart) == 0 && !se.AllOperationsTerminal() {
			return false, nil
		}
		refreshStatus(current, se)
		if se.AllOperationsTerminal() {
			agg = aggregate(current, plan, se, now)
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if agg != nil {
		return e.afterAggregation(ctx, dispatched, agg)
	}

	outcomes := e.startOperations(ctx, dispatched, msg.Stage, plan, toStart)
	return e.applyOutcomes(ctx, exec.Id, msg.Stage, plan, outcomes)
}

// startOperations invokes the start handlers in parallel and then writes the asset results
// of the completed ones one at a time.
func (e *Engine) startOperations(ctx context.Context, exec *model.WorkflowExecution, stageName string, plan *stagePlan, names []string) []*outcome {
	outcomes := make([]*outcome, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, p := i, plan.operations[name]
		g.Go(func() error {
			outcomes[i] = e.startOperation(gctx, exec, stageName, p)
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].name < outcomes[j].name })
	for _, o := range outcomes {
		e.persistResult(ctx, exec, stageName, o)
	}
	return outcomes
}

// checkOperation polls the monitor handler of one waiting async operation.
func (e *Engine) checkOperation(ctx context.Context, msg *model.StageMessage) error {
	exec, err := e.executions.Get(ctx, msg.ExecutionId)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil
		}
		return err
	}
	if !runnable(exec, msg.Stage) {
		logger.Info("discarding monitor result of finished execution", zap.String("execution", exec.Id),
			zap.String("operation", msg.Operation), zap.String("status", string(exec.Status)))
		return nil
	}
	se := exec.Stages[msg.Stage]
	if se == nil {
		return nil
	}
	oe := se.Operations[msg.Operation]
	if oe == nil || oe.Status != model.OPERATION_STATUS_WAITING {
		return nil
	}
	plan, err := e.loadPlan(ctx, exec, msg.Stage)
	if err != nil {
		if persistence.IsDefinitionNotFound(err) {
			return e.fail(ctx, exec.Id, err.Error())
		}
		return err
	}
	p, ok := plan.operations[msg.Operation]
	if !ok {
		return nil
	}
	o := e.monitorOperation(ctx, exec, msg.Stage, p, oe)
	e.persistResult(ctx, exec, msg.Stage, o)
	return e.applyOutcomes(ctx, exec.Id, msg.Stage, plan, []*outcome{o})
}

// applyOutcomes records operation results on the execution, aggregating the stage when its
// last operation became terminal, and schedules the follow up messages after the commit.
func (e *Engine) applyOutcomes(ctx context.Context, executionId string, stageName string, plan *stagePlan, outcomes []*outcome) error {
	var (
		checks []checkRequest
		agg    *aggregation
	)
	committed, changed, err := e.commit(ctx, executionId, func(current *model.WorkflowExecution) (bool, error) {
		checks = nil
		agg = nil
		if !runnable(current, stageName) {
			return false, nil
		}
		now := e.now()
		se := stageExecution(current, stageName)
		applied := false
		for _, o := range outcomes {
			oe, ok := se.Operations[o.name]
			if !ok || oe.Status != o.from || oe.MonitorCount != o.monitorCount {
				continue
			}
			applied = true
			o.apply(oe, now)
			if oe.Status == model.OPERATION_STATUS_WAITING {
				checks = append(checks, checkRequest{operation: o.name, count: oe.MonitorCount})
			}
		}
		if !applied {
			return false, nil
		}
		refreshStatus(current, se)
		if se.AllOperationsTerminal() {
			agg = aggregate(current, plan, se, now)
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	if !changed {
		logger.Info("discarding stale operation results", zap.String("execution", executionId), zap.String("stage", stageName))
		return nil
	}
	for _, o := range outcomes {
		o.record(ctx, committed, stageName)
	}
	for _, c := range checks {
		if err := e.scheduleCheck(ctx, committed, stageName, c.operation, c.count); err != nil {
			logger.Error("error scheduling monitor check", zap.String("execution", executionId), zap.String("operation", c.operation), zap.Error(err))
			return e.fail(ctx, executionId, "could not schedule monitor of operation "+c.operation+": "+err.Error())
		}
	}
	if agg != nil {
		return e.afterAggregation(ctx, committed, agg)
	}
	return nil
}

type checkRequest struct {
	operation string
	count     int
}

func stageExecution(exec *model.WorkflowExecution, stageName string) *model.StageExecution {
	if exec.Stages == nil {
		exec.Stages = make(map[string]*model.StageExecution)
	}
	se, ok := exec.Stages[stageName]
	if !ok {
		se = &model.StageExecution{Name: stageName, Status: model.STAGE_STATUS_NOT_STARTED}
		exec.Stages[stageName] = se
	}
	if se.Operations == nil {
		se.Operations = make(map[string]*model.OperationExecution)
	}
	return se
}

// refreshStatus derives the stage and execution status from the operation statuses.
func refreshStatus(exec *model.WorkflowExecution, se *model.StageExecution) {
	running, waiting := false, false
	for _, oe := range se.Operations {
		switch oe.Status {
		case model.OPERATION_STATUS_NOT_STARTED, model.OPERATION_STATUS_STARTED:
			running = true
		case model.OPERATION_STATUS_WAITING:
			waiting = true
		}
	}
	switch {
	case running:
		se.Status = model.STAGE_STATUS_EXECUTING
		exec.Status = model.EXECUTION_STATUS_RUNNING_STAGE
	case waiting:
		se.Status = model.STAGE_STATUS_WAITING
		exec.Status = model.EXECUTION_STATUS_WAITING
	default:
		se.Status = model.STAGE_STATUS_EXECUTING
		exec.Status = model.EXECUTION_STATUS_RUNNING_STAGE
	}
}

func (e *Engine) afterAggregation(ctx context.Context, exec *model.WorkflowExecution, agg *aggregation) error {
	logger.Info("stage aggregated", zap.String("execution", exec.Id), zap.String("stage", agg.stage),
		zap.String("status", string(exec.Status)), zap.String("next", exec.CurrentStage))
	if exec.Status.IsTerminal() {
		agg.recordFinished(ctx, exec)
		e.admission.Trigger()
		return nil
	}
	if err := e.scheduleRun(ctx, exec, exec.CurrentStage); err != nil {
		logger.Error("error scheduling next stage", zap.String("execution", exec.Id), zap.String("stage", exec.CurrentStage), zap.Error(err))
		return e.fail(ctx, exec.Id, "could not schedule stage "+exec.CurrentStage+": "+err.Error())
	}
	return nil
}

func elapsed(since time.Time, now time.Time) time.Duration {
	if since.IsZero() {
		return 0
	}
	return now.Sub(since)
}
