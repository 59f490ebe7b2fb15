package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mohitkumar/mediaflow/config"
	"github.com/mohitkumar/mediaflow/logger"
	"github.com/mohitkumar/mediaflow/metrics"
	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/operation"
	"github.com/mohitkumar/mediaflow/persistence"
	"go.uber.org/zap"
)

// Admission is the part of the scheduler the engine reports to.
type Admission interface {
	HandleFailure(ctx context.Context, executionId string, reason string) error
	Trigger()
}

type Engine struct {
	definitions persistence.DefinitionStore
	executions  persistence.ExecutionStore
	assets      persistence.AssetStore
	queue       persistence.StageQueue
	registry    *operation.Registry
	admission   Admission
	conf        config.EngineConfig
	now         func() time.Time
}

func NewEngine(definitions persistence.DefinitionStore, executions persistence.ExecutionStore, assets persistence.AssetStore,
	queue persistence.StageQueue, registry *operation.Registry, admission Admission, conf config.EngineConfig) *Engine {
	return &Engine{
		definitions: definitions,
		executions:  executions,
		assets:      assets,
		queue:       queue,
		registry:    registry,
		admission:   admission,
		conf:        conf,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Handle processes one stage message. A nil error means the message can be acked; an error
// leaves it in flight so the queue redelivers it after the visibility timeout.
func (e *Engine) Handle(ctx context.Context, msg *model.StageMessage) error {
	switch msg.Kind {
	case model.STAGE_MESSAGE_RUN, "":
		return e.runStage(ctx, msg)
	case model.STAGE_MESSAGE_CHECK:
		return e.checkOperation(ctx, msg)
	default:
		logger.Error("unknown stage message kind, dropping", zap.String("kind", string(msg.Kind)), zap.String("execution", msg.ExecutionId))
		return nil
	}
}

// HandleExpired deals with a delivery whose visibility deadline passed without an ack.
// It is redelivered until MaxDeliveries is used up, then dead lettered and its execution failed.
func (e *Engine) HandleExpired(ctx context.Context, delivery *model.Delivery) error {
	msg := *delivery.Message
	if msg.Attempt+1 < e.conf.MaxDeliveries {
		msg.Attempt++
		logger.Warn("stage message expired, redelivering", zap.String("execution", msg.ExecutionId),
			zap.String("stage", msg.Stage), zap.Int("attempt", msg.Attempt))
		return e.queue.Push(ctx, &msg)
	}
	msg.Attempt++
	msg.Reason = ErrDeliveryExhausted.Error()
	logger.Error("stage message exhausted its deliveries", zap.String("execution", msg.ExecutionId),
		zap.String("stage", msg.Stage), zap.Int("attempt", msg.Attempt))
	if err := e.queue.DeadLetter(ctx, &msg); err != nil {
		return err
	}
	metrics.RecordDeadLetter(ctx)
	return e.admission.HandleFailure(ctx, msg.ExecutionId, fmt.Sprintf("stage %s: %s", msg.Stage, ErrDeliveryExhausted.Error()))
}

// commit applies mutate to a fresh copy of the execution and stores it, retrying on version
// conflicts. mutate returns false when there is nothing to write.
func (e *Engine) commit(ctx context.Context, id string, mutate func(exec *model.WorkflowExecution) (bool, error)) (*model.WorkflowExecution, bool, error) {
	retries := e.conf.CommitRetries
	if retries < 1 {
		retries = 1
	}
	for attempt := 0; attempt < retries; attempt++ {
		exec, err := e.executions.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		changed, err := mutate(exec)
		if err != nil {
			return nil, false, err
		}
		if !changed {
			return exec, false, nil
		}
		updated, err := e.executions.Update(ctx, exec)
		if err == nil {
			return updated, true, nil
		}
		if !persistence.IsVersionConflict(err) {
			return nil, false, err
		}
		metrics.RecordCommitConflict(ctx)
		logger.Debug("version conflict committing execution, retrying", zap.String("execution", id), zap.Int("attempt", attempt))
	}
	return nil, false, fmt.Errorf("execution %s: %w", id, ErrCommitRetriesExhausted)
}

func (e *Engine) fail(ctx context.Context, executionId string, reason string) error {
	logger.Error("failing execution", zap.String("execution", executionId), zap.String("reason", reason))
	return e.admission.HandleFailure(ctx, executionId, reason)
}

func (e *Engine) operationTimeout(op *model.Operation) time.Duration {
	if op.TimeoutSeconds > 0 {
		return time.Duration(op.TimeoutSeconds) * time.Second
	}
	return e.conf.OperationTimeout
}

// callTimeout bounds one handler call to four fifths of the visibility timeout, leaving the rest
// for the commit and the ack before the queue hands the delivery to another worker.
func (e *Engine) callTimeout(op *model.Operation) time.Duration {
	timeout := e.operationTimeout(op)
	if e.conf.VisibilityTimeout <= 0 {
		return timeout
	}
	if budget := e.conf.VisibilityTimeout - e.conf.VisibilityTimeout/5; budget < timeout {
		return budget
	}
	return timeout
}

// monitorDelay is the wait before the monitor call following count earlier ones.
func (e *Engine) monitorDelay(count int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.conf.MonitorInitialInterval
	b.MaxInterval = e.conf.MonitorMaxInterval
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	delay := b.NextBackOff()
	for i := 0; i < count; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func (e *Engine) scheduleCheck(ctx context.Context, exec *model.WorkflowExecution, stage string, op string, count int) error {
	msg := &model.StageMessage{
		ExecutionId: exec.Id,
		Stage:       stage,
		Kind:        model.STAGE_MESSAGE_CHECK,
		Operation:   op,
	}
	return e.queue.PushWithDelay(ctx, msg, e.monitorDelay(count))
}

func (e *Engine) scheduleRun(ctx context.Context, exec *model.WorkflowExecution, stage string) error {
	msg := &model.StageMessage{
		ExecutionId: exec.Id,
		Stage:       stage,
		Kind:        model.STAGE_MESSAGE_RUN,
	}
	return e.queue.Push(ctx, msg)
}

// runnable reports whether exec can still make progress on stage.
func runnable(exec *model.WorkflowExecution, stage string) bool {
	if !exec.Status.IsActive() || exec.CurrentStage != stage {
		return false
	}
	se := exec.Stages[stage]
	return se == nil || !se.Status.IsTerminal()
}
