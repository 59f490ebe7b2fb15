package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mohitkumar/mediaflow/analytics"
	"github.com/mohitkumar/mediaflow/logger"
	"github.com/mohitkumar/mediaflow/metrics"
	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/operation"
	"github.com/mohitkumar/mediaflow/persistence"
	"go.uber.org/zap"
)

// outcome is the result of one handler call, applied to the operation only if it is still in
// the state it was observed in.
type outcome struct {
	name         string
	from         model.OperationStatus
	monitorCount int
	status       model.OperationStatus
	resultRef    string
	metaData     map[string]any
	media        map[string]any
	message      string
	startedAt    time.Time
}

func (o *outcome) failed(err error) *outcome {
	o.status = model.OPERATION_STATUS_ERROR
	o.message = err.Error()
	return o
}

func (o *outcome) apply(oe *model.OperationExecution, now time.Time) {
	oe.Status = o.status
	oe.Message = o.message
	switch o.status {
	case model.OPERATION_STATUS_WAITING:
		if o.from == model.OPERATION_STATUS_WAITING {
			oe.MonitorCount++
		} else {
			oe.ResultRef = o.resultRef
			oe.MonitorCount = 0
		}
	case model.OPERATION_STATUS_COMPLETE:
		oe.MetaData = o.metaData
		oe.Media = o.media
		oe.CompletedAt = now
	case model.OPERATION_STATUS_ERROR:
		oe.CompletedAt = now
	}
}

func (o *outcome) record(ctx context.Context, exec *model.WorkflowExecution, stageName string) {
	if !o.status.IsTerminal() {
		return
	}
	metrics.RecordOperation(ctx, exec.Workflow, o.name, string(o.status), elapsed(o.startedAt, time.Now().UTC()))
	if o.status == model.OPERATION_STATUS_COMPLETE {
		analytics.RecordOperationSuccess(exec.Workflow, exec.Id, stageName, o.name, o.metaData)
		return
	}
	analytics.RecordOperationFailure(exec.Workflow, exec.Id, stageName, o.name, o.message)
}

func (e *Engine) startOperation(ctx context.Context, exec *model.WorkflowExecution, stageName string, p *plannedOperation) *outcome {
	oe := exec.Stages[stageName].Operations[p.def.Name]
	o := &outcome{name: p.def.Name, from: model.OPERATION_STATUS_STARTED, startedAt: oe.StartedAt}
	handler, err := e.registry.Resolve(p.def.StartHandler)
	if err != nil {
		return o.failed(OperationFailedError{Operation: p.def.Name, Reason: "start handler", Err: err})
	}
	opCtx, cancel := context.WithTimeout(ctx, e.callTimeout(p.def))
	defer cancel()
	logger.Info("starting operation", zap.String("execution", exec.Id), zap.String("stage", stageName), zap.String("operation", p.def.Name))
	res, err := handler.Start(opCtx, p.request(exec, stageName))
	if err != nil {
		return o.failed(OperationFailedError{Operation: p.def.Name, Reason: "start", Err: err})
	}
	if res.Status == operation.RESULT_STATUS_PENDING && !p.def.IsAsync {
		return o.failed(OperationFailedError{Operation: p.def.Name, Reason: "synchronous operation returned Pending"})
	}
	return o.fromResult(res)
}

func (e *Engine) monitorOperation(ctx context.Context, exec *model.WorkflowExecution, stageName string, p *plannedOperation, oe *model.OperationExecution) *outcome {
	o := &outcome{name: p.def.Name, from: model.OPERATION_STATUS_WAITING, monitorCount: oe.MonitorCount, startedAt: oe.StartedAt}
	timeout := e.operationTimeout(p.def)
	if elapsed(oe.StartedAt, e.now()) > timeout {
		return o.failed(OperationFailedError{Operation: p.def.Name, Reason: fmt.Sprintf("timed out after %s", timeout)})
	}
	handler, err := e.registry.Resolve(p.def.MonitorHandler)
	if err != nil {
		return o.failed(OperationFailedError{Operation: p.def.Name, Reason: "monitor handler", Err: err})
	}
	opCtx, cancel := context.WithTimeout(ctx, e.callTimeout(p.def))
	defer cancel()
	logger.Debug("monitoring operation", zap.String("execution", exec.Id), zap.String("operation", p.def.Name), zap.Int("count", oe.MonitorCount))
	res, err := handler.Monitor(opCtx, p.request(exec, stageName), oe.ResultRef)
	if err != nil {
		return o.failed(OperationFailedError{Operation: p.def.Name, Reason: "monitor", Err: err})
	}
	return o.fromResult(res)
}

func (o *outcome) fromResult(res *operation.Result) *outcome {
	switch res.Status {
	case operation.RESULT_STATUS_DONE:
		o.status = model.OPERATION_STATUS_COMPLETE
		o.metaData = res.MetaData
		o.media = res.Media
		o.message = res.Message
	case operation.RESULT_STATUS_PENDING:
		o.status = model.OPERATION_STATUS_WAITING
		o.resultRef = res.ResultRef
	default:
		reason := res.Message
		if reason == "" {
			reason = "handler reported failure"
		}
		return o.failed(OperationFailedError{Operation: o.name, Reason: reason})
	}
	return o
}

// persistResult writes a completed operation's output to the asset under the lock protocol.
// Lock contention is retried a bounded number of times before the operation fails.
func (e *Engine) persistResult(ctx context.Context, exec *model.WorkflowExecution, stageName string, o *outcome) {
	if o.status != model.OPERATION_STATUS_COMPLETE {
		return
	}
	fields := map[string]any{
		o.name: map[string]any{
			"Stage":       stageName,
			"MetaData":    o.metaData,
			"Media":       o.media,
			"CompletedAt": e.now(),
		},
	}
	write := func() error {
		if _, err := e.assets.TryLock(ctx, exec.AssetId, exec.Id, e.now()); err != nil {
			if persistence.IsLockContention(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		_, putErr := e.assets.Put(ctx, exec.AssetId, exec.Id, fields)
		_, unlockErr := e.assets.Unlock(ctx, exec.AssetId, exec.Id)
		if putErr != nil {
			if persistence.IsLockContention(putErr) {
				return putErr
			}
			return backoff.Permanent(putErr)
		}
		if unlockErr != nil {
			if persistence.IsLockContention(unlockErr) {
				return unlockErr
			}
			return backoff.Permanent(unlockErr)
		}
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(e.conf.LockRetryInterval), uint64(e.conf.LockRetryCount)), ctx)
	err := backoff.RetryNotify(write, policy, func(err error, d time.Duration) {
		logger.Warn("asset busy, retrying write", zap.String("asset", exec.AssetId), zap.String("operation", o.name), zap.Error(err))
	})
	if err != nil {
		logger.Error("error writing operation result to asset", zap.String("asset", exec.AssetId), zap.String("operation", o.name), zap.Error(err))
		o.failed(OperationFailedError{Operation: o.name, Reason: "asset write", Err: err})
	}
}
