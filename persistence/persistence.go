package persistence

import (
	"context"
	"time"

	"github.com/mohitkumar/mediaflow/model"
)

type DefinitionStore interface {
	SaveWorkflow(ctx context.Context, wf *model.Workflow) error
	GetWorkflow(ctx context.Context, name string) (*model.Workflow, error)
	ListWorkflows(ctx context.Context) ([]*model.Workflow, error)
	// DeleteWorkflow and the other deletes return NotFoundError when name is not registered.
	DeleteWorkflow(ctx context.Context, name string) error
	SaveStage(ctx context.Context, stage *model.Stage) error
	GetStage(ctx context.Context, name string) (*model.Stage, error)
	ListStages(ctx context.Context) ([]*model.Stage, error)
	DeleteStage(ctx context.Context, name string) error
	SaveOperation(ctx context.Context, op *model.Operation) error
	GetOperation(ctx context.Context, name string) (*model.Operation, error)
	ListOperations(ctx context.Context) ([]*model.Operation, error)
	DeleteOperation(ctx context.Context, name string) error
	GetSystemConfig(ctx context.Context) (*model.SystemConfig, error)
	SaveSystemConfig(ctx context.Context, conf *model.SystemConfig) error
}

type AssetStore interface {
	Get(ctx context.Context, assetId string) (*model.Asset, error)
	// Put merges fields into the asset, creating it when absent. It fails with
	// LockUnavailableError when another execution holds the lock.
	Put(ctx context.Context, assetId string, executionId string, fields map[string]any) (*model.Asset, error)
	TryLock(ctx context.Context, assetId string, executionId string, now time.Time) (bool, error)
	Unlock(ctx context.Context, assetId string, executionId string) (bool, error)
	ListLocked(ctx context.Context, lockedBefore time.Time) ([]*model.Asset, error)
	History(ctx context.Context, assetId string) ([]*model.HistoryRecord, error)
}

type ExecutionStore interface {
	Create(ctx context.Context, exec *model.WorkflowExecution) (string, error)
	Get(ctx context.Context, id string) (*model.WorkflowExecution, error)
	// Update replaces the stored record when its version still equals exec.Version.
	Update(ctx context.Context, exec *model.WorkflowExecution) (*model.WorkflowExecution, error)
	UpdateStatus(ctx context.Context, id string, expectedVersion int64, status model.ExecutionStatus, currentStage string, message string) (*model.WorkflowExecution, error)
	// Admit moves a Queued execution to Started only while fewer than maxActive executions are active.
	Admit(ctx context.Context, id string, expectedVersion int64, maxActive int) (*model.WorkflowExecution, error)
	AppendHistory(ctx context.Context, id string, snapshot *model.WorkflowExecution) error
	History(ctx context.Context, id string) ([]*model.HistoryRecord, error)
	ListByStatus(ctx context.Context, status model.ExecutionStatus) ([]*model.WorkflowExecution, error)
	ListByAsset(ctx context.Context, assetId string) ([]*model.WorkflowExecution, error)
	CountByStatus(ctx context.Context, statuses ...model.ExecutionStatus) (int, error)
}

type StageQueue interface {
	Push(ctx context.Context, msg *model.StageMessage) error
	PushWithDelay(ctx context.Context, msg *model.StageMessage, delay time.Duration) error
	// Poll hands out up to batchSize ready messages of a partition and hides them for visibility.
	Poll(ctx context.Context, partition int, batchSize int, visibility time.Duration) ([]*model.Delivery, error)
	Ack(ctx context.Context, delivery *model.Delivery) error
	// Expired removes and returns in-flight messages whose visibility deadline is before now.
	Expired(ctx context.Context, partition int, now time.Time) ([]*model.Delivery, error)
	DeadLetter(ctx context.Context, msg *model.StageMessage) error
	ListDeadLetters(ctx context.Context) ([]*model.StageMessage, error)
}

// ChangeListener observes committed execution mutations. old is nil on create.
type ChangeListener interface {
	OnCommit(old *model.WorkflowExecution, updated *model.WorkflowExecution)
}

type ChangeListenerFunc func(old *model.WorkflowExecution, updated *model.WorkflowExecution)

func (f ChangeListenerFunc) OnCommit(old *model.WorkflowExecution, updated *model.WorkflowExecution) {
	f(old, updated)
}

type noopListener struct{}

func (noopListener) OnCommit(old *model.WorkflowExecution, updated *model.WorkflowExecution) {}

func NoopListener() ChangeListener {
	return noopListener{}
}

// Partitioner maps an execution to a queue partition.
type Partitioner interface {
	GetPartition(key string) int
	PartitionCount() int
}

type singlePartition struct{}

func (singlePartition) GetPartition(key string) int { return 0 }
func (singlePartition) PartitionCount() int         { return 1 }

func SinglePartition() Partitioner {
	return singlePartition{}
}
