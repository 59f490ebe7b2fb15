package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/mediaflow/logger"
	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/persistence"
	"go.uber.org/zap"
)

type Admission interface {
	HandleFailure(ctx context.Context, executionId string, reason string) error
	Trigger()
}

type WorkflowExecutionService struct {
	definitions persistence.DefinitionStore
	executions  persistence.ExecutionStore
	assets      persistence.AssetStore
	queue       persistence.StageQueue
	admission   Admission
}

func NewWorkflowExecutionService(definitions persistence.DefinitionStore, executions persistence.ExecutionStore,
	assets persistence.AssetStore, queue persistence.StageQueue, admission Admission) *WorkflowExecutionService {
	return &WorkflowExecutionService{
		definitions: definitions,
		executions:  executions,
		assets:      assets,
		queue:       queue,
		admission:   admission,
	}
}

// CreateExecution stores a Queued execution for the requested workflow and wakes the scheduler.
func (s *WorkflowExecutionService) CreateExecution(ctx context.Context, req *model.ExecutionRequest) (*model.WorkflowExecution, error) {
	wf, err := s.definitions.GetWorkflow(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	if err := s.validateConfiguration(ctx, wf, req.Configuration); err != nil {
		return nil, err
	}
	assetId := req.AssetId
	if assetId == "" {
		assetId = uuid.NewString()
	}
	id := uuid.NewString()
	if err := s.seedAsset(ctx, assetId, id, req.Input.Media); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	globals := model.NewGlobals(req.Input.Media)
	for k, v := range req.Input.MetaData {
		globals.MetaData[k] = v
	}
	stages := make(map[string]*model.StageExecution, len(wf.Stages))
	for _, name := range wf.Stages {
		stages[name] = &model.StageExecution{Name: name, Status: model.STAGE_STATUS_NOT_STARTED}
	}
	exec := &model.WorkflowExecution{
		Id:            id,
		AssetId:       assetId,
		Workflow:      wf.Name,
		Status:        model.EXECUTION_STATUS_QUEUED,
		CurrentStage:  wf.Stages[0],
		Stages:        stages,
		Globals:       globals,
		Configuration: req.Configuration,
		Trigger:       req.Trigger,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := s.executions.Create(ctx, exec); err != nil {
		return nil, err
	}
	logger.Info("execution created", zap.String("execution", id), zap.String("workflow", wf.Name), zap.String("asset", assetId))
	s.admission.Trigger()
	return s.executions.Get(ctx, id)
}

// seedAsset creates the asset record with the input media the first time an asset is seen.
func (s *WorkflowExecutionService) seedAsset(ctx context.Context, assetId string, executionId string, media map[string]any) error {
	_, err := s.assets.Get(ctx, assetId)
	if err == nil {
		return nil
	}
	if !persistence.IsNotFound(err) {
		return err
	}
	_, err = s.assets.Put(ctx, assetId, executionId, map[string]any{"Media": media})
	return err
}

// validateConfiguration rejects overrides for stages or operations the workflow does not have.
func (s *WorkflowExecutionService) validateConfiguration(ctx context.Context, wf *model.Workflow, cfg model.OperationConfiguration) error {
	for stageName, ops := range cfg {
		if !wf.HasStage(stageName) {
			return fmt.Errorf("configuration names stage %s which is not in workflow %s", stageName, wf.Name)
		}
		stage, err := s.definitions.GetStage(ctx, stageName)
		if err != nil {
			return err
		}
		for opName := range ops {
			found := false
			for _, o := range stage.Operations {
				if o == opName {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("configuration names operation %s which is not in stage %s", opName, stageName)
			}
		}
	}
	return nil
}

func (s *WorkflowExecutionService) Get(ctx context.Context, id string) (*model.WorkflowExecution, error) {
	return s.executions.Get(ctx, id)
}

func (s *WorkflowExecutionService) History(ctx context.Context, id string) ([]*model.HistoryRecord, error) {
	return s.executions.History(ctx, id)
}

func (s *WorkflowExecutionService) ListByStatus(ctx context.Context, status model.ExecutionStatus) ([]*model.WorkflowExecution, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("unknown execution status %q", status)
	}
	return s.executions.ListByStatus(ctx, status)
}

func (s *WorkflowExecutionService) ListByAsset(ctx context.Context, assetId string) ([]*model.WorkflowExecution, error) {
	return s.executions.ListByAsset(ctx, assetId)
}

func (s *WorkflowExecutionService) GetAsset(ctx context.Context, assetId string) (*model.Asset, error) {
	return s.assets.Get(ctx, assetId)
}

// ReportFailure is the entry point for collaborators reporting a timeout or abort.
func (s *WorkflowExecutionService) ReportFailure(ctx context.Context, id string, reason string) error {
	if _, err := s.executions.Get(ctx, id); err != nil {
		return err
	}
	return s.admission.HandleFailure(ctx, id, reason)
}

func (s *WorkflowExecutionService) GetSystemConfig(ctx context.Context) (*model.SystemConfig, error) {
	return s.definitions.GetSystemConfig(ctx)
}

func (s *WorkflowExecutionService) SetMaxConcurrentWorkflows(ctx context.Context, maxWorkflows int) error {
	if err := s.definitions.SaveSystemConfig(ctx, &model.SystemConfig{MaxConcurrentWorkflows: maxWorkflows}); err != nil {
		return err
	}
	s.admission.Trigger()
	return nil
}

func (s *WorkflowExecutionService) ListDeadLetters(ctx context.Context) ([]*model.StageMessage, error) {
	return s.queue.ListDeadLetters(ctx)
}
