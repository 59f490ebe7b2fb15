package metadata

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/operation"
	"github.com/mohitkumar/mediaflow/persistence"
	"github.com/mohitkumar/mediaflow/util"
)

// InUseError is returned when a definition still referenced by others is deleted without force.
type InUseError struct {
	Kind       string
	Name       string
	Dependents []string
}

func (e InUseError) Error() string {
	return fmt.Sprintf("%s %s is used by %s, delete them first or set force", e.Kind, e.Name, strings.Join(e.Dependents, ", "))
}

func IsInUse(err error) bool {
	var inUse InUseError
	return errors.As(err, &inUse)
}

// Service validates definitions before handing them to the DefinitionStore.
type Service struct {
	store    persistence.DefinitionStore
	registry *operation.Registry
}

func NewMetadataService(store persistence.DefinitionStore, registry *operation.Registry) *Service {
	return &Service{
		store:    store,
		registry: registry,
	}
}

func (s *Service) GetStore() persistence.DefinitionStore {
	return s.store
}

func (s *Service) ValidateOperation(op *model.Operation) error {
	if op.Name == "" {
		return fmt.Errorf("operation name can not be empty")
	}
	if op.StartHandler == "" {
		return fmt.Errorf("operation %s: startHandler can not be empty", op.Name)
	}
	if _, err := s.registry.Resolve(op.StartHandler); err != nil {
		return fmt.Errorf("operation %s: %w", op.Name, err)
	}
	if op.IsAsync {
		if op.MonitorHandler == "" {
			return fmt.Errorf("operation %s: async operation needs a monitorHandler", op.Name)
		}
		if _, err := s.registry.Resolve(op.MonitorHandler); err != nil {
			return fmt.Errorf("operation %s: %w", op.Name, err)
		}
	}
	if op.TimeoutSeconds < 0 {
		return fmt.Errorf("operation %s: timeoutSeconds can not be negative", op.Name)
	}
	return nil
}

func (s *Service) ValidateStage(ctx context.Context, stage *model.Stage) error {
	if stage.Name == "" {
		return fmt.Errorf("stage name can not be empty")
	}
	if stage.Name == model.END_STAGE {
		return fmt.Errorf("stage name %s is reserved", model.END_STAGE)
	}
	seen := make(map[string]bool, len(stage.Operations))
	for _, name := range stage.Operations {
		if seen[name] {
			return fmt.Errorf("stage %s: operation %s listed twice", stage.Name, name)
		}
		seen[name] = true
		if _, err := s.store.GetOperation(ctx, name); err != nil {
			return fmt.Errorf("stage %s: %w", stage.Name, err)
		}
	}
	return nil
}

func (s *Service) ValidateWorkflow(ctx context.Context, wf *model.Workflow) error {
	if wf.Name == "" {
		return fmt.Errorf("workflow name can not be empty")
	}
	if len(wf.Stages) == 0 {
		return fmt.Errorf("workflow %s has no stages", wf.Name)
	}
	seen := make(map[string]bool, len(wf.Stages))
	for _, name := range wf.Stages {
		if seen[name] {
			return fmt.Errorf("workflow %s: stage %s listed twice", wf.Name, name)
		}
		seen[name] = true
		if _, err := s.store.GetStage(ctx, name); err != nil {
			return fmt.Errorf("workflow %s: %w", wf.Name, err)
		}
	}
	return nil
}

func (s *Service) SaveOperation(ctx context.Context, op *model.Operation) error {
	if err := s.ValidateOperation(op); err != nil {
		return err
	}
	return s.store.SaveOperation(ctx, op)
}

func (s *Service) SaveStage(ctx context.Context, stage *model.Stage) error {
	if err := s.ValidateStage(ctx, stage); err != nil {
		return err
	}
	return s.store.SaveStage(ctx, stage)
}

func (s *Service) SaveWorkflow(ctx context.Context, wf *model.Workflow) error {
	if err := s.ValidateWorkflow(ctx, wf); err != nil {
		return err
	}
	return s.store.SaveWorkflow(ctx, wf)
}

func (s *Service) WorkflowsUsingStage(ctx context.Context, stage string) ([]*model.Workflow, error) {
	wfs, err := s.store.ListWorkflows(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]*model.Workflow, 0)
	for _, wf := range wfs {
		if wf.HasStage(stage) {
			res = append(res, wf)
		}
	}
	return res, nil
}

func (s *Service) StagesUsingOperation(ctx context.Context, operation string) ([]*model.Stage, error) {
	stages, err := s.store.ListStages(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]*model.Stage, 0)
	for _, stage := range stages {
		if util.Contains(stage.Operations, operation) {
			res = append(res, stage)
		}
	}
	return res, nil
}

// WorkflowsUsingOperation returns the workflows with at least one stage that runs operation.
func (s *Service) WorkflowsUsingOperation(ctx context.Context, operation string) ([]*model.Workflow, error) {
	stages, err := s.StagesUsingOperation(ctx, operation)
	if err != nil {
		return nil, err
	}
	wfs, err := s.store.ListWorkflows(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]*model.Workflow, 0)
	for _, wf := range wfs {
		for _, stage := range stages {
			if wf.HasStage(stage.Name) {
				res = append(res, wf)
				break
			}
		}
	}
	return res, nil
}

// DeleteOperation removes an operation. Unless force is set it fails with InUseError while a stage
// lists it. Stages kept by force fail executions that reach them with a not found error.
func (s *Service) DeleteOperation(ctx context.Context, name string, force bool) error {
	if _, err := s.store.GetOperation(ctx, name); err != nil {
		return err
	}
	if !force {
		stages, err := s.StagesUsingOperation(ctx, name)
		if err != nil {
			return err
		}
		if len(stages) > 0 {
			dependents := make([]string, 0, len(stages))
			for _, stage := range stages {
				dependents = append(dependents, "stage "+stage.Name)
			}
			return InUseError{Kind: persistence.KIND_OPERATION, Name: name, Dependents: dependents}
		}
	}
	return s.store.DeleteOperation(ctx, name)
}

// DeleteStage removes a stage. Unless force is set it fails with InUseError while a workflow lists it.
func (s *Service) DeleteStage(ctx context.Context, name string, force bool) error {
	if _, err := s.store.GetStage(ctx, name); err != nil {
		return err
	}
	if !force {
		wfs, err := s.WorkflowsUsingStage(ctx, name)
		if err != nil {
			return err
		}
		if len(wfs) > 0 {
			dependents := make([]string, 0, len(wfs))
			for _, wf := range wfs {
				dependents = append(dependents, "workflow "+wf.Name)
			}
			return InUseError{Kind: persistence.KIND_STAGE, Name: name, Dependents: dependents}
		}
	}
	return s.store.DeleteStage(ctx, name)
}

// DeleteWorkflow removes a workflow. Nothing references workflows but executions, which keep their
// record and fail at their next stage.
func (s *Service) DeleteWorkflow(ctx context.Context, name string) error {
	return s.store.DeleteWorkflow(ctx, name)
}
