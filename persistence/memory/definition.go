package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/persistence"
)

type definitionStore struct {
	mu                            sync.RWMutex
	workflows                     map[string]model.Workflow
	stages                        map[string]model.Stage
	operations                    map[string]model.Operation
	system                        *model.SystemConfig
	defaultMaxConcurrentWorkflows int
}

var _ persistence.DefinitionStore = new(definitionStore)

func NewDefinitionStore(defaultMaxConcurrentWorkflows int) *definitionStore {
	return &definitionStore{
		workflows:                     make(map[string]model.Workflow),
		stages:                        make(map[string]model.Stage),
		operations:                    make(map[string]model.Operation),
		defaultMaxConcurrentWorkflows: defaultMaxConcurrentWorkflows,
	}
}

func (s *definitionStore) SaveWorkflow(ctx context.Context, wf *model.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[wf.Name]; ok {
		return persistence.AlreadyExistsError{Kind: persistence.KIND_WORKFLOW, Name: wf.Name}
	}
	s.workflows[wf.Name] = *wf
	return nil
}

func (s *definitionStore) GetWorkflow(ctx context.Context, name string) (*model.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[name]
	if !ok {
		return nil, persistence.NotFoundError{Kind: persistence.KIND_WORKFLOW, Name: name}
	}
	return &wf, nil
}

func (s *definitionStore) ListWorkflows(ctx context.Context) ([]*model.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]*model.Workflow, 0, len(s.workflows))
	for _, wf := range s.workflows {
		wf := wf
		res = append(res, &wf)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

func (s *definitionStore) DeleteWorkflow(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[name]; !ok {
		return persistence.NotFoundError{Kind: persistence.KIND_WORKFLOW, Name: name}
	}
	delete(s.workflows, name)
	return nil
}

func (s *definitionStore) SaveStage(ctx context.Context, stage *model.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stages[stage.Name]; ok {
		return persistence.AlreadyExistsError{Kind: persistence.KIND_STAGE, Name: stage.Name}
	}
	s.stages[stage.Name] = *stage
	return nil
}

func (s *definitionStore) GetStage(ctx context.Context, name string) (*model.Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stage, ok := s.stages[name]
	if !ok {
		return nil, persistence.NotFoundError{Kind: persistence.KIND_STAGE, Name: name}
	}
	return &stage, nil
}

func (s *definitionStore) ListStages(ctx context.Context) ([]*model.Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]*model.Stage, 0, len(s.stages))
	for _, stage := range s.stages {
		stage := stage
		res = append(res, &stage)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

func (s *definitionStore) DeleteStage(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stages[name]; !ok {
		return persistence.NotFoundError{Kind: persistence.KIND_STAGE, Name: name}
	}
	delete(s.stages, name)
	return nil
}

func (s *definitionStore) SaveOperation(ctx context.Context, op *model.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.operations[op.Name]; ok {
		return persistence.AlreadyExistsError{Kind: persistence.KIND_OPERATION, Name: op.Name}
	}
	s.operations[op.Name] = *op
	return nil
}

func (s *definitionStore) GetOperation(ctx context.Context, name string) (*model.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.operations[name]
	if !ok {
		return nil, persistence.NotFoundError{Kind: persistence.KIND_OPERATION, Name: name}
	}
	return &op, nil
}

func (s *definitionStore) ListOperations(ctx context.Context) ([]*model.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]*model.Operation, 0, len(s.operations))
	for _, op := range s.operations {
		op := op
		res = append(res, &op)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

func (s *definitionStore) DeleteOperation(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.operations[name]; !ok {
		return persistence.NotFoundError{Kind: persistence.KIND_OPERATION, Name: name}
	}
	delete(s.operations, name)
	return nil
}

func (s *definitionStore) GetSystemConfig(ctx context.Context) (*model.SystemConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.system == nil {
		return &model.SystemConfig{MaxConcurrentWorkflows: s.defaultMaxConcurrentWorkflows}, nil
	}
	conf := *s.system
	return &conf, nil
}

func (s *definitionStore) SaveSystemConfig(ctx context.Context, conf *model.SystemConfig) error {
	if conf.MaxConcurrentWorkflows < 1 {
		return fmt.Errorf("maxConcurrentWorkflows must be positive, got %d", conf.MaxConcurrentWorkflows)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *conf
	s.system = &c
	return nil
}
