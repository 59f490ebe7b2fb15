package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/persistence"
	"github.com/mohitkumar/mediaflow/util"
)

// executionStore keeps encoded records so reads never alias stored state.
type executionStore struct {
	mu       sync.Mutex
	records  map[string][]byte
	order    []string
	history  map[string][]*model.HistoryRecord
	encDec   util.EncoderDecoder[model.WorkflowExecution]
	listener persistence.ChangeListener
}

var _ persistence.ExecutionStore = new(executionStore)

func NewExecutionStore(listener persistence.ChangeListener) *executionStore {
	if listener == nil {
		listener = persistence.NoopListener()
	}
	return &executionStore{
		records:  make(map[string][]byte),
		history:  make(map[string][]*model.HistoryRecord),
		encDec:   util.NewJsonEncoderDecoder[model.WorkflowExecution](),
		listener: listener,
	}
}

func (s *executionStore) Create(ctx context.Context, exec *model.WorkflowExecution) (string, error) {
	s.mu.Lock()
	if _, ok := s.records[exec.Id]; ok {
		s.mu.Unlock()
		return "", persistence.AlreadyExistsError{Kind: persistence.KIND_EXECUTION, Name: exec.Id}
	}
	exec.Version = 0
	data, err := s.encDec.Encode(*exec)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.records[exec.Id] = data
	s.order = append(s.order, exec.Id)
	s.history[exec.Id] = append(s.history[exec.Id], &model.HistoryRecord{
		EntityId:  exec.Id,
		Version:   0,
		Snapshot:  data,
		CreatedAt: time.Now().UTC(),
	})
	created, _ := s.encDec.Decode(data)
	s.mu.Unlock()

	s.listener.OnCommit(nil, created)
	return exec.Id, nil
}

func (s *executionStore) Get(ctx context.Context, id string) (*model.WorkflowExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

func (s *executionStore) get(id string) (*model.WorkflowExecution, error) {
	data, ok := s.records[id]
	if !ok {
		return nil, persistence.NotFoundError{Kind: persistence.KIND_EXECUTION, Name: id}
	}
	return s.encDec.Decode(data)
}

func (s *executionStore) Update(ctx context.Context, exec *model.WorkflowExecution) (*model.WorkflowExecution, error) {
	return s.commit(exec.Id, exec.Version, func(current *model.WorkflowExecution) (*model.WorkflowExecution, error) {
		return exec.Clone(), nil
	})
}

func (s *executionStore) UpdateStatus(ctx context.Context, id string, expectedVersion int64, status model.ExecutionStatus, currentStage string, message string) (*model.WorkflowExecution, error) {
	return s.commit(id, expectedVersion, func(current *model.WorkflowExecution) (*model.WorkflowExecution, error) {
		updated := current.Clone()
		updated.Status = status
		updated.CurrentStage = currentStage
		updated.Message = message
		return updated, nil
	})
}

func (s *executionStore) Admit(ctx context.Context, id string, expectedVersion int64, maxActive int) (*model.WorkflowExecution, error) {
	return s.commit(id, expectedVersion, func(current *model.WorkflowExecution) (*model.WorkflowExecution, error) {
		if current.Status != model.EXECUTION_STATUS_QUEUED {
			return nil, persistence.ErrNotQueued
		}
		if s.countLocked(model.ActiveStatuses...) >= maxActive {
			return nil, persistence.ErrCapacityReached
		}
		updated := current.Clone()
		updated.Status = model.EXECUTION_STATUS_STARTED
		return updated, nil
	})
}

func (s *executionStore) commit(id string, expectedVersion int64, fn func(current *model.WorkflowExecution) (*model.WorkflowExecution, error)) (*model.WorkflowExecution, error) {
	s.mu.Lock()
	current, err := s.get(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if current.Version != expectedVersion {
		s.mu.Unlock()
		return nil, persistence.VersionConflictError{Id: id, Expected: expectedVersion}
	}
	updated, err := fn(current)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	updated.Id = current.Id
	updated.CreatedAt = current.CreatedAt
	updated.Version = current.Version + 1
	updated.UpdatedAt = time.Now().UTC()
	data, err := s.encDec.Encode(*updated)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.records[id] = data
	s.history[id] = append(s.history[id], &model.HistoryRecord{
		EntityId:  id,
		Version:   updated.Version,
		Snapshot:  data,
		CreatedAt: updated.UpdatedAt,
	})
	committed, _ := s.encDec.Decode(data)
	s.mu.Unlock()

	s.listener.OnCommit(current, committed)
	return committed, nil
}

func (s *executionStore) AppendHistory(ctx context.Context, id string, snapshot *model.WorkflowExecution) error {
	record, err := model.NewHistoryRecord(id, snapshot.Version, snapshot)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[id] = append(s.history[id], record)
	return nil
}

func (s *executionStore) History(ctx context.Context, id string) ([]*model.HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, ok := s.history[id]
	if !ok {
		return nil, persistence.NotFoundError{Kind: persistence.KIND_EXECUTION, Name: id}
	}
	res := make([]*model.HistoryRecord, len(records))
	copy(res, records)
	return res, nil
}

func (s *executionStore) ListByStatus(ctx context.Context, status model.ExecutionStatus) ([]*model.WorkflowExecution, error) {
	return s.list(func(e *model.WorkflowExecution) bool { return e.Status == status })
}

func (s *executionStore) ListByAsset(ctx context.Context, assetId string) ([]*model.WorkflowExecution, error) {
	return s.list(func(e *model.WorkflowExecution) bool { return e.AssetId == assetId })
}

// list walks records in creation order, which is CreatedAt order.
func (s *executionStore) list(filter func(e *model.WorkflowExecution) bool) ([]*model.WorkflowExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]*model.WorkflowExecution, 0)
	for _, id := range s.order {
		exec, err := s.get(id)
		if err != nil {
			return nil, err
		}
		if filter(exec) {
			res = append(res, exec)
		}
	}
	return res, nil
}

func (s *executionStore) CountByStatus(ctx context.Context, statuses ...model.ExecutionStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked(statuses...), nil
}

func (s *executionStore) countLocked(statuses ...model.ExecutionStatus) int {
	count := 0
	for _, data := range s.records {
		exec, err := s.encDec.Decode(data)
		if err != nil {
			continue
		}
		for _, st := range statuses {
			if exec.Status == st {
				count++
				break
			}
		}
	}
	return count
}
