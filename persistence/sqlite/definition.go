package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/persistence"
	"github.com/mohitkumar/mediaflow/util"
)

const maxConcurrentWorkflowsKey = "MaxConcurrentWorkflows"

type definitionStore struct {
	*DB
	workflowEncDec                util.EncoderDecoder[model.Workflow]
	stageEncDec                   util.EncoderDecoder[model.Stage]
	operationEncDec               util.EncoderDecoder[model.Operation]
	defaultMaxConcurrentWorkflows int
}

var _ persistence.DefinitionStore = new(definitionStore)

func NewDefinitionStore(db *DB, defaultMaxConcurrentWorkflows int) *definitionStore {
	return &definitionStore{
		DB:                            db,
		workflowEncDec:                util.NewJsonEncoderDecoder[model.Workflow](),
		stageEncDec:                   util.NewJsonEncoderDecoder[model.Stage](),
		operationEncDec:               util.NewJsonEncoderDecoder[model.Operation](),
		defaultMaxConcurrentWorkflows: defaultMaxConcurrentWorkflows,
	}
}

func (s *definitionStore) insert(ctx context.Context, kind string, name string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO definitions (kind, name, data) VALUES (?, ?, ?)`, kind, name, string(data))
	if err != nil {
		if isConstraintViolation(err) {
			return persistence.AlreadyExistsError{Kind: kind, Name: name}
		}
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *definitionStore) load(ctx context.Context, kind string, name string) (string, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM definitions WHERE kind = ? AND name = ?`, kind, name).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", persistence.NotFoundError{Kind: kind, Name: name}
		}
		return "", persistence.StorageLayerError{Message: err.Error()}
	}
	return data, nil
}

func (s *definitionStore) SaveWorkflow(ctx context.Context, wf *model.Workflow) error {
	data, err := s.workflowEncDec.Encode(*wf)
	if err != nil {
		return err
	}
	return s.insert(ctx, persistence.KIND_WORKFLOW, wf.Name, data)
}

func (s *definitionStore) GetWorkflow(ctx context.Context, name string) (*model.Workflow, error) {
	data, err := s.load(ctx, persistence.KIND_WORKFLOW, name)
	if err != nil {
		return nil, err
	}
	return s.workflowEncDec.DecodeString(data)
}

func (s *definitionStore) remove(ctx context.Context, kind string, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM definitions WHERE kind = ? AND name = ?`, kind, name)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if n == 0 {
		return persistence.NotFoundError{Kind: kind, Name: name}
	}
	return nil
}

func (s *definitionStore) loadAll(ctx context.Context, kind string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM definitions WHERE kind = ? ORDER BY name`, kind)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	defer rows.Close()
	res := make([]string, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		res = append(res, data)
	}
	return res, rows.Err()
}

func (s *definitionStore) ListWorkflows(ctx context.Context) ([]*model.Workflow, error) {
	all, err := s.loadAll(ctx, persistence.KIND_WORKFLOW)
	if err != nil {
		return nil, err
	}
	res := make([]*model.Workflow, 0, len(all))
	for _, data := range all {
		wf, err := s.workflowEncDec.DecodeString(data)
		if err != nil {
			return nil, err
		}
		res = append(res, wf)
	}
	return res, nil
}

func (s *definitionStore) DeleteWorkflow(ctx context.Context, name string) error {
	return s.remove(ctx, persistence.KIND_WORKFLOW, name)
}

func (s *definitionStore) SaveStage(ctx context.Context, stage *model.Stage) error {
	data, err := s.stageEncDec.Encode(*stage)
	if err != nil {
		return err
	}
	return s.insert(ctx, persistence.KIND_STAGE, stage.Name, data)
}

func (s *definitionStore) GetStage(ctx context.Context, name string) (*model.Stage, error) {
	data, err := s.load(ctx, persistence.KIND_STAGE, name)
	if err != nil {
		return nil, err
	}
	return s.stageEncDec.DecodeString(data)
}

func (s *definitionStore) ListStages(ctx context.Context) ([]*model.Stage, error) {
	all, err := s.loadAll(ctx, persistence.KIND_STAGE)
	if err != nil {
		return nil, err
	}
	res := make([]*model.Stage, 0, len(all))
	for _, data := range all {
		stage, err := s.stageEncDec.DecodeString(data)
		if err != nil {
			return nil, err
		}
		res = append(res, stage)
	}
	return res, nil
}

func (s *definitionStore) DeleteStage(ctx context.Context, name string) error {
	return s.remove(ctx, persistence.KIND_STAGE, name)
}

func (s *definitionStore) SaveOperation(ctx context.Context, op *model.Operation) error {
	data, err := s.operationEncDec.Encode(*op)
	if err != nil {
		return err
	}
	return s.insert(ctx, persistence.KIND_OPERATION, op.Name, data)
}

func (s *definitionStore) GetOperation(ctx context.Context, name string) (*model.Operation, error) {
	data, err := s.load(ctx, persistence.KIND_OPERATION, name)
	if err != nil {
		return nil, err
	}
	return s.operationEncDec.DecodeString(data)
}

func (s *definitionStore) ListOperations(ctx context.Context) ([]*model.Operation, error) {
	all, err := s.loadAll(ctx, persistence.KIND_OPERATION)
	if err != nil {
		return nil, err
	}
	res := make([]*model.Operation, 0, len(all))
	for _, data := range all {
		op, err := s.operationEncDec.DecodeString(data)
		if err != nil {
			return nil, err
		}
		res = append(res, op)
	}
	return res, nil
}

func (s *definitionStore) DeleteOperation(ctx context.Context, name string) error {
	return s.remove(ctx, persistence.KIND_OPERATION, name)
}

func (s *definitionStore) GetSystemConfig(ctx context.Context) (*model.SystemConfig, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM system_config WHERE name = ?`, maxConcurrentWorkflowsKey).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &model.SystemConfig{MaxConcurrentWorkflows: s.defaultMaxConcurrentWorkflows}, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	maxWorkflows, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", maxConcurrentWorkflowsKey, value, err)
	}
	return &model.SystemConfig{MaxConcurrentWorkflows: maxWorkflows}, nil
}

func (s *definitionStore) SaveSystemConfig(ctx context.Context, conf *model.SystemConfig) error {
	if conf.MaxConcurrentWorkflows < 1 {
		return fmt.Errorf("maxConcurrentWorkflows must be positive, got %d", conf.MaxConcurrentWorkflows)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO system_config (name, value) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
		maxConcurrentWorkflowsKey, strconv.Itoa(conf.MaxConcurrentWorkflows))
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}
