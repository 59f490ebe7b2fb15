package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohitkumar/mediaflow/logger"
	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/persistence"
	"github.com/mohitkumar/mediaflow/util"
	"go.uber.org/zap"
)

const entityExecution = "execution"

type executionStore struct {
	*DB
	encDec   util.EncoderDecoder[model.WorkflowExecution]
	listener persistence.ChangeListener
}

var _ persistence.ExecutionStore = new(executionStore)

func NewExecutionStore(db *DB, listener persistence.ChangeListener) *executionStore {
	if listener == nil {
		listener = persistence.NoopListener()
	}
	return &executionStore{
		DB:       db,
		encDec:   util.NewJsonEncoderDecoder[model.WorkflowExecution](),
		listener: listener,
	}
}

func (s *executionStore) Create(ctx context.Context, exec *model.WorkflowExecution) (string, error) {
	exec.Version = 0
	data, err := s.encDec.Encode(*exec)
	if err != nil {
		return "", err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", persistence.StorageLayerError{Message: err.Error()}
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO workflow_executions
		(id, asset_id, workflow, status, current_stage, version, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.Id, exec.AssetId, exec.Workflow, string(exec.Status), exec.CurrentStage, exec.Version, string(data),
		toMicros(exec.CreatedAt), toMicros(exec.UpdatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return "", persistence.AlreadyExistsError{Kind: persistence.KIND_EXECUTION, Name: exec.Id}
		}
		return "", persistence.StorageLayerError{Message: err.Error()}
	}
	if err := insertHistory(ctx, tx, entityExecution, exec.Id, 0, data, exec.UpdatedAt); err != nil {
		return "", persistence.StorageLayerError{Message: err.Error()}
	}
	if err := tx.Commit(); err != nil {
		return "", persistence.StorageLayerError{Message: err.Error()}
	}
	created, _ := s.encDec.Decode(data)
	s.listener.OnCommit(nil, created)
	return exec.Id, nil
}

func (s *executionStore) Get(ctx context.Context, id string) (*model.WorkflowExecution, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM workflow_executions WHERE id = ?`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NotFoundError{Kind: persistence.KIND_EXECUTION, Name: id}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return s.encDec.DecodeString(data)
}

func (s *executionStore) Update(ctx context.Context, exec *model.WorkflowExecution) (*model.WorkflowExecution, error) {
	return s.commit(ctx, exec.Id, exec.Version, 0, func(current *model.WorkflowExecution) (*model.WorkflowExecution, error) {
		return exec.Clone(), nil
	})
}

func (s *executionStore) UpdateStatus(ctx context.Context, id string, expectedVersion int64, status model.ExecutionStatus, currentStage string, message string) (*model.WorkflowExecution, error) {
	return s.commit(ctx, id, expectedVersion, 0, func(current *model.WorkflowExecution) (*model.WorkflowExecution, error) {
		updated := current.Clone()
		updated.Status = status
		updated.CurrentStage = currentStage
		updated.Message = message
		return updated, nil
	})
}

func (s *executionStore) Admit(ctx context.Context, id string, expectedVersion int64, maxActive int) (*model.WorkflowExecution, error) {
	return s.commit(ctx, id, expectedVersion, maxActive, func(current *model.WorkflowExecution) (*model.WorkflowExecution, error) {
		if current.Status != model.EXECUTION_STATUS_QUEUED {
			return nil, persistence.ErrNotQueued
		}
		updated := current.Clone()
		updated.Status = model.EXECUTION_STATUS_STARTED
		return updated, nil
	})
}

func (s *executionStore) commit(ctx context.Context, id string, expectedVersion int64, maxActive int,
	fn func(current *model.WorkflowExecution) (*model.WorkflowExecution, error)) (*model.WorkflowExecution, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	defer func() { _ = tx.Rollback() }()

	var data string
	err = tx.QueryRowContext(ctx, `SELECT data FROM workflow_executions WHERE id = ?`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NotFoundError{Kind: persistence.KIND_EXECUTION, Name: id}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	current, err := s.encDec.DecodeString(data)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, persistence.VersionConflictError{Id: id, Expected: expectedVersion}
	}
	updated, err := fn(current)
	if err != nil {
		return nil, err
	}
	if maxActive > 0 {
		active, err := countByStatus(ctx, tx, model.ActiveStatuses...)
		if err != nil {
			return nil, err
		}
		if active >= maxActive {
			return nil, persistence.ErrCapacityReached
		}
	}
	updated.Id = current.Id
	updated.CreatedAt = current.CreatedAt
	updated.Version = current.Version + 1
	updated.UpdatedAt = time.Now().UTC()
	newData, err := s.encDec.Encode(*updated)
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx, `UPDATE workflow_executions
		SET status = ?, current_stage = ?, version = ?, data = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(updated.Status), updated.CurrentStage, updated.Version, string(newData), toMicros(updated.UpdatedAt),
		id, expectedVersion)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, persistence.VersionConflictError{Id: id, Expected: expectedVersion}
	}
	if err := insertHistory(ctx, tx, entityExecution, id, updated.Version, newData, updated.UpdatedAt); err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	if err := tx.Commit(); err != nil {
		logger.Error("error committing execution", zap.String("id", id), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	committed, err := s.encDec.Decode(newData)
	if err != nil {
		return nil, err
	}
	s.listener.OnCommit(current, committed)
	return committed, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func countByStatus(ctx context.Context, q queryer, statuses ...model.ExecutionStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(statuses))
	for _, st := range statuses {
		args = append(args, string(st))
	}
	query := fmt.Sprintf(`SELECT COUNT(1) FROM workflow_executions WHERE status IN (%s)`, placeholders(len(statuses)))
	var count int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, persistence.StorageLayerError{Message: err.Error()}
	}
	return count, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (s *executionStore) AppendHistory(ctx context.Context, id string, snapshot *model.WorkflowExecution) error {
	data, err := s.encDec.Encode(*snapshot)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	defer func() { _ = tx.Rollback() }()
	if err := insertHistory(ctx, tx, entityExecution, id, snapshot.Version, data, time.Now()); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return tx.Commit()
}

func (s *executionStore) History(ctx context.Context, id string) ([]*model.HistoryRecord, error) {
	return loadHistory(ctx, s.db, entityExecution, persistence.KIND_EXECUTION, id)
}

func loadHistory(ctx context.Context, db *sql.DB, entityType string, kind string, id string) ([]*model.HistoryRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT version, snapshot, created_at FROM history WHERE entity_type = ? AND entity_id = ? ORDER BY seq`,
		entityType, id)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	defer rows.Close()
	res := make([]*model.HistoryRecord, 0)
	for rows.Next() {
		var (
			version   int64
			snapshot  string
			createdAt int64
		)
		if err := rows.Scan(&version, &snapshot, &createdAt); err != nil {
			return nil, err
		}
		res = append(res, &model.HistoryRecord{
			EntityId:  id,
			Version:   version,
			Snapshot:  []byte(snapshot),
			CreatedAt: fromMicros(createdAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, persistence.NotFoundError{Kind: kind, Name: id}
	}
	return res, nil
}

func (s *executionStore) ListByStatus(ctx context.Context, status model.ExecutionStatus) ([]*model.WorkflowExecution, error) {
	return s.list(ctx, `SELECT data FROM workflow_executions WHERE status = ? ORDER BY created_at, rowid`, string(status))
}

func (s *executionStore) ListByAsset(ctx context.Context, assetId string) ([]*model.WorkflowExecution, error) {
	return s.list(ctx, `SELECT data FROM workflow_executions WHERE asset_id = ? ORDER BY created_at, rowid`, assetId)
}

func (s *executionStore) list(ctx context.Context, query string, args ...any) ([]*model.WorkflowExecution, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	defer rows.Close()
	res := make([]*model.WorkflowExecution, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		exec, err := s.encDec.DecodeString(data)
		if err != nil {
			return nil, err
		}
		res = append(res, exec)
	}
	return res, rows.Err()
}

func (s *executionStore) CountByStatus(ctx context.Context, statuses ...model.ExecutionStatus) (int, error) {
	return countByStatus(ctx, s.db, statuses...)
}
