package redis

import (
	"context"
	"errors"
	"time"

	rd "github.com/go-redis/redis/v9"
	"github.com/mohitkumar/mediaflow/logger"
	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/persistence"
	"github.com/mohitkumar/mediaflow/util"
	"go.uber.org/zap"
)

const EXECUTION_KEY string = "EXECUTION"
const EXECUTION_STATUS_INDEX string = "EXECUTION_STATUS"
const EXECUTION_ASSET_INDEX string = "EXECUTION_ASSET"
const EXECUTION_HISTORY string = "EXECUTION_HISTORY"

// maxTxAttempts bounds WATCH retries when a watched key changes under us.
const maxTxAttempts = 16

type redisExecutionStore struct {
	*baseDao
	encDec        util.EncoderDecoder[model.WorkflowExecution]
	historyEncDec util.EncoderDecoder[model.HistoryRecord]
	listener      persistence.ChangeListener
}

var _ persistence.ExecutionStore = new(redisExecutionStore)

func NewRedisExecutionStore(client rd.UniversalClient, namespace string, listener persistence.ChangeListener) *redisExecutionStore {
	if listener == nil {
		listener = persistence.NoopListener()
	}
	return &redisExecutionStore{
		baseDao:       newBaseDao(client, namespace),
		encDec:        util.NewJsonEncoderDecoder[model.WorkflowExecution](),
		historyEncDec: util.NewJsonEncoderDecoder[model.HistoryRecord](),
		listener:      listener,
	}
}

func (r *redisExecutionStore) executionKey(id string) string {
	return r.getNamespaceKey(EXECUTION_KEY, id)
}

func (r *redisExecutionStore) statusKey(status model.ExecutionStatus) string {
	return r.getNamespaceKey(EXECUTION_STATUS_INDEX, string(status))
}

func (r *redisExecutionStore) assetKey(assetId string) string {
	return r.getNamespaceKey(EXECUTION_ASSET_INDEX, assetId)
}

func (r *redisExecutionStore) historyKey(id string) string {
	return r.getNamespaceKey(EXECUTION_HISTORY, id)
}

func createdScore(exec *model.WorkflowExecution) float64 {
	return float64(exec.CreatedAt.UnixMicro())
}

func (r *redisExecutionStore) historyData(exec *model.WorkflowExecution, data []byte) ([]byte, error) {
	record := model.HistoryRecord{
		EntityId:  exec.Id,
		Version:   exec.Version,
		Snapshot:  data,
		CreatedAt: exec.UpdatedAt,
	}
	return r.historyEncDec.Encode(record)
}

func (r *redisExecutionStore) Create(ctx context.Context, exec *model.WorkflowExecution) (string, error) {
	key := r.executionKey(exec.Id)
	exec.Version = 0
	data, err := r.encDec.Encode(*exec)
	if err != nil {
		return "", err
	}
	history, err := r.historyData(exec, data)
	if err != nil {
		return "", err
	}
	txf := func(tx *rd.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return persistence.AlreadyExistsError{Kind: persistence.KIND_EXECUTION, Name: exec.Id}
		}
		_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, r.statusKey(exec.Status), rd.Z{Score: createdScore(exec), Member: exec.Id})
			pipe.ZAdd(ctx, r.assetKey(exec.AssetId), rd.Z{Score: createdScore(exec), Member: exec.Id})
			pipe.RPush(ctx, r.historyKey(exec.Id), history)
			return nil
		})
		return err
	}
	if err := r.redisClient.Watch(ctx, txf, key); err != nil {
		var exists persistence.AlreadyExistsError
		if errors.As(err, &exists) {
			return "", err
		}
		logger.Error("error creating execution", zap.String("id", exec.Id), zap.Error(err))
		return "", persistence.StorageLayerError{Message: err.Error()}
	}
	created, _ := r.encDec.Decode(data)
	r.listener.OnCommit(nil, created)
	return exec.Id, nil
}

func (r *redisExecutionStore) Get(ctx context.Context, id string) (*model.WorkflowExecution, error) {
	val, err := r.redisClient.Get(ctx, r.executionKey(id)).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, persistence.NotFoundError{Kind: persistence.KIND_EXECUTION, Name: id}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return r.encDec.DecodeString(val)
}

func (r *redisExecutionStore) Update(ctx context.Context, exec *model.WorkflowExecution) (*model.WorkflowExecution, error) {
	return r.commit(ctx, exec.Id, exec.Version, 0, func(current *model.WorkflowExecution) (*model.WorkflowExecution, error) {
		return exec.Clone(), nil
	})
}

func (r *redisExecutionStore) UpdateStatus(ctx context.Context, id string, expectedVersion int64, status model.ExecutionStatus, currentStage string, message string) (*model.WorkflowExecution, error) {
	return r.commit(ctx, id, expectedVersion, 0, func(current *model.WorkflowExecution) (*model.WorkflowExecution, error) {
		updated := current.Clone()
		updated.Status = status
		updated.CurrentStage = currentStage
		updated.Message = message
		return updated, nil
	})
}

func (r *redisExecutionStore) Admit(ctx context.Context, id string, expectedVersion int64, maxActive int) (*model.WorkflowExecution, error) {
	return r.commit(ctx, id, expectedVersion, maxActive, func(current *model.WorkflowExecution) (*model.WorkflowExecution, error) {
		if current.Status != model.EXECUTION_STATUS_QUEUED {
			return nil, persistence.ErrNotQueued
		}
		updated := current.Clone()
		updated.Status = model.EXECUTION_STATUS_STARTED
		return updated, nil
	})
}

// commit applies fn under WATCH on the execution key. With maxActive > 0 the active status
// indexes are watched too and the write is refused once they hold maxActive members.
func (r *redisExecutionStore) commit(ctx context.Context, id string, expectedVersion int64, maxActive int,
	fn func(current *model.WorkflowExecution) (*model.WorkflowExecution, error)) (*model.WorkflowExecution, error) {
	key := r.executionKey(id)
	keys := []string{key}
	if maxActive > 0 {
		for _, st := range model.ActiveStatuses {
			keys = append(keys, r.statusKey(st))
		}
	}

	var current *model.WorkflowExecution
	var data []byte
	txf := func(tx *rd.Tx) error {
		val, err := tx.Get(ctx, key).Result()
		if err != nil {
			if errors.Is(err, rd.Nil) {
				return persistence.NotFoundError{Kind: persistence.KIND_EXECUTION, Name: id}
			}
			return err
		}
		current, err = r.encDec.DecodeString(val)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return persistence.VersionConflictError{Id: id, Expected: expectedVersion}
		}
		updated, err := fn(current)
		if err != nil {
			return err
		}
		if maxActive > 0 {
			active := int64(0)
			for _, k := range keys[1:] {
				n, err := tx.ZCard(ctx, k).Result()
				if err != nil {
					return err
				}
				active += n
			}
			if active >= int64(maxActive) {
				return persistence.ErrCapacityReached
			}
		}
		updated.Id = current.Id
		updated.CreatedAt = current.CreatedAt
		updated.Version = current.Version + 1
		updated.UpdatedAt = time.Now().UTC()
		data, err = r.encDec.Encode(*updated)
		if err != nil {
			return err
		}
		history, err := r.historyData(updated, data)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if current.Status != updated.Status {
				pipe.ZRem(ctx, r.statusKey(current.Status), id)
				pipe.ZAdd(ctx, r.statusKey(updated.Status), rd.Z{Score: createdScore(current), Member: id})
			}
			pipe.RPush(ctx, r.historyKey(id), history)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := r.redisClient.Watch(ctx, txf, keys...)
		if err == nil {
			committed, err := r.encDec.Decode(data)
			if err != nil {
				return nil, err
			}
			r.listener.OnCommit(current, committed)
			return committed, nil
		}
		if errors.Is(err, rd.TxFailedErr) {
			continue
		}
		if persistence.IsVersionConflict(err) || persistence.IsNotFound(err) ||
			errors.Is(err, persistence.ErrCapacityReached) || errors.Is(err, persistence.ErrNotQueued) {
			return nil, err
		}
		logger.Error("error committing execution", zap.String("id", id), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return nil, persistence.VersionConflictError{Id: id, Expected: expectedVersion}
}

func (r *redisExecutionStore) AppendHistory(ctx context.Context, id string, snapshot *model.WorkflowExecution) error {
	data, err := r.encDec.Encode(*snapshot)
	if err != nil {
		return err
	}
	history, err := r.historyData(snapshot, data)
	if err != nil {
		return err
	}
	if err := r.redisClient.RPush(ctx, r.historyKey(id), history).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *redisExecutionStore) History(ctx context.Context, id string) ([]*model.HistoryRecord, error) {
	vals, err := r.redisClient.LRange(ctx, r.historyKey(id), 0, -1).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	if len(vals) == 0 {
		return nil, persistence.NotFoundError{Kind: persistence.KIND_EXECUTION, Name: id}
	}
	res := make([]*model.HistoryRecord, 0, len(vals))
	for _, v := range vals {
		record, err := r.historyEncDec.DecodeString(v)
		if err != nil {
			return nil, err
		}
		res = append(res, record)
	}
	return res, nil
}

func (r *redisExecutionStore) ListByStatus(ctx context.Context, status model.ExecutionStatus) ([]*model.WorkflowExecution, error) {
	return r.listIndex(ctx, r.statusKey(status))
}

func (r *redisExecutionStore) ListByAsset(ctx context.Context, assetId string) ([]*model.WorkflowExecution, error) {
	return r.listIndex(ctx, r.assetKey(assetId))
}

// listIndex loads the executions referenced by a sorted set index in score order.
func (r *redisExecutionStore) listIndex(ctx context.Context, index string) ([]*model.WorkflowExecution, error) {
	ids, err := r.redisClient.ZRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	res := make([]*model.WorkflowExecution, 0, len(ids))
	if len(ids) == 0 {
		return res, nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, r.executionKey(id))
	}
	vals, err := r.redisClient.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		exec, err := r.encDec.DecodeString(s)
		if err != nil {
			return nil, err
		}
		res = append(res, exec)
	}
	return res, nil
}

func (r *redisExecutionStore) CountByStatus(ctx context.Context, statuses ...model.ExecutionStatus) (int, error) {
	pipe := r.redisClient.Pipeline()
	cmds := make([]*rd.IntCmd, 0, len(statuses))
	for _, st := range statuses {
		cmds = append(cmds, pipe.ZCard(ctx, r.statusKey(st)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, persistence.StorageLayerError{Message: err.Error()}
	}
	total := 0
	for _, c := range cmds {
		total += int(c.Val())
	}
	return total, nil
}
