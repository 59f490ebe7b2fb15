package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	rd "github.com/go-redis/redis/v9"
	"github.com/mohitkumar/mediaflow/logger"
	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/persistence"
	"github.com/mohitkumar/mediaflow/util"
	"go.uber.org/zap"
)

const WORKFLOW_DEF string = "WORKFLOW"
const STAGE_DEF string = "STAGE"
const OPERATION_DEF string = "OPERATION"
const SYSTEM_CONFIG string = "SYSTEM"
const MAX_CONCURRENT_WORKFLOWS_FIELD string = "MaxConcurrentWorkflows"

type redisDefinitionStore struct {
	*baseDao
	workflowEncDec                util.EncoderDecoder[model.Workflow]
	stageEncDec                   util.EncoderDecoder[model.Stage]
	operationEncDec               util.EncoderDecoder[model.Operation]
	defaultMaxConcurrentWorkflows int
}

var _ persistence.DefinitionStore = new(redisDefinitionStore)

func NewRedisDefinitionStore(client rd.UniversalClient, namespace string, defaultMaxConcurrentWorkflows int) *redisDefinitionStore {
	return &redisDefinitionStore{
		baseDao:                       newBaseDao(client, namespace),
		workflowEncDec:                util.NewJsonEncoderDecoder[model.Workflow](),
		stageEncDec:                   util.NewJsonEncoderDecoder[model.Stage](),
		operationEncDec:               util.NewJsonEncoderDecoder[model.Operation](),
		defaultMaxConcurrentWorkflows: defaultMaxConcurrentWorkflows,
	}
}

// saveUnique writes name into the definition hash only when it is not registered yet.
func (r *redisDefinitionStore) saveUnique(ctx context.Context, kind string, hash string, name string, data []byte) error {
	key := r.getNamespaceKey(hash)
	ok, err := r.redisClient.HSetNX(ctx, key, name, data).Result()
	if err != nil {
		logger.Error("error saving definition", zap.String("kind", kind), zap.String("name", name), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if !ok {
		return persistence.AlreadyExistsError{Kind: kind, Name: name}
	}
	return nil
}

func (r *redisDefinitionStore) get(ctx context.Context, kind string, hash string, name string) (string, error) {
	key := r.getNamespaceKey(hash)
	val, err := r.redisClient.HGet(ctx, key, name).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return "", persistence.NotFoundError{Kind: kind, Name: name}
		}
		return "", persistence.StorageLayerError{Message: err.Error()}
	}
	return val, nil
}

func (r *redisDefinitionStore) delete(ctx context.Context, kind string, hash string, name string) error {
	n, err := r.redisClient.HDel(ctx, r.getNamespaceKey(hash), name).Result()
	if err != nil {
		logger.Error("error deleting definition", zap.String("kind", kind), zap.String("name", name), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if n == 0 {
		return persistence.NotFoundError{Kind: kind, Name: name}
	}
	return nil
}

// values returns every encoded definition of one kind ordered by name.
func (r *redisDefinitionStore) values(ctx context.Context, hash string) ([]string, error) {
	all, err := r.redisClient.HGetAll(ctx, r.getNamespaceKey(hash)).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)
	res := make([]string, 0, len(names))
	for _, name := range names {
		res = append(res, all[name])
	}
	return res, nil
}

func (r *redisDefinitionStore) SaveWorkflow(ctx context.Context, wf *model.Workflow) error {
	data, err := r.workflowEncDec.Encode(*wf)
	if err != nil {
		return err
	}
	return r.saveUnique(ctx, persistence.KIND_WORKFLOW, WORKFLOW_DEF, wf.Name, data)
}

func (r *redisDefinitionStore) GetWorkflow(ctx context.Context, name string) (*model.Workflow, error) {
	val, err := r.get(ctx, persistence.KIND_WORKFLOW, WORKFLOW_DEF, name)
	if err != nil {
		return nil, err
	}
	return r.workflowEncDec.DecodeString(val)
}

func (r *redisDefinitionStore) ListWorkflows(ctx context.Context) ([]*model.Workflow, error) {
	vals, err := r.values(ctx, WORKFLOW_DEF)
	if err != nil {
		return nil, err
	}
	res := make([]*model.Workflow, 0, len(vals))
	for _, v := range vals {
		wf, err := r.workflowEncDec.DecodeString(v)
		if err != nil {
			return nil, err
		}
		res = append(res, wf)
	}
	return res, nil
}

func (r *redisDefinitionStore) DeleteWorkflow(ctx context.Context, name string) error {
	return r.delete(ctx, persistence.KIND_WORKFLOW, WORKFLOW_DEF, name)
}

func (r *redisDefinitionStore) SaveStage(ctx context.Context, stage *model.Stage) error {
	data, err := r.stageEncDec.Encode(*stage)
	if err != nil {
		return err
	}
	return r.saveUnique(ctx, persistence.KIND_STAGE, STAGE_DEF, stage.Name, data)
}

func (r *redisDefinitionStore) GetStage(ctx context.Context, name string) (*model.Stage, error) {
	val, err := r.get(ctx, persistence.KIND_STAGE, STAGE_DEF, name)
	if err != nil {
		return nil, err
	}
	return r.stageEncDec.DecodeString(val)
}

func (r *redisDefinitionStore) ListStages(ctx context.Context) ([]*model.Stage, error) {
	vals, err := r.values(ctx, STAGE_DEF)
	if err != nil {
		return nil, err
	}
	res := make([]*model.Stage, 0, len(vals))
	for _, v := range vals {
		stage, err := r.stageEncDec.DecodeString(v)
		if err != nil {
			return nil, err
		}
		res = append(res, stage)
	}
	return res, nil
}

func (r *redisDefinitionStore) DeleteStage(ctx context.Context, name string) error {
	return r.delete(ctx, persistence.KIND_STAGE, STAGE_DEF, name)
}

func (r *redisDefinitionStore) SaveOperation(ctx context.Context, op *model.Operation) error {
	data, err := r.operationEncDec.Encode(*op)
	if err != nil {
		return err
	}
	return r.saveUnique(ctx, persistence.KIND_OPERATION, OPERATION_DEF, op.Name, data)
}

func (r *redisDefinitionStore) GetOperation(ctx context.Context, name string) (*model.Operation, error) {
	val, err := r.get(ctx, persistence.KIND_OPERATION, OPERATION_DEF, name)
	if err != nil {
		return nil, err
	}
	return r.operationEncDec.DecodeString(val)
}

func (r *redisDefinitionStore) ListOperations(ctx context.Context) ([]*model.Operation, error) {
	vals, err := r.values(ctx, OPERATION_DEF)
	if err != nil {
		return nil, err
	}
	res := make([]*model.Operation, 0, len(vals))
	for _, v := range vals {
		op, err := r.operationEncDec.DecodeString(v)
		if err != nil {
			return nil, err
		}
		res = append(res, op)
	}
	return res, nil
}

func (r *redisDefinitionStore) DeleteOperation(ctx context.Context, name string) error {
	return r.delete(ctx, persistence.KIND_OPERATION, OPERATION_DEF, name)
}

func (r *redisDefinitionStore) GetSystemConfig(ctx context.Context) (*model.SystemConfig, error) {
	key := r.getNamespaceKey(SYSTEM_CONFIG)
	val, err := r.redisClient.HGet(ctx, key, MAX_CONCURRENT_WORKFLOWS_FIELD).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return &model.SystemConfig{MaxConcurrentWorkflows: r.defaultMaxConcurrentWorkflows}, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	maxWorkflows, err := strconv.Atoi(val)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", MAX_CONCURRENT_WORKFLOWS_FIELD, val, err)
	}
	return &model.SystemConfig{MaxConcurrentWorkflows: maxWorkflows}, nil
}

func (r *redisDefinitionStore) SaveSystemConfig(ctx context.Context, conf *model.SystemConfig) error {
	if conf.MaxConcurrentWorkflows < 1 {
		return fmt.Errorf("maxConcurrentWorkflows must be positive, got %d", conf.MaxConcurrentWorkflows)
	}
	key := r.getNamespaceKey(SYSTEM_CONFIG)
	if err := r.redisClient.HSet(ctx, key, MAX_CONCURRENT_WORKFLOWS_FIELD, conf.MaxConcurrentWorkflows).Err(); err != nil {
		logger.Error("error saving system config", zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}
