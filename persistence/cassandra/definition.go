package cassandra

import (
	"context"
	"errors"
	"fmt"

	"github.com/gocql/gocql"
	"github.com/mohitkumar/mediaflow/logger"
	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/persistence"
	"github.com/mohitkumar/mediaflow/util"
	"go.uber.org/zap"
)

const systemConfigRow = "system"

type cassandraDefinitionStore struct {
	*baseDao
	workflowEncDec                util.EncoderDecoder[model.Workflow]
	stageEncDec                   util.EncoderDecoder[model.Stage]
	operationEncDec               util.EncoderDecoder[model.Operation]
	defaultMaxConcurrentWorkflows int
}

var _ persistence.DefinitionStore = new(cassandraDefinitionStore)

func NewCassandraDefinitionStore(session *gocql.Session, keyspace string, defaultMaxConcurrentWorkflows int) *cassandraDefinitionStore {
	return &cassandraDefinitionStore{
		baseDao:                       newBaseDao(session, keyspace),
		workflowEncDec:                util.NewJsonEncoderDecoder[model.Workflow](),
		stageEncDec:                   util.NewJsonEncoderDecoder[model.Stage](),
		operationEncDec:               util.NewJsonEncoderDecoder[model.Operation](),
		defaultMaxConcurrentWorkflows: defaultMaxConcurrentWorkflows,
	}
}

// saveUnique inserts the definition with a lightweight transaction so a name is registered once.
func (c *cassandraDefinitionStore) saveUnique(ctx context.Context, kind string, name string, data []byte) error {
	stmt := `INSERT INTO ` + DEFINITION_TABLE + ` (kind, name, definition) VALUES (?, ?, ?) IF NOT EXISTS`
	applied, err := c.session.Query(stmt, kind, name, string(data)).WithContext(ctx).MapScanCAS(make(map[string]interface{}))
	if err != nil {
		logger.Error("error saving definition", zap.String("kind", kind), zap.String("name", name), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if !applied {
		return persistence.AlreadyExistsError{Kind: kind, Name: name}
	}
	return nil
}

func (c *cassandraDefinitionStore) get(ctx context.Context, kind string, name string) (string, error) {
	var definition string
	stmt := `SELECT definition FROM ` + DEFINITION_TABLE + ` WHERE kind = ? AND name = ?`
	if err := c.session.Query(stmt, kind, name).WithContext(ctx).Scan(&definition); err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return "", persistence.NotFoundError{Kind: kind, Name: name}
		}
		return "", persistence.StorageLayerError{Message: err.Error()}
	}
	return definition, nil
}

func (c *cassandraDefinitionStore) SaveWorkflow(ctx context.Context, wf *model.Workflow) error {
	data, err := c.workflowEncDec.Encode(*wf)
	if err != nil {
		return err
	}
	return c.saveUnique(ctx, persistence.KIND_WORKFLOW, wf.Name, data)
}

func (c *cassandraDefinitionStore) GetWorkflow(ctx context.Context, name string) (*model.Workflow, error) {
	val, err := c.get(ctx, persistence.KIND_WORKFLOW, name)
	if err != nil {
		return nil, err
	}
	return c.workflowEncDec.DecodeString(val)
}

// listKind reads one kind partition, which cassandra returns ordered by name.
func (c *cassandraDefinitionStore) listKind(ctx context.Context, kind string) ([]string, error) {
	stmt := `SELECT definition FROM ` + DEFINITION_TABLE + ` WHERE kind = ?`
	iter := c.session.Query(stmt, kind).WithContext(ctx).Iter()
	res := make([]string, 0)
	var definition string
	for iter.Scan(&definition) {
		res = append(res, definition)
	}
	if err := iter.Close(); err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return res, nil
}

func (c *cassandraDefinitionStore) remove(ctx context.Context, kind string, name string) error {
	stmt := `DELETE FROM ` + DEFINITION_TABLE + ` WHERE kind = ? AND name = ? IF EXISTS`
	applied, err := c.session.Query(stmt, kind, name).WithContext(ctx).MapScanCAS(make(map[string]interface{}))
	if err != nil {
		logger.Error("error deleting definition", zap.String("kind", kind), zap.String("name", name), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if !applied {
		return persistence.NotFoundError{Kind: kind, Name: name}
	}
	return nil
}

func (c *cassandraDefinitionStore) ListWorkflows(ctx context.Context) ([]*model.Workflow, error) {
	all, err := c.listKind(ctx, persistence.KIND_WORKFLOW)
	if err != nil {
		return nil, err
	}
	res := make([]*model.Workflow, 0, len(all))
	for _, definition := range all {
		wf, err := c.workflowEncDec.DecodeString(definition)
		if err != nil {
			return nil, err
		}
		res = append(res, wf)
	}
	return res, nil
}

func (c *cassandraDefinitionStore) DeleteWorkflow(ctx context.Context, name string) error {
	return c.remove(ctx, persistence.KIND_WORKFLOW, name)
}

func (c *cassandraDefinitionStore) SaveStage(ctx context.Context, stage *model.Stage) error {
	data, err := c.stageEncDec.Encode(*stage)
	if err != nil {
		return err
	}
	return c.saveUnique(ctx, persistence.KIND_STAGE, stage.Name, data)
}

func (c *cassandraDefinitionStore) GetStage(ctx context.Context, name string) (*model.Stage, error) {
	val, err := c.get(ctx, persistence.KIND_STAGE, name)
	if err != nil {
		return nil, err
	}
	return c.stageEncDec.DecodeString(val)
}

func (c *cassandraDefinitionStore) ListStages(ctx context.Context) ([]*model.Stage, error) {
	all, err := c.listKind(ctx, persistence.KIND_STAGE)
	if err != nil {
		return nil, err
	}
	res := make([]*model.Stage, 0, len(all))
	for _, definition := range all {
		stage, err := c.stageEncDec.DecodeString(definition)
		if err != nil {
			return nil, err
		}
		res = append(res, stage)
	}
	return res, nil
}

func (c *cassandraDefinitionStore) DeleteStage(ctx context.Context, name string) error {
	return c.remove(ctx, persistence.KIND_STAGE, name)
}

func (c *cassandraDefinitionStore) SaveOperation(ctx context.Context, op *model.Operation) error {
	data, err := c.operationEncDec.Encode(*op)
	if err != nil {
		return err
	}
	return c.saveUnique(ctx, persistence.KIND_OPERATION, op.Name, data)
}

func (c *cassandraDefinitionStore) GetOperation(ctx context.Context, name string) (*model.Operation, error) {
	val, err := c.get(ctx, persistence.KIND_OPERATION, name)
	if err != nil {
		return nil, err
	}
	return c.operationEncDec.DecodeString(val)
}

func (c *cassandraDefinitionStore) ListOperations(ctx context.Context) ([]*model.Operation, error) {
	all, err := c.listKind(ctx, persistence.KIND_OPERATION)
	if err != nil {
		return nil, err
	}
	res := make([]*model.Operation, 0, len(all))
	for _, definition := range all {
		op, err := c.operationEncDec.DecodeString(definition)
		if err != nil {
			return nil, err
		}
		res = append(res, op)
	}
	return res, nil
}

func (c *cassandraDefinitionStore) DeleteOperation(ctx context.Context, name string) error {
	return c.remove(ctx, persistence.KIND_OPERATION, name)
}

func (c *cassandraDefinitionStore) GetSystemConfig(ctx context.Context) (*model.SystemConfig, error) {
	var maxWorkflows int
	stmt := `SELECT max_concurrent_workflows FROM ` + SYSTEM_CONFIG_TABLE + ` WHERE name = ?`
	if err := c.session.Query(stmt, systemConfigRow).WithContext(ctx).Scan(&maxWorkflows); err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return &model.SystemConfig{MaxConcurrentWorkflows: c.defaultMaxConcurrentWorkflows}, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return &model.SystemConfig{MaxConcurrentWorkflows: maxWorkflows}, nil
}

func (c *cassandraDefinitionStore) SaveSystemConfig(ctx context.Context, conf *model.SystemConfig) error {
	if conf.MaxConcurrentWorkflows < 1 {
		return fmt.Errorf("maxConcurrentWorkflows must be positive, got %d", conf.MaxConcurrentWorkflows)
	}
	stmt := `INSERT INTO ` + SYSTEM_CONFIG_TABLE + ` (name, max_concurrent_workflows) VALUES (?, ?)`
	if err := c.session.Query(stmt, systemConfigRow, conf.MaxConcurrentWorkflows).WithContext(ctx).Exec(); err != nil {
		logger.Error("error saving system config", zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}
