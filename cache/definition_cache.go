package cache

import (
	"context"
	"time"

	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/persistence"
	c "github.com/patrickmn/go-cache"
)

const (
	workflowPrefix  = "wf:"
	stagePrefix     = "stage:"
	operationPrefix = "op:"
)

// DefinitionCache is a read-through cache over a DefinitionStore.
// Definitions never change once saved. A delete through this cache evicts the entry at once;
// deletes made on other nodes are seen when the entry expires.
// System config is always read from the store.
type DefinitionCache struct {
	persistence.DefinitionStore
	cache *c.Cache
}

var _ persistence.DefinitionStore = new(DefinitionCache)

func NewDefinitionCache(store persistence.DefinitionStore, ttl time.Duration) *DefinitionCache {
	if ttl <= 0 {
		ttl = c.NoExpiration
	}
	return &DefinitionCache{
		DefinitionStore: store,
		cache:           c.New(ttl, 10*time.Minute),
	}
}

func (dc *DefinitionCache) GetWorkflow(ctx context.Context, name string) (*model.Workflow, error) {
	if v, found := dc.cache.Get(workflowPrefix + name); found {
		return v.(*model.Workflow), nil
	}
	wf, err := dc.DefinitionStore.GetWorkflow(ctx, name)
	if err != nil {
		return nil, err
	}
	dc.cache.SetDefault(workflowPrefix+name, wf)
	return wf, nil
}

func (dc *DefinitionCache) GetStage(ctx context.Context, name string) (*model.Stage, error) {
	if v, found := dc.cache.Get(stagePrefix + name); found {
		return v.(*model.Stage), nil
	}
	stage, err := dc.DefinitionStore.GetStage(ctx, name)
	if err != nil {
		return nil, err
	}
	dc.cache.SetDefault(stagePrefix+name, stage)
	return stage, nil
}

func (dc *DefinitionCache) GetOperation(ctx context.Context, name string) (*model.Operation, error) {
	if v, found := dc.cache.Get(operationPrefix + name); found {
		return v.(*model.Operation), nil
	}
	op, err := dc.DefinitionStore.GetOperation(ctx, name)
	if err != nil {
		return nil, err
	}
	dc.cache.SetDefault(operationPrefix+name, op)
	return op, nil
}

func (dc *DefinitionCache) DeleteWorkflow(ctx context.Context, name string) error {
	dc.cache.Delete(workflowPrefix + name)
	return dc.DefinitionStore.DeleteWorkflow(ctx, name)
}

func (dc *DefinitionCache) DeleteStage(ctx context.Context, name string) error {
	dc.cache.Delete(stagePrefix + name)
	return dc.DefinitionStore.DeleteStage(ctx, name)
}

func (dc *DefinitionCache) DeleteOperation(ctx context.Context, name string) error {
	dc.cache.Delete(operationPrefix + name)
	return dc.DefinitionStore.DeleteOperation(ctx, name)
}

func (dc *DefinitionCache) ItemCount() int {
	return dc.cache.ItemCount()
}
