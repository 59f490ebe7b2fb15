package cache

import (
	"context"
	"testing"
	"time"

	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/persistence"
	"github.com/mohitkumar/mediaflow/persistence/memory"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	persistence.DefinitionStore
	reads int
}

func (s *countingStore) GetWorkflow(ctx context.Context, name string) (*model.Workflow, error) {
	s.reads++
	return s.DefinitionStore.GetWorkflow(ctx, name)
}

func (s *countingStore) GetStage(ctx context.Context, name string) (*model.Stage, error) {
	s.reads++
	return s.DefinitionStore.GetStage(ctx, name)
}

func (s *countingStore) GetOperation(ctx context.Context, name string) (*model.Operation, error) {
	s.reads++
	return s.DefinitionStore.GetOperation(ctx, name)
}

func TestDefinitionCache(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{DefinitionStore: memory.NewDefinitionStore(10)}
	require.NoError(t, store.SaveOperation(ctx, &model.Operation{Name: "probe", StartHandler: "noop"}))
	require.NoError(t, store.SaveStage(ctx, &model.Stage{Name: "ingest", Operations: []string{"probe"}}))
	require.NoError(t, store.SaveWorkflow(ctx, &model.Workflow{Name: "publish", Stages: []string{"ingest"}}))

	dc := NewDefinitionCache(store, time.Minute)
	for i := 0; i < 3; i++ {
		wf, err := dc.GetWorkflow(ctx, "publish")
		require.NoError(t, err)
		require.Equal(t, []string{"ingest"}, wf.Stages)
		stage, err := dc.GetStage(ctx, "ingest")
		require.NoError(t, err)
		require.Equal(t, []string{"probe"}, stage.Operations)
		op, err := dc.GetOperation(ctx, "probe")
		require.NoError(t, err)
		require.Equal(t, "noop", op.StartHandler)
	}
	require.Equal(t, 3, store.reads)
	require.Equal(t, 3, dc.ItemCount())

	// misses are not cached
	for i := 0; i < 2; i++ {
		_, err := dc.GetWorkflow(ctx, "missing")
		require.True(t, persistence.IsNotFound(err))
	}
	require.Equal(t, 5, store.reads)

	sysConf, err := dc.GetSystemConfig(ctx)
	require.NoError(t, err)
	require.Equal(t, 10, sysConf.MaxConcurrentWorkflows)
}

func TestDefinitionCacheEvictsOnDelete(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{DefinitionStore: memory.NewDefinitionStore(10)}
	require.NoError(t, store.SaveOperation(ctx, &model.Operation{Name: "probe", StartHandler: "noop"}))
	require.NoError(t, store.SaveStage(ctx, &model.Stage{Name: "ingest", Operations: []string{"probe"}}))
	require.NoError(t, store.SaveWorkflow(ctx, &model.Workflow{Name: "publish", Stages: []string{"ingest"}}))

	dc := NewDefinitionCache(store, time.Minute)
	_, err := dc.GetWorkflow(ctx, "publish")
	require.NoError(t, err)
	_, err = dc.GetStage(ctx, "ingest")
	require.NoError(t, err)
	_, err = dc.GetOperation(ctx, "probe")
	require.NoError(t, err)
	require.Equal(t, 3, dc.ItemCount())

	require.NoError(t, dc.DeleteWorkflow(ctx, "publish"))
	require.NoError(t, dc.DeleteStage(ctx, "ingest"))
	require.NoError(t, dc.DeleteOperation(ctx, "probe"))
	require.Equal(t, 0, dc.ItemCount())

	_, err = dc.GetWorkflow(ctx, "publish")
	require.True(t, persistence.IsNotFound(err))
	_, err = dc.GetStage(ctx, "ingest")
	require.True(t, persistence.IsNotFound(err))
	_, err = dc.GetOperation(ctx, "probe")
	require.True(t, persistence.IsNotFound(err))
	require.True(t, persistence.IsNotFound(dc.DeleteOperation(ctx, "probe")))
}
