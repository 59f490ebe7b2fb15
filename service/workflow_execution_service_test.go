package service

import (
	"context"
	"sync"
	"testing"

	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/persistence"
	"github.com/mohitkumar/mediaflow/persistence/memory"
	"github.com/stretchr/testify/require"
)

type fakeAdmission struct {
	mu       sync.Mutex
	triggers int
	failures map[string]string
}

func (f *fakeAdmission) HandleFailure(ctx context.Context, executionId string, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[executionId] = reason
	return nil
}

func (f *fakeAdmission) Trigger() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers++
}

func newService(t *testing.T) (*WorkflowExecutionService, *fakeAdmission) {
	ctx := context.Background()
	defs := memory.NewDefinitionStore(10)
	require.NoError(t, defs.SaveOperation(ctx, &model.Operation{Name: "probe", StartHandler: "noop"}))
	require.NoError(t, defs.SaveStage(ctx, &model.Stage{Name: "ingest", Operations: []string{"probe"}}))
	require.NoError(t, defs.SaveStage(ctx, &model.Stage{Name: "encode", Operations: []string{"probe"}}))
	require.NoError(t, defs.SaveWorkflow(ctx, &model.Workflow{Name: "publish", Stages: []string{"ingest", "encode"}}))
	admission := &fakeAdmission{failures: make(map[string]string)}
	svc := NewWorkflowExecutionService(defs, memory.NewExecutionStore(nil), memory.NewAssetStore(), memory.NewStageQueue(nil), admission)
	return svc, admission
}

func TestCreateExecution(t *testing.T) {
	ctx := context.Background()
	svc, admission := newService(t)

	exec, err := svc.CreateExecution(ctx, &model.ExecutionRequest{
		Name:    "publish",
		AssetId: "asset-1",
		Input: model.ExecutionInput{
			Media:    map[string]any{"video": map[string]any{"url": "s3://bucket/in.mp4"}},
			MetaData: map[string]any{"title": "trailer"},
		},
		Configuration: model.OperationConfiguration{"encode": {"probe": {"Enabled": false}}},
		Trigger:       "api",
	})
	require.NoError(t, err)
	require.Equal(t, model.EXECUTION_STATUS_QUEUED, exec.Status)
	require.Equal(t, "ingest", exec.CurrentStage)
	require.Equal(t, "asset-1", exec.AssetId)
	require.Len(t, exec.Stages, 2)
	require.Equal(t, model.STAGE_STATUS_NOT_STARTED, exec.Stages["encode"].Status)
	require.Equal(t, "trailer", exec.Globals.MetaData["title"])
	require.Equal(t, 1, admission.triggers)

	asset, err := svc.GetAsset(ctx, "asset-1")
	require.NoError(t, err)
	require.False(t, asset.Locked)
	require.Contains(t, asset.Fields, "Media")

	queued, err := svc.ListByStatus(ctx, model.EXECUTION_STATUS_QUEUED)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	byAsset, err := svc.ListByAsset(ctx, "asset-1")
	require.NoError(t, err)
	require.Len(t, byAsset, 1)
	history, err := svc.History(ctx, exec.Id)
	require.NoError(t, err)
	require.Len(t, history, 1)

	// a second execution on the same asset keeps the seeded record
	second, err := svc.CreateExecution(ctx, &model.ExecutionRequest{Name: "publish", AssetId: "asset-1"})
	require.NoError(t, err)
	require.NotEqual(t, exec.Id, second.Id)
	again, err := svc.GetAsset(ctx, "asset-1")
	require.NoError(t, err)
	require.Equal(t, asset.Version, again.Version)

	generated, err := svc.CreateExecution(ctx, &model.ExecutionRequest{Name: "publish"})
	require.NoError(t, err)
	require.NotEmpty(t, generated.AssetId)
}

func TestCreateExecutionRejectsBadRequests(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.CreateExecution(ctx, &model.ExecutionRequest{Name: "missing"})
	require.True(t, persistence.IsNotFound(err))

	_, err = svc.CreateExecution(ctx, &model.ExecutionRequest{
		Name:          "publish",
		Configuration: model.OperationConfiguration{"deliver": {"probe": {}}},
	})
	require.Error(t, err)

	_, err = svc.CreateExecution(ctx, &model.ExecutionRequest{
		Name:          "publish",
		Configuration: model.OperationConfiguration{"ingest": {"transcode": {}}},
	})
	require.Error(t, err)

	_, err = svc.ListByStatus(ctx, model.ExecutionStatus("Paused"))
	require.Error(t, err)
}

func TestReportFailureAndSystemConfig(t *testing.T) {
	ctx := context.Background()
	svc, admission := newService(t)

	exec, err := svc.CreateExecution(ctx, &model.ExecutionRequest{Name: "publish"})
	require.NoError(t, err)
	require.NoError(t, svc.ReportFailure(ctx, exec.Id, "timeout"))
	require.Equal(t, "timeout", admission.failures[exec.Id])
	require.True(t, persistence.IsNotFound(svc.ReportFailure(ctx, "missing", "timeout")))

	require.NoError(t, svc.SetMaxConcurrentWorkflows(ctx, 4))
	conf, err := svc.GetSystemConfig(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, conf.MaxConcurrentWorkflows)
	require.Error(t, svc.SetMaxConcurrentWorkflows(ctx, 0))

	letters, err := svc.ListDeadLetters(ctx)
	require.NoError(t, err)
	require.Empty(t, letters)
}
