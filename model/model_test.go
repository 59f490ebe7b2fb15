package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExecutionStatus(t *testing.T) {
	for status, want := range map[ExecutionStatus][3]bool{
		EXECUTION_STATUS_QUEUED:        {false, false, true},
		EXECUTION_STATUS_STARTED:       {true, false, true},
		EXECUTION_STATUS_RUNNING_STAGE: {true, false, true},
		EXECUTION_STATUS_WAITING:       {true, false, true},
		EXECUTION_STATUS_COMPLETE:      {false, true, true},
		EXECUTION_STATUS_ERROR:         {false, true, true},
		ExecutionStatus("Paused"):      {false, false, false},
	} {
		require.Equal(t, want[0], status.IsActive(), status)
		require.Equal(t, want[1], status.IsTerminal(), status)
		require.Equal(t, want[2], status.IsValid(), status)
	}
}

func TestWorkflowNavigation(t *testing.T) {
	wf := &Workflow{Name: "publish", Stages: []string{"ingest", "encode", "deliver"}}
	require.Equal(t, "encode", wf.NextStage("ingest"))
	require.Equal(t, "deliver", wf.NextStage("encode"))
	require.Equal(t, END_STAGE, wf.NextStage("deliver"))
	require.Equal(t, END_STAGE, wf.NextStage("unknown"))
	require.True(t, wf.HasStage("encode"))
	require.False(t, wf.HasStage(END_STAGE))
}

func TestStageExecution(t *testing.T) {
	stage := &StageExecution{Name: "encode"}
	require.True(t, stage.AllOperationsTerminal())
	stage.Operations = map[string]*OperationExecution{
		"probe":     {Name: "probe", Status: OPERATION_STATUS_COMPLETE},
		"thumbnail": {Name: "thumbnail", Status: OPERATION_STATUS_SKIPPED},
		"transcode": {Name: "transcode", Status: OPERATION_STATUS_WAITING},
	}
	require.False(t, stage.AllOperationsTerminal())
	stage.Operations["transcode"].Status = OPERATION_STATUS_ERROR
	require.True(t, stage.AllOperationsTerminal())
}

func TestCloneAndReplay(t *testing.T) {
	exec := &WorkflowExecution{
		Id:           "e1",
		AssetId:      "a1",
		Workflow:     "publish",
		Status:       EXECUTION_STATUS_RUNNING_STAGE,
		CurrentStage: "encode",
		Stages: map[string]*StageExecution{
			"encode": {Name: "encode", Status: STAGE_STATUS_EXECUTING},
		},
		Globals: NewGlobals(map[string]any{"video": "s3://in.mp4"}),
	}
	clone := exec.Clone()
	clone.Stages["encode"].Status = STAGE_STATUS_COMPLETE
	clone.Globals.MetaData["duration"] = 10
	require.Equal(t, STAGE_STATUS_EXECUTING, exec.CurrentStageExecution().Status)
	require.Empty(t, exec.Globals.MetaData)

	first, err := NewHistoryRecord(exec.Id, 0, exec)
	require.NoError(t, err)
	clone.Version = 1
	second, err := NewHistoryRecord(exec.Id, 1, clone)
	require.NoError(t, err)

	replayed, err := ReplayExecution([]*HistoryRecord{first, second})
	require.NoError(t, err)
	require.Equal(t, int64(1), replayed.Version)
	require.Equal(t, STAGE_STATUS_COMPLETE, replayed.CurrentStageExecution().Status)

	empty, err := ReplayExecution(nil)
	require.NoError(t, err)
	require.Nil(t, empty)
}

func TestAssetLockHolder(t *testing.T) {
	asset := &Asset{AssetId: "a1"}
	require.False(t, asset.IsHeldByOther("e1"))
	asset.Locked = true
	asset.LockedBy = "e1"
	require.False(t, asset.IsHeldByOther("e1"))
	require.True(t, asset.IsHeldByOther("e2"))
}
