// Package storetest holds the behaviour every storage backend must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/persistence"
	"github.com/stretchr/testify/require"
)

type Stores struct {
	Definitions persistence.DefinitionStore
	Executions  persistence.ExecutionStore
	Assets      persistence.AssetStore
	// Queue is nil for backends without a stage queue.
	Queue persistence.StageQueue
}

// Run executes every scenario against fresh stores built by newStores.
func Run(t *testing.T, newStores func(t *testing.T) Stores) {
	for scenario, fn := range map[string]func(t *testing.T, s Stores){
		"definitions are write once":        testDefinitions,
		"system config":                     testSystemConfig,
		"definitions listed and deleted":    testDefinitionListAndDelete,
		"execution compare and swap":        testExecutionCompareAndSwap,
		"admission respects the cap":        testAdmissionCap,
		"queued executions listed in order": testQueuedOrder,
		"asset lock exclusivity":            testAssetLock,
		"asset lock single winner":          testAssetLockRace,
		"asset lock not re-entrant":         testAssetLockSameHolder,
		"stale asset locks listed":          testListLocked,
		"stage queue delivery":              testStageQueue,
	} {
		t.Run(scenario, func(t *testing.T) {
			s := newStores(t)
			if s.Queue == nil && scenario == "stage queue delivery" {
				t.Skip("backend has no stage queue")
			}
			fn(t, s)
		})
	}
}

// RunDefinitions executes the definition scenarios for backends that only store definitions.
func RunDefinitions(t *testing.T, newStore func(t *testing.T) persistence.DefinitionStore) {
	for scenario, fn := range map[string]func(t *testing.T, s Stores){
		"definitions are write once":     testDefinitions,
		"definitions listed and deleted": testDefinitionListAndDelete,
		"system config":                  testSystemConfig,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, Stores{Definitions: newStore(t)})
		})
	}
}

func testDefinitions(t *testing.T, s Stores) {
	ctx := context.Background()
	op := &model.Operation{Name: "probe", StartHandler: "noop", Configuration: map[string]any{"Enabled": true}}
	require.NoError(t, s.Definitions.SaveOperation(ctx, op))
	err := s.Definitions.SaveOperation(ctx, op)
	var exists persistence.AlreadyExistsError
	require.True(t, errors.As(err, &exists))

	got, err := s.Definitions.GetOperation(ctx, "probe")
	require.NoError(t, err)
	require.Equal(t, "noop", got.StartHandler)
	require.Equal(t, true, got.Configuration["Enabled"])

	require.NoError(t, s.Definitions.SaveStage(ctx, &model.Stage{Name: "ingest", Operations: []string{"probe"}}))
	require.NoError(t, s.Definitions.SaveWorkflow(ctx, &model.Workflow{Name: "publish", Stages: []string{"ingest"}}))
	wf, err := s.Definitions.GetWorkflow(ctx, "publish")
	require.NoError(t, err)
	require.Equal(t, []string{"ingest"}, wf.Stages)

	wfs, err := s.Definitions.ListWorkflows(ctx)
	require.NoError(t, err)
	require.Len(t, wfs, 1)

	_, err = s.Definitions.GetStage(ctx, "missing")
	require.True(t, persistence.IsDefinitionNotFound(err))
}

func testDefinitionListAndDelete(t *testing.T, s Stores) {
	ctx := context.Background()
	for _, name := range []string{"thumbnail", "probe"} {
		require.NoError(t, s.Definitions.SaveOperation(ctx, &model.Operation{Name: name, StartHandler: "noop"}))
	}
	require.NoError(t, s.Definitions.SaveStage(ctx, &model.Stage{Name: "ingest", Operations: []string{"probe"}}))
	require.NoError(t, s.Definitions.SaveStage(ctx, &model.Stage{Name: "encode", Operations: []string{"thumbnail"}}))
	require.NoError(t, s.Definitions.SaveWorkflow(ctx, &model.Workflow{Name: "publish", Stages: []string{"ingest", "encode"}}))

	ops, err := s.Definitions.ListOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	require.Equal(t, "probe", ops[0].Name)
	require.Equal(t, "thumbnail", ops[1].Name)
	stages, err := s.Definitions.ListStages(ctx)
	require.NoError(t, err)
	require.Len(t, stages, 2)
	require.Equal(t, "encode", stages[0].Name)

	require.NoError(t, s.Definitions.DeleteOperation(ctx, "thumbnail"))
	_, err = s.Definitions.GetOperation(ctx, "thumbnail")
	require.True(t, persistence.IsDefinitionNotFound(err))
	require.True(t, persistence.IsNotFound(s.Definitions.DeleteOperation(ctx, "thumbnail")))

	require.NoError(t, s.Definitions.DeleteStage(ctx, "encode"))
	require.True(t, persistence.IsNotFound(s.Definitions.DeleteStage(ctx, "encode")))
	require.NoError(t, s.Definitions.DeleteWorkflow(ctx, "publish"))
	require.True(t, persistence.IsNotFound(s.Definitions.DeleteWorkflow(ctx, "publish")))
	wfs, err := s.Definitions.ListWorkflows(ctx)
	require.NoError(t, err)
	require.Empty(t, wfs)

	// a deleted name can be registered again
	require.NoError(t, s.Definitions.SaveOperation(ctx, &model.Operation{Name: "thumbnail", StartHandler: "javascript"}))
	op, err := s.Definitions.GetOperation(ctx, "thumbnail")
	require.NoError(t, err)
	require.Equal(t, "javascript", op.StartHandler)
}

func testSystemConfig(t *testing.T, s Stores) {
	ctx := context.Background()
	conf, err := s.Definitions.GetSystemConfig(ctx)
	require.NoError(t, err)
	require.Equal(t, 10, conf.MaxConcurrentWorkflows)

	require.NoError(t, s.Definitions.SaveSystemConfig(ctx, &model.SystemConfig{MaxConcurrentWorkflows: 3}))
	conf, err = s.Definitions.GetSystemConfig(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, conf.MaxConcurrentWorkflows)

	require.Error(t, s.Definitions.SaveSystemConfig(ctx, &model.SystemConfig{MaxConcurrentWorkflows: 0}))
}

func newExecution(created time.Time) *model.WorkflowExecution {
	return &model.WorkflowExecution{
		Id:           uuid.NewString(),
		AssetId:      "asset-" + uuid.NewString(),
		Workflow:     "publish",
		Status:       model.EXECUTION_STATUS_QUEUED,
		CurrentStage: "ingest",
		Globals:      model.NewGlobals(nil),
		CreatedAt:    created,
		UpdatedAt:    created,
	}
}

func testExecutionCompareAndSwap(t *testing.T, s Stores) {
	ctx := context.Background()
	exec := newExecution(time.Now().UTC())
	_, err := s.Executions.Create(ctx, exec)
	require.NoError(t, err)
	_, err = s.Executions.Create(ctx, exec)
	require.Error(t, err)

	got, err := s.Executions.Get(ctx, exec.Id)
	require.NoError(t, err)
	require.Equal(t, int64(0), got.Version)

	got.Message = "first"
	updated, err := s.Executions.Update(ctx, got)
	require.NoError(t, err)
	require.Equal(t, int64(1), updated.Version)

	// got still carries version 0
	got.Message = "second"
	_, err = s.Executions.Update(ctx, got)
	require.True(t, persistence.IsVersionConflict(err))

	_, err = s.Executions.UpdateStatus(ctx, exec.Id, updated.Version, model.EXECUTION_STATUS_ERROR, model.END_STAGE, "boom")
	require.NoError(t, err)
	_, err = s.Executions.Admit(ctx, exec.Id, 2, 5)
	require.True(t, errors.Is(err, persistence.ErrNotQueued))

	records, err := s.Executions.History(ctx, exec.Id)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, r := range records {
		require.Equal(t, int64(i), r.Version)
	}
	replayed, err := model.ReplayExecution(records)
	require.NoError(t, err)
	require.Equal(t, model.EXECUTION_STATUS_ERROR, replayed.Status)
	require.Equal(t, "boom", replayed.Message)

	byAsset, err := s.Executions.ListByAsset(ctx, exec.AssetId)
	require.NoError(t, err)
	require.Len(t, byAsset, 1)

	_, err = s.Executions.Get(ctx, "missing")
	require.True(t, persistence.IsNotFound(err))
}

// testAdmissionCap races several admitters over more queued executions than the cap allows.
func testAdmissionCap(t *testing.T, s Stores) {
	ctx := context.Background()
	const queued, limit, admitters = 10, 3, 6
	base := time.Now().UTC()
	for i := 0; i < queued; i++ {
		_, err := s.Executions.Create(ctx, newExecution(base.Add(time.Duration(i)*time.Millisecond)))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, admitters)
	for i := 0; i < admitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for round := 0; round < 50; round++ {
				execs, err := s.Executions.ListByStatus(ctx, model.EXECUTION_STATUS_QUEUED)
				if err != nil {
					errs <- err
					return
				}
				for _, e := range execs {
					_, err := s.Executions.Admit(ctx, e.Id, e.Version, limit)
					switch {
					case err == nil, persistence.IsVersionConflict(err), errors.Is(err, persistence.ErrNotQueued):
					case errors.Is(err, persistence.ErrCapacityReached):
						return
					default:
						errs <- err
						return
					}
				}
			}
			errs <- fmt.Errorf("admitter never saw the cap")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	active, err := s.Executions.CountByStatus(ctx, model.ActiveStatuses...)
	require.NoError(t, err)
	require.Equal(t, limit, active)
	left, err := s.Executions.CountByStatus(ctx, model.EXECUTION_STATUS_QUEUED)
	require.NoError(t, err)
	require.Equal(t, queued-limit, left)
}

func testQueuedOrder(t *testing.T, s Stores) {
	ctx := context.Background()
	base := time.Now().UTC()
	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		exec := newExecution(base.Add(time.Duration(i) * time.Second))
		_, err := s.Executions.Create(ctx, exec)
		require.NoError(t, err)
		ids = append(ids, exec.Id)
	}
	execs, err := s.Executions.ListByStatus(ctx, model.EXECUTION_STATUS_QUEUED)
	require.NoError(t, err)
	got := make([]string, 0, len(execs))
	for _, e := range execs {
		got = append(got, e.Id)
	}
	require.Equal(t, ids, got)
}

func testAssetLock(t *testing.T, s Stores) {
	ctx := context.Background()
	now := time.Now().UTC()
	_, err := s.Assets.Put(ctx, "a1", "e1", map[string]any{"Media": map[string]any{"Video": "v.mov"}})
	require.NoError(t, err)

	ok, err := s.Assets.TryLock(ctx, "a1", "e1", now)
	require.NoError(t, err)
	require.True(t, ok)
	// not re-entrant, the holder must unlock first
	ok, err = s.Assets.TryLock(ctx, "a1", "e1", now)
	require.False(t, ok)
	var lu persistence.LockUnavailableError
	require.True(t, errors.As(err, &lu))
	require.Equal(t, "e1", lu.LockedBy)

	ok, err = s.Assets.TryLock(ctx, "a1", "e2", now)
	require.False(t, ok)
	require.True(t, errors.As(err, &lu))
	require.Equal(t, "e1", lu.LockedBy)

	_, err = s.Assets.Put(ctx, "a1", "e2", map[string]any{"probe": "x"})
	require.True(t, errors.As(err, &lu))
	_, err = s.Assets.Unlock(ctx, "a1", "e2")
	var lm persistence.LockMismatchError
	require.True(t, errors.As(err, &lm))

	asset, err := s.Assets.Put(ctx, "a1", "e1", map[string]any{"probe": map[string]any{"duration": "10s"}})
	require.NoError(t, err)
	require.Contains(t, asset.Fields, "Media")
	require.Contains(t, asset.Fields, "probe")

	ok, err = s.Assets.Unlock(ctx, "a1", "e1")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.Assets.TryLock(ctx, "a1", "e2", now)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.Assets.Get(ctx, "a1")
	require.NoError(t, err)
	require.True(t, got.Locked)
	require.Equal(t, "e2", got.LockedBy)

	history, err := s.Assets.History(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, got.Version+1, int64(len(history)))

	_, err = s.Assets.Unlock(ctx, "missing", "e1")
	require.True(t, errors.As(err, &lm))
}

func testAssetLockRace(t *testing.T, s Stores) {
	ctx := context.Background()
	const contenders = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := make([]string, 0)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			ok, err := s.Assets.TryLock(ctx, "contended", id, time.Now().UTC())
			if err == nil && ok {
				mu.Lock()
				winners = append(winners, id)
				mu.Unlock()
			}
		}(fmt.Sprintf("e%d", i))
	}
	wg.Wait()
	require.Len(t, winners, 1)
	asset, err := s.Assets.Get(ctx, "contended")
	require.NoError(t, err)
	require.Equal(t, winners[0], asset.LockedBy)
}

func testAssetLockSameHolder(t *testing.T, s Stores) {
	ctx := context.Background()
	const contenders = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Assets.TryLock(ctx, "shared", "e1", time.Now().UTC())
			if err == nil && ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)

	ok, err := s.Assets.Unlock(ctx, "shared", "e1")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.Assets.Unlock(ctx, "shared", "e1")
	require.False(t, ok)
	var lm persistence.LockMismatchError
	require.True(t, errors.As(err, &lm))

	ok, err = s.Assets.TryLock(ctx, "shared", "e2", time.Now().UTC())
	require.NoError(t, err)
	require.True(t, ok)
}

func testListLocked(t *testing.T, s Stores) {
	ctx := context.Background()
	old := time.Now().UTC().Add(-time.Hour)
	ok, err := s.Assets.TryLock(ctx, "stale", "e1", old)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.Assets.TryLock(ctx, "fresh", "e2", time.Now().UTC())
	require.NoError(t, err)
	require.True(t, ok)

	locked, err := s.Assets.ListLocked(ctx, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, locked, 1)
	require.Equal(t, "stale", locked[0].AssetId)
	require.Equal(t, "e1", locked[0].LockedBy)
}

func testStageQueue(t *testing.T, s Stores) {
	ctx := context.Background()
	q := s.Queue
	require.NoError(t, q.Push(ctx, &model.StageMessage{ExecutionId: "e1", Stage: "ingest", Kind: model.STAGE_MESSAGE_RUN}))
	require.NoError(t, q.PushWithDelay(ctx, &model.StageMessage{ExecutionId: "e1", Stage: "ingest",
		Kind: model.STAGE_MESSAGE_CHECK, Operation: "probe"}, time.Hour))

	deliveries, err := q.Poll(ctx, 0, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	require.Equal(t, model.STAGE_MESSAGE_RUN, deliveries[0].Message.Kind)
	require.NotEmpty(t, deliveries[0].Message.MessageId)

	// in flight, not handed out twice
	again, err := q.Poll(ctx, 0, 10, time.Minute)
	require.NoError(t, err)
	require.Empty(t, again)

	expired, err := q.Expired(ctx, 0, time.Now())
	require.NoError(t, err)
	require.Empty(t, expired)
	expired, err = q.Expired(ctx, 0, time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, deliveries[0].Message.MessageId, expired[0].Message.MessageId)

	require.NoError(t, q.Push(ctx, &model.StageMessage{ExecutionId: "e2", Stage: "encode", Kind: model.STAGE_MESSAGE_RUN}))
	deliveries, err = q.Poll(ctx, 0, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	require.NoError(t, q.Ack(ctx, deliveries[0]))
	expired, err = q.Expired(ctx, 0, time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	require.Empty(t, expired)

	dead := *deliveries[0].Message
	dead.Reason = "exhausted"
	require.NoError(t, q.DeadLetter(ctx, &dead))
	letters, err := q.ListDeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	require.Equal(t, "e2", letters[0].ExecutionId)
	require.Equal(t, "exhausted", letters[0].Reason)
}
