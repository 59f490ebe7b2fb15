package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/mediaflow/config"
	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/persistence"
	"github.com/mohitkumar/mediaflow/persistence/memory"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	defs  persistence.DefinitionStore
	execs persistence.ExecutionStore
	queue persistence.StageQueue
	wg    *sync.WaitGroup
	ids   []string
}

func newFixture(t *testing.T, queued int, limit int) *fixture {
	f := &fixture{
		defs:  memory.NewDefinitionStore(limit),
		execs: memory.NewExecutionStore(nil),
		queue: memory.NewStageQueue(nil),
		wg:    &sync.WaitGroup{},
	}
	base := time.Now().UTC()
	for i := 0; i < queued; i++ {
		exec := &model.WorkflowExecution{
			Id:           uuid.NewString(),
			AssetId:      uuid.NewString(),
			Workflow:     "publish",
			Status:       model.EXECUTION_STATUS_QUEUED,
			CurrentStage: "ingest",
			CreatedAt:    base.Add(time.Duration(i) * time.Millisecond),
			UpdatedAt:    base,
		}
		_, err := f.execs.Create(context.Background(), exec)
		require.NoError(t, err)
		f.ids = append(f.ids, exec.Id)
	}
	return f
}

func (f *fixture) scheduler(conf config.SchedulerConfig) *Scheduler {
	return NewScheduler(f.defs, f.execs, f.queue, conf, f.wg)
}

func (f *fixture) status(t *testing.T, id string) model.ExecutionStatus {
	exec, err := f.execs.Get(context.Background(), id)
	require.NoError(t, err)
	return exec.Status
}

func TestScheduler(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T){
		"parallel cycles never exceed the cap": testParallelCycles,
		"admission is first in first out":      testFifoAdmission,
		"failure frees a slot":                 testHandleFailure,
		"stalled executions are failed":        testStalledExecutions,
		"tick worker admits on trigger":        testTriggeredCycle,
	} {
		t.Run(scenario, fn)
	}
}

func testParallelCycles(t *testing.T) {
	f := newFixture(t, 12, 4)
	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.scheduler(config.DefaultSchedulerConfig()).RunCycle(ctx)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	active, err := f.execs.CountByStatus(ctx, model.ActiveStatuses...)
	require.NoError(t, err)
	require.Equal(t, 4, active)

	deliveries, err := f.queue.Poll(ctx, 0, 100, time.Minute)
	require.NoError(t, err)
	require.Len(t, deliveries, 4)
	for _, d := range deliveries {
		require.Equal(t, model.STAGE_MESSAGE_RUN, d.Message.Kind)
		require.Equal(t, "ingest", d.Message.Stage)
	}
}

// Scenario A: cap 2 with three queued executions.
func testFifoAdmission(t *testing.T) {
	f := newFixture(t, 3, 2)
	ctx := context.Background()
	s := f.scheduler(config.DefaultSchedulerConfig())

	admitted, err := s.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, admitted)
	require.Equal(t, model.EXECUTION_STATUS_STARTED, f.status(t, f.ids[0]))
	require.Equal(t, model.EXECUTION_STATUS_STARTED, f.status(t, f.ids[1]))
	require.Equal(t, model.EXECUTION_STATUS_QUEUED, f.status(t, f.ids[2]))

	admitted, err = s.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, admitted)

	first, err := f.execs.Get(ctx, f.ids[0])
	require.NoError(t, err)
	_, err = f.execs.UpdateStatus(ctx, first.Id, first.Version, model.EXECUTION_STATUS_COMPLETE, model.END_STAGE, "")
	require.NoError(t, err)

	admitted, err = s.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, admitted)
	require.Equal(t, model.EXECUTION_STATUS_STARTED, f.status(t, f.ids[2]))
}

func testHandleFailure(t *testing.T) {
	f := newFixture(t, 2, 1)
	ctx := context.Background()
	s := f.scheduler(config.DefaultSchedulerConfig())

	_, err := s.RunCycle(ctx)
	require.NoError(t, err)
	require.NoError(t, s.HandleFailure(ctx, f.ids[0], "transcoder unreachable"))

	failed, err := f.execs.Get(ctx, f.ids[0])
	require.NoError(t, err)
	require.Equal(t, model.EXECUTION_STATUS_ERROR, failed.Status)
	require.Equal(t, model.END_STAGE, failed.CurrentStage)
	require.Equal(t, "transcoder unreachable", failed.Message)

	// already terminal, nothing is written
	require.NoError(t, s.HandleFailure(ctx, f.ids[0], "again"))
	again, err := f.execs.Get(ctx, f.ids[0])
	require.NoError(t, err)
	require.Equal(t, failed.Version, again.Version)

	admitted, err := s.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, admitted)
	require.Equal(t, model.EXECUTION_STATUS_STARTED, f.status(t, f.ids[1]))

	require.True(t, persistence.IsNotFound(s.HandleFailure(ctx, "missing", "x")))
}

func testStalledExecutions(t *testing.T) {
	f := newFixture(t, 1, 1)
	ctx := context.Background()
	conf := config.DefaultSchedulerConfig()
	conf.StallTimeout = time.Millisecond
	s := f.scheduler(conf)

	_, err := s.RunCycle(ctx)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = s.RunCycle(ctx)
	require.NoError(t, err)

	exec, err := f.execs.Get(ctx, f.ids[0])
	require.NoError(t, err)
	require.Equal(t, model.EXECUTION_STATUS_ERROR, exec.Status)
	require.Equal(t, REASON_STALLED, exec.Message)
}

func testTriggeredCycle(t *testing.T) {
	f := newFixture(t, 1, 1)
	conf := config.DefaultSchedulerConfig()
	conf.Interval = time.Hour
	s := f.scheduler(conf)
	require.NoError(t, s.Start())
	s.Trigger()
	require.Eventually(t, func() bool {
		return f.status(t, f.ids[0]) == model.EXECUTION_STATUS_STARTED
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	f.wg.Wait()
}
